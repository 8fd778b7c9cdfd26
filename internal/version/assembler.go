// Package version produces parallel test forms from a filled slot set.
package version

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/pavelanni/testforge/internal/model"
)

// MaxVersions caps the number of parallel forms per test.
const MaxVersions = 5

var versionLabels = []string{"A", "B", "C", "D", "E"}

// Assemble builds versionCount parallel forms from the filled slots.
// Item shuffling and per-item choice shuffling are independent and
// applied in a fixed sequence (items first, then choices); the answer
// key is rebuilt from scratch after both, keyed by 1-based position,
// so it can never drift from the item order.
func Assemble(slots []model.Slot, versionCount int, shuffleItems, shuffleChoices bool, rng *rand.Rand) ([]model.TestForm, error) {
	if versionCount < 1 || versionCount > MaxVersions {
		return nil, fmt.Errorf("version count must be between 1 and %d, got %d", MaxVersions, versionCount)
	}

	var base []model.Item
	for _, slot := range slots {
		if slot.Filled && slot.Item != nil {
			base = append(base, *slot.Item)
		}
	}

	forms := make([]model.TestForm, 0, versionCount)
	for v := 0; v < versionCount; v++ {
		items := make([]model.Item, len(base))
		copy(items, base)

		if shuffleItems {
			rng.Shuffle(len(items), func(i, j int) {
				items[i], items[j] = items[j], items[i]
			})
		}
		if shuffleChoices {
			for i := range items {
				if items[i].Type == model.TypeMultipleChoice {
					items[i] = remapChoices(items[i], rng)
				}
			}
		}

		key := make(map[int]string, len(items))
		total := 0
		for i, it := range items {
			key[i+1] = it.CorrectAnswer()
			total += model.PointValue(it.Type)
		}
		forms = append(forms, model.TestForm{
			Version:     versionLabels[v],
			Items:       items,
			AnswerKey:   key,
			TotalPoints: total,
		})
	}
	return forms, nil
}

// remapChoices shuffles which label each option text sits under and
// moves the correct-answer label to the option's new position. The
// underlying correct option never changes, only its visible label.
func remapChoices(item model.Item, rng *rand.Rand) model.Item {
	labels := make([]string, 0, len(item.Choices))
	for label := range item.Choices {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	texts := make([]string, len(labels))
	for i, label := range labels {
		texts[i] = item.Choices[label]
	}
	correctText := item.Choices[item.Answer]

	rng.Shuffle(len(texts), func(i, j int) {
		texts[i], texts[j] = texts[j], texts[i]
	})

	choices := make(map[string]string, len(labels))
	answer := item.Answer
	for i, label := range labels {
		choices[label] = texts[i]
		if texts[i] == correctText {
			answer = label
		}
	}
	item.Choices = choices
	item.Answer = answer
	return item
}
