// Package generate drives the generative fallback for slots the bank
// could not fill.
package generate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/testforge/internal/llm/prompts"
	"github.com/pavelanni/testforge/internal/model"
	"github.com/pavelanni/testforge/internal/registry"
)

const (
	// maxAttempts bounds retries per slot group. After that the
	// remaining slots are reported as a shortage, never an error.
	maxAttempts = 3

	// DedupThreshold is the similarity score at or above which a
	// generated candidate is discarded as a near-duplicate. Slightly
	// above the bank threshold: generated text legitimately reuses the
	// intent's topic vocabulary.
	DedupThreshold = 0.75
)

// TextGenerator is the generative-text collaborator. A wholesale
// failure (network, quota) is an error; the generator treats it as
// zero candidates for the batch.
type TextGenerator interface {
	Generate(ctx context.Context, topic string, level model.CognitiveLevel, itemType model.ItemType, intents []prompts.Intent) ([]model.Item, error)
}

// Generator fills remaining slots through a generative text service.
type Generator struct {
	llm        TextGenerator
	batchDelay time.Duration
}

// New creates a generator. batchDelay is the pause between external
// batches, respecting service rate limits (0 in tests).
func New(llm TextGenerator, batchDelay time.Duration) *Generator {
	return &Generator{llm: llm, batchDelay: batchDelay}
}

type groupKey struct {
	topic    string
	level    model.CognitiveLevel
	itemType model.ItemType
}

// Fill attempts to synthesize items for every unfilled slot, mutating
// slots in place. Groups run sequentially: every batch must observe
// the registry state left by earlier batches, or intents start
// repeating concepts. Within a group, up to three sequential attempts
// are made with freshly drawn concepts and operations; an attempt that
// makes zero progress ends the group early.
//
// Returns the number of slots filled and shortage warnings.
func (g *Generator) Fill(ctx context.Context, slots []model.Slot, reg *registry.Registry) (int, []string) {
	groups := groupSlots(slots)

	filled := 0
	var warnings []string
	for gi, grp := range groups {
		if gi > 0 && g.batchDelay > 0 {
			time.Sleep(g.batchDelay)
		}
		n, warn := g.fillGroup(ctx, grp.key, grp.slots, reg)
		filled += n
		if warn != "" {
			warnings = append(warnings, warn)
		}
	}
	return filled, warnings
}

type slotGroup struct {
	key   groupKey
	slots []*model.Slot
}

func groupSlots(slots []model.Slot) []*slotGroup {
	byKey := make(map[groupKey]*slotGroup)
	var ordered []*slotGroup
	for i := range slots {
		if slots[i].Filled {
			continue
		}
		key := groupKey{topic: slots[i].Topic, level: slots[i].Level, itemType: slots[i].Type}
		grp, ok := byKey[key]
		if !ok {
			grp = &slotGroup{key: key}
			byKey[key] = grp
			ordered = append(ordered, grp)
		}
		grp.slots = append(grp.slots, &slots[i])
	}
	return ordered
}

func (g *Generator) fillGroup(ctx context.Context, key groupKey, group []*model.Slot, reg *registry.Registry) (int, string) {
	filled := 0
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		pending := pendingSlots(group)
		if len(pending) == 0 {
			return filled, ""
		}

		intents := make([]prompts.Intent, len(pending))
		for i, slot := range pending {
			concept := reg.NextConcept(slot.Topic)
			operation := reg.NextOperation(slot.Topic, slot.Level)
			// A combination already issued this run gets one redraw so
			// a rejected intent is not retried verbatim.
			if reg.SeenPair(concept, operation) {
				operation = reg.NextOperation(slot.Topic, slot.Level)
			}
			reg.MarkPair(concept, operation)
			intents[i] = prompts.Intent{
				Concept:    concept,
				Operation:  operation,
				AnswerHint: prompts.AnswerHint(slot.Type),
				Difficulty: slot.Difficulty,
				Points:     slot.Points,
			}
		}

		candidates, err := g.llm.Generate(ctx, key.topic, key.level, key.itemType, intents)
		if err != nil {
			slog.Warn("generation batch failed",
				"topic", key.topic, "level", key.level, "type", key.itemType,
				"attempt", attempt, "error", err)
			return filled, fmt.Sprintf(
				"generation unavailable for %s/%s/%s: %v; %d slots unfilled",
				key.topic, key.level, key.itemType, err, len(pending))
		}

		progress := 0
		for i, cand := range candidates {
			if i >= len(pending) {
				break
			}
			slot := pending[i]
			if err := validate(key.level, cand, reg); err != nil {
				slog.Debug("candidate rejected",
					"topic", key.topic, "level", key.level, "attempt", attempt, "reason", err)
				continue
			}
			item := cand
			item.Difficulty = slot.Difficulty
			item.Approved = false
			slot.Item = &item
			slot.Filled = true
			slot.Source = model.SourceGenerated
			reg.Register(slot.Topic, slot.Level, item)
			progress++
			filled++
		}
		if progress == 0 {
			break
		}
	}

	if remaining := len(pendingSlots(group)); remaining > 0 {
		return filled, fmt.Sprintf(
			"could not generate %d valid items for %s/%s/%s after %d attempts",
			remaining, key.topic, key.level, key.itemType, maxAttempts)
	}
	return filled, ""
}

func pendingSlots(group []*model.Slot) []*model.Slot {
	var pending []*model.Slot
	for _, s := range group {
		if !s.Filled {
			pending = append(pending, s)
		}
	}
	return pending
}

// validate applies the acceptance gate for one candidate: structural
// contract for its type, cognitive fidelity for its level, and
// near-duplicate rejection against everything registered this run.
func validate(level model.CognitiveLevel, item model.Item, reg *registry.Registry) error {
	if err := item.Validate(); err != nil {
		return err
	}
	if err := prompts.CheckFidelity(level, item); err != nil {
		return err
	}
	if s := reg.MaxSimilarity(item.Text, item.Embedding); s >= DedupThreshold {
		return fmt.Errorf("candidate too similar to an accepted item (%.2f)", s)
	}
	return nil
}
