// Package planner expands a coverage plan into the discrete slot list
// the rest of the assembly pipeline fills.
package planner

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/google/uuid"

	"github.com/pavelanni/testforge/internal/model"
)

const (
	// essayMinTotal is the smallest run that gets any long-form slot.
	essayMinTotal = 25
	// essayPerItems yields roughly one long-form slot per 50 items.
	essayPerItems = 50
	// essayMax caps long-form slots regardless of run size.
	essayMax = 2
	// secondaryShare sizes the binary/short-answer quota as a fraction
	// of total items.
	secondaryShare = 5
)

// Expand turns a coverage plan into an ordered slot list of exactly
// totalItems slots. Topic totals follow each topic's share of the
// plan's taught hours; within a topic, counts are spread across
// difficulty bands and cognitive levels by the plan's weights. All
// roundings use the largest-remainder method so counts always sum
// exactly. The rng drives only the once-per-run secondary item-type
// choice; slot ordering is stable (plan topic order, then level, then
// difficulty).
func Expand(plan *model.CoveragePlan, totalItems int, rng *rand.Rand) ([]model.Slot, error) {
	if totalItems <= 0 {
		return nil, fmt.Errorf("total items must be positive, got %d", totalItems)
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	hours := make([]float64, len(plan.Topics))
	for i, tr := range plan.Topics {
		hours[i] = tr.Hours
	}
	topicTotals := apportion(totalItems, hours, nil)

	var slots []model.Slot
	for i, tr := range plan.Topics {
		total := topicTotals[i]
		if total == 0 {
			continue
		}
		slots = append(slots, expandTopic(tr, total)...)
	}

	assignItemTypes(slots, totalItems, rng)

	for i := range slots {
		slots[i].ID = uuid.NewString()
		slots[i].Points = model.PointValue(slots[i].Type)
	}
	return slots, nil
}

// expandTopic produces the slots for one topic in stable
// (level, difficulty) order.
func expandTopic(tr model.TopicRequirement, total int) []model.Slot {
	levels := model.Levels()
	levelWeights := make([]float64, len(levels))
	for i, l := range levels {
		levelWeights[i] = float64(tr.LevelCounts[l])
	}
	levelCounts := apportion(total, levelWeights, nil)

	bands := model.Difficulties()
	bandWeights := make([]float64, len(bands))
	for i, d := range bands {
		bandWeights[i] = float64(tr.DifficultyCounts[d])
	}
	// Rounding remainder lands in the middle band on ties.
	bandCounts := apportion(total, bandWeights, []int{1, 0, 2})

	// Expand both axes to per-slot sequences and zip them. Both sum to
	// the topic total, so the pairing is total-preserving.
	levelSeq := make([]model.CognitiveLevel, 0, total)
	for i, l := range levels {
		for n := 0; n < levelCounts[i]; n++ {
			levelSeq = append(levelSeq, l)
		}
	}
	bandSeq := make([]model.Difficulty, 0, total)
	for i, d := range bands {
		for n := 0; n < bandCounts[i]; n++ {
			bandSeq = append(bandSeq, d)
		}
	}

	slots := make([]model.Slot, 0, total)
	for i := 0; i < total; i++ {
		level := levelSeq[i]
		slots = append(slots, model.Slot{
			Topic:      tr.Topic,
			Level:      level,
			Dimension:  model.KnowledgeDimensionFor(level),
			Difficulty: bandSeq[i],
			Type:       model.TypeMultipleChoice,
		})
	}
	sort.SliceStable(slots, func(a, b int) bool {
		if slots[a].Level.Order() != slots[b].Level.Order() {
			return slots[a].Level.Order() < slots[b].Level.Order()
		}
		return slots[a].Difficulty.Order() < slots[b].Difficulty.Order()
	})
	return slots
}

// EssayQuota returns the long-form slot count for a run of the given
// size: none below the minimum threshold, about one per 50 items, and
// never more than two.
func EssayQuota(totalItems int) int {
	if totalItems < essayMinTotal {
		return 0
	}
	q := totalItems / essayPerItems
	if q < 1 {
		q = 1
	}
	if q > essayMax {
		q = essayMax
	}
	return q
}

// assignItemTypes applies the run-wide item-type quotas. Long-form and
// the secondary family are first given to slots matching their natural
// affinities; any unmet quota then converts remaining multiple-choice
// slots until counts are exact.
func assignItemTypes(slots []model.Slot, totalItems int, rng *rand.Rand) {
	essayQuota := EssayQuota(totalItems)

	// Exactly one secondary family per run.
	secondary := model.TypeTrueFalse
	if rng.IntN(2) == 1 {
		secondary = model.TypeShortAnswer
	}
	secondaryQuota := totalItems / secondaryShare

	assignQuota(slots, model.TypeEssay, essayQuota, func(s model.Slot) bool {
		return s.Level.HigherOrder() && s.Difficulty == model.DifficultyHard
	})
	switch secondary {
	case model.TypeTrueFalse:
		assignQuota(slots, secondary, secondaryQuota, func(s model.Slot) bool {
			return !s.Level.HigherOrder() && s.Difficulty == model.DifficultyEasy
		})
	default:
		assignQuota(slots, secondary, secondaryQuota, func(s model.Slot) bool {
			return !s.Level.HigherOrder() && s.Difficulty != model.DifficultyHard
		})
	}
}

// assignQuota converts up to quota multiple-choice slots to the target
// type: affinity matches first, then any remaining eligible slot.
func assignQuota(slots []model.Slot, target model.ItemType, quota int, affinity func(model.Slot) bool) {
	if quota <= 0 {
		return
	}
	assigned := 0
	for i := range slots {
		if assigned == quota {
			return
		}
		if slots[i].Type == model.TypeMultipleChoice && affinity(slots[i]) {
			slots[i].Type = target
			assigned++
		}
	}
	for i := range slots {
		if assigned == quota {
			return
		}
		if slots[i].Type == model.TypeMultipleChoice {
			slots[i].Type = target
			assigned++
		}
	}
}

// apportion distributes total into integer parts proportional to
// weights using the largest-remainder method. Zero weights get zero
// when any weight is positive; an all-zero weight vector falls back to
// an even split. tiePref orders indices competing with equal
// remainders (nil keeps index order).
func apportion(total int, weights []float64, tiePref []int) []int {
	counts := make([]int, len(weights))
	if total <= 0 || len(weights) == 0 {
		return counts
	}
	var sum float64
	for _, w := range weights {
		sum += w
	}
	if sum == 0 {
		weights = make([]float64, len(counts))
		for i := range weights {
			weights[i] = 1
		}
		sum = float64(len(weights))
	}

	type part struct {
		idx  int
		frac float64
		pref int
	}
	parts := make([]part, len(weights))
	assigned := 0
	for i, w := range weights {
		exact := float64(total) * w / sum
		counts[i] = int(math.Floor(exact))
		assigned += counts[i]
		pref := i
		if tiePref != nil {
			pref = indexOf(tiePref, i)
		}
		parts[i] = part{idx: i, frac: exact - math.Floor(exact), pref: pref}
	}
	sort.SliceStable(parts, func(a, b int) bool {
		if parts[a].frac != parts[b].frac {
			return parts[a].frac > parts[b].frac
		}
		return parts[a].pref < parts[b].pref
	})
	for i := 0; assigned < total; i++ {
		counts[parts[i%len(parts)].idx]++
		assigned++
	}
	return counts
}

func indexOf(list []int, v int) int {
	for i, x := range list {
		if x == v {
			return i
		}
	}
	return len(list)
}
