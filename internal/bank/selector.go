// Package bank fills planned slots from the existing item bank before
// the generative fallback runs.
package bank

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/testforge/internal/model"
	"github.com/pavelanni/testforge/internal/registry"
)

// DedupThreshold is the similarity score at or above which a bank
// candidate is considered a near-duplicate of an already accepted item.
const DedupThreshold = 0.70

// searchConcurrency bounds the fan-out of per-group bank queries.
const searchConcurrency = 4

// ItemStore is the item-bank collaborator the selector queries. The
// selector re-ranks results itself, so result order is not part of the
// contract.
type ItemStore interface {
	Search(ctx context.Context, topic string, level model.CognitiveLevel, difficulty model.Difficulty, itemType model.ItemType, approvedOnly bool) ([]model.Item, error)
}

// Selector fills slots from an item store.
type Selector struct {
	store ItemStore
}

// New creates a selector over the given store.
func New(store ItemStore) *Selector {
	return &Selector{store: store}
}

type groupKey struct {
	topic      string
	level      model.CognitiveLevel
	difficulty model.Difficulty
	itemType   model.ItemType
}

type group struct {
	key        groupKey
	slots      []*model.Slot
	candidates []model.Item
	queryErr   error
}

// Fill attempts to satisfy every unfilled slot from the bank. Slots
// are grouped by (topic, level, difficulty, type); one store query per
// group, issued concurrently since groups are disjoint. Consumption is
// sequential: a candidate is accepted only if its text is not a
// near-duplicate of anything already registered this run, and accepted
// items never serve two slots. A group whose query fails is left
// entirely unfilled; the generator covers the gap.
//
// Returns the number of slots filled and any per-group warnings.
func (s *Selector) Fill(ctx context.Context, slots []model.Slot, reg *registry.Registry, allowUnapproved bool) (int, []string, error) {
	groups := groupSlots(slots)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(searchConcurrency)
	for _, grp := range groups {
		g.Go(func() error {
			items, err := s.store.Search(gctx, grp.key.topic, grp.key.level, grp.key.difficulty, grp.key.itemType, !allowUnapproved)
			if err != nil {
				grp.queryErr = err
				return nil
			}
			grp.candidates = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, nil, fmt.Errorf("bank search: %w", err)
	}

	filled := 0
	var warnings []string
	for _, grp := range groups {
		if grp.queryErr != nil {
			warnings = append(warnings, fmt.Sprintf(
				"bank query failed for %s/%s/%s/%s: %v; %d slots left for generation",
				grp.key.topic, grp.key.level, grp.key.difficulty, grp.key.itemType,
				grp.queryErr, len(grp.slots)))
			continue
		}
		filled += consume(grp, reg)
	}
	return filled, warnings, nil
}

// groupSlots batches unfilled slots by their retrieval key, preserving
// first-seen order.
func groupSlots(slots []model.Slot) []*group {
	byKey := make(map[groupKey]*group)
	var ordered []*group
	for i := range slots {
		if slots[i].Filled {
			continue
		}
		key := groupKey{
			topic:      slots[i].Topic,
			level:      slots[i].Level,
			difficulty: slots[i].Difficulty,
			itemType:   slots[i].Type,
		}
		grp, ok := byKey[key]
		if !ok {
			grp = &group{key: key}
			byKey[key] = grp
			ordered = append(ordered, grp)
		}
		grp.slots = append(grp.slots, &slots[i])
	}
	return ordered
}

// consume greedily assigns a group's candidates to its slots in
// preference order: least-used first, then highest quality score. Each
// accepted item is removed from the pool and registered so later
// acceptances (and the generator) see its fingerprint.
func consume(grp *group, reg *registry.Registry) int {
	filled := 0
	pool := grp.candidates
	sort.SliceStable(pool, func(a, b int) bool {
		if pool[a].UsageCount != pool[b].UsageCount {
			return pool[a].UsageCount < pool[b].UsageCount
		}
		return pool[a].Quality > pool[b].Quality
	})
	for _, slot := range grp.slots {
		idx := -1
		for i, cand := range pool {
			if !acceptable(cand, reg) {
				continue
			}
			idx = i
			break
		}
		if idx < 0 {
			continue
		}
		item := pool[idx]
		pool = append(pool[:idx], pool[idx+1:]...)

		slot.Item = &item
		slot.Filled = true
		slot.Source = model.SourceBank
		reg.Register(slot.Topic, slot.Level, item)
		filled++
	}
	return filled
}

// acceptable applies the bank-side acceptance rules: multiple-choice
// items need a complete, well-formed option set, and no item may be a
// near-duplicate of an already registered text.
func acceptable(item model.Item, reg *registry.Registry) bool {
	if item.Type == model.TypeMultipleChoice {
		if err := item.Validate(); err != nil {
			return false
		}
	}
	return reg.MaxSimilarity(item.Text, item.Embedding) < DedupThreshold
}
