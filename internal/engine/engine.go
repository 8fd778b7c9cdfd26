// Package engine orchestrates one assembly run: plan expansion, bank
// selection, generative fallback, and parallel-form assembly, in that
// order. Stage order is a correctness requirement: the registry
// accumulates rotation state the generator depends on, and the bank's
// unfilled count defines the generator's workload.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/testforge/internal/bank"
	"github.com/pavelanni/testforge/internal/generate"
	"github.com/pavelanni/testforge/internal/model"
	"github.com/pavelanni/testforge/internal/planner"
	"github.com/pavelanni/testforge/internal/registry"
	"github.com/pavelanni/testforge/internal/version"
)

// Configuration errors abort the run before any stage starts. Every
// other failure class is recovered locally and surfaced in the report.
var (
	ErrInvalidTotalItems   = errors.New("total items must be positive")
	ErrInvalidVersionCount = errors.New("version count must be between 1 and 5")
	ErrNilPlan             = errors.New("coverage plan is required")
	ErrInvalidPlan         = errors.New("invalid coverage plan")
)

// Store is the item-bank collaborator the engine reads and writes.
type Store interface {
	bank.ItemStore
	InsertMany(ctx context.Context, items []model.Item) ([]model.Item, error)
	RecordUsage(ctx context.Context, itemIDs []int64, testID string) error
}

// Embedder is the optional embedding collaborator. When absent, the
// similarity engine runs on its lexical fallback exclusively.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Engine assembles examinations from coverage plans.
type Engine struct {
	store      Store
	gen        generate.TextGenerator
	embedder   Embedder
	batchDelay time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithGenerator wires the generative-text collaborator. Without it,
// slots the bank cannot fill are reported as shortage.
func WithGenerator(gen generate.TextGenerator) Option {
	return func(e *Engine) { e.gen = gen }
}

// WithEmbedder wires the optional embedding collaborator.
func WithEmbedder(emb Embedder) Option {
	return func(e *Engine) { e.embedder = emb }
}

// WithBatchDelay sets the pause between generation batches.
func WithBatchDelay(d time.Duration) Option {
	return func(e *Engine) { e.batchDelay = d }
}

// New creates an engine over the given item store.
func New(store Store, opts ...Option) *Engine {
	e := &Engine{store: store, batchDelay: 500 * time.Millisecond}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is the caller-facing outcome of one assembly run.
type Result struct {
	TestID string               `json:"test_id"`
	Forms  []model.TestForm     `json:"forms"`
	Report model.AssemblyReport `json:"report"`
	Slots  []model.Slot         `json:"slots,omitempty"`
}

// Assemble runs the full pipeline. The caller always receives a usable
// result, possibly with fewer items than requested, plus an itemized
// shortage report; only configuration errors abort the run.
func (e *Engine) Assemble(ctx context.Context, plan *model.CoveragePlan, totalItems int, opts model.AssemblyOptions) (*Result, error) {
	if plan == nil {
		return nil, ErrNilPlan
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	if totalItems <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidTotalItems, totalItems)
	}
	if opts.VersionCount < 1 || opts.VersionCount > version.MaxVersions {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidVersionCount, opts.VersionCount)
	}

	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)))

	// The registry lives for exactly this run.
	reg := registry.New()

	slots, err := planner.Expand(plan, totalItems, rng)
	if err != nil {
		return nil, fmt.Errorf("expand plan: %w", err)
	}
	slog.Info("plan expanded", "slots", len(slots), "topics", len(plan.Topics))

	var warnings []string

	bankFilled, bankWarnings, err := bank.New(e.store).Fill(ctx, slots, reg, opts.AllowUnapproved)
	if err != nil {
		return nil, fmt.Errorf("bank selection: %w", err)
	}
	warnings = append(warnings, bankWarnings...)
	slog.Info("bank selection done", "filled", bankFilled, "remaining", len(slots)-bankFilled)

	generatedCount := 0
	if remaining := len(slots) - bankFilled; remaining > 0 {
		if e.gen != nil {
			var genWarnings []string
			generatedCount, genWarnings = generate.New(e.gen, e.batchDelay).Fill(ctx, slots, reg)
			warnings = append(warnings, genWarnings...)
			if generatedCount > 0 {
				warnings = append(warnings, fmt.Sprintf(
					"%d items were synthesized by the generator and stored unapproved", generatedCount))
			}
			slog.Info("generation done", "generated", generatedCount)
		} else {
			warnings = append(warnings, fmt.Sprintf(
				"generative service not configured; %d slots left unfilled", remaining))
		}
	}

	testID := uuid.NewString()
	warnings = append(warnings, e.persist(ctx, slots, testID)...)

	report := buildReport(slots, generatedCount, warnings)

	forms, err := version.Assemble(slots, opts.VersionCount, opts.ShuffleItems, opts.ShuffleChoices, rng)
	if err != nil {
		return nil, fmt.Errorf("assemble forms: %w", err)
	}

	return &Result{TestID: testID, Forms: forms, Report: report, Slots: slots}, nil
}

// persist stores generated items (unapproved, with best-effort
// embeddings) and records bank-item usage under the run's test ID.
// Persistence failures degrade to warnings: the assembled forms are
// still returned.
func (e *Engine) persist(ctx context.Context, slots []model.Slot, testID string) []string {
	var warnings []string

	var generated []*model.Slot
	var usedIDs []int64
	for i := range slots {
		if !slots[i].Filled || slots[i].Item == nil {
			continue
		}
		switch slots[i].Source {
		case model.SourceGenerated:
			generated = append(generated, &slots[i])
		case model.SourceBank:
			usedIDs = append(usedIDs, slots[i].Item.ID)
		}
	}

	if len(generated) > 0 {
		items := make([]model.Item, len(generated))
		for i, slot := range generated {
			item := *slot.Item
			if e.embedder != nil && len(item.Embedding) == 0 {
				vec, err := e.embedder.Embed(ctx, item.Text)
				if err != nil {
					slog.Debug("embedding failed", "error", err)
				} else {
					item.Embedding = vec
				}
			}
			items[i] = item
		}
		inserted, err := e.store.InsertMany(ctx, items)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("could not persist %d generated items: %v", len(items), err))
		} else {
			for i := range inserted {
				if i < len(generated) {
					*generated[i].Item = inserted[i]
				}
			}
		}
	}

	if len(usedIDs) > 0 {
		if err := e.store.RecordUsage(ctx, usedIDs, testID); err != nil {
			warnings = append(warnings, fmt.Sprintf("could not record usage for %d bank items: %v", len(usedIDs), err))
		}
	}
	return warnings
}

func buildReport(slots []model.Slot, generatedCount int, warnings []string) model.AssemblyReport {
	report := model.AssemblyReport{
		TotalSlots:     len(slots),
		GeneratedCount: generatedCount,
		Warnings:       warnings,
	}
	for _, slot := range slots {
		if slot.Filled {
			report.FilledSlots++
		} else {
			report.UnfilledSlots = append(report.UnfilledSlots, slot)
		}
	}
	return report
}
