package model

import (
	"fmt"
	"time"
)

// CognitiveLevel is one step of the ordered taxonomy of mental operations.
type CognitiveLevel string

const (
	LevelRemember   CognitiveLevel = "remember"
	LevelUnderstand CognitiveLevel = "understand"
	LevelApply      CognitiveLevel = "apply"
	LevelAnalyze    CognitiveLevel = "analyze"
	LevelEvaluate   CognitiveLevel = "evaluate"
	LevelCreate     CognitiveLevel = "create"
)

// levelOrder fixes the taxonomy ordering, lowest first.
var levelOrder = []CognitiveLevel{
	LevelRemember, LevelUnderstand, LevelApply,
	LevelAnalyze, LevelEvaluate, LevelCreate,
}

// Levels returns all cognitive levels in taxonomy order.
func Levels() []CognitiveLevel {
	out := make([]CognitiveLevel, len(levelOrder))
	copy(out, levelOrder)
	return out
}

// Order returns the position of the level in the taxonomy (0-based),
// or -1 for an unknown level.
func (l CognitiveLevel) Order() int {
	for i, lv := range levelOrder {
		if lv == l {
			return i
		}
	}
	return -1
}

// Valid reports whether the level is part of the taxonomy.
func (l CognitiveLevel) Valid() bool { return l.Order() >= 0 }

// HigherOrder reports whether the level requires higher-order thinking
// (analyze and above).
func (l CognitiveLevel) HigherOrder() bool { return l.Order() >= LevelAnalyze.Order() }

// KnowledgeDimension classifies the content type of an item.
type KnowledgeDimension string

const (
	DimensionFactual       KnowledgeDimension = "factual"
	DimensionConceptual    KnowledgeDimension = "conceptual"
	DimensionProcedural    KnowledgeDimension = "procedural"
	DimensionMetacognitive KnowledgeDimension = "metacognitive"
)

var dimensionByLevel = map[CognitiveLevel]KnowledgeDimension{
	LevelRemember:   DimensionFactual,
	LevelUnderstand: DimensionConceptual,
	LevelApply:      DimensionProcedural,
	LevelAnalyze:    DimensionConceptual,
	LevelEvaluate:   DimensionMetacognitive,
	LevelCreate:     DimensionMetacognitive,
}

// KnowledgeDimensionFor maps a cognitive level to its knowledge
// dimension. The mapping is fixed; callers never set the dimension
// independently.
func KnowledgeDimensionFor(l CognitiveLevel) KnowledgeDimension {
	if d, ok := dimensionByLevel[l]; ok {
		return d
	}
	return DimensionFactual
}

// operationVerbs lists the cognitive-operation verbs per level, in the
// rotation order the generation registry hands them out.
var operationVerbs = map[CognitiveLevel][]string{
	LevelRemember:   {"define", "list", "identify", "name", "recall", "state"},
	LevelUnderstand: {"explain", "summarize", "describe", "classify", "compare", "interpret"},
	LevelApply:      {"calculate", "solve", "demonstrate", "use", "implement", "execute"},
	LevelAnalyze:    {"differentiate", "organize", "attribute", "deconstruct", "examine", "contrast"},
	LevelEvaluate:   {"judge", "critique", "justify", "defend", "assess", "recommend"},
	LevelCreate:     {"design", "construct", "propose", "formulate", "devise", "compose"},
}

// OperationVerbs returns the verb pool for a level, in rotation order.
func OperationVerbs(l CognitiveLevel) []string {
	verbs := operationVerbs[l]
	out := make([]string, len(verbs))
	copy(out, verbs)
	return out
}

// Difficulty represents an item difficulty band.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

var difficultyOrder = []Difficulty{DifficultyEasy, DifficultyMedium, DifficultyHard}

// Difficulties returns the three bands in ascending order.
func Difficulties() []Difficulty {
	out := make([]Difficulty, len(difficultyOrder))
	copy(out, difficultyOrder)
	return out
}

// Order returns the band position (0-based), or -1 for unknown bands.
func (d Difficulty) Order() int {
	for i, band := range difficultyOrder {
		if band == d {
			return i
		}
	}
	return -1
}

// Valid reports whether the band is one of easy, medium, hard.
func (d Difficulty) Valid() bool { return d.Order() >= 0 }

// ItemType discriminates the shape of an item. Validation switches
// exhaustively over it; an unknown type is always a validation error.
type ItemType string

const (
	TypeMultipleChoice ItemType = "multiple_choice"
	TypeTrueFalse      ItemType = "true_false"
	TypeShortAnswer    ItemType = "short_answer"
	TypeEssay          ItemType = "essay"
)

// pointValues fixes the point value per item type.
var pointValues = map[ItemType]int{
	TypeMultipleChoice: 1,
	TypeTrueFalse:      1,
	TypeShortAnswer:    2,
	TypeEssay:          5,
}

// PointValue returns the point value for an item type (0 for unknown).
func PointValue(t ItemType) int { return pointValues[t] }

// ChoiceLabels are the canonical option labels for multiple-choice items.
var ChoiceLabels = []string{"A", "B", "C", "D"}

// Item is a single bank or generated examination item.
type Item struct {
	ID          int64             `json:"id"`
	Text        string            `json:"text"`
	Type        ItemType          `json:"type"`
	Topic       string            `json:"topic"`
	Level       CognitiveLevel    `json:"level"`
	Difficulty  Difficulty        `json:"difficulty"`
	Choices     map[string]string `json:"choices,omitempty"`
	Answer      string            `json:"answer"`
	ModelAnswer string            `json:"model_answer,omitempty"`
	Rubric      string            `json:"rubric,omitempty"`
	Embedding   []float64         `json:"-"`
	Quality     float64           `json:"quality"`
	UsageCount  int               `json:"usage_count"`
	Approved    bool              `json:"approved"`
	CreatedAt   time.Time         `json:"created_at,omitzero"`
}

// Validate checks the structural contract for the item's type.
// The switch is exhaustive: unknown types fail.
func (it Item) Validate() error {
	if it.Text == "" {
		return fmt.Errorf("item has empty text")
	}
	switch it.Type {
	case TypeMultipleChoice:
		if len(it.Choices) < 2 {
			return fmt.Errorf("multiple-choice item needs at least 2 choices, got %d", len(it.Choices))
		}
		for label, text := range it.Choices {
			if text == "" {
				return fmt.Errorf("multiple-choice item has empty choice %q", label)
			}
		}
		if _, ok := it.Choices[it.Answer]; !ok {
			return fmt.Errorf("multiple-choice answer %q is not a choice label", it.Answer)
		}
		return nil
	case TypeTrueFalse:
		if it.Answer != "True" && it.Answer != "False" {
			return fmt.Errorf("true/false answer must be True or False, got %q", it.Answer)
		}
		return nil
	case TypeShortAnswer, TypeEssay:
		if it.ModelAnswer == "" && it.Rubric == "" {
			return fmt.Errorf("%s item needs a model answer or rubric", it.Type)
		}
		return nil
	default:
		return fmt.Errorf("unknown item type %q", it.Type)
	}
}

// CorrectAnswer returns the string recorded in a form's answer key for
// this item: the correct choice label for selectable types, the model
// answer (or rubric) for free-form types.
func (it Item) CorrectAnswer() string {
	switch it.Type {
	case TypeMultipleChoice, TypeTrueFalse:
		return it.Answer
	default:
		if it.ModelAnswer != "" {
			return it.ModelAnswer
		}
		return it.Rubric
	}
}

// SlotSource records which stage filled a slot.
type SlotSource string

const (
	SourceBank      SlotSource = "bank"
	SourceGenerated SlotSource = "generated"
)

// Slot is one discrete requirement awaiting an item. Slots are created
// in bulk by the planner and filled at most once, by either the bank
// selector or the fallback generator.
type Slot struct {
	ID         string             `json:"id"`
	Topic      string             `json:"topic"`
	Level      CognitiveLevel     `json:"level"`
	Dimension  KnowledgeDimension `json:"dimension"`
	Difficulty Difficulty         `json:"difficulty"`
	Type       ItemType           `json:"type"`
	Points     int                `json:"points"`
	Filled     bool               `json:"filled"`
	Item       *Item              `json:"item,omitempty"`
	Source     SlotSource         `json:"source,omitempty"`
}

// TestForm is one parallel form of the assembled test. Immutable once
// produced by the version assembler.
type TestForm struct {
	Version     string         `json:"version"`
	Items       []Item         `json:"items"`
	AnswerKey   map[int]string `json:"answer_key"`
	TotalPoints int            `json:"total_points"`
}

// AssemblyReport is the caller-visible summary of one assembly run.
type AssemblyReport struct {
	TotalSlots     int      `json:"total_slots"`
	FilledSlots    int      `json:"filled_slots"`
	UnfilledSlots  []Slot   `json:"unfilled_slots,omitempty"`
	GeneratedCount int      `json:"generated_count"`
	Warnings       []string `json:"warnings,omitempty"`
}

// AssemblyOptions holds per-run knobs passed by the caller.
type AssemblyOptions struct {
	VersionCount    int   `json:"version_count"`
	ShuffleItems    bool  `json:"shuffle_items"`
	ShuffleChoices  bool  `json:"shuffle_choices"`
	AllowUnapproved bool  `json:"allow_unapproved"`
	Seed            int64 `json:"seed,omitempty"`
}
