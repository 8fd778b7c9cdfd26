// Package prompts holds the cognitive-fidelity rule tables and the
// prompt builders for item generation. The rules are data, not control
// flow: each cognitive level carries the mental action a valid item
// must demand and the phrasing patterns its answers must avoid, so the
// generation loop can enforce fidelity without hard-coding any level.
package prompts

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pavelanni/testforge/internal/model"
)

// Intent describes one item the generator is asked to produce.
type Intent struct {
	Concept    string
	Operation  string
	AnswerHint string
	Difficulty model.Difficulty
	Points     int
}

// LevelRule is the fidelity contract for one cognitive level.
type LevelRule struct {
	Level model.CognitiveLevel
	// MentalAction describes, in natural language, what the student
	// must actually do. It goes into the generation prompt verbatim.
	MentalAction string
	// ForbiddenPhrases are literal patterns a faithful item's answer
	// must not lean on (shown to the model as negative constraints).
	ForbiddenPhrases []string
	forbidden        []*regexp.Regexp
}

var levelRules = map[model.CognitiveLevel]*LevelRule{
	model.LevelRemember: {
		Level:        model.LevelRemember,
		MentalAction: "must retrieve a specific fact, term, or definition from memory",
	},
	model.LevelUnderstand: {
		Level:        model.LevelUnderstand,
		MentalAction: "must restate or interpret the idea in their own words, not quote a definition",
	},
	model.LevelApply: {
		Level:            model.LevelApply,
		MentalAction:     "must carry out a procedure or computation in a concrete situation",
		ForbiddenPhrases: []string{"is defined as", "the definition of"},
	},
	model.LevelAnalyze: {
		Level:            model.LevelAnalyze,
		MentalAction:     "must identify relationships between components and distinguish relevant from irrelevant parts",
		ForbiddenPhrases: []string{"key factors include", "such as", "examples include", "list the"},
	},
	model.LevelEvaluate: {
		Level:            model.LevelEvaluate,
		MentalAction:     "must render a verdict with explicit justification against stated criteria",
		ForbiddenPhrases: []string{"key factors include", "such as", "examples include", "name the"},
	},
	model.LevelCreate: {
		Level:            model.LevelCreate,
		MentalAction:     "must produce an original design, plan, or hypothesis rather than retrieve an existing one",
		ForbiddenPhrases: []string{"key factors include", "such as", "examples include"},
	},
}

func init() {
	for _, rule := range levelRules {
		for _, p := range rule.ForbiddenPhrases {
			rule.forbidden = append(rule.forbidden, regexp.MustCompile(`(?i)`+regexp.QuoteMeta(p)))
		}
	}
}

// RuleFor returns the fidelity rule for a level. Unknown levels get
// the remember rule, the least restrictive one.
func RuleFor(level model.CognitiveLevel) *LevelRule {
	if rule, ok := levelRules[level]; ok {
		return rule
	}
	return levelRules[model.LevelRemember]
}

// CheckFidelity rejects an item whose text or model answer leans on a
// phrasing pattern forbidden for the level. Labeling an item "analyze"
// is not enough; its content must actually demand analysis.
func CheckFidelity(level model.CognitiveLevel, item model.Item) error {
	rule := RuleFor(level)
	for i, re := range rule.forbidden {
		if re.MatchString(item.Text) || re.MatchString(item.ModelAnswer) {
			return fmt.Errorf("item uses phrasing forbidden for level %s: %q", level, rule.ForbiddenPhrases[i])
		}
	}
	return nil
}

// AnswerHint returns the per-type description of the expected answer
// shape, included in each intent.
func AnswerHint(t model.ItemType) string {
	switch t {
	case model.TypeMultipleChoice:
		return "four options labeled A-D with exactly one correct option"
	case model.TypeTrueFalse:
		return "a single statement whose answer is True or False"
	case model.TypeShortAnswer:
		return "a question answerable in one or two sentences, with a model answer"
	case model.TypeEssay:
		return "an extended-response task with a grading rubric"
	default:
		return ""
	}
}

// BuildGenerationPrompt builds the system prompt for one generation
// batch: topic, level, the level's fidelity contract, and one numbered
// intent per requested item.
func BuildGenerationPrompt(topic string, level model.CognitiveLevel, itemType model.ItemType, intents []Intent) string {
	rule := RuleFor(level)

	var sb strings.Builder
	sb.WriteString("You are an assessment item writer. Write examination items for the topic below.\n\n")
	sb.WriteString("TOPIC: " + topic + "\n")
	sb.WriteString(fmt.Sprintf("COGNITIVE LEVEL: %s\n", level))
	sb.WriteString(fmt.Sprintf("ITEM TYPE: %s\n\n", itemType))

	sb.WriteString("COGNITIVE CONTRACT: to answer each item, the student " + rule.MentalAction + ".\n")
	sb.WriteString("An item that merely looks like this level but can be answered by recall is wrong.\n")
	if len(rule.ForbiddenPhrases) > 0 {
		sb.WriteString("The item text and its answer must NOT use these phrasings: ")
		for i, p := range rule.ForbiddenPhrases {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(`"` + p + `"`)
		}
		sb.WriteString(".\n")
	}
	sb.WriteString("\nWrite exactly one item per request below:\n")
	for i, in := range intents {
		sb.WriteString(fmt.Sprintf("%d. Concept: %s. The student must %s it. Difficulty: %s. Worth %d points. Expected shape: %s.\n",
			i+1, in.Concept, in.Operation, in.Difficulty, in.Points, in.AnswerHint))
	}

	sb.WriteString("\nRespond ONLY with a JSON object of the form:\n")
	sb.WriteString(`{"items": [{"text": "...", "choices": {"A": "...", "B": "...", "C": "...", "D": "..."}, "answer": "...", "model_answer": "...", "rubric": "..."}]}`)
	sb.WriteString("\n")
	sb.WriteString("For multiple_choice items fill choices and set answer to the correct label. ")
	sb.WriteString("For true_false set answer to True or False and omit choices. ")
	sb.WriteString("For short_answer fill model_answer. For essay fill rubric. ")
	sb.WriteString("Return the items in request order.\n")

	return sb.String()
}
