package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/testforge/internal/engine"
	appI18n "github.com/pavelanni/testforge/internal/i18n"
	"github.com/pavelanni/testforge/internal/llm/prompts"
	"github.com/pavelanni/testforge/internal/model"
	"github.com/pavelanni/testforge/internal/store"
)

func TestMain(m *testing.M) {
	if err := appI18n.Init("en"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func setup(t *testing.T) (*store.Store, http.Handler) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "bank.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	h := New(s, engine.New(s))
	r := chi.NewRouter()
	h.Routes(r)
	return s, r
}

func seedItems(t *testing.T, s *store.Store, texts ...string) []model.Item {
	t.Helper()
	var items []model.Item
	for _, text := range texts {
		items = append(items, model.Item{
			Text:       text,
			Type:       model.TypeMultipleChoice,
			Topic:      "chemistry",
			Level:      model.LevelRemember,
			Difficulty: model.DifficultyEasy,
			Choices:    map[string]string{"A": "hydrogen", "B": "helium", "C": "lithium", "D": "carbon"},
			Answer:     "A",
			Approved:   true,
		})
	}
	inserted, err := s.InsertMany(context.Background(), items)
	if err != nil {
		t.Fatalf("seed items: %v", err)
	}
	return inserted
}

func TestHealth(t *testing.T) {
	_, r := setup(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
}

func TestTopics(t *testing.T) {
	s, r := setup(t)
	seedItems(t, s, "Which element has the lowest atomic number?")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/topics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Topics []string `json:"topics"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Topics) != 1 || body.Topics[0] != "chemistry" {
		t.Errorf("topics = %v, want [chemistry]", body.Topics)
	}
}

func TestItemCount(t *testing.T) {
	s, r := setup(t)
	seedItems(t, s,
		"Which element has the lowest atomic number?",
		"Name the most abundant gas in the atmosphere",
	)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/count?topic=chemistry", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Topic string `json:"topic"`
		Count int    `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 2 || body.Topic != "chemistry" {
		t.Errorf("count response = %+v, want 2 chemistry items", body)
	}
}

func TestApprove(t *testing.T) {
	s, r := setup(t)
	draft := model.Item{
		Text:        "Name the first noble gas on the periodic table",
		Type:        model.TypeShortAnswer,
		Topic:       "chemistry",
		Level:       model.LevelRemember,
		Difficulty:  model.DifficultyEasy,
		ModelAnswer: "Helium",
	}
	inserted, err := s.InsertMany(context.Background(), []model.Item{draft})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	rec := httptest.NewRecorder()
	url := fmt.Sprintf("/items/%d/approve", inserted[0].ID)
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, url, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", rec.Code, rec.Body.String())
	}

	got, err := s.GetItem(context.Background(), inserted[0].ID)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if !got.Approved {
		t.Error("item not approved after the request")
	}
}

func TestApproveErrors(t *testing.T) {
	_, r := setup(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/items/not-a-number/approve", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("non-numeric ID: status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/items/404/approve", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing item: status = %d, want 404", rec.Code)
	}
}

func assembleBody(totalItems, versionCount int) *bytes.Buffer {
	req := AssembleRequest{
		Plan: model.CoveragePlan{Topics: []model.TopicRequirement{{
			Topic: "chemistry",
			Hours: 4,
			LevelCounts: map[model.CognitiveLevel]int{
				model.LevelRemember: 1,
			},
			DifficultyCounts: map[model.Difficulty]int{
				model.DifficultyEasy: 1,
			},
		}}},
		TotalItems: totalItems,
		Options:    model.AssemblyOptions{VersionCount: versionCount, Seed: 7},
	}
	data, _ := json.Marshal(req)
	return bytes.NewBuffer(data)
}

// brokenPlanBody builds an otherwise valid assemble request whose plan has
// been damaged by mutate.
func brokenPlanBody(mutate func(*model.TopicRequirement)) *bytes.Buffer {
	req := AssembleRequest{
		Plan: model.CoveragePlan{Topics: []model.TopicRequirement{{
			Topic: "chemistry",
			Hours: 4,
			LevelCounts: map[model.CognitiveLevel]int{
				model.LevelRemember: 1,
			},
			DifficultyCounts: map[model.Difficulty]int{
				model.DifficultyEasy: 1,
			},
		}}},
		TotalItems: 4,
		Options:    model.AssemblyOptions{VersionCount: 1, Seed: 7},
	}
	mutate(&req.Plan.Topics[0])
	data, _ := json.Marshal(req)
	return bytes.NewBuffer(data)
}

func TestAssemble(t *testing.T) {
	s, r := setup(t)
	seedItems(t, s,
		"Which element has the lowest atomic number?",
		"Name the most abundant gas in the atmosphere",
		"Identify the element symbolized by Fe",
		"State which halogen is liquid at room temperature",
	)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/assemble", assembleBody(4, 2)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", rec.Code, rec.Body.String())
	}

	var resp AssembleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Result == nil {
		t.Fatal("response has no result")
	}
	report := resp.Result.Report
	if report.TotalSlots != 4 {
		t.Errorf("total slots = %d, want 4", report.TotalSlots)
	}
	if report.FilledSlots != 4 {
		t.Errorf("filled slots = %d, want 4 (warnings: %v)", report.FilledSlots, report.Warnings)
	}
	if len(resp.Result.Forms) != 2 {
		t.Errorf("%d forms, want 2", len(resp.Result.Forms))
	}
	if resp.Summary == "" || !strings.Contains(resp.Summary, "4") {
		t.Errorf("summary %q does not report the filled count", resp.Summary)
	}
	if resp.Result.TestID == "" {
		t.Error("response has no test ID")
	}
}

// stubGenerator returns one well-formed multiple-choice item per intent,
// drawing texts from a fixed pool of distinct questions.
type stubGenerator struct {
	counter int
}

var stubTexts = []string{
	"Name the gas produced when zinc reacts with dilute acid",
	"Identify the color change of the starch iodine indicator",
	"State which subatomic particle carries a negative charge",
	"Recall the catalyst used in the Haber process",
	"Name the salt formed from sodium and hydrochloric acid",
	"Identify the process that separates crude oil fractions",
	"State the charge carried by an alpha particle",
	"Recall which metal reacts most vigorously with cold water",
}

func (g *stubGenerator) Generate(ctx context.Context, topic string, level model.CognitiveLevel, itemType model.ItemType, intents []prompts.Intent) ([]model.Item, error) {
	items := make([]model.Item, len(intents))
	for i := range intents {
		items[i] = model.Item{
			Text:    stubTexts[g.counter%len(stubTexts)],
			Type:    itemType,
			Topic:   topic,
			Level:   level,
			Choices: map[string]string{"A": "hydrogen", "B": "oxygen", "C": "chlorine", "D": "nitrogen"},
			Answer:  "A",
		}
		g.counter++
	}
	return items, nil
}

func TestAssembleReportsGeneratedItems(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "bank.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	eng := engine.New(s, engine.WithGenerator(&stubGenerator{}), engine.WithBatchDelay(0))
	h := New(s, eng)
	r := chi.NewRouter()
	h.Routes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/assemble", assembleBody(4, 1)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", rec.Code, rec.Body.String())
	}

	var resp AssembleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Result.Report.GeneratedCount != 4 {
		t.Errorf("generated count = %d, want 4 (warnings: %v)",
			resp.Result.Report.GeneratedCount, resp.Result.Report.Warnings)
	}
	if !strings.Contains(resp.Summary, "4 items were generated") {
		t.Errorf("summary %q does not report the generated items", resp.Summary)
	}
}

func TestAssembleBadRequests(t *testing.T) {
	_, r := setup(t)

	tests := []struct {
		name string
		body *bytes.Buffer
	}{
		{"malformed json", bytes.NewBufferString(`{"plan": `)},
		{"zero total items", assembleBody(0, 1)},
		{"zero versions", assembleBody(10, 0)},
		{"too many versions", assembleBody(10, 6)},
		{"negative topic hours", brokenPlanBody(func(tr *model.TopicRequirement) {
			tr.Hours = -4
		})},
		{"unknown cognitive level", brokenPlanBody(func(tr *model.TopicRequirement) {
			tr.LevelCounts[model.CognitiveLevel("memorize")] = 1
		})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/assemble", tt.body))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body: %s)", rec.Code, rec.Body.String())
			}
		})
	}
}
