package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pavelanni/testforge/internal/llm/prompts"
	"github.com/pavelanni/testforge/internal/model"
)

// chatServer fakes an OpenAI-compatible endpoint that answers every
// chat completion with the given message content.
func chatServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/chat/completions"):
			resp := map[string]any{
				"choices": []map[string]any{
					{"message": map[string]any{"role": "assistant", "content": content}},
				},
			}
			json.NewEncoder(w).Encode(resp)
		case strings.HasSuffix(r.URL.Path, "/models"):
			json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
		case strings.HasSuffix(r.URL.Path, "/embeddings"):
			json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{{"embedding": []float64{0.5, -0.25, 0.125}}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
}

func testClient(t *testing.T, srv *httptest.Server, embedModel string) *Client {
	t.Helper()
	c, err := New(srv.URL+"/v1", "test-key", "test-model", embedModel)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func testIntents() []prompts.Intent {
	return []prompts.Intent{
		{Concept: "underlying principles", Operation: "explain",
			AnswerHint: prompts.AnswerHint(model.TypeMultipleChoice),
			Difficulty: model.DifficultyEasy, Points: 1},
		{Concept: "common misconceptions", Operation: "classify",
			AnswerHint: prompts.AnswerHint(model.TypeMultipleChoice),
			Difficulty: model.DifficultyHard, Points: 1},
	}
}

func TestGenerate(t *testing.T) {
	content := `{"items": [
		{"text": "Which statement describes osmosis?",
		 "choices": {"A": "solvent moves", "B": "solute moves", "C": "heat moves", "D": "charge moves"},
		 "answer": "A"},
		{"text": "Which statement is a common misconception about diffusion?",
		 "choices": {"A": "needs energy", "B": "is passive", "C": "happens in gases", "D": "happens in liquids"},
		 "answer": "A"}
	]}`
	srv := chatServer(t, content)
	defer srv.Close()

	items, err := testClient(t, srv, "").Generate(context.Background(),
		"biology", model.LevelUnderstand, model.TypeMultipleChoice, testIntents())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	first := items[0]
	if first.Topic != "biology" || first.Level != model.LevelUnderstand || first.Type != model.TypeMultipleChoice {
		t.Errorf("request fields not stamped onto the item: %+v", first)
	}
	// Difficulty comes from the positionally matching intent.
	if first.Difficulty != model.DifficultyEasy {
		t.Errorf("first item difficulty = %s, want easy", first.Difficulty)
	}
	if items[1].Difficulty != model.DifficultyHard {
		t.Errorf("second item difficulty = %s, want hard", items[1].Difficulty)
	}
	if first.Choices["B"] != "solute moves" || first.Answer != "A" {
		t.Errorf("choices or answer lost in mapping: %+v", first)
	}
}

func TestGenerateShortBatch(t *testing.T) {
	content := `{"items": [{"text": "Which statement describes osmosis?",
		"choices": {"A": "one", "B": "two"}, "answer": "A"}]}`
	srv := chatServer(t, content)
	defer srv.Close()

	items, err := testClient(t, srv, "").Generate(context.Background(),
		"biology", model.LevelUnderstand, model.TypeMultipleChoice, testIntents())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("short batch yielded %d items, want 1", len(items))
	}
}

func TestGenerateRejectsBadPayloads(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "here are your questions: 1. ..."},
		{"missing items key", `{"questions": []}`},
		{"item without text", `{"items": [{"answer": "A"}]}`},
		{"items not a list", `{"items": {"text": "hello"}}`},
		{"empty text", `{"items": [{"text": ""}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := chatServer(t, tt.content)
			defer srv.Close()

			_, err := testClient(t, srv, "").Generate(context.Background(),
				"biology", model.LevelRemember, model.TypeShortAnswer, testIntents()[:1])
			if err == nil {
				t.Error("expected error for malformed payload")
			}
		})
	}
}

func TestGenerateTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testClient(t, srv, "").Generate(context.Background(),
		"biology", model.LevelRemember, model.TypeShortAnswer, testIntents()[:1])
	if err == nil {
		t.Error("expected error for transport failure")
	}
}

func TestPing(t *testing.T) {
	srv := chatServer(t, "")
	defer srv.Close()
	if err := testClient(t, srv, "").Ping(context.Background()); err != nil {
		t.Errorf("Ping against a healthy endpoint: %v", err)
	}

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer down.Close()
	if err := testClient(t, down, "").Ping(context.Background()); err == nil {
		t.Error("Ping against a failing endpoint returned nil")
	}
}

func TestEmbed(t *testing.T) {
	srv := chatServer(t, "")
	defer srv.Close()

	vec, err := testClient(t, srv, "test-embed").Embed(context.Background(), "osmosis moves solvent")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[0] != 0.5 {
		t.Errorf("embedding = %v, want the served vector", vec)
	}
}

func TestEmbedUnconfigured(t *testing.T) {
	srv := chatServer(t, "")
	defer srv.Close()

	if _, err := testClient(t, srv, "").Embed(context.Background(), "anything"); err == nil {
		t.Error("Embed without an embedding model returned nil error")
	}
}
