package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"
	"github.com/xeipuuv/gojsonschema"

	"github.com/pavelanni/testforge/internal/llm/prompts"
	"github.com/pavelanni/testforge/internal/model"
)

// candidateSchema validates the raw model output before it is trusted
// enough to unmarshal. Structural and fidelity checks per item happen
// later, in the generator.
const candidateSchema = `{
	"type": "object",
	"required": ["items"],
	"properties": {
		"items": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["text"],
				"properties": {
					"text": {"type": "string", "minLength": 1},
					"choices": {"type": "object", "additionalProperties": {"type": "string"}},
					"answer": {"type": "string"},
					"model_answer": {"type": "string"},
					"rubric": {"type": "string"}
				}
			}
		}
	}
}`

// Client wraps an OpenAI-compatible API for item generation and,
// optionally, text embedding.
type Client struct {
	api        *openai.Client
	model      string
	embedModel string
	schema     *gojsonschema.Schema
}

// New creates an LLM client against an OpenAI-compatible endpoint.
// embedModel may be empty when the embedding service is not used.
func New(baseURL, apiKey, modelName, embedModel string) (*Client, error) {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(candidateSchema))
	if err != nil {
		return nil, fmt.Errorf("compile candidate schema: %w", err)
	}
	return &Client{
		api:        openai.NewClientWithConfig(config),
		model:      modelName,
		embedModel: embedModel,
		schema:     schema,
	}, nil
}

// Ping verifies the endpoint is reachable by listing models.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("LLM endpoint unreachable: %w", err)
	}
	return nil
}

type rawCandidate struct {
	Text        string            `json:"text"`
	Choices     map[string]string `json:"choices"`
	Answer      string            `json:"answer"`
	ModelAnswer string            `json:"model_answer"`
	Rubric      string            `json:"rubric"`
}

type rawResponse struct {
	Items []rawCandidate `json:"items"`
}

// Generate requests one batch of candidate items. Candidates map
// positionally onto intents; a short batch simply yields fewer
// candidates. Transport and parse failures are returned to the caller,
// which treats them as "zero candidates for this batch".
func (c *Client) Generate(ctx context.Context, topic string, level model.CognitiveLevel, itemType model.ItemType, intents []prompts.Intent) ([]model.Item, error) {
	systemPrompt := prompts.BuildGenerationPrompt(topic, level, itemType, intents)

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.7,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("generation response", "topic", topic, "level", level, "raw_len", len(raw))

	result, err := c.schema.Validate(gojsonschema.NewStringLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("validate LLM response: %w", err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("LLM response failed schema validation: %v", result.Errors())
	}

	var parsed rawResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("parse LLM response: %w", err)
	}

	items := make([]model.Item, 0, len(parsed.Items))
	for i, rc := range parsed.Items {
		item := model.Item{
			Text:        rc.Text,
			Type:        itemType,
			Topic:       topic,
			Level:       level,
			Choices:     rc.Choices,
			Answer:      rc.Answer,
			ModelAnswer: rc.ModelAnswer,
			Rubric:      rc.Rubric,
		}
		if i < len(intents) {
			item.Difficulty = intents[i].Difficulty
		}
		items = append(items, item)
	}
	return items, nil
}

// Embed returns the embedding vector for a text, or an error when the
// client was built without an embedding model.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	if c.embedModel == "" {
		return nil, fmt.Errorf("embedding model not configured")
	}
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.embedModel),
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding API call: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding API returned no data")
	}
	vec := make([]float64, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float64(v)
	}
	return vec, nil
}
