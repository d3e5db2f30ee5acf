package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hive-corporation/dfir-engine/internal/core/domain"
	"github.com/hive-corporation/dfir-engine/internal/core/ports"
)

const (
	DefaultOpenAIURL   = "https://api.openai.com/v1/chat/completions"
	DefaultOpenAIModel = "gpt-4o"
)

// ErrNotConfigured is returned by collaborators without credentials.
var ErrNotConfigured = errors.New("provider API key not configured")

// OpenAIConfig configures an OpenAI-compatible chat completions provider
type OpenAIConfig struct {
	ID      string
	Name    string
	APIURL  string
	APIKey  string
	Model   string
	Timeout time.Duration
	Client  ResilientClientConfig
}

// OpenAICollaborator runs delegated steps against an OpenAI-compatible
// chat completions API (OpenAI itself or a LiteLLM style proxy).
type OpenAICollaborator struct {
	id     string
	name   string
	apiURL string
	apiKey string
	model  string
	client *ResilientClient
}

var _ ports.Collaborator = (*OpenAICollaborator)(nil)

// NewOpenAICollaborator creates a collaborator, filling defaults for empty fields
func NewOpenAICollaborator(cfg OpenAIConfig) *OpenAICollaborator {
	if cfg.ID == "" {
		cfg.ID = "openai"
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultOpenAIURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Model
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	return &OpenAICollaborator{
		id:     cfg.ID,
		name:   cfg.Name,
		apiURL: cfg.APIURL,
		apiKey: cfg.APIKey,
		model:  cfg.Model,
		client: NewResilientClient(cfg.ID, cfg.Timeout, cfg.Client),
	}
}

func (c *OpenAICollaborator) ID() string   { return c.id }
func (c *OpenAICollaborator) Name() string { return c.name }

// IsConfigured returns whether an API key is present
func (c *OpenAICollaborator) IsConfigured() bool {
	return c.apiKey != ""
}

// ProcessStep sends the step prompt and returns the model's text. Code output has
// markdown fences removed; analysis output is returned as is.
func (c *OpenAICollaborator) ProcessStep(ctx context.Context, step domain.Step, code string) (string, error) {
	timer := StartTimer(c.id, string(step))
	defer timer.ObserveDuration()

	if !c.IsConfigured() {
		RecordStepRequest(c.id, string(step), "error")
		return "", fmt.Errorf("%s: %w", c.id, ErrNotConfigured)
	}

	prompt, ok, err := BuildPrompt(step, code)
	if err != nil {
		return "", err
	}
	if !ok {
		return code, nil
	}

	text, err := c.callLLM(ctx, step, prompt)
	if err != nil {
		RecordStepRequest(c.id, string(step), "error")
		return "", fmt.Errorf("%s %s: %w", c.name, step, err)
	}
	RecordStepRequest(c.id, string(step), "success")

	if step != domain.StepAnalyze {
		text = StripCodeFences(text)
	}
	return text, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	ResponseFormat map[string]string `json:"response_format"`
	Temperature    float64           `json:"temperature"`
	TopP           float64           `json:"top_p"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *OpenAICollaborator) callLLM(ctx context.Context, step domain.Step, prompt string) (string, error) {
	format := "text"
	if step == domain.StepAnalyze {
		format = "json_object"
	}

	jsonBody, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		ResponseFormat: map[string]string{"type": format},
		Temperature:    0,
		TopP:           1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.apiURL, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var response chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		RecordError(c.id, "parse")
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if response.Error != nil {
		return "", errors.New(response.Error.Message)
	}
	if len(response.Choices) == 0 {
		RecordError(c.id, "parse")
		return "", fmt.Errorf("no choices in LLM response")
	}

	return response.Choices[0].Message.Content, nil
}
