package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hive-corporation/dfir-engine/internal/core/domain"
	"github.com/hive-corporation/dfir-engine/internal/core/ports"
)

const DefaultGeminiURL = "https://generativelanguage.googleapis.com/v1beta/models"

// GeminiConfig configures a Gemini generateContent provider
type GeminiConfig struct {
	ID      string
	Name    string
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	Client  ResilientClientConfig
}

// GeminiCollaborator runs delegated steps against the Gemini REST API
type GeminiCollaborator struct {
	id       string
	name     string
	endpoint string
	apiKey   string
	client   *ResilientClient
}

var _ ports.Collaborator = (*GeminiCollaborator)(nil)

func NewGeminiCollaborator(cfg GeminiConfig) *GeminiCollaborator {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGeminiURL
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Model
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	return &GeminiCollaborator{
		id:       cfg.ID,
		name:     cfg.Name,
		endpoint: fmt.Sprintf("%s/%s:generateContent", strings.TrimSuffix(cfg.BaseURL, "/"), cfg.Model),
		apiKey:   cfg.APIKey,
		client:   NewResilientClient(cfg.ID, cfg.Timeout, cfg.Client),
	}
}

func (c *GeminiCollaborator) ID() string   { return c.id }
func (c *GeminiCollaborator) Name() string { return c.name }

// IsConfigured returns whether an API key is present
func (c *GeminiCollaborator) IsConfigured() bool {
	return c.apiKey != ""
}

func (c *GeminiCollaborator) ProcessStep(ctx context.Context, step domain.Step, code string) (string, error) {
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

	text, err := c.generate(ctx, step, prompt)
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

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  struct {
		Temperature      float64 `json:"temperature"`
		ResponseMimeType string  `json:"responseMimeType"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *GeminiCollaborator) generate(ctx context.Context, step domain.Step, prompt string) (string, error) {
	body := geminiRequest{
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: systemPrompt}}},
		Contents:          []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
	}
	body.GenerationConfig.ResponseMimeType = "text/plain"
	if step == domain.StepAnalyze {
		body.GenerationConfig.ResponseMimeType = "application/json"
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var response geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		RecordError(c.id, "parse")
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if response.Error != nil {
		return "", errors.New(response.Error.Message)
	}
	if response.PromptFeedback != nil && response.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("prompt blocked: %s", response.PromptFeedback.BlockReason)
	}
	if len(response.Candidates) == 0 {
		RecordError(c.id, "parse")
		return "", fmt.Errorf("no candidates in Gemini response")
	}

	var sb strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}
