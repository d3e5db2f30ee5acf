package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hive-corporation/dfir-engine/internal/core/domain"
)

func TestGeminiCollaborator_ProcessStep(t *testing.T) {
	var (
		gotPath string
		gotKey  string
		gotReq  geminiRequest
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"` + "```js\\n" + `let x = 1;"},{"text":"\n` + "```" + `"}]}}]}`))
	}))
	defer server.Close()

	c := NewGeminiCollaborator(GeminiConfig{
		ID:      "gemini-flash",
		BaseURL: server.URL + "/v1beta/models/",
		APIKey:  "g-key",
		Model:   "gemini-2.5-flash",
		Client:  testClientConfig(),
	})

	out, err := c.ProcessStep(context.Background(), domain.StepDecompile, "var a=1")
	if err != nil {
		t.Fatalf("ProcessStep: %v", err)
	}
	if out != "let x = 1;" {
		t.Errorf("output = %q", out)
	}
	if gotPath != "/v1beta/models/gemini-2.5-flash:generateContent" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "g-key" {
		t.Errorf("x-goog-api-key = %q", gotKey)
	}
	if gotReq.GenerationConfig.ResponseMimeType != "text/plain" {
		t.Errorf("responseMimeType = %q", gotReq.GenerationConfig.ResponseMimeType)
	}
	if len(gotReq.Contents) != 1 || !strings.HasSuffix(gotReq.Contents[0].Parts[0].Text, "var a=1") {
		t.Errorf("contents = %+v", gotReq.Contents)
	}
	if c.Name() != "gemini-2.5-flash" {
		t.Errorf("Name() = %q, want model fallback", c.Name())
	}
}

func TestGeminiCollaborator_AnalyzeRequestsJSON(t *testing.T) {
	var gotReq geminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"{\"threatLevel\":\"low\"}"}]}}]}`))
	}))
	defer server.Close()

	c := NewGeminiCollaborator(GeminiConfig{ID: "gemini-pro", BaseURL: server.URL, APIKey: "k", Model: "gemini-2.5-pro", Client: testClientConfig()})

	out, err := c.ProcessStep(context.Background(), domain.StepAnalyze, "x")
	if err != nil {
		t.Fatalf("ProcessStep: %v", err)
	}
	if out != `{"threatLevel":"low"}` {
		t.Errorf("output = %q", out)
	}
	if gotReq.GenerationConfig.ResponseMimeType != "application/json" {
		t.Errorf("responseMimeType = %q", gotReq.GenerationConfig.ResponseMimeType)
	}
}

func TestGeminiCollaborator_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{"Error field", `{"error":{"message":"API key not valid"}}`, "API key not valid"},
		{"Blocked prompt", `{"promptFeedback":{"blockReason":"SAFETY"}}`, "SAFETY"},
		{"No candidates", `{"candidates":[]}`, "no candidates"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := NewGeminiCollaborator(GeminiConfig{ID: "gemini-pro", BaseURL: server.URL, APIKey: "k", Model: "m", Client: testClientConfig()})
			_, err := c.ProcessStep(context.Background(), domain.StepRefine, "x")
			if err == nil || !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("err = %v, want message containing %q", err, tt.wantMsg)
			}
		})
	}

	t.Run("Not configured", func(t *testing.T) {
		c := NewGeminiCollaborator(GeminiConfig{ID: "gemini-pro", Model: "m", Client: testClientConfig()})
		if _, err := c.ProcessStep(context.Background(), domain.StepRefine, "x"); !errors.Is(err, ErrNotConfigured) {
			t.Errorf("err = %v, want ErrNotConfigured", err)
		}
	})
}
