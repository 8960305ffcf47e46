package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/diegogrosmann/BookTranslateAI/internal/postprocess"
)

const (
	DefaultOllamaURL   = "http://localhost:11434"
	DefaultOllamaModel = "llama3.2"
)

// OllamaGateway translates through a self-hosted Ollama instance.
type OllamaGateway struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewOllama(baseURL, model string) *OllamaGateway {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	return &OllamaGateway{
		baseURL: baseURL,
		model:   model,
		// the per-call deadline comes from ctx; this is a safety net
		client: &http.Client{Timeout: 10 * time.Minute},
	}
}

func (g *OllamaGateway) Name() string { return "ollama" }

func (g *OllamaGateway) Translate(ctx context.Context, req Request) (string, error) {
	body := map[string]any{
		"model":  g.model,
		"system": buildSystemPrompt(req),
		"prompt": req.Text,
		"stream": false,
	}
	jsonData, err := json.Marshal(body)
	if err != nil {
		return "", Errorf(Fatal, g.Name(), "failed to marshal request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/generate", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", Errorf(Fatal, g.Name(), "failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", Errorf(Transient, g.Name(), "request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", Errorf(classFromStatus(resp.StatusCode), g.Name(), "API returned status %d", resp.StatusCode)
	}

	var ollamaResp struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return "", Errorf(Malformed, g.Name(), "failed to decode response: %v", err)
	}

	text := postprocess.Clean(ollamaResp.Response)
	if text == "" {
		return "", Errorf(Malformed, g.Name(), "response was empty after cleanup")
	}
	return text, nil
}
