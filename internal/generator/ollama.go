package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ollama implements Generator for local Ollama models.
type ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

func init() {
	Register("ollama", func(cfg map[string]any) (Generator, error) {
		return &ollama{
			baseURL: strings.TrimRight(stringOpt(cfg, "base_url", envOr("OLLAMA_HOST", "http://localhost:11434")), "/"),
			model:   stringOpt(cfg, "model", "llama3"),
			client:  httpClient(cfg),
		}, nil
	})
}

func (g *ollama) Name() string { return "ollama" }

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// Generate sends a prompt to the Ollama API and returns the generated text.
func (g *ollama) Generate(ctx context.Context, prompt string) (string, error) {
	jsonBody, err := json.Marshal(ollamaRequest{Model: g.model, Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/generate", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama api request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama api error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var ollamaResp ollamaResponse
	if err := json.Unmarshal(body, &ollamaResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if ollamaResp.Error != "" {
		return "", fmt.Errorf("ollama returned error: %s", ollamaResp.Error)
	}
	return ollamaResp.Response, nil
}
