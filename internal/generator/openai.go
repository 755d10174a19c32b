package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// openai implements Generator for the OpenAI chat completions API and
// compatible servers (vLLM, LM Studio, llama.cpp) via base_url.
type openai struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

func init() {
	Register("openai", func(cfg map[string]any) (Generator, error) {
		return &openai{
			apiKey:  stringOpt(cfg, "api_key", os.Getenv("OPENAI_API_KEY")),
			model:   stringOpt(cfg, "model", "gpt-4o-mini"),
			baseURL: strings.TrimRight(stringOpt(cfg, "base_url", "https://api.openai.com/v1"), "/"),
			client:  httpClient(cfg),
		}, nil
	})
}

func (g *openai) Name() string { return "openai" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate sends the prompt as a single user message.
func (g *openai) Generate(ctx context.Context, prompt string) (string, error) {
	if g.apiKey == "" && strings.Contains(g.baseURL, "api.openai.com") {
		return "", fmt.Errorf("openai: %w", ErrMissingAPIKey)
	}

	jsonBody, err := json.Marshal(chatRequest{
		Model:    g.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai api request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)

	var chat chatResponse
	if err := json.Unmarshal(body, &chat); err != nil {
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("openai api error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if chat.Error != nil {
		return "", fmt.Errorf("openai api error (status %d): %s", resp.StatusCode, chat.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("openai api error (status %d)", resp.StatusCode)
	}
	if len(chat.Choices) == 0 {
		return "", errors.New("no choices returned from openai")
	}
	return chat.Choices[0].Message.Content, nil
}
