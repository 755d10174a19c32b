// Package inference talks to a model server speaking the Open Inference
// Protocol (KServe v2, Triton, MLServer) over HTTP/JSON.
//
// The detector's sequence classifier and its tokenizer are served as two
// models on the same server:
//
//	<model>-tokenizer   text (BYTES [1])             -> input_ids (INT64 [1,n])
//	<model>             input_ids, attention_mask    -> logits (FP32 [1,2])
//	                    (INT64 [1,n])
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gzhole/aidetect/internal/detector"
)

const (
	// DefaultTimeout bounds each request to the model server.
	DefaultTimeout = 30 * time.Second

	// TokenizerSuffix names the tokenizer model relative to the classifier.
	TokenizerSuffix = "-tokenizer"

	maxErrorBody = 4 << 10
)

// ErrNotReady is returned when the server reports a model as not ready.
var ErrNotReady = errors.New("model not ready")

// Client is an Open Inference Protocol HTTP client. It satisfies
// detector.Loader.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	tokenizerModel string
}

var _ detector.Loader = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTokenizerModel overrides the "<model>-tokenizer" naming convention.
func WithTokenizerModel(name string) Option {
	return func(c *Client) { c.tokenizerModel = name }
}

// NewClient creates a client for the server at baseURL (for example
// "http://localhost:8000").
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string { return c.baseURL }

// TokenizerFor returns the tokenizer model name paired with modelName.
func (c *Client) TokenizerFor(modelName string) string {
	if c.tokenizerModel != "" {
		return c.tokenizerModel
	}
	return modelName + TokenizerSuffix
}

// Live checks GET /v2/health/live.
func (c *Client) Live(ctx context.Context) error {
	return c.probe(ctx, "/v2/health/live")
}

// ModelReady checks GET /v2/models/{name}/ready.
func (c *Client) ModelReady(ctx context.Context, name string) error {
	if err := c.probe(ctx, "/v2/models/"+url.PathEscape(name)+"/ready"); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Load verifies that both the classifier and its tokenizer are ready and
// returns handles to them.
func (c *Client) Load(ctx context.Context, modelName string) (detector.Tokenizer, detector.SequenceClassifier, error) {
	tokName := c.TokenizerFor(modelName)
	if err := c.ModelReady(ctx, tokName); err != nil {
		return nil, nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}
	if err := c.ModelReady(ctx, modelName); err != nil {
		return nil, nil, fmt.Errorf("failed to load classifier: %w", err)
	}
	return &tokenizer{client: c, model: tokName}, &classifier{client: c, model: modelName}, nil
}

func (c *Client) probe(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("model server unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w (status %d)", ErrNotReady, resp.StatusCode)
	}
	return nil
}

// Infer runs POST /v2/models/{name}/infer.
func (c *Client) Infer(ctx context.Context, model string, in InferRequest) (*InferResponse, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal infer request: %w", err)
	}

	endpoint := c.baseURL + "/v2/models/" + url.PathEscape(model) + "/infer"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("infer request to %s failed: %w", model, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var e errorResponse
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			return nil, fmt.Errorf("infer %s (status %d): %s", model, resp.StatusCode, e.Error)
		}
		return nil, fmt.Errorf("infer %s (status %d): %s", model, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out InferResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode infer response: %w", err)
	}
	return &out, nil
}
