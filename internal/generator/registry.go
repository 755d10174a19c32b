// Package generator provides generative text capabilities the prompt tier can
// delegate to. Each provider registers a Factory under its name.
package generator

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/gzhole/aidetect/internal/detector"
)

// DefaultHTTPTimeout bounds a provider request when the caller's context has
// no earlier deadline.
const DefaultHTTPTimeout = 60 * time.Second

// Generator is a named detector.Capability.
type Generator interface {
	detector.Capability
	Name() string
}

// Factory builds a Generator from provider settings. Recognized keys are
// "api_key", "model", "base_url" and "timeout" (a time.Duration).
type Factory func(cfg map[string]any) (Generator, error)

var registry = map[string]Factory{}

// Register adds a provider. Later registrations replace earlier ones.
func Register(name string, f Factory) {
	registry[name] = f
}

// New builds the named provider.
func New(name string, cfg map[string]any) (Generator, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("generator %q not found (available: %v)", name, Names())
	}
	if cfg == nil {
		cfg = map[string]any{}
	}
	return f(cfg)
}

// Names lists registered providers in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Capability adapts a Generator for the pipeline. A nil Generator yields a nil
// Capability so the prompt tier is skipped rather than called.
func Capability(g Generator) detector.Capability {
	if g == nil {
		return nil
	}
	return g
}

func stringOpt(cfg map[string]any, key, fallback string) string {
	if v, ok := cfg[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func httpClient(cfg map[string]any) *http.Client {
	timeout := DefaultHTTPTimeout
	if v, ok := cfg["timeout"].(time.Duration); ok && v > 0 {
		timeout = v
	}
	return &http.Client{Timeout: timeout}
}

// Stub answers every prompt with a fixed response. It backs the "stub"
// provider used for offline runs and tests.
type Stub struct {
	Response string
	Err      error
}

func init() {
	Register("stub", func(cfg map[string]any) (Generator, error) {
		return &Stub{Response: stringOpt(cfg, "response", "Probability: 0.5\nExplanation: stub provider")}, nil
	})
}

func (s *Stub) Name() string { return "stub" }

func (s *Stub) Generate(ctx context.Context, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.Response, s.Err
}
