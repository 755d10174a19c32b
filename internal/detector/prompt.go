package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"
)

// Capability is any text generator the prompt tier can delegate to.
// An empty response string means the generator had nothing to say.
type Capability interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// CapabilityFunc lets a plain function satisfy Capability.
type CapabilityFunc func(ctx context.Context, prompt string) (string, error)

func (f CapabilityFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

const (
	// DefaultCapabilityTimeout bounds a single capability call.
	DefaultCapabilityTimeout = 20 * time.Second

	promptExcerptRunes = 500
	probabilityPrefix  = "Probability:"
	explanationPrefix  = "Explanation:"
)

const promptTemplate = `Analyze this text to assess if it was likely generated by AI or written by a human:

Text: "%s"

Consider these factors:
- Writing style and patterns
- Vocabulary and phrasing
- Structure and flow
- Common AI language patterns

Respond with a probability score (0.0 to 1.0) and brief explanation:
Probability: [0.0-1.0]
Explanation: [brief reasoning]`

// BuildPrompt embeds up to the first 500 characters of text in the analysis prompt.
func BuildPrompt(text string) string {
	excerpt := text
	if r := []rune(text); len(r) > promptExcerptRunes {
		excerpt = string(r[:promptExcerptRunes]) + "..."
	}
	return fmt.Sprintf(promptTemplate, excerpt)
}

// ParseResponse extracts the probability and explanation from a capability
// response. A malformed probability keeps the 0.5 default and is reported as
// ErrParse alongside the otherwise complete Result.
func ParseResponse(resp string) (Result, error) {
	if strings.TrimSpace(resp) == "" {
		return NewResult(0.5, "inconclusive"), nil
	}

	probability := 0.5
	explanation := "AI analysis completed"
	var parseErr error

	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, probabilityPrefix):
			raw := strings.TrimSpace(strings.TrimPrefix(line, probabilityPrefix))
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil || math.IsNaN(v) {
				parseErr = errors.Join(parseErr, fmt.Errorf("%w: probability %q", ErrParse, raw))
				continue
			}
			probability = clamp01(v)
		case strings.HasPrefix(line, explanationPrefix):
			explanation = strings.TrimSpace(strings.TrimPrefix(line, explanationPrefix))
		}
	}

	return NewResult(probability, explanation), parseErr
}

// PromptClassifier scores text through a Capability. It holds no state of its
// own; the capability arrives with each call.
type PromptClassifier struct {
	timeout time.Duration
}

// NewPromptClassifier creates a classifier whose capability calls are bounded
// by timeout (DefaultCapabilityTimeout when zero or negative).
func NewPromptClassifier(timeout time.Duration) *PromptClassifier {
	if timeout <= 0 {
		timeout = DefaultCapabilityTimeout
	}
	return &PromptClassifier{timeout: timeout}
}

// Classify asks capability to judge text. The error is non-nil only when the
// capability itself failed or overran the timeout; parse problems are absorbed
// into the Result.
func (p *PromptClassifier) Classify(ctx context.Context, text string, capability Capability) (Result, error) {
	if capability == nil {
		return Result{}, fmt.Errorf("%w: no capability supplied", ErrDependencyUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	// Buffered so a capability that ignores ctx cannot leak the goroutine.
	done := make(chan generation, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- generation{err: fmt.Errorf("capability panicked: %v", r)}
			}
		}()
		resp, err := capability.Generate(ctx, BuildPrompt(text))
		done <- generation{resp: resp, err: err}
	}()

	var gen generation
	select {
	case <-ctx.Done():
		return Result{}, fmt.Errorf("%w: %v", ErrCapabilityCall, ctx.Err())
	case gen = <-done:
	}
	if gen.err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrCapabilityCall, gen.err)
	}

	res, perr := ParseResponse(gen.resp)
	if perr != nil {
		slog.Debug("capability response partially parsed", "error", perr)
	}
	return res, nil
}

type generation struct {
	resp string
	err  error
}

// PromptTier adapts a PromptClassifier to the Tier interface.
type PromptTier struct {
	classifier *PromptClassifier
}

func NewPromptTier(classifier *PromptClassifier) *PromptTier {
	if classifier == nil {
		classifier = NewPromptClassifier(0)
	}
	return &PromptTier{classifier: classifier}
}

func (p *PromptTier) Name() string { return TierPrompt }

func (p *PromptTier) Attempt(ctx context.Context, req Request) Outcome {
	if req.Capability == nil {
		return Unavailable("no generative capability supplied", ErrDependencyUnavailable)
	}
	res, err := p.classifier.Classify(ctx, req.Text, req.Capability)
	if err != nil {
		return Unavailable("capability call failed", err)
	}
	return Answered(res)
}
