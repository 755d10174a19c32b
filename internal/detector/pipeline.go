package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gzhole/aidetect/internal/textclean"
)

// Skip records a tier the cascade fell through.
type Skip struct {
	Tier   string `json:"tier"`
	Reason string `json:"reason"`
	Error  string `json:"error,omitempty"`
}

// Report is the full account of one pipeline run.
type Report struct {
	Result   Result              `json:"result"`
	Tier     string              `json:"tier"`
	Skipped  []Skip              `json:"skipped"`
	Findings []textclean.Finding `json:"findings,omitempty"`
	Duration time.Duration       `json:"duration"`
}

// Pipeline runs tiers in order and returns the first answer. The heuristic
// tier is always last, so every call produces a Result.
type Pipeline struct {
	tiers    []Tier
	logger   *slog.Logger
	sanitize bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger used for tier diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithSanitizer strips invisible and control characters before any tier runs.
func WithSanitizer(enabled bool) Option {
	return func(p *Pipeline) { p.sanitize = enabled }
}

// NewPipeline creates a cascade over tiers. A heuristic tier is appended when
// none is present.
func NewPipeline(tiers []Tier, opts ...Option) *Pipeline {
	p := &Pipeline{logger: slog.Default()}
	hasTerminal := false
	for _, t := range tiers {
		if t == nil {
			continue
		}
		p.tiers = append(p.tiers, t)
		if t.Name() == TierHeuristic {
			hasTerminal = true
		}
	}
	if !hasTerminal {
		p.tiers = append(p.tiers, NewHeuristicTier(nil))
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewDefaultPipeline builds the model → prompt → heuristic cascade.
func NewDefaultPipeline(model Model, promptTimeout time.Duration, opts ...Option) *Pipeline {
	return NewPipeline([]Tier{
		NewModelTier(model),
		NewPromptTier(NewPromptClassifier(promptTimeout)),
		NewHeuristicTier(nil),
	}, opts...)
}

// Tiers returns the tier names in cascade order.
func (p *Pipeline) Tiers() []string {
	names := make([]string, len(p.tiers))
	for i, t := range p.tiers {
		names[i] = t.Name()
	}
	return names
}

// Detect returns the probability that text is machine-generated. capability
// may be nil, in which case the prompt tier is skipped. It never fails.
func (p *Pipeline) Detect(ctx context.Context, text string, capability Capability) Result {
	return p.Analyze(ctx, text, capability).Result
}

// Analyze is Detect with the full account of which tier answered and why
// earlier tiers were skipped.
func (p *Pipeline) Analyze(ctx context.Context, text string, capability Capability) Report {
	start := time.Now()
	report := Report{Skipped: []Skip{}}

	if p.sanitize {
		scan := textclean.Scan(text)
		if !scan.Clean {
			p.logger.Debug("sanitized detection input", "findings", len(scan.Findings))
		}
		text = scan.Sanitized
		report.Findings = scan.Findings
	}

	if strings.TrimSpace(text) == "" {
		report.Result = NewResult(0, "empty text provided")
		report.Tier = TierInput
		report.Duration = time.Since(start)
		return report
	}

	req := Request{Text: text, Capability: capability}
	for _, tier := range p.tiers {
		out := p.attempt(ctx, tier, req)
		if out.Available {
			report.Result = NewResult(out.Result.Probability, out.Result.Explanation)
			report.Tier = tier.Name()
			report.Duration = time.Since(start)
			return report
		}

		skip := Skip{Tier: tier.Name(), Reason: out.Reason}
		if out.Err != nil {
			skip.Error = out.Err.Error()
		}
		report.Skipped = append(report.Skipped, skip)
		p.logSkip(tier.Name(), out)
	}

	// A custom heuristic tier may still decline; the built-in scorer never does.
	report.Result = NewHeuristicScorer().Score(text)
	report.Tier = TierHeuristic
	report.Duration = time.Since(start)
	return report
}

func (p *Pipeline) attempt(ctx context.Context, tier Tier, req Request) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Unavailable("tier raised", fmt.Errorf("%s tier panicked: %v", tier.Name(), r))
		}
	}()
	return tier.Attempt(ctx, req)
}

func (p *Pipeline) logSkip(tier string, out Outcome) {
	if errors.Is(out.Err, ErrDependencyUnavailable) {
		p.logger.Debug("detection tier unavailable", "tier", tier, "reason", out.Reason)
		return
	}
	p.logger.Warn("detection tier failed", "tier", tier, "reason", out.Reason, "error", out.Err)
}
