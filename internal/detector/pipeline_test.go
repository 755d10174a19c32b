package detector

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type recordingTier struct {
	name   string
	out    Outcome
	calls  int
	panics bool
}

func (r *recordingTier) Name() string { return r.name }

func (r *recordingTier) Attempt(context.Context, Request) Outcome {
	r.calls++
	if r.panics {
		panic("tier exploded")
	}
	return r.out
}

const sampleText = "The quarterly report covers revenue, hiring, and the new office lease."

func TestPipeline_EmptyInputRunsNoTiers(t *testing.T) {
	model := &recordingTier{name: TierModel, out: Answered(Result{Probability: 1})}
	p := NewPipeline([]Tier{model})

	for _, in := range []string{"", "   ", "\n\t \r\n"} {
		report := p.Analyze(context.Background(), in, nil)
		if report.Result != (Result{Probability: 0, Explanation: "empty text provided"}) {
			t.Errorf("Analyze(%q) = %+v", in, report.Result)
		}
		if report.Tier != TierInput {
			t.Errorf("expected tier %q, got %q", TierInput, report.Tier)
		}
	}
	if model.calls != 0 {
		t.Errorf("no tier should run on empty input, model ran %d times", model.calls)
	}
}

func TestPipeline_FailedModelNoCapabilityFallsToHeuristic(t *testing.T) {
	failed := NewModelClassifier(&stubLoader{err: errors.New("no weights")})
	p := NewDefaultPipeline(failed, time.Second)

	report := p.Analyze(context.Background(), sampleText, nil)
	if report.Tier != TierHeuristic {
		t.Fatalf("expected heuristic tier, got %q", report.Tier)
	}
	if !strings.HasSuffix(report.Result.Explanation, HeuristicTag) {
		t.Errorf("expected heuristic tag, got %q", report.Result.Explanation)
	}
	if diff := cmp.Diff([]string{TierModel, TierPrompt}, skippedTiers(report)); diff != "" {
		t.Errorf("skipped tiers mismatch (-want +got):\n%s", diff)
	}
}

func TestPipeline_ReadyModelWins(t *testing.T) {
	model := readyClassifier(t, &stubSequenceClassifier{err: errors.New("oom")})
	called := false
	capability := CapabilityFunc(func(context.Context, string) (string, error) {
		called = true
		return "Probability: 0.9", nil
	})

	// A degraded model answer still ends the cascade.
	report := NewDefaultPipeline(model, time.Second).Analyze(context.Background(), sampleText, capability)
	if report.Tier != TierModel {
		t.Fatalf("expected model tier, got %q", report.Tier)
	}
	if report.Result.Probability != 0 || !strings.HasPrefix(report.Result.Explanation, "error during analysis") {
		t.Errorf("unexpected result %+v", report.Result)
	}
	if called {
		t.Error("capability must not run when the model answered")
	}
}

func TestPipeline_CapabilityAnswersWhenModelUnavailable(t *testing.T) {
	capability := CapabilityFunc(func(context.Context, string) (string, error) {
		return "Probability: 0.9\nExplanation: test", nil
	})
	p := NewDefaultPipeline(NewModelClassifier(nil), time.Second)

	got := p.Detect(context.Background(), sampleText, capability)
	if got != (Result{Probability: 0.9, Explanation: "test"}) {
		t.Errorf("unexpected result %+v", got)
	}
}

func TestPipeline_CapabilityFailureFallsToHeuristic(t *testing.T) {
	tests := []struct {
		name       string
		capability Capability
	}{
		{"error", CapabilityFunc(func(context.Context, string) (string, error) {
			return "", errors.New("503")
		})},
		{"timeout", CapabilityFunc(func(ctx context.Context, _ string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		})},
	}

	p := NewDefaultPipeline(nil, 20*time.Millisecond)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := p.Analyze(context.Background(), sampleText, tt.capability)
			if report.Tier != TierHeuristic {
				t.Fatalf("expected heuristic, got %q", report.Tier)
			}
			last := report.Skipped[len(report.Skipped)-1]
			if last.Tier != TierPrompt || last.Error == "" {
				t.Errorf("expected prompt skip with error, got %+v", last)
			}
		})
	}
}

func TestPipeline_AppendsHeuristic(t *testing.T) {
	p := NewPipeline([]Tier{nil, &recordingTier{name: "custom", out: Unavailable("off", nil)}})
	if diff := cmp.Diff([]string{"custom", TierHeuristic}, p.Tiers()); diff != "" {
		t.Errorf("tiers mismatch (-want +got):\n%s", diff)
	}
	if got := NewDefaultPipeline(nil, 0).Tiers(); !cmp.Equal(got, []string{TierModel, TierPrompt, TierHeuristic}) {
		t.Errorf("default order = %v", got)
	}
}

func TestPipeline_PanickingTierSkipped(t *testing.T) {
	bad := &recordingTier{name: "flaky", panics: true}
	report := NewPipeline([]Tier{bad}).Analyze(context.Background(), sampleText, nil)

	if report.Tier != TierHeuristic {
		t.Fatalf("expected heuristic, got %q", report.Tier)
	}
	if len(report.Skipped) != 1 || !strings.Contains(report.Skipped[0].Error, "panicked") {
		t.Errorf("unexpected skips %+v", report.Skipped)
	}
}

func TestPipeline_ClampsTierAnswers(t *testing.T) {
	wild := &recordingTier{name: "wild", out: Outcome{Result: Result{Probability: 4, Explanation: "overconfident"}, Available: true}}
	report := NewPipeline([]Tier{wild}).Analyze(context.Background(), sampleText, nil)
	if report.Tier != "wild" {
		t.Fatalf("expected custom tier to answer, got %q", report.Tier)
	}
	if report.Result != (Result{Probability: 1, Explanation: "overconfident"}) {
		t.Errorf("expected clamped result, got %+v", report.Result)
	}
}

func TestPipeline_Sanitizer(t *testing.T) {
	var seen string
	spy := &recordingTier{name: "spy"}
	capture := tierFunc(func(_ context.Context, req Request) Outcome {
		seen = req.Text
		return spy.Attempt(context.Background(), req)
	})
	spy.out = Answered(Result{Probability: 0.4, Explanation: "ok"})

	p := NewPipeline([]Tier{capture}, WithSanitizer(true))
	report := p.Analyze(context.Background(), "plain\u200B text", nil)
	if seen != "plain text" {
		t.Errorf("tier saw %q, want sanitized text", seen)
	}
	if len(report.Findings) != 1 || report.Findings[0].Category != "zero-width" {
		t.Errorf("unexpected findings %+v", report.Findings)
	}

	// Text made only of invisible characters is empty once sanitized.
	report = p.Analyze(context.Background(), "\u200B\u200C\u2060", nil)
	if report.Tier != TierInput {
		t.Errorf("expected input tier for invisible-only text, got %q", report.Tier)
	}
}

func TestPipeline_SanitizerKeepsNonLatinProse(t *testing.T) {
	const russian = "Это обычный текст о погоде, который написал человек."
	var prompt string
	capability := CapabilityFunc(func(_ context.Context, p string) (string, error) {
		prompt = p
		return "Probability: 0.2\nExplanation: reads as human", nil
	})

	p := NewDefaultPipeline(nil, time.Second, WithSanitizer(true))
	report := p.Analyze(context.Background(), russian, capability)
	if len(report.Findings) != 0 {
		t.Errorf("expected no findings, got %+v", report.Findings)
	}
	if report.Tier != TierPrompt {
		t.Fatalf("expected prompt tier, got %q", report.Tier)
	}
	if !strings.Contains(prompt, russian) {
		t.Errorf("capability prompt lost the original text: %q", prompt)
	}
}

type tierFunc func(ctx context.Context, req Request) Outcome

func (tierFunc) Name() string { return "capture" }

func (f tierFunc) Attempt(ctx context.Context, req Request) Outcome { return f(ctx, req) }

func skippedTiers(r Report) []string {
	var names []string
	for _, s := range r.Skipped {
		names = append(names, s.Tier)
	}
	return names
}
