package detector

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name     string
		resp     string
		wantProb float64
		wantExpl string
		wantErr  bool
	}{
		{"well formed", "Probability: 0.9\nExplanation: test", 0.9, "test", false},
		{"surrounding chatter", "Sure.\n  Probability: 0.25  \nExplanation:   human cadence  \nThanks", 0.25, "human cadence", false},
		{"unparsable probability", "Probability: abc\nExplanation: still parsed", 0.5, "still parsed", true},
		{"nan probability", "Probability: NaN\nExplanation: x", 0.5, "x", true},
		{"clamped high", "Probability: 1.7", 1, "AI analysis completed", false},
		{"clamped low", "Probability: -3", 0, "AI analysis completed", false},
		{"prefix is case sensitive", "probability: 0.1\nexplanation: nope", 0.5, "AI analysis completed", false},
		{"empty", "", 0.5, "inconclusive", false},
		{"whitespace", "  \n\t ", 0.5, "inconclusive", false},
		{"explanation keeps colons", "Probability: 0.6\nExplanation: tone: flat", 0.6, "tone: flat", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ParseResponse(tt.resp)
			if res.Probability != tt.wantProb {
				t.Errorf("probability = %v, want %v", res.Probability, tt.wantProb)
			}
			if res.Explanation != tt.wantExpl {
				t.Errorf("explanation = %q, want %q", res.Explanation, tt.wantExpl)
			}
			if tt.wantErr && !errors.Is(err, ErrParse) {
				t.Errorf("expected ErrParse, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	short := BuildPrompt("A short paragraph.")
	if !strings.Contains(short, `Text: "A short paragraph."`) {
		t.Errorf("short text not embedded verbatim:\n%s", short)
	}
	for _, want := range []string{"Writing style and patterns", "Probability: [0.0-1.0]", "Explanation: [brief reasoning]"} {
		if !strings.Contains(short, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	long := BuildPrompt(strings.Repeat("é", 600))
	if !strings.Contains(long, strings.Repeat("é", 500)+`..."`) {
		t.Error("expected first 500 characters followed by a truncation marker")
	}
	if strings.Contains(long, strings.Repeat("é", 501)) {
		t.Error("expected excerpt to stop at 500 characters")
	}
}

func TestPromptClassifier_Classify(t *testing.T) {
	var gotPrompt string
	capability := CapabilityFunc(func(_ context.Context, prompt string) (string, error) {
		gotPrompt = prompt
		return "Probability: 0.9\nExplanation: test", nil
	})

	res, err := NewPromptClassifier(time.Second).Classify(context.Background(), "Some essay text.", capability)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != (Result{Probability: 0.9, Explanation: "test"}) {
		t.Errorf("unexpected result: %+v", res)
	}
	if !strings.Contains(gotPrompt, "Some essay text.") {
		t.Errorf("capability did not receive the text in its prompt")
	}
}

func TestPromptClassifier_Failures(t *testing.T) {
	tests := []struct {
		name       string
		capability Capability
	}{
		{
			name: "capability error",
			capability: CapabilityFunc(func(context.Context, string) (string, error) {
				return "", errors.New("connection refused")
			}),
		},
		{
			name: "capability panics",
			capability: CapabilityFunc(func(context.Context, string) (string, error) {
				panic("malformed adapter")
			}),
		},
		{
			name: "capability ignores deadline",
			capability: CapabilityFunc(func(context.Context, string) (string, error) {
				time.Sleep(500 * time.Millisecond)
				return "Probability: 0.1", nil
			}),
		},
	}

	pc := NewPromptClassifier(30 * time.Millisecond)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			_, err := pc.Classify(context.Background(), "text under test", tt.capability)
			if !errors.Is(err, ErrCapabilityCall) {
				t.Fatalf("expected ErrCapabilityCall, got %v", err)
			}
			if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
				t.Errorf("classify took %v, expected the timeout to bound it", elapsed)
			}
		})
	}
}

func TestPromptClassifier_EmptyResponseInconclusive(t *testing.T) {
	capability := CapabilityFunc(func(context.Context, string) (string, error) { return "", nil })
	res, err := NewPromptClassifier(0).Classify(context.Background(), "text", capability)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Probability != 0.5 || res.Explanation != "inconclusive" {
		t.Errorf("expected (0.5, inconclusive), got %+v", res)
	}
}

func TestPromptTier_NoCapability(t *testing.T) {
	out := NewPromptTier(nil).Attempt(context.Background(), Request{Text: "some text here"})
	if out.Available {
		t.Fatal("expected prompt tier to be unavailable without a capability")
	}
	if !errors.Is(out.Err, ErrDependencyUnavailable) {
		t.Errorf("expected ErrDependencyUnavailable, got %v", out.Err)
	}
}
