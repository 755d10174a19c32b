// Package detector estimates the probability that a piece of text was
// machine-generated.
//
// Architecture:
//
//	Pipeline: ordered cascade, first answering tier wins
//	  ├── ModelTier: pretrained sequence classifier via a Loader runtime
//	  ├── PromptTier: caller-supplied generative Capability
//	  └── HeuristicTier: ships built-in, zero dependencies, always answers
//
// Every tier returns an Outcome: either an answer or a reason it was
// unavailable. Nothing a tier does can escape Pipeline.Detect.
package detector

import (
	"context"
	"errors"
	"math"
)

// Tier names, as reported in Report.Tier and Skip.Tier.
const (
	TierInput     = "input"
	TierModel     = "model"
	TierPrompt    = "prompt"
	TierHeuristic = "heuristic"
)

var (
	// ErrDependencyUnavailable means the tier has no runtime to talk to.
	ErrDependencyUnavailable = errors.New("detection dependency unavailable")
	// ErrModelLoad means the classifier or tokenizer could not be loaded.
	ErrModelLoad = errors.New("model load failed")
	// ErrInference means a forward pass failed at runtime.
	ErrInference = errors.New("inference failed")
	// ErrCapabilityCall means the generative capability errored or timed out.
	ErrCapabilityCall = errors.New("capability call failed")
	// ErrParse means a capability response line could not be parsed.
	ErrParse = errors.New("malformed capability response")
)

// Result is the answer of a tier and of the pipeline.
type Result struct {
	Probability float64 `json:"probability"`
	Explanation string  `json:"explanation"`
}

// NewResult builds a Result with the probability clamped to [0,1].
func NewResult(probability float64, explanation string) Result {
	return Result{Probability: clamp01(probability), Explanation: explanation}
}

// Request is the input handed to every tier.
type Request struct {
	Text string

	// Capability is optional; only the prompt tier uses it.
	Capability Capability
}

// Outcome is what a tier reports back to the pipeline.
type Outcome struct {
	Result    Result
	Available bool
	Reason    string
	Err       error
}

// Answered wraps a tier answer.
func Answered(r Result) Outcome {
	return Outcome{Result: NewResult(r.Probability, r.Explanation), Available: true}
}

// Unavailable signals the pipeline to move on to the next tier.
func Unavailable(reason string, err error) Outcome {
	return Outcome{Reason: reason, Err: err}
}

// Tier is one strategy in the cascade.
type Tier interface {
	// Name returns the tier identifier (e.g., "model", "heuristic").
	Name() string

	// Attempt tries to answer the request. It must not panic and must not block
	// past ctx.
	Attempt(ctx context.Context, req Request) Outcome
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
