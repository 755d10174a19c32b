package detector

import (
	"context"
	"strings"
	"unicode/utf8"
)

// HeuristicTag is appended to every explanation the heuristic scorer produces.
const HeuristicTag = "(heuristic analysis)"

const minHeuristicChars = 10

// Signal is a single heuristic contribution to the aggregate score.
type Signal struct {
	// ID is a short, unique identifier (e.g., "lexical_diversity").
	ID string

	// Weight is the amount added to the score when the signal fires.
	Weight float64

	// Score is Weight when Fired, 0 otherwise.
	Score float64

	Fired bool

	// Description is a human-readable explanation of what the signal measures.
	Description string
}

// HeuristicReport is the per-signal breakdown behind a heuristic Result.
type HeuristicReport struct {
	Result  Result
	Signals []Signal
}

// HeuristicScorer is a rule-based scorer with zero external dependencies.
// It is a pure function of its input and is safe for concurrent use.
type HeuristicScorer struct {
	rules []heuristicRule
}

type heuristicRule struct {
	id          string
	weight      float64
	description string
	match       func(t analyzedText) bool
}

// analyzedText holds the segmentations shared by all rules.
type analyzedText struct {
	lower     string
	sentences []string // non-empty, period-delimited
	words     []string // lowercase, whitespace-delimited
}

// NewHeuristicScorer creates a scorer with the built-in signals.
func NewHeuristicScorer() *HeuristicScorer {
	return &HeuristicScorer{rules: buildHeuristicRules()}
}

// Score returns the heuristic probability and explanation for text.
func (h *HeuristicScorer) Score(text string) Result {
	return h.Evaluate(text).Result
}

// Evaluate runs every rule and returns the aggregate result with its signals.
func (h *HeuristicScorer) Evaluate(text string) HeuristicReport {
	if utf8.RuneCountInString(text) < minHeuristicChars {
		return HeuristicReport{Result: NewResult(0, "text too short for meaningful analysis")}
	}

	t := analyze(text)
	signals := make([]Signal, 0, len(h.rules))
	total := 0.0
	for _, r := range h.rules {
		s := Signal{ID: r.id, Weight: r.weight, Description: r.description}
		if r.match(t) {
			s.Fired = true
			s.Score = r.weight
			total += r.weight
		}
		signals = append(signals, s)
	}

	probability := clamp01(total)
	return HeuristicReport{
		Result:  NewResult(probability, heuristicExplanation(probability)),
		Signals: signals,
	}
}

func analyze(text string) analyzedText {
	lower := strings.ToLower(text)
	var sentences []string
	for _, s := range strings.Split(text, ".") {
		if strings.TrimSpace(s) != "" {
			sentences = append(sentences, s)
		}
	}
	return analyzedText{
		lower:     lower,
		sentences: sentences,
		words:     strings.Fields(lower),
	}
}

func buildHeuristicRules() []heuristicRule {
	return []heuristicRule{
		{
			id:          "sentence_uniformity",
			weight:      0.3,
			description: "Mean sentence length sits in the 15-25 word band typical of generated prose",
			match: func(t analyzedText) bool {
				if len(t.sentences) <= 2 {
					return false
				}
				words := 0
				for _, s := range t.sentences {
					words += len(strings.Fields(s))
				}
				mean := float64(words) / float64(len(t.sentences))
				return mean >= 15 && mean <= 25
			},
		},
		{
			id:          "lexical_diversity",
			weight:      0.2,
			description: "Fewer than 60% of words are unique",
			match: func(t analyzedText) bool {
				if len(t.words) <= 10 {
					return false
				}
				unique := make(map[string]struct{}, len(t.words))
				for _, w := range t.words {
					unique[w] = struct{}{}
				}
				return float64(len(unique))/float64(len(t.words)) < 0.6
			},
		},
		{
			id:          "ai_phrase_density",
			weight:      0.3,
			description: "Stock transition phrases exceed 2% of the word count",
			match: func(t analyzedText) bool {
				return float64(countStockPhrases(t.lower)) > float64(len(t.words))*0.02
			},
		},
	}
}

// stockPhrases are transitions over-represented in generated prose.
// The ratio against word count is kept as-is even for multi-word phrases.
var stockPhrases = []string{
	"it's important to note",
	"it's worth noting",
	"in conclusion",
	"furthermore",
	"moreover",
	"in addition",
	"as mentioned",
	"overall",
	"in summary",
	"to summarize",
}

func countStockPhrases(lower string) int {
	n := 0
	for _, p := range stockPhrases {
		n += strings.Count(lower, p)
	}
	return n
}

func heuristicExplanation(probability float64) string {
	var explanation string
	switch {
	case probability < 0.3:
		explanation = "Text shows human-like characteristics"
	case probability > 0.7:
		explanation = "Text shows potential AI generation patterns"
	default:
		explanation = "Mixed indicators - inconclusive analysis"
	}
	return explanation + " " + HeuristicTag
}

// HeuristicTier adapts a HeuristicScorer to the Tier interface. It always answers.
type HeuristicTier struct {
	scorer *HeuristicScorer
}

// NewHeuristicTier wraps scorer; a nil scorer gets the built-in rules.
func NewHeuristicTier(scorer *HeuristicScorer) *HeuristicTier {
	if scorer == nil {
		scorer = NewHeuristicScorer()
	}
	return &HeuristicTier{scorer: scorer}
}

func (h *HeuristicTier) Name() string { return TierHeuristic }

func (h *HeuristicTier) Attempt(_ context.Context, req Request) Outcome {
	return Answered(h.scorer.Score(req.Text))
}
