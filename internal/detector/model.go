package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

const (
	// DefaultModelName is the pretrained detector the model tier loads.
	DefaultModelName = "roberta-base-openai-detector"

	// MaxSequenceLength is the tokenizer truncation limit.
	MaxSequenceLength = 512

	// DefaultLoadTimeout bounds one load attempt.
	DefaultLoadTimeout = time.Minute

	machineClass = 1
)

// State is the lifecycle of a ModelClassifier.
type State int32

const (
	StateUnloaded State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Tokenizer turns text into model input ids.
type Tokenizer interface {
	Encode(ctx context.Context, text string, maxLength int) ([]int64, error)
}

// SequenceClassifier runs a forward pass and returns one logit per class.
type SequenceClassifier interface {
	Logits(ctx context.Context, ids []int64) ([]float64, error)
}

// Loader resolves a model name into a tokenizer and classifier pair.
type Loader interface {
	Load(ctx context.Context, modelName string) (Tokenizer, SequenceClassifier, error)
}

// ModelClassifier wraps a pretrained two-class sequence classifier.
//
// One instance is meant to be shared by the whole process. Initialization is
// guarded so concurrent first callers trigger a single load, and forward
// passes are serialized because runtimes are not assumed to be safe for
// concurrent inference.
type ModelClassifier struct {
	name        string
	maxLength   int
	loadTimeout time.Duration
	loader      Loader
	logger      *slog.Logger

	initMu    sync.Mutex
	stateMu   sync.RWMutex
	state     State
	loadErr   error
	tokenizer Tokenizer
	model     SequenceClassifier

	inferMu sync.Mutex
}

// ModelOption configures a ModelClassifier.
type ModelOption func(*ModelClassifier)

// WithModelName overrides DefaultModelName.
func WithModelName(name string) ModelOption {
	return func(m *ModelClassifier) {
		if name != "" {
			m.name = name
		}
	}
}

// WithMaxLength overrides MaxSequenceLength.
func WithMaxLength(n int) ModelOption {
	return func(m *ModelClassifier) {
		if n > 0 {
			m.maxLength = n
		}
	}
}

// WithLoadTimeout overrides DefaultLoadTimeout.
func WithLoadTimeout(d time.Duration) ModelOption {
	return func(m *ModelClassifier) {
		if d > 0 {
			m.loadTimeout = d
		}
	}
}

// WithModelLogger sets the logger used for load diagnostics.
func WithModelLogger(l *slog.Logger) ModelOption {
	return func(m *ModelClassifier) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewModelClassifier creates an unloaded classifier. A nil loader means the
// inference runtime is absent and the classifier will never become ready.
func NewModelClassifier(loader Loader, opts ...ModelOption) *ModelClassifier {
	m := &ModelClassifier{
		name:        DefaultModelName,
		maxLength:   MaxSequenceLength,
		loadTimeout: DefaultLoadTimeout,
		loader:      loader,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name returns the model identifier.
func (m *ModelClassifier) Name() string { return m.name }

// HasDependencies reports whether an inference runtime was configured.
func (m *ModelClassifier) HasDependencies() bool { return m.loader != nil }

// State returns the current lifecycle state.
func (m *ModelClassifier) State() State {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

// Ready reports whether Classify will run inference.
func (m *ModelClassifier) Ready() bool { return m.State() == StateReady }

// Err returns the recorded load error, if any.
func (m *ModelClassifier) Err() error {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.loadErr
}

// Initialize loads the tokenizer and model once. Ready and Failed classifiers
// return immediately; a Failed classifier stays failed until Reinitialize.
// The returned error is informational: the classifier absorbs it into its state.
// The load outlives ctx cancellation, since the result is shared by every
// caller, and is bounded by the load timeout instead.
func (m *ModelClassifier) Initialize(ctx context.Context) error {
	m.initMu.Lock()
	defer m.initMu.Unlock()

	switch m.State() {
	case StateReady:
		return nil
	case StateFailed:
		return m.Err()
	}

	if m.loader == nil {
		err := fmt.Errorf("%w: no inference runtime configured", ErrDependencyUnavailable)
		m.setState(StateFailed, err, nil, nil)
		return err
	}

	m.setState(StateLoading, nil, nil, nil)
	m.logger.Info("loading AI detection model", "model", m.name)

	tok, model, err := m.load(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %s: %v", ErrModelLoad, m.name, err)
		m.setState(StateFailed, err, nil, nil)
		m.logger.Error("failed to load AI detection model", "model", m.name, "error", err)
		return err
	}

	m.setState(StateReady, nil, tok, model)
	m.logger.Info("AI detection model loaded", "model", m.name)
	return nil
}

// Reinitialize clears a Failed state and attempts a fresh load. A Ready
// classifier is left as is.
func (m *ModelClassifier) Reinitialize(ctx context.Context) error {
	m.initMu.Lock()
	if m.State() == StateFailed {
		m.setState(StateUnloaded, nil, nil, nil)
	}
	m.initMu.Unlock()
	return m.Initialize(ctx)
}

func (m *ModelClassifier) load(ctx context.Context) (tok Tokenizer, model SequenceClassifier, err error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.loadTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			tok, model, err = nil, nil, fmt.Errorf("loader panicked: %v", r)
		}
	}()
	tok, model, err = m.loader.Load(ctx, m.name)
	if err == nil && (tok == nil || model == nil) {
		err = errors.New("loader returned no tokenizer or model")
	}
	return tok, model, err
}

func (m *ModelClassifier) setState(s State, err error, tok Tokenizer, model SequenceClassifier) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	m.state = s
	m.loadErr = err
	m.tokenizer = tok
	m.model = model
}

// Classify returns the probability mass of the machine-generated class.
// It never fails: every problem becomes a zero-probability Result whose
// explanation names the problem.
func (m *ModelClassifier) Classify(ctx context.Context, text string) Result {
	if m.loader == nil {
		return NewResult(0, "AI detection dependencies not available")
	}

	m.stateMu.RLock()
	state, tok, model := m.state, m.tokenizer, m.model
	m.stateMu.RUnlock()
	if state != StateReady {
		return NewResult(0, "AI detection model not initialized")
	}

	m.inferMu.Lock()
	defer m.inferMu.Unlock()

	probability, err := m.infer(ctx, tok, model, text)
	if err != nil {
		m.logger.Error("error during AI detection", "model", m.name, "error", err)
		return NewResult(0, fmt.Sprintf("error during analysis: %v", err))
	}
	return NewResult(probability, modelExplanation(probability))
}

func (m *ModelClassifier) infer(ctx context.Context, tok Tokenizer, model SequenceClassifier, text string) (p float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			p, err = 0, fmt.Errorf("%w: runtime panicked: %v", ErrInference, r)
		}
	}()

	ids, err := tok.Encode(ctx, text, m.maxLength)
	if err != nil {
		return 0, fmt.Errorf("%w: tokenize: %v", ErrInference, err)
	}
	ids = TruncateIDs(ids, m.maxLength)

	logits, err := model.Logits(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInference, err)
	}
	if len(logits) <= machineClass {
		return 0, fmt.Errorf("%w: expected 2 logits, got %d", ErrInference, len(logits))
	}
	return softmax(logits)[machineClass], nil
}

// TruncateIDs cuts ids down to n while keeping the final id, so the closing
// special token of an encoded sequence survives.
func TruncateIDs(ids []int64, n int) []int64 {
	if n <= 0 || len(ids) <= n {
		return ids
	}
	out := make([]int64, n)
	copy(out, ids[:n-1])
	out[n-1] = ids[len(ids)-1]
	return out
}

// softmax is computed relative to the max logit for numerical stability.
func softmax(logits []float64) []float64 {
	maxLogit := math.Inf(-1)
	for _, l := range logits {
		if l > maxLogit {
			maxLogit = l
		}
	}
	out := make([]float64, len(logits))
	sum := 0.0
	for i, l := range logits {
		out[i] = math.Exp(l - maxLogit)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func modelExplanation(p float64) string {
	switch {
	case p > 0.8:
		return "Very likely AI-generated content"
	case p > 0.6:
		return "Likely AI-generated content"
	case p > 0.4:
		return "Possibly AI-generated content"
	default:
		return "Likely human-written content"
	}
}

// Model is the subset of ModelClassifier the model tier depends on, so tests
// can substitute a stub.
type Model interface {
	HasDependencies() bool
	Initialize(ctx context.Context) error
	Ready() bool
	Classify(ctx context.Context, text string) Result
}

// ModelTier adapts a Model to the Tier interface.
type ModelTier struct {
	model Model
}

func NewModelTier(model Model) *ModelTier {
	return &ModelTier{model: model}
}

func (t *ModelTier) Name() string { return TierModel }

// Attempt runs the model if it is (or lazily becomes) ready. Any Result the
// model returns, including its own degraded answers, ends the cascade; only a
// panic escaping Classify counts as unavailability.
func (t *ModelTier) Attempt(ctx context.Context, req Request) (out Outcome) {
	if t.model == nil || !t.model.HasDependencies() {
		return Unavailable("model runtime not configured", ErrDependencyUnavailable)
	}
	if err := t.model.Initialize(ctx); err != nil || !t.model.Ready() {
		if err == nil {
			err = ErrModelLoad
		}
		return Unavailable("model not ready", err)
	}

	defer func() {
		if r := recover(); r != nil {
			out = Unavailable("model classification raised", fmt.Errorf("%w: %v", ErrInference, r))
		}
	}()
	return Answered(t.model.Classify(ctx, req.Text))
}
