package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gzhole/aidetect/internal/detector"
	"github.com/gzhole/aidetect/internal/history"
	"github.com/gzhole/aidetect/internal/logger"
)

const sampleText = "The committee met on Tuesday. We argued about the budget for an hour, then gave up and ordered lunch."

type fakeModel struct {
	state     detector.State
	noRuntime bool
	reloadErr error
	reloads   int
}

func (f *fakeModel) State() detector.State { return f.state }
func (f *fakeModel) HasDependencies() bool { return !f.noRuntime }

func (f *fakeModel) Reinitialize(context.Context) error {
	f.reloads++
	if f.reloadErr != nil {
		f.state = detector.StateFailed
		return f.reloadErr
	}
	f.state = detector.StateReady
	return nil
}

func answering(resp string) detector.Capability {
	return detector.CapabilityFunc(func(context.Context, string) (string, error) {
		return resp, nil
	})
}

func resolver(t *testing.T) CapabilityResolver {
	t.Helper()
	return func(provider string) (detector.Capability, error) {
		switch provider {
		case "":
			return nil, nil
		case "fixed":
			return answering("Probability: 0.9\nExplanation: test"), nil
		default:
			return nil, errors.New("generator \"" + provider + "\" not found")
		}
	}
}

func newTestServer(t *testing.T, withHistory bool) (*Server, *history.Store, string) {
	t.Helper()
	opts := Options{
		Capabilities: resolver(t),
		Model:        &fakeModel{state: detector.StateFailed},
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	var store *history.Store
	if withHistory {
		var err error
		store, err = history.Open(filepath.Join(t.TempDir(), "history.db"))
		if err != nil {
			t.Fatalf("history.Open: %v", err)
		}
		t.Cleanup(func() { _ = store.Close() })
		opts.History = store
	}

	auditPath := filepath.Join(t.TempDir(), "audit.jsonl")
	audit, err := logger.New(auditPath)
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(func() { _ = audit.Close() })
	opts.Audit = audit

	pipeline := detector.NewDefaultPipeline(nil, time.Second)
	return New(pipeline, opts), store, auditPath
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("invalid JSON %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t, false)
	rec := do(t, s, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	body := decode[map[string]any](t, rec)
	if body["status"] != "ok" || body["model"] != "failed" || body["history"] != false {
		t.Errorf("unexpected health body %v", body)
	}
	tiers, _ := body["tiers"].([]any)
	if len(tiers) != 3 || tiers[0] != detector.TierModel || tiers[2] != detector.TierHeuristic {
		t.Errorf("unexpected tiers %v", body["tiers"])
	}
}

func TestDetect_FallsBackToHeuristic(t *testing.T) {
	s, store, auditPath := newTestServer(t, true)

	rec := do(t, s, http.MethodPost, "/v1/detect", `{"text":"`+sampleText+`","source":"memo.txt"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[DetectResponse](t, rec)
	if resp.Report.Tier != detector.TierHeuristic {
		t.Errorf("expected heuristic tier, got %q", resp.Report.Tier)
	}
	if !strings.Contains(resp.Report.Result.Explanation, detector.HeuristicTag) {
		t.Errorf("explanation missing heuristic tag: %q", resp.Report.Result.Explanation)
	}
	if p := resp.Report.Result.Probability; p < 0 || p > 1 {
		t.Errorf("probability %v out of range", p)
	}
	if len(resp.Report.Skipped) != 2 {
		t.Errorf("expected model and prompt skipped, got %+v", resp.Report.Skipped)
	}

	if resp.ID == "" {
		t.Fatal("expected a history id")
	}
	stored, err := store.Get(context.Background(), resp.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Source != "memo.txt" || stored.Tier != detector.TierHeuristic {
		t.Errorf("unexpected stored record %+v", stored)
	}

	f, err := os.Open(auditPath)
	if err != nil {
		t.Fatalf("open audit: %v", err)
	}
	defer func() { _ = f.Close() }()
	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		t.Fatal("audit log is empty")
	}
	var ev logger.DetectionEvent
	if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
		t.Fatalf("audit line: %v", err)
	}
	if ev.ID != resp.ID || ev.Source != "memo.txt" {
		t.Errorf("audit event does not match record: %+v", ev)
	}
}

func TestDetect_UsesProvider(t *testing.T) {
	s, _, _ := newTestServer(t, false)

	rec := do(t, s, http.MethodPost, "/v1/detect", `{"text":"`+sampleText+`","provider":"fixed"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[DetectResponse](t, rec)
	if resp.Report.Tier != detector.TierPrompt {
		t.Fatalf("expected prompt tier, got %q", resp.Report.Tier)
	}
	if resp.Report.Result != (detector.Result{Probability: 0.9, Explanation: "test"}) {
		t.Errorf("unexpected result %+v", resp.Report.Result)
	}
	if resp.ID != "" {
		t.Errorf("no id expected without history, got %q", resp.ID)
	}
}

func TestDetect_EmptyText(t *testing.T) {
	s, _, _ := newTestServer(t, false)

	rec := do(t, s, http.MethodPost, "/v1/detect", `{"text":"   "}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	resp := decode[DetectResponse](t, rec)
	if resp.Report.Result.Probability != 0 || resp.Report.Tier != detector.TierInput {
		t.Errorf("unexpected empty-input report %+v", resp.Report)
	}
}

func TestDetect_BadRequests(t *testing.T) {
	s, _, _ := newTestServer(t, false)
	s.opts.MaxBodyBytes = 64

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{"text":`, http.StatusBadRequest},
		{"unknown provider", `{"text":"hello there","provider":"nope"}`, http.StatusBadRequest},
		{"too large", `{"text":"` + strings.Repeat("a", 200) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/v1/detect", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
			body := decode[map[string]any](t, rec)
			if body["error"] == nil {
				t.Errorf("expected error field, got %v", body)
			}
		})
	}
}

func TestHistoryRoutes(t *testing.T) {
	s, _, _ := newTestServer(t, true)

	var ids []string
	for i := 0; i < 3; i++ {
		rec := do(t, s, http.MethodPost, "/v1/detect", `{"text":"`+sampleText+`"}`)
		ids = append(ids, decode[DetectResponse](t, rec).ID)
	}

	rec := do(t, s, http.MethodGet, "/v1/history?limit=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status %d", rec.Code)
	}
	list := decode[struct {
		Records []history.Record `json:"records"`
	}](t, rec)
	if len(list.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(list.Records))
	}
	if list.Records[0].ID != ids[2] {
		t.Errorf("expected newest first, got %s", list.Records[0].ID)
	}

	rec = do(t, s, http.MethodGet, "/v1/history/"+ids[0][:8], "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[history.Record](t, rec); got.ID != ids[0] || got.Source != "http" {
		t.Errorf("unexpected record %+v", got)
	}

	for _, tt := range []struct {
		path string
		want int
	}{
		{"/v1/history/does-not-exist", http.StatusNotFound},
		{"/v1/history?limit=0", http.StatusBadRequest},
		{"/v1/history?limit=x", http.StatusBadRequest},
	} {
		if rec := do(t, s, http.MethodGet, tt.path, ""); rec.Code != tt.want {
			t.Errorf("%s: status %d, want %d", tt.path, rec.Code, tt.want)
		}
	}
}

func TestHistoryDisabled(t *testing.T) {
	s, _, _ := newTestServer(t, false)
	for _, path := range []string{"/v1/history", "/v1/history/abc"} {
		if rec := do(t, s, http.MethodGet, path, ""); rec.Code != http.StatusNotFound {
			t.Errorf("%s: status %d, want 404", path, rec.Code)
		}
	}
}

func TestReloadModel(t *testing.T) {
	s, _, _ := newTestServer(t, false)
	model := &fakeModel{state: detector.StateFailed, reloadErr: errors.New("connection refused")}
	s.opts.Model = model

	rec := do(t, s, http.MethodPost, "/v1/model/reload", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d, want 503: %s", rec.Code, rec.Body.String())
	}
	body := decode[map[string]any](t, rec)
	if body["model"] != "failed" || body["error"] != "connection refused" {
		t.Errorf("unexpected body %v", body)
	}

	// The model server came up: the next reload recovers the tier.
	model.reloadErr = nil
	rec = do(t, s, http.MethodPost, "/v1/model/reload", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if body := decode[map[string]any](t, rec); body["model"] != "ready" {
		t.Errorf("unexpected body %v", body)
	}
	if model.reloads != 2 {
		t.Errorf("expected 2 reloads, got %d", model.reloads)
	}

	health := decode[map[string]any](t, do(t, s, http.MethodGet, "/healthz", ""))
	if health["model"] != "ready" {
		t.Errorf("health still reports %v", health["model"])
	}
}

func TestReloadModel_WithClassifier(t *testing.T) {
	s, _, _ := newTestServer(t, false)
	up := false
	loader := loaderFunc(func(context.Context, string) (detector.Tokenizer, detector.SequenceClassifier, error) {
		if !up {
			return nil, nil, errors.New("model server not ready")
		}
		return fixedTokenizer{}, fixedLogits{0, 0}, nil
	})
	model := detector.NewModelClassifier(loader, detector.WithModelLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	_ = model.Initialize(context.Background())
	s.opts.Model = model

	if rec := do(t, s, http.MethodPost, "/v1/model/reload", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d, want 503", rec.Code)
	}
	up = true
	if rec := do(t, s, http.MethodPost, "/v1/model/reload", ""); rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if !model.Ready() {
		t.Errorf("expected ready classifier, got %s", model.State())
	}
}

func TestReloadModel_NotConfigured(t *testing.T) {
	s, _, _ := newTestServer(t, false)
	s.opts.Model = &fakeModel{noRuntime: true}
	if rec := do(t, s, http.MethodPost, "/v1/model/reload", ""); rec.Code != http.StatusNotFound {
		t.Errorf("status %d, want 404", rec.Code)
	}
	s.opts.Model = nil
	if rec := do(t, s, http.MethodPost, "/v1/model/reload", ""); rec.Code != http.StatusNotFound {
		t.Errorf("status %d, want 404", rec.Code)
	}
}

type loaderFunc func(ctx context.Context, name string) (detector.Tokenizer, detector.SequenceClassifier, error)

func (f loaderFunc) Load(ctx context.Context, name string) (detector.Tokenizer, detector.SequenceClassifier, error) {
	return f(ctx, name)
}

type fixedTokenizer struct{}

func (fixedTokenizer) Encode(context.Context, string, int) ([]int64, error) {
	return []int64{0, 2}, nil
}

type fixedLogits []float64

func (l fixedLogits) Logits(context.Context, []int64) ([]float64, error) { return l, nil }

func TestRun_ShutsDownOnCancel(t *testing.T) {
	s, _, _ := newTestServer(t, false)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
