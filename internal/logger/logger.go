package logger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gzhole/aidetect/internal/detector"
	"github.com/gzhole/aidetect/internal/redact"
)

// defaultMaxLogBytes is the size at which the audit log is rotated to ".1".
const defaultMaxLogBytes = 10 << 20

// ErrClosed is returned by Log after Close.
var ErrClosed = errors.New("audit log is closed")

// DetectionEvent is one line of the JSONL audit log.
type DetectionEvent struct {
	Timestamp   string          `json:"timestamp"`
	ID          string          `json:"id,omitempty"`
	Source      string          `json:"source"`
	Tier        string          `json:"tier"`
	Probability float64         `json:"probability"`
	Explanation string          `json:"explanation"`
	Skipped     []detector.Skip `json:"skipped,omitempty"`
	Findings    int             `json:"sanitized_findings,omitempty"`
	Snippet     string          `json:"snippet,omitempty"`
	DurationMS  int64           `json:"duration_ms"`
	Error       string          `json:"error,omitempty"`
}

// NewDetectionEvent fills an event from a pipeline report.
func NewDetectionEvent(id, source, text string, report detector.Report) DetectionEvent {
	return DetectionEvent{
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		ID:          id,
		Source:      source,
		Tier:        report.Tier,
		Probability: report.Result.Probability,
		Explanation: report.Result.Explanation,
		Skipped:     report.Skipped,
		Findings:    len(report.Findings),
		Snippet:     text,
		DurationMS:  report.Duration.Milliseconds(),
	}
}

// AuditLogger appends DetectionEvents to a JSONL file.
type AuditLogger struct {
	path     string
	maxBytes int64
	file     *os.File
	size     int64
	closed   bool
	mu       sync.Mutex
}

// New opens path for appending, rotating it first if it is already at the
// size limit.
func New(path string) (*AuditLogger, error) {
	l := &AuditLogger{path: path, maxBytes: defaultMaxLogBytes}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *AuditLogger) open() error {
	file, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to stat audit log: %w", err)
	}
	l.file = file
	l.size = info.Size()
	return nil
}

// rotate leaves l.file nil when it fails.
func (l *AuditLogger) rotate() error {
	err := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("failed to close audit log: %w", err)
	}
	if err := os.Rename(l.path, l.path+".1"); err != nil {
		return fmt.Errorf("failed to rotate audit log: %w", err)
	}
	return l.open()
}

// Path returns the log file location.
func (l *AuditLogger) Path() string { return l.path }

// Log writes event as one JSON line. The snippet and error are redacted and
// the snippet is shortened to a preview. When rotation fails the event is
// still appended to the current file and the rotation error is returned;
// rotation is retried on the next call.
func (l *AuditLogger) Log(event DetectionEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}

	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	event.Snippet = redact.Snippet(event.Snippet, 120)
	if event.Error != "" {
		event.Error = redact.Redact(event.Error)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	var rotateErr error
	if l.file != nil && l.size >= l.maxBytes {
		rotateErr = l.rotate()
	}
	if l.file == nil {
		if err := l.open(); err != nil {
			return errors.Join(rotateErr, err)
		}
	}

	n, err := l.file.Write(data)
	l.size += int64(n)
	return errors.Join(rotateErr, err)
}

func (l *AuditLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}
