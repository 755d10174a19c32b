// Package history persists detection results in a local SQLite database.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/gzhole/aidetect/internal/detector"
	"github.com/gzhole/aidetect/internal/redact"
)

// SnippetRunes is the length of the redacted preview kept per record.
const SnippetRunes = 160

// timeLayout is fixed width so created_at sorts chronologically as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var (
	// ErrNotFound is returned by Get when no record matches.
	ErrNotFound = errors.New("record not found")
	// ErrAmbiguous is returned by Get when an id prefix matches several records.
	ErrAmbiguous = errors.New("id prefix matches more than one record")
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS detections (
    id TEXT PRIMARY KEY,
    created_at TEXT NOT NULL,
    source TEXT NOT NULL,
    tier TEXT NOT NULL,
    probability REAL NOT NULL,
    explanation TEXT NOT NULL,
    skipped TEXT NOT NULL,
    snippet TEXT NOT NULL,
    chars INTEGER NOT NULL,
    duration_ns INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS detections_created_at ON detections(created_at);
`

// Record is one stored detection.
type Record struct {
	ID          string          `json:"id"`
	CreatedAt   time.Time       `json:"created_at"`
	Source      string          `json:"source"`
	Tier        string          `json:"tier"`
	Probability float64         `json:"probability"`
	Explanation string          `json:"explanation"`
	Skipped     []detector.Skip `json:"skipped"`
	Snippet     string          `json:"snippet"`
	Chars       int             `json:"chars"`
	Duration    time.Duration   `json:"duration"`
}

// NewRecord builds a Record from a pipeline report. Only a redacted snippet
// of text is kept.
func NewRecord(source, text string, report detector.Report) Record {
	skipped := report.Skipped
	if skipped == nil {
		skipped = []detector.Skip{}
	}
	return Record{
		ID:          uuid.NewString(),
		CreatedAt:   time.Now().UTC(),
		Source:      source,
		Tier:        report.Tier,
		Probability: report.Result.Probability,
		Explanation: report.Result.Explanation,
		Skipped:     skipped,
		Snippet:     redact.Snippet(text, SnippetRunes),
		Chars:       len([]rune(text)),
		Duration:    report.Duration,
	}
}

// Stats summarizes the stored records.
type Stats struct {
	Count           int            `json:"count"`
	ByTier          map[string]int `json:"by_tier"`
	MeanProbability float64        `json:"mean_probability"`
}

// Store is a SQLite-backed record store. It is safe for concurrent use.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY between them.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

// Save inserts rec.
func (s *Store) Save(ctx context.Context, rec Record) error {
	skipped, err := json.Marshal(rec.Skipped)
	if err != nil {
		return fmt.Errorf("marshal skipped tiers: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO detections(id, created_at, source, tier, probability, explanation, skipped, snippet, chars, duration_ns)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		rec.ID,
		rec.CreatedAt.UTC().Format(timeLayout),
		rec.Source,
		rec.Tier,
		rec.Probability,
		rec.Explanation,
		string(skipped),
		rec.Snippet,
		rec.Chars,
		int64(rec.Duration),
	)
	if err != nil {
		return fmt.Errorf("insert detection: %w", err)
	}
	return nil
}

const selectColumns = `SELECT id, created_at, source, tier, probability, explanation, skipped, snippet, chars, duration_ns FROM detections`

// Recent returns up to limit records, newest first. A non-positive limit
// returns everything.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	query := selectColumns + ` ORDER BY created_at DESC, rowid DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query detections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate detections: %w", err)
	}
	return out, nil
}

// Get returns the record whose id equals or starts with id.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Record{}, ErrNotFound
	}
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(id)

	rows, err := s.db.QueryContext(ctx, selectColumns+` WHERE id LIKE ? ESCAPE '\' LIMIT 2`, escaped+"%")
	if err != nil {
		return Record{}, fmt.Errorf("query detection: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var found []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return Record{}, err
		}
		found = append(found, rec)
	}
	if err := rows.Err(); err != nil {
		return Record{}, fmt.Errorf("iterate detections: %w", err)
	}

	switch len(found) {
	case 0:
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	case 1:
		return found[0], nil
	default:
		for _, rec := range found {
			if rec.ID == id {
				return rec, nil
			}
		}
		return Record{}, fmt.Errorf("%w: %s", ErrAmbiguous, id)
	}
}

// Clear deletes every record and returns how many were removed.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM detections`)
	if err != nil {
		return 0, fmt.Errorf("clear detections: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear detections: %w", err)
	}
	return n, nil
}

// Stats counts records per answering tier.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st := Stats{ByTier: map[string]int{}}

	rows, err := s.db.QueryContext(ctx, `SELECT tier, COUNT(*), SUM(probability) FROM detections GROUP BY tier`)
	if err != nil {
		return st, fmt.Errorf("query stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var total float64
	for rows.Next() {
		var tier string
		var count int
		var sum float64
		if err := rows.Scan(&tier, &count, &sum); err != nil {
			return st, fmt.Errorf("scan stats: %w", err)
		}
		st.ByTier[tier] = count
		st.Count += count
		total += sum
	}
	if err := rows.Err(); err != nil {
		return st, fmt.Errorf("iterate stats: %w", err)
	}
	if st.Count > 0 {
		st.MeanProbability = total / float64(st.Count)
	}
	return st, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec        Record
		createdAt  string
		skipped    string
		durationNS int64
	)
	if err := row.Scan(&rec.ID, &createdAt, &rec.Source, &rec.Tier, &rec.Probability,
		&rec.Explanation, &skipped, &rec.Snippet, &rec.Chars, &durationNS); err != nil {
		return Record{}, fmt.Errorf("scan detection: %w", err)
	}
	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return Record{}, fmt.Errorf("parse created_at for %s: %w", rec.ID, err)
	}
	rec.CreatedAt = t
	rec.Duration = time.Duration(durationNS)
	if err := json.Unmarshal([]byte(skipped), &rec.Skipped); err != nil {
		return Record{}, fmt.Errorf("decode skipped tiers for %s: %w", rec.ID, err)
	}
	return rec, nil
}
