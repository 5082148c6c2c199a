package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nedrrelm/bulq/internal/canon"
)

//go:embed schema.sql
var schemaSQL string

// Entry kinds recorded by the client.
const (
	// KindTransition records an observed run state change (from, to, actor).
	KindTransition = "transition"
	// KindMutationApplied records a locally initiated mutation confirmed
	// by the remote service.
	KindMutationApplied = "mutation_applied"
	// KindMutationRolledBack records an optimistic mutation the remote
	// service rejected.
	KindMutationRolledBack = "mutation_rolled_back"
	// KindRealloc records a shortage reallocation outcome.
	KindRealloc = "realloc"
)

// Fact is an observed event to be journaled.
type Fact struct {
	// ID uniquely identifies the entry (UUIDv7 from the token source).
	ID string
	// Seq is the logical clock stamp at observation.
	Seq int64
	// RunID is the run this fact belongs to.
	RunID string
	// Kind is one of the Kind constants.
	Kind string
	// Payload holds the fact's content. Canonicalized before storage,
	// so it must satisfy canon.Marshal (no floats, no nulls).
	Payload map[string]any
}

// Entry is one stored journal row.
type Entry struct {
	ID         string
	Seq        int64
	RunID      string
	Kind       string
	Payload    json.RawMessage // canonical JSON exactly as stored
	Hash       string
	RecordedAt int64 // unix milliseconds
}

// Journal is the SQLite-backed event journal.
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures a Journal.
type Option func(*Journal)

// WithNowFunc overrides the wall clock used for recorded_at stamps.
// Deterministic tests use this; ordering never depends on it.
func WithNowFunc(now func() time.Time) Option {
	return func(j *Journal) {
		if now != nil {
			j.now = now
		}
	}
}

// Open creates or opens a journal database at the given path.
// Applies required pragmas and the schema automatically; safe to call
// multiple times on the same path.
func Open(path string, opts ...Option) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to journal: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY on concurrent appends.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	j := &Journal{db: db, now: time.Now}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// Append canonicalizes the fact's payload, hashes it, and inserts the
// entry. Uses ON CONFLICT(id) DO NOTHING for idempotency: appending the
// same entry twice is silently ignored.
func (j *Journal) Append(ctx context.Context, f Fact) error {
	if f.ID == "" {
		return fmt.Errorf("append journal entry: id is required")
	}
	if f.RunID == "" {
		return fmt.Errorf("append journal entry: run id is required")
	}
	if f.Kind == "" {
		return fmt.Errorf("append journal entry: kind is required")
	}

	payload, err := canon.Marshal(f.Payload)
	if err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}
	hash := canon.HashBytes(canon.DomainJournal, payload)

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO entries
		(id, seq, run_id, kind, payload, hash, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		f.ID,
		f.Seq,
		f.RunID,
		f.Kind,
		string(payload),
		hash,
		j.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}

	return nil
}

// ListRun returns all entries for a run in observation order.
// Returns an empty slice (not nil) when the run has no entries.
func (j *Journal) ListRun(ctx context.Context, runID string) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, seq, run_id, kind, payload, hash, recorded_at
		FROM entries
		WHERE run_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query run entries: %w", err)
	}
	defer rows.Close()

	return collectEntries(rows)
}

// ListAll returns every entry in observation order.
func (j *Journal) ListAll(ctx context.Context) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, seq, run_id, kind, payload, hash, recorded_at
		FROM entries
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query all entries: %w", err)
	}
	defer rows.Close()

	return collectEntries(rows)
}

// LastSeq returns the highest logical clock stamp in the journal,
// 0 when the journal is empty. Used to resume the clock across restarts.
func (j *Journal) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := j.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM entries`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("query last seq: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// Verify re-hashes every stored payload and compares it against the
// recorded hash. Returns the number of entries checked and the ids whose
// hashes no longer match, in observation order.
func (j *Journal) Verify(ctx context.Context) (checked int, mismatched []string, err error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, payload, hash
		FROM entries
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return 0, nil, fmt.Errorf("query entries for verify: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, payload, hash string
		if err := rows.Scan(&id, &payload, &hash); err != nil {
			return checked, mismatched, fmt.Errorf("scan entry for verify: %w", err)
		}
		checked++
		if canon.HashBytes(canon.DomainJournal, []byte(payload)) != hash {
			mismatched = append(mismatched, id)
		}
	}

	if err := rows.Err(); err != nil {
		return checked, mismatched, fmt.Errorf("iterate entries for verify: %w", err)
	}

	return checked, mismatched, nil
}

// collectEntries scans all rows into Entry structs.
func collectEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var payload string
		if err := rows.Scan(&e.ID, &e.Seq, &e.RunID, &e.Kind, &payload, &e.Hash, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Payload = json.RawMessage(payload)
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}

	if entries == nil {
		entries = []Entry{}
	}

	return entries, nil
}
