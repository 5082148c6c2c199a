package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nedrrelm/bulq/internal/canon"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	j, err := Open(path, WithNowFunc(func() time.Time { return fixed }))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestOpen_CreatesAndReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	if err := j1.Append(context.Background(), Fact{
		ID:      "e1",
		Seq:     1,
		RunID:   "run-1",
		Kind:    KindTransition,
		Payload: map[string]any{"from": "active", "to": "confirmed"},
	}); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}
	j1.Close()

	// Reopen: schema application is idempotent and entries survive.
	j2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	defer j2.Close()

	entries, err := j2.ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll() failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries after reopen, want 1", len(entries))
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/journal.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	j := &Journal{db: nil}
	if err := j.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestAppend_StoresCanonicalPayload(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	err := j.Append(ctx, Fact{
		ID:    "e1",
		Seq:   1,
		RunID: "run-1",
		Kind:  KindTransition,
		// Key order here must not matter: storage is canonical.
		Payload: map[string]any{"to": "confirmed", "from": "active", "actor": "u1"},
	})
	if err != nil {
		t.Fatalf("Append() failed: %v", err)
	}

	entries, err := j.ListRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListRun() failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}

	want := `{"actor":"u1","from":"active","to":"confirmed"}`
	if string(entries[0].Payload) != want {
		t.Errorf("payload = %s, want %s", entries[0].Payload, want)
	}
	if entries[0].Hash == "" {
		t.Error("hash is empty")
	}
	if entries[0].RecordedAt == 0 {
		t.Error("recorded_at is zero")
	}
}

func TestAppend_DuplicateIDIgnored(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	f := Fact{
		ID:      "e1",
		Seq:     1,
		RunID:   "run-1",
		Kind:    KindMutationApplied,
		Payload: map[string]any{"product": "p1", "quantity": "10.00"},
	}
	if err := j.Append(ctx, f); err != nil {
		t.Fatalf("first Append() failed: %v", err)
	}

	// Same id with different content: silently ignored, first write wins.
	f.Payload = map[string]any{"product": "p1", "quantity": "99.00"}
	if err := j.Append(ctx, f); err != nil {
		t.Fatalf("second Append() failed: %v", err)
	}

	entries, err := j.ListRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListRun() failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	want := `{"product":"p1","quantity":"10.00"}`
	if string(entries[0].Payload) != want {
		t.Errorf("payload = %s, want %s (first write should win)", entries[0].Payload, want)
	}
}

func TestAppend_Validation(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	tests := []struct {
		name string
		fact Fact
	}{
		{"missing id", Fact{RunID: "run-1", Kind: KindTransition}},
		{"missing run id", Fact{ID: "e1", Kind: KindTransition}},
		{"missing kind", Fact{ID: "e1", RunID: "run-1"}},
		{"float payload", Fact{
			ID: "e1", RunID: "run-1", Kind: KindTransition,
			Payload: map[string]any{"quantity": 10.5},
		}},
		{"null payload value", Fact{
			ID: "e1", RunID: "run-1", Kind: KindTransition,
			Payload: map[string]any{"actor": nil},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := j.Append(ctx, tt.fact); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestListRun_ObservationOrder(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	// Insert out of order; same seq ties break by id.
	facts := []Fact{
		{ID: "e3", Seq: 2, RunID: "run-1", Kind: KindRealloc, Payload: map[string]any{"n": 3}},
		{ID: "e1", Seq: 1, RunID: "run-1", Kind: KindTransition, Payload: map[string]any{"n": 1}},
		{ID: "e2", Seq: 2, RunID: "run-1", Kind: KindMutationApplied, Payload: map[string]any{"n": 2}},
		{ID: "e9", Seq: 1, RunID: "run-other", Kind: KindTransition, Payload: map[string]any{"n": 9}},
	}
	for _, f := range facts {
		if err := j.Append(ctx, f); err != nil {
			t.Fatalf("Append(%s) failed: %v", f.ID, err)
		}
	}

	entries, err := j.ListRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListRun() failed: %v", err)
	}

	gotIDs := make([]string, len(entries))
	for i, e := range entries {
		gotIDs[i] = e.ID
	}
	wantIDs := []string{"e1", "e2", "e3"}
	if len(gotIDs) != len(wantIDs) {
		t.Fatalf("got ids %v, want %v", gotIDs, wantIDs)
	}
	for i := range wantIDs {
		if gotIDs[i] != wantIDs[i] {
			t.Errorf("entry[%d] = %s, want %s", i, gotIDs[i], wantIDs[i])
		}
	}
}

func TestListRun_EmptyReturnsEmptySlice(t *testing.T) {
	j := openTestJournal(t)

	entries, err := j.ListRun(context.Background(), "absent")
	if err != nil {
		t.Fatalf("ListRun() failed: %v", err)
	}
	if entries == nil {
		t.Error("expected empty slice, got nil")
	}
	if len(entries) != 0 {
		t.Errorf("got %d entries, want 0", len(entries))
	}
}

func TestLastSeq(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	seq, err := j.LastSeq(ctx)
	if err != nil {
		t.Fatalf("LastSeq() on empty journal failed: %v", err)
	}
	if seq != 0 {
		t.Errorf("LastSeq() on empty journal = %d, want 0", seq)
	}

	for i, id := range []string{"e1", "e2", "e3"} {
		if err := j.Append(ctx, Fact{
			ID: id, Seq: int64(i + 1), RunID: "run-1", Kind: KindTransition,
			Payload: map[string]any{"n": i},
		}); err != nil {
			t.Fatalf("Append() failed: %v", err)
		}
	}

	seq, err = j.LastSeq(ctx)
	if err != nil {
		t.Fatalf("LastSeq() failed: %v", err)
	}
	if seq != 3 {
		t.Errorf("LastSeq() = %d, want 3", seq)
	}
}

func TestVerify_CleanJournal(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	for i, id := range []string{"e1", "e2"} {
		if err := j.Append(ctx, Fact{
			ID: id, Seq: int64(i + 1), RunID: "run-1", Kind: KindTransition,
			Payload: map[string]any{"n": i},
		}); err != nil {
			t.Fatalf("Append() failed: %v", err)
		}
	}

	checked, mismatched, err := j.Verify(ctx)
	if err != nil {
		t.Fatalf("Verify() failed: %v", err)
	}
	if checked != 2 {
		t.Errorf("checked = %d, want 2", checked)
	}
	if len(mismatched) != 0 {
		t.Errorf("mismatched = %v, want none", mismatched)
	}
}

func TestVerify_DetectsTamperedPayload(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	if err := j.Append(ctx, Fact{
		ID: "e1", Seq: 1, RunID: "run-1", Kind: KindMutationApplied,
		Payload: map[string]any{"quantity": "10.00"},
	}); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}

	// Edit the payload behind the journal's back.
	if _, err := j.db.ExecContext(ctx,
		`UPDATE entries SET payload = ? WHERE id = ?`,
		`{"quantity":"99.00"}`, "e1",
	); err != nil {
		t.Fatalf("tamper update failed: %v", err)
	}

	checked, mismatched, err := j.Verify(ctx)
	if err != nil {
		t.Fatalf("Verify() failed: %v", err)
	}
	if checked != 1 {
		t.Errorf("checked = %d, want 1", checked)
	}
	if len(mismatched) != 1 || mismatched[0] != "e1" {
		t.Errorf("mismatched = %v, want [e1]", mismatched)
	}
}

func TestAppend_HashMatchesCanon(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	payload := map[string]any{"from": "shopping", "to": "adjusting"}
	if err := j.Append(ctx, Fact{
		ID: "e1", Seq: 1, RunID: "run-1", Kind: KindTransition, Payload: payload,
	}); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}

	entries, err := j.ListRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListRun() failed: %v", err)
	}

	want, err := canon.Hash(canon.DomainJournal, payload)
	if err != nil {
		t.Fatalf("canon.Hash() failed: %v", err)
	}
	if entries[0].Hash != want {
		t.Errorf("hash = %s, want %s", entries[0].Hash, want)
	}
}
