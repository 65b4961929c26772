package router

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hrabal/negsort/internal/store"
)

type fakeStore struct {
	rows     map[int64]*store.CommitRow
	nextID   int64
	statuses []store.CommitStatus
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[int64]*store.CommitRow)}
}

func (f *fakeStore) InsertPendingCommitRows(ctx context.Context, batchID int64, targets []store.CommitTarget) error {
	for _, t := range targets {
		f.nextID++
		f.rows[f.nextID] = &store.CommitRow{
			CommitID:       f.nextID,
			BatchID:        batchID,
			ImageID:        t.ImageID,
			PersonID:       t.PersonID,
			OutputFilename: t.OutputFilename,
			OutputPath:     t.OutputPath,
			Status:         store.CommitPending,
		}
	}
	return nil
}

func (f *fakeStore) CommitRowsForBatch(ctx context.Context, batchID int64) ([]store.CommitRow, error) {
	var out []store.CommitRow
	for _, r := range f.rows {
		if r.BatchID == batchID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeStore) SetCommitStatus(ctx context.Context, commitID int64, status store.CommitStatus) error {
	f.statuses = append(f.statuses, status)
	f.rows[commitID].Status = status
	return nil
}

func TestOutputFilename_Deterministic(t *testing.T) {
	a := OutputFilename(7, "abcdef0123456789")
	b := OutputFilename(7, "abcdef0123456789")
	if a != b {
		t.Fatalf("expected deterministic filename, got %q and %q", a, b)
	}
	if a != "000007_abcdef012345.jpg" {
		t.Errorf("unexpected filename format: %q", a)
	}
}

func TestPlanTargets_GroupModeTakesPriority(t *testing.T) {
	targets := PlanTargets(1, 0, "aaaaaaaaaaaaaaaa", "/out",
		[]PersonFolder{{PersonID: 1, Folder: "alice"}}, "group")
	if len(targets) != 1 || targets[0].PersonID != nil {
		t.Fatalf("expected a single group-folder target with nil person_id, got %+v", targets)
	}
}

func TestPlanTargets_PerPersonFanOut(t *testing.T) {
	targets := PlanTargets(1, 0, "aaaaaaaaaaaaaaaa", "/out",
		[]PersonFolder{{PersonID: 1, Folder: "alice"}, {PersonID: 2, Folder: "bob"}}, "")
	if len(targets) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(targets))
	}
}

func TestCommitBatch_CopiesAndVerifies(t *testing.T) {
	dir := t.TempDir()
	stagingPath := filepath.Join(dir, "staged.jpg")
	if err := os.WriteFile(stagingPath, []byte("image-bytes"), 0o644); err != nil {
		t.Fatalf("write staged file: %v", err)
	}
	destPath := filepath.Join(dir, "alice", "000000_abc.jpg")

	s := newFakeStore()
	if err := s.InsertPendingCommitRows(context.Background(), 1, []store.CommitTarget{
		{ImageID: 10, OutputFilename: "000000_abc.jpg", OutputPath: destPath},
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	r := New(s, dir)
	if err := r.CommitBatch(context.Background(), 1, func(imageID int64) string { return stagingPath }); err != nil {
		t.Fatalf("CommitBatch: %v", err)
	}

	data, err := os.ReadFile(destPath)
	if err != nil {
		t.Fatalf("expected destination file to exist: %v", err)
	}
	if string(data) != "image-bytes" {
		t.Errorf("expected copied content, got %q", data)
	}

	for _, row := range s.rows {
		if row.Status != store.CommitVerified {
			t.Errorf("expected row to reach verified, got %s", row.Status)
		}
	}
}

func TestCommitBatch_SkipsIdenticalExistingDestination(t *testing.T) {
	dir := t.TempDir()
	stagingPath := filepath.Join(dir, "staged.jpg")
	destPath := filepath.Join(dir, "alice", "000000_abc.jpg")
	if err := os.WriteFile(stagingPath, []byte("same-bytes"), 0o644); err != nil {
		t.Fatalf("write staged: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(destPath, []byte("same-bytes"), 0o644); err != nil {
		t.Fatalf("write dest: %v", err)
	}

	s := newFakeStore()
	_ = s.InsertPendingCommitRows(context.Background(), 1, []store.CommitTarget{
		{ImageID: 10, OutputFilename: "000000_abc.jpg", OutputPath: destPath},
	})

	r := New(s, dir)
	if err := r.CommitBatch(context.Background(), 1, func(imageID int64) string { return stagingPath }); err != nil {
		t.Fatalf("CommitBatch: %v", err)
	}

	for _, status := range s.statuses {
		if status != store.CommitWritten && status != store.CommitVerified {
			t.Errorf("unexpected status transition %s", status)
		}
	}
}
