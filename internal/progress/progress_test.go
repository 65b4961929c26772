package progress

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func readState(t *testing.T, dir string) State {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "progress.json"))
	if err != nil {
		t.Fatalf("read progress.json: %v", err)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatalf("unmarshal progress.json: %v", err)
	}
	return s
}

func TestRecordImageProcessed_UpdatesCompletionPercent(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, 4)

	if err := w.RecordImageProcessed(10 * time.Millisecond); err != nil {
		t.Fatalf("RecordImageProcessed: %v", err)
	}

	s := readState(t, dir)
	if s.ProcessedImages != 1 {
		t.Errorf("expected processed_images 1, got %d", s.ProcessedImages)
	}
	if s.CompletionPercent != 25.0 {
		t.Errorf("expected 25%% completion, got %f", s.CompletionPercent)
	}
}

func TestRecordBatchTransition_CapsRingSize(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, 2000)

	for i := int64(0); i < 25; i++ {
		if err := w.RecordBatchTransition(i, "COMMITTED", "IMG_0-IMG_49"); err != nil {
			t.Fatalf("RecordBatchTransition: %v", err)
		}
	}

	s := readState(t, dir)
	if len(s.RecentBatches) != 20 {
		t.Fatalf("expected ring capped at 20, got %d", len(s.RecentBatches))
	}
	if s.RecentBatches[0].BatchID != 5 {
		t.Errorf("expected oldest retained batch to be 5 after eviction, got %d", s.RecentBatches[0].BatchID)
	}
}

func TestWriteHeartbeat_Atomic(t *testing.T) {
	dir := t.TempDir()
	if err := WriteHeartbeat(dir, "running"); err != nil {
		t.Fatalf("WriteHeartbeat: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "worker_heartbeat.json"))
	if err != nil {
		t.Fatalf("read heartbeat: %v", err)
	}
	var hb Heartbeat
	if err := json.Unmarshal(data, &hb); err != nil {
		t.Fatalf("unmarshal heartbeat: %v", err)
	}
	if hb.Status != "running" {
		t.Errorf("expected status running, got %q", hb.Status)
	}
}
