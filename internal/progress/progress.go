// Package progress mirrors batch-engine state to disk for an external
// tracker UI to read: a progress file and a worker heartbeat, both written
// atomically via write-to-temp-then-rename.
package progress

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hrabal/negsort/internal/constants"
)

// RecentBatch is one entry in the progress file's fixed-size batch history ring.
type RecentBatch struct {
	BatchID     int64  `json:"batch_id"`
	State       string `json:"state"`
	ImageRange  string `json:"image_range"`
	CompletedAt string `json:"completed_at"`
}

// State is the full contents written to progress.json.
type State struct {
	TotalImages            int           `json:"total_images"`
	ProcessedImages        int           `json:"processed_images"`
	CompletionPercent      float64       `json:"completion_percent"`
	CurrentBatchID         *int64        `json:"current_batch_id"`
	CurrentBatchState      string        `json:"current_batch_state"`
	CurrentImageRange      string        `json:"current_image_range"`
	LastCommittedPerson    string        `json:"last_committed_person"`
	LastCommittedImage     string        `json:"last_committed_image"`
	LastCommittedTime      string        `json:"last_committed_time"`
	RecentBatches          []RecentBatch `json:"recent_batches"`
	ElapsedSeconds         float64       `json:"elapsed_seconds"`
	ImagesPerSecond        float64       `json:"images_per_second"`
	EstimatedRemainingSecs float64       `json:"estimated_remaining_seconds"`
	UpdatedAt              string        `json:"updated_at"`
}

// Heartbeat is the full contents written to worker_heartbeat.json.
type Heartbeat struct {
	PID       int    `json:"pid"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Writer accumulates progress across a job and mirrors it to the state
// directory. It is not safe for concurrent use; the engine drives it from
// its single execution lane.
type Writer struct {
	stateDir string
	startedAt time.Time

	totalImages     int
	processedImages int
	ratePerSecond   float64 // EWMA, alpha = constants.RateEWMAAlpha
	recentBatches   []RecentBatch

	lastCommittedPerson string
	lastCommittedImage  string
	lastCommittedTime   time.Time
}

func New(stateDir string, totalImages int) *Writer {
	return &Writer{stateDir: stateDir, startedAt: time.Now(), totalImages: totalImages}
}

// RecordImageProcessed advances the processed count and the rate EWMA, then
// rewrites progress.json. Call after every image, per the refresh contract.
func (w *Writer) RecordImageProcessed(elapsedForImage time.Duration) error {
	w.processedImages++
	instantRate := 0.0
	if elapsedForImage > 0 {
		instantRate = 1.0 / elapsedForImage.Seconds()
	}
	if w.ratePerSecond == 0 {
		w.ratePerSecond = instantRate
	} else {
		w.ratePerSecond = constants.RateEWMAAlpha*instantRate + (1-constants.RateEWMAAlpha)*w.ratePerSecond
	}
	return w.write(nil, "", "")
}

// RecordCommit updates the last-committed markers and rewrites progress.json.
func (w *Writer) RecordCommit(personName, imageName string) error {
	w.lastCommittedPerson = personName
	w.lastCommittedImage = imageName
	w.lastCommittedTime = time.Now()
	return w.write(nil, "", "")
}

// RecordBatchTransition appends/updates the recent-batches ring (capped at
// constants.RecentBatchRingSize) and rewrites progress.json.
func (w *Writer) RecordBatchTransition(batchID int64, state, imageRange string) error {
	entry := RecentBatch{BatchID: batchID, State: state, ImageRange: imageRange, CompletedAt: time.Now().Format(time.RFC3339)}

	replaced := false
	for i, b := range w.recentBatches {
		if b.BatchID == batchID {
			w.recentBatches[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		w.recentBatches = append(w.recentBatches, entry)
		if len(w.recentBatches) > constants.RecentBatchRingSize {
			w.recentBatches = w.recentBatches[len(w.recentBatches)-constants.RecentBatchRingSize:]
		}
	}

	return w.write(&batchID, state, imageRange)
}

func (w *Writer) write(currentBatchID *int64, currentBatchState, currentImageRange string) error {
	elapsed := time.Since(w.startedAt).Seconds()

	completion := 0.0
	if w.totalImages > 0 {
		completion = float64(w.processedImages) / float64(w.totalImages) * 100
	}

	remaining := 0.0
	if w.ratePerSecond > 0 {
		remaining = float64(w.totalImages-w.processedImages) / w.ratePerSecond
	}

	lastCommittedTime := ""
	if !w.lastCommittedTime.IsZero() {
		lastCommittedTime = w.lastCommittedTime.Format(time.RFC3339)
	}

	state := State{
		TotalImages:            w.totalImages,
		ProcessedImages:        w.processedImages,
		CompletionPercent:      roundTo2(completion),
		CurrentBatchID:         currentBatchID,
		CurrentBatchState:      currentBatchState,
		CurrentImageRange:      currentImageRange,
		LastCommittedPerson:    w.lastCommittedPerson,
		LastCommittedImage:     w.lastCommittedImage,
		LastCommittedTime:      lastCommittedTime,
		RecentBatches:          w.recentBatches,
		ElapsedSeconds:         roundTo2(elapsed),
		ImagesPerSecond:        roundTo2(w.ratePerSecond),
		EstimatedRemainingSecs: roundTo2(remaining),
		UpdatedAt:              time.Now().Format(time.RFC3339),
	}

	return atomicWriteJSON(filepath.Join(w.stateDir, "progress.json"), state)
}

// WriteHeartbeat writes worker_heartbeat.json. Called once per second by the
// caller's own ticker, independent of batch activity.
func WriteHeartbeat(stateDir, status string) error {
	hb := Heartbeat{PID: os.Getpid(), Status: status, Timestamp: time.Now().Format(time.RFC3339)}
	return atomicWriteJSON(filepath.Join(stateDir, "worker_heartbeat.json"), hb)
}

func atomicWriteJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp state file into place: %w", err)
	}
	return nil
}

func roundTo2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}
