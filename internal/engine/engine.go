// Package engine drives the batch state machine: PENDING -> PROCESSING ->
// COMMITTING -> COMMITTED. PROCESSING never touches output_root; COMMITTING
// does nothing but append-only writes under it. A single Engine instance
// owns one execution lane - no two batches are ever processed concurrently.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hrabal/negsort/internal/analyzer"
	"github.com/hrabal/negsort/internal/progress"
	"github.com/hrabal/negsort/internal/registry"
	"github.com/hrabal/negsort/internal/router"
	"github.com/hrabal/negsort/internal/store"
)

// Store is the subset of the job store the engine depends on.
type Store interface {
	GetJobConfig(ctx context.Context) (*store.JobConfig, error)
	SetJobStatus(ctx context.Context, jobID int64, status store.JobStatus) error
	BumpProcessedImages(ctx context.Context, jobID int64, delta int) error

	LeaseNextPending(ctx context.Context, jobID int64) (*store.Batch, error)
	SetBatchState(ctx context.Context, batchID int64, state store.BatchState) error
	BatchesInState(ctx context.Context, jobID int64, state store.BatchState) ([]store.Batch, error)
	HasOpenBatches(ctx context.Context, jobID int64) (bool, error)
	GetImagesForBatch(ctx context.Context, batch *store.Batch) ([]store.Image, error)

	DeleteImageResultsForBatch(ctx context.Context, batchID int64) error
	UpsertImageResult(ctx context.Context, r store.ImageResult) error
	GetImageResultsForBatch(ctx context.Context, batchID int64) (map[int64]store.ImageResult, error)

	AllCommitsVerified(ctx context.Context, batchID int64) (bool, error)

	router.Store // InsertPendingCommitRows, CommitRowsForBatch, SetCommitStatus
}

// Registry is the subset of the person registry the engine depends on for
// folder lookups; matching itself goes through Matcher.
type Registry interface {
	List(ctx context.Context) ([]registry.Person, error)
}

// Analyzer is the subset of the face-embedding sidecar client the engine
// depends on.
type Analyzer interface {
	Detect(ctx context.Context, imageData []byte) ([]analyzer.Face, error)
}

// Matcher is the subset of the identity matcher the engine depends on.
type Matcher interface {
	MatchFaces(ctx context.Context, embeddings [][]float32) (matchedPersonIDs []int64, unknownCount int, err error)
}

// Engine orchestrates one job's batches from PENDING through COMMITTED.
type Engine struct {
	store    Store
	registry Registry
	matcher  Matcher
	analyzer Analyzer
	router   *router.Router

	outputRoot string
	tempDir    string
	stagingDir string
	stateDir   string

	progress *progress.Writer
}

// New wires an engine for one job run. totalImages seeds the progress
// writer; tempDir holds RAW scratch conversions, stagingDir holds
// compressed staged artifacts pending fan-out, stateDir holds progress.json
// and the worker heartbeat.
func New(s Store, reg Registry, m Matcher, a Analyzer, outputRoot, tempDir, stagingDir, stateDir string, totalImages int) *Engine {
	return &Engine{
		store:      s,
		registry:   reg,
		matcher:    m,
		analyzer:   a,
		router:     router.New(s, outputRoot),
		outputRoot: outputRoot,
		tempDir:    tempDir,
		stagingDir: stagingDir,
		stateDir:   stateDir,
		progress:   progress.New(stateDir, totalImages),
	}
}

// Run resumes any in-flight batches left by a prior crash, then drains
// PENDING batches in ascending batch_id order until none remain or the
// control channel asks the engine to halt. It owns the worker heartbeat
// ticker for the duration of the run.
func (e *Engine) Run(ctx context.Context, jobID int64) error {
	if err := e.resume(ctx, jobID); err != nil {
		_ = e.store.SetJobStatus(ctx, jobID, store.JobFailed)
		return fmt.Errorf("resume: %w", err)
	}

	if err := e.store.SetJobStatus(ctx, jobID, store.JobRunning); err != nil {
		return fmt.Errorf("mark job running: %w", err)
	}

	stopHeartbeat := e.startHeartbeat(ctx)
	defer stopHeartbeat()

	for {
		cfg, err := e.store.GetJobConfig(ctx)
		if err != nil {
			return fmt.Errorf("read job config: %w", err)
		}
		// Safe point (1): between batches.
		if cfg.Control != store.ControlRun {
			return e.store.SetJobStatus(ctx, jobID, store.JobStopped)
		}

		batch, err := e.store.LeaseNextPending(ctx, jobID)
		if err != nil {
			return fmt.Errorf("lease next pending batch: %w", err)
		}
		if batch == nil {
			open, err := e.store.HasOpenBatches(ctx, jobID)
			if err != nil {
				return fmt.Errorf("check open batches: %w", err)
			}
			if open {
				// Nothing PENDING but something PROCESSING/COMMITTING
				// survived resume reconciliation; there is nothing more
				// this lane can do for it right now.
				return nil
			}
			return e.store.SetJobStatus(ctx, jobID, store.JobCompleted)
		}

		terminated, err := e.processBatch(ctx, jobID, batch)
		if err != nil {
			_ = e.store.SetJobStatus(ctx, jobID, store.JobFailed)
			return fmt.Errorf("process batch %d: %w", batch.BatchID, err)
		}
		if terminated {
			return e.store.SetJobStatus(ctx, jobID, store.JobStopped)
		}
	}
}

func (e *Engine) startHeartbeat(ctx context.Context) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				_ = progress.WriteHeartbeat(e.stateDir, "running")
			}
		}
	}()
	return func() { close(done) }
}

func (e *Engine) batchStagingDir(batchID int64) string {
	return filepath.Join(e.stagingDir, strconv.FormatInt(batchID, 10))
}

func stagedImagePath(dir string, imageID int64) string {
	return filepath.Join(dir, fmt.Sprintf("%d.jpg", imageID))
}

func batchImageRange(batch *store.Batch) string {
	return fmt.Sprintf("IMG_%d-IMG_%d", batch.StartIdx, batch.EndIdx-1)
}

// personFolders resolves matched person IDs to their output folders,
// skipping any person deleted out from under a batch mid-flight (the commit
// row for that match is simply never created; matched_count on the image
// result still reflects what the matcher saw at the time).
func (e *Engine) personFolders(ctx context.Context, matchedIDs []int64) ([]router.PersonFolder, error) {
	all, err := e.registry.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list persons: %w", err)
	}
	byID := make(map[int64]registry.Person, len(all))
	for _, p := range all {
		byID[p.PersonID] = p
	}

	folders := make([]router.PersonFolder, 0, len(matchedIDs))
	for _, id := range matchedIDs {
		if p, ok := byID[id]; ok {
			folders = append(folders, router.PersonFolder{PersonID: p.PersonID, Folder: p.OutputFolderRel})
		}
	}
	return folders, nil
}

func isSuperset(matched, selected []int64) bool {
	if len(selected) == 0 {
		return false
	}
	have := make(map[int64]bool, len(matched))
	for _, id := range matched {
		have[id] = true
	}
	for _, id := range selected {
		if !have[id] {
			return false
		}
	}
	return true
}

func removeAll(path string) {
	if path != "" {
		_ = os.RemoveAll(path)
	}
}
