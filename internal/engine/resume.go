package engine

import (
	"context"
	"fmt"
	"os"

	"github.com/hrabal/negsort/internal/store"
)

// resume runs the crash-recovery pass required before leasing any batch:
// PROCESSING batches never wrote anything under output_root, so they reset
// cleanly to PENDING; COMMITTING batches may have partially fanned out, so
// they are reconciled forward to COMMITTED via the router's own idempotent
// resume logic. PENDING and COMMITTED batches are left untouched.
func (e *Engine) resume(ctx context.Context, jobID int64) error {
	processing, err := e.store.BatchesInState(ctx, jobID, store.BatchProcessing)
	if err != nil {
		return fmt.Errorf("list processing batches: %w", err)
	}
	for _, b := range processing {
		if err := e.store.DeleteImageResultsForBatch(ctx, b.BatchID); err != nil {
			return fmt.Errorf("clear image results for batch %d: %w", b.BatchID, err)
		}
		if err := e.store.SetBatchState(ctx, b.BatchID, store.BatchPending); err != nil {
			return fmt.Errorf("reset batch %d to pending: %w", b.BatchID, err)
		}
	}

	committing, err := e.store.BatchesInState(ctx, jobID, store.BatchCommitting)
	if err != nil {
		return fmt.Errorf("list committing batches: %w", err)
	}
	for _, b := range committing {
		if err := e.reconcileCommitting(ctx, &b); err != nil {
			return fmt.Errorf("reconcile batch %d: %w", b.BatchID, err)
		}
	}

	return nil
}

// reconcileCommitting resumes a batch that crashed mid-COMMITTING. The
// router's CommitBatch already skips rows already at verified and retries
// the rest from whatever status the evidence on disk supports, so
// resuming is just re-running it; once every row verifies the batch
// advances to COMMITTED.
func (e *Engine) reconcileCommitting(ctx context.Context, batch *store.Batch) error {
	stagingDir := e.batchStagingDir(batch.BatchID)
	defer removeAll(stagingDir)

	if err := e.stageMissingArtifacts(ctx, batch, stagingDir); err != nil {
		return err
	}

	if err := e.router.CommitBatch(ctx, batch.BatchID, func(imageID int64) string {
		return stagedImagePath(stagingDir, imageID)
	}); err != nil {
		return err
	}

	verified, err := e.store.AllCommitsVerified(ctx, batch.BatchID)
	if err != nil {
		return fmt.Errorf("check commit rows verified: %w", err)
	}
	if !verified {
		// Leave it in COMMITTING for a later reconciliation pass. A row
		// that exhausts its retries is marked failed and makes
		// CommitBatch return an error above, failing the resume, so it
		// does not reach this branch.
		return nil
	}

	if err := e.store.SetBatchState(ctx, batch.BatchID, store.BatchCommitted); err != nil {
		return err
	}
	return e.bumpProcessed(ctx, batch.JobID, batch)
}

// stageMissingArtifacts re-stages any image this batch still has a
// not-yet-verified commit row for. The staging directory is only removed
// when the commit step returns, so a crash can leave staged files behind;
// reconciliation re-decodes every such image and overwrites its staged file
// rather than trusting partially-written staged files left by the crash.
func (e *Engine) stageMissingArtifacts(ctx context.Context, batch *store.Batch, stagingDir string) error {
	rows, err := e.store.CommitRowsForBatch(ctx, batch.BatchID)
	if err != nil {
		return fmt.Errorf("load commit rows for batch %d: %w", batch.BatchID, err)
	}

	pending := make(map[int64]bool)
	for _, row := range rows {
		if row.Status != store.CommitVerified {
			pending[row.ImageID] = true
		}
	}
	if len(pending) == 0 {
		return nil
	}

	images, err := e.store.GetImagesForBatch(ctx, batch)
	if err != nil {
		return fmt.Errorf("load images for batch %d: %w", batch.BatchID, err)
	}

	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}

	for _, img := range images {
		if !pending[img.ImageID] {
			continue
		}
		if err := e.stageImage(ctx, img, stagingDir); err != nil {
			return fmt.Errorf("re-stage image %d: %w", img.ImageID, err)
		}
	}
	return nil
}
