package engine

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/hrabal/negsort/internal/compress"
	"github.com/hrabal/negsort/internal/decode"
	"github.com/hrabal/negsort/internal/router"
	"github.com/hrabal/negsort/internal/store"
)

const recognitionJPEGQuality = 90

// processBatch runs one PENDING-leased batch through PROCESSING, COMMITTING,
// and COMMITTED. The returned bool reports whether a terminate signal cut
// the batch short (reset back to PENDING); in that case the caller must
// halt the run rather than lease another batch.
func (e *Engine) processBatch(ctx context.Context, jobID int64, batch *store.Batch) (terminated bool, err error) {
	images, err := e.store.GetImagesForBatch(ctx, batch)
	if err != nil {
		return false, fmt.Errorf("load images for batch %d: %w", batch.BatchID, err)
	}

	if len(images) == 0 {
		if err := e.store.SetBatchState(ctx, batch.BatchID, store.BatchCommitted); err != nil {
			return false, err
		}
		return false, e.bumpProcessed(ctx, jobID, batch)
	}

	imageRange := batchImageRange(batch)

	if err := e.store.SetBatchState(ctx, batch.BatchID, store.BatchProcessing); err != nil {
		return false, err
	}
	if err := e.progress.RecordBatchTransition(batch.BatchID, string(store.BatchProcessing), imageRange); err != nil {
		return false, fmt.Errorf("record progress: %w", err)
	}

	terminated, err = e.runProcessingPhase(ctx, batch, images)
	if err != nil {
		return false, err
	}
	if terminated {
		if err := e.store.SetBatchState(ctx, batch.BatchID, store.BatchPending); err != nil {
			return false, err
		}
		if err := e.store.DeleteImageResultsForBatch(ctx, batch.BatchID); err != nil {
			return false, err
		}
		return true, nil
	}

	if err := e.runCommittingPhase(ctx, batch, imageRange); err != nil {
		return false, err
	}

	if err := e.store.SetBatchState(ctx, batch.BatchID, store.BatchCommitted); err != nil {
		return false, err
	}
	if err := e.progress.RecordBatchTransition(batch.BatchID, string(store.BatchCommitted), imageRange); err != nil {
		return false, fmt.Errorf("record progress: %w", err)
	}

	return false, e.bumpProcessed(ctx, jobID, batch)
}

// bumpProcessed advances jobs.processed_images by this batch's width. The
// last batch in a job may be narrower than BatchWidth; StartIdx/EndIdx
// already reflect that, so no separate capping is needed.
func (e *Engine) bumpProcessed(ctx context.Context, jobID int64, batch *store.Batch) error {
	return e.store.BumpProcessedImages(ctx, jobID, batch.EndIdx-batch.StartIdx)
}

// runProcessingPhase runs D->E->F for every image in order. It makes no
// writes under output_root. A terminate observed before starting an image
// stops processing immediately, leaving the remaining images unprocessed.
func (e *Engine) runProcessingPhase(ctx context.Context, batch *store.Batch, images []store.Image) (terminated bool, err error) {
	for _, img := range images {
		// Safe point (2): start of PROCESSING for each image.
		cfg, err := e.store.GetJobConfig(ctx)
		if err != nil {
			return false, fmt.Errorf("read job config: %w", err)
		}
		if cfg.Control == store.ControlTerminate {
			return true, nil
		}

		start := time.Now()
		result, err := e.analyzeImage(ctx, img, batch.BatchID)
		if err != nil {
			return false, err
		}
		if err := e.store.UpsertImageResult(ctx, result); err != nil {
			return false, fmt.Errorf("save image result for image %d: %w", img.ImageID, err)
		}
		if err := e.progress.RecordImageProcessed(time.Since(start)); err != nil {
			return false, fmt.Errorf("record progress: %w", err)
		}
	}
	return false, nil
}

// analyzeImage decodes, detects, and matches one image's faces. Decode and
// analyzer failures are per-image, not fatal: the image contributes an
// empty result and a warning, exactly as an image with zero detected faces
// would.
func (e *Engine) analyzeImage(ctx context.Context, img store.Image, batchID int64) (store.ImageResult, error) {
	empty := store.ImageResult{ImageID: img.ImageID, BatchID: batchID}

	res, err := decode.Decode(ctx, img.SourcePath, e.tempDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: skipping %s: %v\n", img.SourcePath, err)
		return empty, nil
	}
	defer res.Cleanup()

	data, err := decode.EncodeJPEG(res.Image, recognitionJPEGQuality)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: skipping %s: %v\n", img.SourcePath, err)
		return empty, nil
	}

	faces, err := e.analyzer.Detect(ctx, data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: skipping %s: could not analyze image: %v\n", img.SourcePath, err)
		return empty, nil
	}

	embeddings := make([][]float32, len(faces))
	for i, f := range faces {
		embeddings[i] = f.Embedding
	}

	matchedIDs, unknownCount, err := e.matcher.MatchFaces(ctx, embeddings)
	if err != nil {
		return store.ImageResult{}, fmt.Errorf("match faces in %s: %w", img.SourcePath, err)
	}

	return store.ImageResult{
		ImageID:          img.ImageID,
		BatchID:          batchID,
		FaceCount:        len(faces),
		MatchedCount:     len(matchedIDs),
		UnknownCount:     unknownCount,
		MatchedPersonIDs: matchedIDs,
	}, nil
}

// runCommittingPhase inserts commit-log rows for every image with at least
// one match, stages a compressed artifact per such image, then drives the
// router to fan every row out to written and verified. Once started, a
// batch's commit rows all exist; stop and terminate both let it finish.
func (e *Engine) runCommittingPhase(ctx context.Context, batch *store.Batch, imageRange string) error {
	if err := e.store.SetBatchState(ctx, batch.BatchID, store.BatchCommitting); err != nil {
		return err
	}
	if err := e.progress.RecordBatchTransition(batch.BatchID, string(store.BatchCommitting), imageRange); err != nil {
		return fmt.Errorf("record progress: %w", err)
	}

	if err := e.planCommits(ctx, batch); err != nil {
		return err
	}
	return e.stageAndCommit(ctx, batch)
}

// planCommits inserts the commit-log rows for every matched image in the
// batch, one transaction per store call, idempotent on resume.
func (e *Engine) planCommits(ctx context.Context, batch *store.Batch) error {
	results, err := e.store.GetImageResultsForBatch(ctx, batch.BatchID)
	if err != nil {
		return fmt.Errorf("load image results for batch %d: %w", batch.BatchID, err)
	}

	images, err := e.store.GetImagesForBatch(ctx, batch)
	if err != nil {
		return fmt.Errorf("load images for batch %d: %w", batch.BatchID, err)
	}

	cfg, err := e.store.GetJobConfig(ctx)
	if err != nil {
		return fmt.Errorf("read job config: %w", err)
	}

	for _, img := range images {
		result, ok := results[img.ImageID]
		if !ok || result.MatchedCount == 0 {
			continue
		}

		groupFolder := ""
		if cfg.GroupMode && isSuperset(result.MatchedPersonIDs, cfg.SelectedPersonIDs) {
			groupFolder = cfg.GroupFolderName
		}

		folders, err := e.personFolders(ctx, result.MatchedPersonIDs)
		if err != nil {
			return err
		}

		targets := router.PlanTargets(img.ImageID, img.OrderingIdx, img.SHA256, e.outputRoot, folders, groupFolder)
		if len(targets) == 0 {
			continue
		}
		if err := e.store.InsertPendingCommitRows(ctx, batch.BatchID, targets); err != nil {
			return fmt.Errorf("insert commit rows for image %d: %w", img.ImageID, err)
		}
	}
	return nil
}

// stageAndCommit compresses one staged artifact per matched image, then
// hands the batch to the router to fan out and verify every commit row.
func (e *Engine) stageAndCommit(ctx context.Context, batch *store.Batch) error {
	results, err := e.store.GetImageResultsForBatch(ctx, batch.BatchID)
	if err != nil {
		return fmt.Errorf("load image results for batch %d: %w", batch.BatchID, err)
	}
	images, err := e.store.GetImagesForBatch(ctx, batch)
	if err != nil {
		return fmt.Errorf("load images for batch %d: %w", batch.BatchID, err)
	}

	stagingDir := e.batchStagingDir(batch.BatchID)
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer removeAll(stagingDir)

	for _, img := range images {
		result, ok := results[img.ImageID]
		if !ok || result.MatchedCount == 0 {
			continue
		}
		if err := e.stageImage(ctx, img, stagingDir); err != nil {
			return fmt.Errorf("stage image %d: %w", img.ImageID, err)
		}
	}

	if err := e.router.CommitBatch(ctx, batch.BatchID, func(imageID int64) string {
		return stagedImagePath(stagingDir, imageID)
	}); err != nil {
		return fmt.Errorf("commit batch %d: %w", batch.BatchID, err)
	}

	return e.recordLastCommitted(ctx, batch, images, results)
}

// stageImage re-decodes the source (PROCESSING's decode is not carried
// across the COMMITTING boundary, so a crash between phases never leaves an
// open handle) and writes the compressed delivery artifact to staging.
func (e *Engine) stageImage(ctx context.Context, img store.Image, stagingDir string) error {
	res, err := decode.Decode(ctx, img.SourcePath, e.tempDir)
	if err != nil {
		return err
	}
	defer res.Cleanup()

	data, err := compress.CompressImage(res.Image)
	if err != nil {
		return err
	}

	return os.WriteFile(stagedImagePath(stagingDir, img.ImageID), data, 0o644)
}

func (e *Engine) recordLastCommitted(ctx context.Context, batch *store.Batch, images []store.Image, results map[int64]store.ImageResult) error {
	all, err := e.registry.List(ctx)
	if err != nil {
		return fmt.Errorf("list persons: %w", err)
	}
	byID := make(map[int64]string, len(all))
	for _, p := range all {
		byID[p.PersonID] = p.DisplayName
	}

	for i := len(images) - 1; i >= 0; i-- {
		img := images[i]
		result, ok := results[img.ImageID]
		if !ok || result.MatchedCount == 0 {
			continue
		}
		personName := ""
		if len(result.MatchedPersonIDs) > 0 {
			personName = byID[result.MatchedPersonIDs[0]]
		}
		return e.progress.RecordCommit(personName, img.Filename)
	}
	return nil
}

