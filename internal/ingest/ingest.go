package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/hrabal/negsort/internal/constants"
	"github.com/hrabal/negsort/internal/store"
)

const addBatchEvery = 1000

// Store is the subset of the job store ingest depends on.
type Store interface {
	CreateJob(ctx context.Context, sourceRoot, outputRoot string) (int64, error)
	AddImagesBatch(ctx context.Context, jobID int64, images []store.PendingImage) error
	GetImageCount(ctx context.Context, jobID int64) (int, error)
	UpdateJobImageCounts(ctx context.Context, jobID int64, total, processed int) error
	CreateBatches(ctx context.Context, jobID int64, total, width int) (int, error)
}

// Result summarizes one ingestion run.
type Result struct {
	JobID      int64
	ImageCount int
	BatchCount int
}

// ProgressFunc is called after each image is hashed, with the number of
// images hashed so far and the total discovered. Callers use it to drive a
// progress bar; it may be nil.
type ProgressFunc func(done, total int)

// Run discovers every image under sourceRoot, hashes it, catalogs it into a
// new job, and partitions it into fixed-width batches. Per-file hash
// failures are recorded as a warning and do not abort the run: such images
// are still catalogued, with an empty SHA256.
func Run(ctx context.Context, s Store, sourceRoot, outputRoot string, onProgress ProgressFunc) (Result, error) {
	discovered, err := Discover(sourceRoot)
	if err != nil {
		return Result{}, fmt.Errorf("discover images under %s: %w", sourceRoot, err)
	}

	jobID, err := s.CreateJob(ctx, sourceRoot, outputRoot)
	if err != nil {
		return Result{}, fmt.Errorf("create job: %w", err)
	}

	pending := make([]store.PendingImage, 0, addBatchEvery)
	for i, d := range discovered {
		sum, err := hashFile(d.SourcePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not hash %s: %v\n", d.SourcePath, err)
			sum = ""
		}

		pending = append(pending, store.PendingImage{
			SourcePath:  d.SourcePath,
			Filename:    d.Filename,
			Extension:   d.Extension,
			SHA256:      sum,
			OrderingIdx: d.OrderingIdx,
		})

		if len(pending) >= addBatchEvery {
			if err := s.AddImagesBatch(ctx, jobID, pending); err != nil {
				return Result{}, fmt.Errorf("add images batch: %w", err)
			}
			pending = pending[:0]
		}

		if onProgress != nil {
			onProgress(i+1, len(discovered))
		}
	}
	if len(pending) > 0 {
		if err := s.AddImagesBatch(ctx, jobID, pending); err != nil {
			return Result{}, fmt.Errorf("add final images batch: %w", err)
		}
	}

	imageCount, err := s.GetImageCount(ctx, jobID)
	if err != nil {
		return Result{}, fmt.Errorf("get image count: %w", err)
	}
	if err := s.UpdateJobImageCounts(ctx, jobID, imageCount, 0); err != nil {
		return Result{}, fmt.Errorf("update job image counts: %w", err)
	}

	batchCount, err := s.CreateBatches(ctx, jobID, imageCount, constants.BatchWidth)
	if err != nil {
		return Result{}, fmt.Errorf("create batches: %w", err)
	}

	return Result{JobID: jobID, ImageCount: imageCount, BatchCount: batchCount}, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, 1<<20) // 1 MiB chunks
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SuperBatchNumber groups a batch's start index into ~SuperBatchImageSpan-wide organizational bands.
func SuperBatchNumber(startIdx int) int {
	return startIdx/constants.SuperBatchImageSpan + 1
}
