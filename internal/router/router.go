// Package router fans staged, compressed images out to their matched
// persons' output folders (or the group folder), driving each commit-log
// row through pending -> written -> verified.
package router

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/hrabal/negsort/internal/constants"
	"github.com/hrabal/negsort/internal/store"
)

// Store is the subset of the job store the router depends on.
type Store interface {
	InsertPendingCommitRows(ctx context.Context, batchID int64, targets []store.CommitTarget) error
	CommitRowsForBatch(ctx context.Context, batchID int64) ([]store.CommitRow, error)
	SetCommitStatus(ctx context.Context, commitID int64, status store.CommitStatus) error
}

// OutputFilename computes the deterministic destination filename for an
// image: <ordering_idx:06d>_<sha256[:12]>.jpg.
func OutputFilename(orderingIdx int, sha256Hex string) string {
	short := sha256Hex
	if len(short) > 12 {
		short = short[:12]
	}
	return fmt.Sprintf("%06d_%s.jpg", orderingIdx, short)
}

// Router copies staged artifacts into per-person (or group) output folders.
type Router struct {
	s          Store
	outputRoot string
}

func New(s Store, outputRoot string) *Router {
	return &Router{s: s, outputRoot: outputRoot}
}

// PersonFolder pairs a matched person with their output folder.
type PersonFolder struct {
	PersonID int64
	Folder   string
}

// PlanTargets builds one CommitTarget per destination for an image: one row
// per matched person in per-person mode, or a single row for the group
// folder when groupFolder is non-empty (group mode takes priority: the
// engine only passes groupFolder when the matched set qualifies for it).
func PlanTargets(imageID int64, orderingIdx int, sha256Hex string, outputRoot string, personFolders []PersonFolder, groupFolder string) []store.CommitTarget {
	filename := OutputFilename(orderingIdx, sha256Hex)

	if groupFolder != "" {
		return []store.CommitTarget{{
			ImageID:        imageID,
			PersonID:       nil,
			OutputFilename: filename,
			OutputPath:     filepath.Join(outputRoot, groupFolder, filename),
		}}
	}

	targets := make([]store.CommitTarget, 0, len(personFolders))
	for _, pf := range personFolders {
		personID := pf.PersonID
		targets = append(targets, store.CommitTarget{
			ImageID:        imageID,
			PersonID:       &personID,
			OutputFilename: filename,
			OutputPath:     filepath.Join(outputRoot, pf.Folder, filename),
		})
	}
	return targets
}

// CommitBatch drives every pending/written commit-log row for a batch
// forward to verified, copying staged artifacts as needed. stagedPath
// returns the staging file for a given image_id.
func (r *Router) CommitBatch(ctx context.Context, batchID int64, stagedPath func(imageID int64) string) error {
	rows, err := r.s.CommitRowsForBatch(ctx, batchID)
	if err != nil {
		return fmt.Errorf("load commit rows for batch %d: %w", batchID, err)
	}

	for _, row := range rows {
		if row.Status == store.CommitVerified {
			continue
		}
		if err := r.commitOne(ctx, row, stagedPath(row.ImageID)); err != nil {
			return fmt.Errorf("commit row %d (image %d): %w", row.CommitID, row.ImageID, err)
		}
	}
	return nil
}

func (r *Router) commitOne(ctx context.Context, row store.CommitRow, stagedPath string) error {
	var lastErr error
	for attempt := 0; attempt < constants.CommitMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(constants.CommitRetryBackoffSeconds) * time.Second):
			}
		}

		if err := writeDestination(stagedPath, row.OutputPath); err != nil {
			lastErr = err
			continue
		}
		if err := r.s.SetCommitStatus(ctx, row.CommitID, store.CommitWritten); err != nil {
			return err
		}

		if err := verifyDestination(stagedPath, row.OutputPath); err != nil {
			lastErr = err
			continue
		}
		return r.s.SetCommitStatus(ctx, row.CommitID, store.CommitVerified)
	}

	_ = r.s.SetCommitStatus(ctx, row.CommitID, store.CommitFailed)
	return fmt.Errorf("exhausted %d retries: %w", constants.CommitMaxRetries, lastErr)
}

// writeDestination copies stagedPath to destPath, skipping the copy when the
// destination already exists with identical size and content hash. If the
// destination exists with different content, it refuses rather than
// overwrite: idempotent re-runs never overwrite differing content.
func writeDestination(stagedPath, destPath string) error {
	if _, err := os.Stat(destPath); err == nil {
		identical, err := sameContent(stagedPath, destPath)
		if err != nil {
			return fmt.Errorf("compare existing destination: %w", err)
		}
		if identical {
			return nil
		}
		return fmt.Errorf("destination %s already exists with different content, refusing to overwrite", destPath)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat destination: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmpPath := destPath + ".tmp"
	src, err := os.Open(stagedPath)
	if err != nil {
		return fmt.Errorf("open staged file: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp destination: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("copy to temp destination: %w", err)
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("fsync temp destination: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp destination: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp destination into place: %w", err)
	}
	return nil
}

func verifyDestination(stagedPath, destPath string) error {
	identical, err := sameContent(stagedPath, destPath)
	if err != nil {
		return fmt.Errorf("verify destination: %w", err)
	}
	if !identical {
		return fmt.Errorf("destination content mismatch after write: %s", destPath)
	}
	return nil
}

func sameContent(aPath, bPath string) (bool, error) {
	aInfo, err := os.Stat(aPath)
	if err != nil {
		return false, err
	}
	bInfo, err := os.Stat(bPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if aInfo.Size() != bInfo.Size() {
		return false, nil
	}

	aSum, err := hashFile(aPath)
	if err != nil {
		return false, err
	}
	bSum, err := hashFile(bPath)
	if err != nil {
		return false, err
	}
	return aSum == bSum, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
