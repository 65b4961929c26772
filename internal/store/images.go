package store

import (
	"context"
	"fmt"
)

// PendingImage is the shape ingest hands to AddImagesBatch, before the
// image_id primary key exists.
type PendingImage struct {
	SourcePath  string
	Filename    string
	Extension   string
	SHA256      string
	OrderingIdx int
}

// AddImagesBatch inserts a slice of discovered images in one transaction,
// skipping any (job_id, source_path) pair already present.
func (s *Store) AddImagesBatch(ctx context.Context, jobID int64, images []PendingImage) error {
	if len(images) == 0 {
		return nil
	}

	tx, err := s.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO images (job_id, source_path, filename, extension, sha256, ordering_idx)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (job_id, source_path) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare image insert: %w", err)
	}
	defer stmt.Close()

	for _, img := range images {
		if _, err := stmt.ExecContext(ctx, jobID, img.SourcePath, img.Filename, img.Extension, img.SHA256, img.OrderingIdx); err != nil {
			return fmt.Errorf("insert image %s: %w", img.SourcePath, err)
		}
	}

	return tx.Commit()
}

// GetImageCount returns the number of images catalogued for a job.
func (s *Store) GetImageCount(ctx context.Context, jobID int64) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM images WHERE job_id = $1`, jobID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("get image count: %w", err)
	}
	return count, nil
}

// GetImagesForBatch loads the images belonging to a batch's ordering range, in order.
func (s *Store) GetImagesForBatch(ctx context.Context, batch *Batch) ([]Image, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT image_id, job_id, source_path, filename, extension, sha256, ordering_idx
		FROM images
		WHERE job_id = $1 AND ordering_idx >= $2 AND ordering_idx < $3
		ORDER BY ordering_idx
	`, batch.JobID, batch.StartIdx, batch.EndIdx)
	if err != nil {
		return nil, fmt.Errorf("get images for batch %d: %w", batch.BatchID, err)
	}
	defer rows.Close()

	var images []Image
	for rows.Next() {
		var img Image
		if err := rows.Scan(&img.ImageID, &img.JobID, &img.SourcePath, &img.Filename, &img.Extension, &img.SHA256, &img.OrderingIdx); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		images = append(images, img)
	}
	return images, rows.Err()
}
