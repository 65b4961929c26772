package store

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateBatches partitions [0, total_images) into fixed-width batches and
// inserts them in PENDING state. Returns the number of batches created.
func (s *Store) CreateBatches(ctx context.Context, jobID int64, total, width int) (int, error) {
	if total <= 0 {
		return 0, nil
	}

	tx, err := s.pool.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO batches (job_id, start_idx, end_idx, state) VALUES ($1, $2, $3, $4)
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare batch insert: %w", err)
	}
	defer stmt.Close()

	count := 0
	for start := 0; start < total; start += width {
		end := start + width
		if end > total {
			end = total
		}
		if _, err := stmt.ExecContext(ctx, jobID, start, end, string(BatchPending)); err != nil {
			return 0, fmt.Errorf("insert batch [%d,%d): %w", start, end, err)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

// scanBatch reads one batch row.
func scanBatch(row interface {
	Scan(dest ...any) error
}) (*Batch, error) {
	var b Batch
	var state string
	if err := row.Scan(&b.BatchID, &b.JobID, &b.StartIdx, &b.EndIdx, &state, &b.CreatedAt, &b.StartedAt, &b.CommittedAt); err != nil {
		return nil, err
	}
	b.State = BatchState(state)
	return &b, nil
}

// LeaseNextPending selects the lowest-batch_id PENDING batch for a job and
// atomically transitions it to PROCESSING. Returns nil, nil if there is none.
func (s *Store) LeaseNextPending(ctx context.Context, jobID int64) (*Batch, error) {
	tx, err := s.pool.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT batch_id, job_id, start_idx, end_idx, state, created_at, started_at, committed_at
		FROM batches
		WHERE job_id = $1 AND state = $2
		ORDER BY batch_id ASC
		LIMIT 1
		FOR UPDATE
	`, jobID, string(BatchPending))

	batch, err := scanBatch(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lease next pending batch: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE batches SET state = $2, started_at = NOW() WHERE batch_id = $1
	`, batch.BatchID, string(BatchProcessing)); err != nil {
		return nil, fmt.Errorf("mark batch processing: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	batch.State = BatchProcessing
	return batch, nil
}

// SetBatchState transitions a batch's state unconditionally.
func (s *Store) SetBatchState(ctx context.Context, batchID int64, state BatchState) error {
	var err error
	switch state {
	case BatchCommitted:
		_, err = s.pool.Exec(ctx, `UPDATE batches SET state = $2, committed_at = NOW() WHERE batch_id = $1`, batchID, string(state))
	default:
		_, err = s.pool.Exec(ctx, `UPDATE batches SET state = $2 WHERE batch_id = $1`, batchID, string(state))
	}
	if err != nil {
		return fmt.Errorf("set batch %d state %s: %w", batchID, state, err)
	}
	return nil
}

// GetBatch loads a batch by ID.
func (s *Store) GetBatch(ctx context.Context, batchID int64) (*Batch, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT batch_id, job_id, start_idx, end_idx, state, created_at, started_at, committed_at
		FROM batches WHERE batch_id = $1
	`, batchID)
	return scanBatch(row)
}

// BatchesInState returns all batches for a job currently in the given state, ordered by batch_id.
func (s *Store) BatchesInState(ctx context.Context, jobID int64, state BatchState) ([]Batch, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT batch_id, job_id, start_idx, end_idx, state, created_at, started_at, committed_at
		FROM batches WHERE job_id = $1 AND state = $2 ORDER BY batch_id
	`, jobID, string(state))
	if err != nil {
		return nil, fmt.Errorf("query batches in state %s: %w", state, err)
	}
	defer rows.Close()

	var out []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// HasOpenBatches reports whether the job has any batch not yet COMMITTED.
func (s *Store) HasOpenBatches(ctx context.Context, jobID int64) (bool, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM batches WHERE job_id = $1 AND state != $2
	`, jobID, string(BatchCommitted)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("count open batches: %w", err)
	}
	return count > 0, nil
}

// DeleteImageResultsForBatch removes image_results rows for a batch being
// reset from PROCESSING back to PENDING on resume.
func (s *Store) DeleteImageResultsForBatch(ctx context.Context, batchID int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM image_results WHERE batch_id = $1`, batchID)
	if err != nil {
		return fmt.Errorf("delete image results for batch %d: %w", batchID, err)
	}
	return nil
}

// UpsertImageResult records the outcome of processing one image.
func (s *Store) UpsertImageResult(ctx context.Context, r ImageResult) error {
	ids := "[]"
	if len(r.MatchedPersonIDs) > 0 {
		b, err := marshalInt64Slice(r.MatchedPersonIDs)
		if err != nil {
			return err
		}
		ids = b
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO image_results (image_id, batch_id, face_count, matched_count, unknown_count, matched_person_ids)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (image_id) DO UPDATE SET
			batch_id = EXCLUDED.batch_id,
			face_count = EXCLUDED.face_count,
			matched_count = EXCLUDED.matched_count,
			unknown_count = EXCLUDED.unknown_count,
			matched_person_ids = EXCLUDED.matched_person_ids
	`, r.ImageID, r.BatchID, r.FaceCount, r.MatchedCount, r.UnknownCount, ids)
	if err != nil {
		return fmt.Errorf("upsert image result for image %d: %w", r.ImageID, err)
	}
	return nil
}

// GetImageResultsForBatch loads results keyed by image_id for a batch.
func (s *Store) GetImageResultsForBatch(ctx context.Context, batchID int64) (map[int64]ImageResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT image_id, batch_id, face_count, matched_count, unknown_count, matched_person_ids
		FROM image_results WHERE batch_id = $1
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("get image results for batch %d: %w", batchID, err)
	}
	defer rows.Close()

	out := make(map[int64]ImageResult)
	for rows.Next() {
		var r ImageResult
		var idsJSON string
		if err := rows.Scan(&r.ImageID, &r.BatchID, &r.FaceCount, &r.MatchedCount, &r.UnknownCount, &idsJSON); err != nil {
			return nil, fmt.Errorf("scan image result: %w", err)
		}
		ids, err := unmarshalInt64Slice(idsJSON)
		if err != nil {
			return nil, err
		}
		r.MatchedPersonIDs = ids
		out[r.ImageID] = r
	}
	return out, rows.Err()
}
