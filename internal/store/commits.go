package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

func marshalInt64Slice(ids []int64) (string, error) {
	b, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("encode id slice: %w", err)
	}
	return string(b), nil
}

func unmarshalInt64Slice(s string) ([]int64, error) {
	if s == "" {
		return nil, nil
	}
	var ids []int64
	if err := json.Unmarshal([]byte(s), &ids); err != nil {
		return nil, fmt.Errorf("decode id slice: %w", err)
	}
	return ids, nil
}

// CommitTarget is one planned fan-out destination for an image.
type CommitTarget struct {
	ImageID        int64
	PersonID       *int64 // nil for the group folder
	OutputFilename string
	OutputPath     string
}

// InsertPendingCommitRows inserts commit-log rows for a batch's targets,
// reusing any rows that already exist (idempotent on resume).
func (s *Store) InsertPendingCommitRows(ctx context.Context, batchID int64, targets []CommitTarget) error {
	if len(targets) == 0 {
		return nil
	}

	tx, err := s.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO commit_log (batch_id, image_id, person_id, output_filename, output_path, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (image_id, person_id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare commit row insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range targets {
		if t.PersonID == nil {
			// UNIQUE (image_id, person_id) treats NULLs as distinct, so the
			// group-folder row needs its own existence check.
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO commit_log (batch_id, image_id, output_filename, output_path, status)
				SELECT $1::bigint, $2::bigint, $3::text, $4::text, $5::text
				WHERE NOT EXISTS (SELECT 1 FROM commit_log WHERE image_id = $2::bigint AND person_id IS NULL)
			`, batchID, t.ImageID, t.OutputFilename, t.OutputPath, string(CommitPending)); err != nil {
				return fmt.Errorf("insert group commit row for image %d: %w", t.ImageID, err)
			}
			continue
		}
		if _, err := stmt.ExecContext(ctx, batchID, t.ImageID, t.PersonID, t.OutputFilename, t.OutputPath, string(CommitPending)); err != nil {
			return fmt.Errorf("insert commit row for image %d: %w", t.ImageID, err)
		}
	}

	return tx.Commit()
}

func scanCommitRow(row interface{ Scan(dest ...any) error }) (*CommitRow, error) {
	var c CommitRow
	var status string
	var personID sql.NullInt64
	if err := row.Scan(&c.CommitID, &c.BatchID, &c.ImageID, &personID, &c.OutputFilename, &c.OutputPath, &status, &c.CreatedAt, &c.VerifiedAt); err != nil {
		return nil, err
	}
	c.Status = CommitStatus(status)
	if personID.Valid {
		c.PersonID = &personID.Int64
	}
	return &c, nil
}

// CommitRowsForBatch loads every commit-log row for a batch.
func (s *Store) CommitRowsForBatch(ctx context.Context, batchID int64) ([]CommitRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT commit_id, batch_id, image_id, person_id, output_filename, output_path, status, created_at, verified_at
		FROM commit_log WHERE batch_id = $1 ORDER BY commit_id
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("get commit rows for batch %d: %w", batchID, err)
	}
	defer rows.Close()

	var out []CommitRow
	for rows.Next() {
		c, err := scanCommitRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// SetCommitStatus advances a single row's status. status may only move
// forward (pending -> written -> verified, or -> failed); callers are
// responsible for respecting that ordering.
func (s *Store) SetCommitStatus(ctx context.Context, commitID int64, status CommitStatus) error {
	var err error
	if status == CommitVerified {
		_, err = s.pool.Exec(ctx, `
			UPDATE commit_log SET status = $2, verified_at = NOW() WHERE commit_id = $1
		`, commitID, string(status))
	} else {
		_, err = s.pool.Exec(ctx, `UPDATE commit_log SET status = $2 WHERE commit_id = $1`, commitID, string(status))
	}
	if err != nil {
		return fmt.Errorf("set commit %d status %s: %w", commitID, status, err)
	}
	return nil
}

// AllCommitsVerified reports whether every row for a batch has reached verified.
func (s *Store) AllCommitsVerified(ctx context.Context, batchID int64) (bool, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM commit_log WHERE batch_id = $1 AND status != $2
	`, batchID, string(CommitVerified)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("count unverified commits: %w", err)
	}
	return count == 0, nil
}

// PersonHasCommitRows reports whether any commit-log row references
// personID. Callers that delete a person must check this first and refuse
// the deletion if it is true; the registry has no knowledge of commit_log
// itself, since that table lives in the job store.
func (s *Store) PersonHasCommitRows(ctx context.Context, personID int64) (bool, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM commit_log WHERE person_id = $1
	`, personID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("count commit rows for person %d: %w", personID, err)
	}
	return count > 0, nil
}

// GetCommittedBatchCount returns the number of COMMITTED batches for a job.
func (s *Store) GetCommittedBatchCount(ctx context.Context, jobID int64) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM batches WHERE job_id = $1 AND state = $2
	`, jobID, string(BatchCommitted)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count committed batches: %w", err)
	}
	return count, nil
}
