package store

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateJob inserts a new job row in the "created" status.
func (s *Store) CreateJob(ctx context.Context, sourceRoot, outputRoot string) (int64, error) {
	var jobID int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO jobs (source_root, output_root, status)
		VALUES ($1, $2, $3)
		RETURNING job_id
	`, sourceRoot, outputRoot, string(JobCreated)).Scan(&jobID)
	if err != nil {
		return 0, fmt.Errorf("create job: %w", err)
	}
	return jobID, nil
}

// GetActiveJob returns the job currently in "running" status, if any.
func (s *Store) GetActiveJob(ctx context.Context) (*Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT job_id, source_root, output_root, total_images, processed_images, status, created_at, started_at, completed_at
		FROM jobs WHERE status = $1 ORDER BY job_id DESC LIMIT 1
	`, string(JobRunning))

	var j Job
	var status string
	if err := row.Scan(&j.JobID, &j.SourceRoot, &j.OutputRoot, &j.TotalImages, &j.ProcessedImages, &status, &j.CreatedAt, &j.StartedAt, &j.CompletedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get active job: %w", err)
	}
	j.Status = JobStatus(status)
	return &j, nil
}

// GetJob loads a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID int64) (*Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT job_id, source_root, output_root, total_images, processed_images, status, created_at, started_at, completed_at
		FROM jobs WHERE job_id = $1
	`, jobID)

	var j Job
	var status string
	if err := row.Scan(&j.JobID, &j.SourceRoot, &j.OutputRoot, &j.TotalImages, &j.ProcessedImages, &status, &j.CreatedAt, &j.StartedAt, &j.CompletedAt); err != nil {
		return nil, fmt.Errorf("get job %d: %w", jobID, err)
	}
	j.Status = JobStatus(status)
	return &j, nil
}

// UpdateJobImageCounts sets total_images after ingest.
func (s *Store) UpdateJobImageCounts(ctx context.Context, jobID int64, total, processed int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET total_images = $2, processed_images = $3 WHERE job_id = $1
	`, jobID, total, processed)
	if err != nil {
		return fmt.Errorf("update job image counts: %w", err)
	}
	return nil
}

// SetJobStatus transitions a job's status, stamping started_at/completed_at
// when entering running/terminal states respectively.
func (s *Store) SetJobStatus(ctx context.Context, jobID int64, status JobStatus) error {
	switch status {
	case JobRunning:
		_, err := s.pool.Exec(ctx, `
			UPDATE jobs SET status = $2, started_at = COALESCE(started_at, NOW()) WHERE job_id = $1
		`, jobID, string(status))
		if err != nil {
			return fmt.Errorf("set job running: %w", err)
		}
	case JobCompleted, JobStopped, JobFailed:
		_, err := s.pool.Exec(ctx, `
			UPDATE jobs SET status = $2, completed_at = NOW() WHERE job_id = $1
		`, jobID, string(status))
		if err != nil {
			return fmt.Errorf("set job terminal status: %w", err)
		}
	default:
		_, err := s.pool.Exec(ctx, `UPDATE jobs SET status = $2 WHERE job_id = $1`, jobID, string(status))
		if err != nil {
			return fmt.Errorf("set job status: %w", err)
		}
	}
	return nil
}

// BumpProcessedImages advances processed_images by delta (a batch width).
func (s *Store) BumpProcessedImages(ctx context.Context, jobID int64, delta int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET processed_images = processed_images + $2 WHERE job_id = $1
	`, jobID, delta)
	if err != nil {
		return fmt.Errorf("bump processed images: %w", err)
	}
	return nil
}
