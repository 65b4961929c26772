// Package storetest provides an in-memory fake of the job/batch/commit store
// for unit tests that exercise the batch engine without a real database.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hrabal/negsort/internal/store"
)

// Store is a mutex-guarded, in-memory stand-in for *store.Store.
type Store struct {
	mu sync.Mutex

	cfg store.JobConfig

	jobs       map[int64]*store.Job
	nextJobID  int64
	images     map[int64]*store.Image
	nextImgID  int64
	batches    map[int64]*store.Batch
	nextBID    int64
	results    map[int64]store.ImageResult
	commits    map[int64]*store.CommitRow
	nextCommit int64

	// Error injection, set directly by tests.
	CreateJobErr error
	LeaseErr     error
}

func New() *Store {
	return &Store{
		cfg:     store.JobConfig{Control: store.ControlRun},
		jobs:    make(map[int64]*store.Job),
		images:  make(map[int64]*store.Image),
		batches: make(map[int64]*store.Batch),
		results: make(map[int64]store.ImageResult),
		commits: make(map[int64]*store.CommitRow),
	}
}

func (s *Store) GetJobConfig(ctx context.Context) (*store.JobConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := s.cfg
	return &cp, nil
}

func (s *Store) SetJobConfig(ctx context.Context, cfg *store.JobConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = *cfg
	return nil
}

func (s *Store) SetControl(ctx context.Context, c store.Control) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Control = c
	return nil
}

func (s *Store) CreateJob(ctx context.Context, sourceRoot, outputRoot string) (int64, error) {
	if s.CreateJobErr != nil {
		return 0, s.CreateJobErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextJobID++
	id := s.nextJobID
	s.jobs[id] = &store.Job{
		JobID:      id,
		SourceRoot: sourceRoot,
		OutputRoot: outputRoot,
		Status:     store.JobCreated,
	}
	return id, nil
}

func (s *Store) GetJob(ctx context.Context, jobID int64) (*store.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %d not found", jobID)
	}
	cp := *j
	return &cp, nil
}

func (s *Store) UpdateJobImageCounts(ctx context.Context, jobID int64, total, processed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %d not found", jobID)
	}
	j.TotalImages = total
	j.ProcessedImages = processed
	return nil
}

func (s *Store) SetJobStatus(ctx context.Context, jobID int64, status store.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %d not found", jobID)
	}
	j.Status = status
	return nil
}

func (s *Store) BumpProcessedImages(ctx context.Context, jobID int64, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %d not found", jobID)
	}
	j.ProcessedImages += delta
	return nil
}

func (s *Store) AddImagesBatch(ctx context.Context, jobID int64, images []store.PendingImage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, img := range images {
		s.nextImgID++
		id := s.nextImgID
		s.images[id] = &store.Image{
			ImageID:     id,
			JobID:       jobID,
			SourcePath:  img.SourcePath,
			Filename:    img.Filename,
			Extension:   img.Extension,
			SHA256:      img.SHA256,
			OrderingIdx: img.OrderingIdx,
		}
	}
	return nil
}

func (s *Store) GetImageCount(ctx context.Context, jobID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, img := range s.images {
		if img.JobID == jobID {
			n++
		}
	}
	return n, nil
}

func (s *Store) GetImagesForBatch(ctx context.Context, batch *store.Batch) ([]store.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Image
	for _, img := range s.images {
		if img.JobID == batch.JobID && img.OrderingIdx >= batch.StartIdx && img.OrderingIdx < batch.EndIdx {
			out = append(out, *img)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderingIdx < out[j].OrderingIdx })
	return out, nil
}

func (s *Store) CreateBatches(ctx context.Context, jobID int64, total, width int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for start := 0; start < total; start += width {
		end := start + width
		if end > total {
			end = total
		}
		s.nextBID++
		s.batches[s.nextBID] = &store.Batch{
			BatchID:  s.nextBID,
			JobID:    jobID,
			StartIdx: start,
			EndIdx:   end,
			State:    store.BatchPending,
		}
		count++
	}
	return count, nil
}

func (s *Store) LeaseNextPending(ctx context.Context, jobID int64) (*store.Batch, error) {
	if s.LeaseErr != nil {
		return nil, s.LeaseErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []int64
	for id, b := range s.batches {
		if b.JobID == jobID && b.State == store.BatchPending {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	b := s.batches[ids[0]]
	b.State = store.BatchProcessing
	cp := *b
	return &cp, nil
}

func (s *Store) SetBatchState(ctx context.Context, batchID int64, state store.BatchState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return fmt.Errorf("batch %d not found", batchID)
	}
	b.State = state
	return nil
}

func (s *Store) GetBatch(ctx context.Context, batchID int64) (*store.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return nil, fmt.Errorf("batch %d not found", batchID)
	}
	cp := *b
	return &cp, nil
}

func (s *Store) BatchesInState(ctx context.Context, jobID int64, state store.BatchState) ([]store.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Batch
	for _, b := range s.batches {
		if b.JobID == jobID && b.State == state {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BatchID < out[j].BatchID })
	return out, nil
}

func (s *Store) HasOpenBatches(ctx context.Context, jobID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.batches {
		if b.JobID == jobID && b.State != store.BatchCommitted {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) DeleteImageResultsForBatch(ctx context.Context, batchID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.results {
		if r.BatchID == batchID {
			delete(s.results, id)
		}
	}
	return nil
}

func (s *Store) UpsertImageResult(ctx context.Context, r store.ImageResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[r.ImageID] = r
	return nil
}

func (s *Store) GetImageResultsForBatch(ctx context.Context, batchID int64) (map[int64]store.ImageResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]store.ImageResult)
	for id, r := range s.results {
		if r.BatchID == batchID {
			out[id] = r
		}
	}
	return out, nil
}

func (s *Store) InsertPendingCommitRows(ctx context.Context, batchID int64, targets []store.CommitTarget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range targets {
		exists := false
		for _, c := range s.commits {
			if c.ImageID == t.ImageID && equalPersonID(c.PersonID, t.PersonID) {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		s.nextCommit++
		s.commits[s.nextCommit] = &store.CommitRow{
			CommitID:       s.nextCommit,
			BatchID:        batchID,
			ImageID:        t.ImageID,
			PersonID:       t.PersonID,
			OutputFilename: t.OutputFilename,
			OutputPath:     t.OutputPath,
			Status:         store.CommitPending,
		}
	}
	return nil
}

func equalPersonID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (s *Store) CommitRowsForBatch(ctx context.Context, batchID int64) ([]store.CommitRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.CommitRow
	for _, c := range s.commits {
		if c.BatchID == batchID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CommitID < out[j].CommitID })
	return out, nil
}

func (s *Store) SetCommitStatus(ctx context.Context, commitID int64, status store.CommitStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.commits[commitID]
	if !ok {
		return fmt.Errorf("commit %d not found", commitID)
	}
	c.Status = status
	return nil
}

func (s *Store) AllCommitsVerified(ctx context.Context, batchID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.commits {
		if c.BatchID == batchID && c.Status != store.CommitVerified {
			return false, nil
		}
	}
	return true, nil
}

func (s *Store) PersonHasCommitRows(ctx context.Context, personID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.commits {
		if c.PersonID != nil && *c.PersonID == personID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) GetCommittedBatchCount(ctx context.Context, jobID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		if b.JobID == jobID && b.State == store.BatchCommitted {
			n++
		}
	}
	return n, nil
}
