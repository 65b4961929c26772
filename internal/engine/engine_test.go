package engine

import (
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/hrabal/negsort/internal/analyzer"
	"github.com/hrabal/negsort/internal/matcher"
	"github.com/hrabal/negsort/internal/registry/registrytest"
	"github.com/hrabal/negsort/internal/store"
	"github.com/hrabal/negsort/internal/store/storetest"
)

// fakeAnalyzer returns a canned face list for every image, keyed by nothing
// more than call order being irrelevant: every image in these tests gets
// the same embedding so the test only needs one registered person.
type fakeAnalyzer struct {
	faces []analyzer.Face
}

func (f *fakeAnalyzer) Detect(ctx context.Context, imageData []byte) ([]analyzer.Face, error) {
	return f.faces, nil
}

func writeTestJPEG(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 60), G: uint8(y * 60), B: 100, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, nil); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}

func unitVector(dim, hot int) []float32 {
	v := make([]float32, dim)
	v[hot] = 1
	return v
}

func setupJob(t *testing.T, s *storetest.Store, n int) (int64, string) {
	t.Helper()
	dir := t.TempDir()
	jobID, err := s.CreateJob(context.Background(), dir, filepath.Join(dir, "out"))
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	var images []store.PendingImage
	for i := 0; i < n; i++ {
		name := filepath.Join(dir, "img", string(rune('a'+i))+".jpg")
		if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		writeTestJPEG(t, name)
		images = append(images, store.PendingImage{
			SourcePath: name, Filename: filepath.Base(name), Extension: ".jpg",
			SHA256: "deadbeefdeadbeef", OrderingIdx: i,
		})
	}
	if err := s.AddImagesBatch(context.Background(), jobID, images); err != nil {
		t.Fatalf("add images: %v", err)
	}
	if _, err := s.CreateBatches(context.Background(), jobID, n, n); err != nil {
		t.Fatalf("create batches: %v", err)
	}
	return jobID, dir
}

func TestRun_ProcessesAndCommitsAMatchedImage(t *testing.T) {
	s := storetest.New()
	reg := registrytest.New()
	ctx := context.Background()

	personID, err := reg.AddPerson(ctx, "Alice", "alice", unitVector(512, 0))
	if err != nil {
		t.Fatalf("add person: %v", err)
	}

	jobID, dir := setupJob(t, s, 1)

	m := matcher.New(reg, nil)
	a := &fakeAnalyzer{faces: []analyzer.Face{{DetectScore: 0.9, Embedding: unitVector(512, 0), EmbeddingDim: 512}}}

	outputRoot := filepath.Join(dir, "out")
	e := New(s, reg, m, a, outputRoot, t.TempDir(), t.TempDir(), t.TempDir(), 1)

	if err := e.Run(ctx, jobID); err != nil {
		t.Fatalf("run: %v", err)
	}

	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != store.JobCompleted {
		t.Errorf("expected job completed, got %s", job.Status)
	}
	if job.ProcessedImages != 1 {
		t.Errorf("expected 1 processed image, got %d", job.ProcessedImages)
	}

	persons, err := reg.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var folder string
	for _, p := range persons {
		if p.PersonID == personID {
			folder = p.OutputFolderRel
		}
	}
	entries, err := os.ReadDir(filepath.Join(outputRoot, folder))
	if err != nil {
		t.Fatalf("read output dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one routed file, got %d", len(entries))
	}
}

func TestRun_ResetsProcessingBatchToPendingOnResume(t *testing.T) {
	s := storetest.New()
	reg := registrytest.New()
	ctx := context.Background()

	jobID, dir := setupJob(t, s, 1)
	batches, err := s.BatchesInState(ctx, jobID, store.BatchPending)
	if err != nil {
		t.Fatalf("list batches: %v", err)
	}
	batchID := batches[0].BatchID
	if _, err := s.LeaseNextPending(ctx, jobID); err != nil {
		t.Fatalf("lease: %v", err)
	}
	if err := s.UpsertImageResult(ctx, store.ImageResult{ImageID: 1, BatchID: batchID, FaceCount: 1}); err != nil {
		t.Fatalf("seed result: %v", err)
	}

	m := matcher.New(reg, nil)
	a := &fakeAnalyzer{}
	e := New(s, reg, m, a, filepath.Join(dir, "out"), t.TempDir(), t.TempDir(), t.TempDir(), 1)

	if err := e.resume(ctx, jobID); err != nil {
		t.Fatalf("resume: %v", err)
	}

	batch, err := s.GetBatch(ctx, batchID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if batch.State != store.BatchPending {
		t.Errorf("expected batch reset to pending, got %s", batch.State)
	}

	results, err := s.GetImageResultsForBatch(ctx, batchID)
	if err != nil {
		t.Fatalf("get results: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected image results cleared, got %d", len(results))
	}
}

func TestRun_TerminateSignalStopsBeforeNextBatch(t *testing.T) {
	s := storetest.New()
	reg := registrytest.New()
	ctx := context.Background()

	jobID, dir := setupJob(t, s, 1)
	if err := s.SetJobConfig(ctx, &store.JobConfig{Control: store.ControlTerminate}); err != nil {
		t.Fatalf("set config: %v", err)
	}

	m := matcher.New(reg, nil)
	a := &fakeAnalyzer{}
	e := New(s, reg, m, a, filepath.Join(dir, "out"), t.TempDir(), t.TempDir(), t.TempDir(), 1)

	if err := e.Run(ctx, jobID); err != nil {
		t.Fatalf("run: %v", err)
	}

	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != store.JobStopped {
		t.Errorf("expected job stopped, got %s", job.Status)
	}

	batches, err := s.BatchesInState(ctx, jobID, store.BatchPending)
	if err != nil {
		t.Fatalf("list batches: %v", err)
	}
	if len(batches) != 1 {
		t.Errorf("expected the batch to remain pending, untouched, got %d pending", len(batches))
	}
}
