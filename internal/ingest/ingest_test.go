package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/hrabal/negsort/internal/store/storetest"
)

func writeFixtureTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	files := []string{
		"a/one.jpg",
		"a/two.JPG",
		"b/three.jpeg",
		"b/four.arw",
		"ignored.txt",
	}
	for _, rel := range files {
		full := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte("fixture:"+rel), 0o644); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
	}
	return root
}

func TestDiscover_FindsSupportedExtensionsOnly(t *testing.T) {
	root := writeFixtureTree(t)

	images, err := Discover(root)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(images) != 4 {
		t.Fatalf("expected 4 supported images, got %d", len(images))
	}

	paths := make([]string, len(images))
	for i, img := range images {
		paths[i] = img.SourcePath
	}
	if !sort.StringsAreSorted(paths) {
		t.Errorf("expected discovered paths in sorted order, got %v", paths)
	}

	for i, img := range images {
		if img.OrderingIdx != i {
			t.Errorf("expected dense ordering_idx %d, got %d", i, img.OrderingIdx)
		}
	}
}

func TestRun_CatalogsImagesAndCreatesBatches(t *testing.T) {
	root := writeFixtureTree(t)
	s := storetest.New()

	result, err := Run(context.Background(), s, root, "/output", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ImageCount != 4 {
		t.Errorf("expected 4 images catalogued, got %d", result.ImageCount)
	}
	if result.BatchCount != 1 {
		t.Errorf("expected 1 batch for 4 images at width 50, got %d", result.BatchCount)
	}

	count, err := s.GetImageCount(context.Background(), result.JobID)
	if err != nil {
		t.Fatalf("GetImageCount: %v", err)
	}
	if count != 4 {
		t.Errorf("expected store to report 4 images, got %d", count)
	}
}

func TestRun_ReportsProgress(t *testing.T) {
	root := writeFixtureTree(t)
	s := storetest.New()

	var calls []int
	_, err := Run(context.Background(), s, root, "/output", func(done, total int) {
		calls = append(calls, done)
		if total != 4 {
			t.Errorf("expected total 4, got %d", total)
		}
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(calls) != 4 {
		t.Fatalf("expected 4 progress callbacks, got %d", len(calls))
	}
}

func TestSuperBatchNumber(t *testing.T) {
	if got := SuperBatchNumber(0); got != 1 {
		t.Errorf("expected super-batch 1 for start_idx 0, got %d", got)
	}
	if got := SuperBatchNumber(3500); got != 2 {
		t.Errorf("expected super-batch 2 for start_idx 3500, got %d", got)
	}
}
