package analyzer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDetect_FiltersBelowMinimumScore(t *testing.T) {
	resp := faceResponse{
		FacesCount: 2,
		Faces: []Face{
			{BBox: []float64{0, 0, 10, 10}, DetectScore: 0.9, Embedding: make([]float32, 512), EmbeddingDim: 512},
			{BBox: []float64{0, 0, 5, 5}, DetectScore: 0.1, Embedding: make([]float32, 512), EmbeddingDim: 512},
		},
		Model: "test-model",
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed/face" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	c := New(server.URL)
	faces, err := c.Detect(context.Background(), []byte("fake-jpeg-bytes"))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(faces) != 1 {
		t.Fatalf("expected 1 face above the detection threshold, got %d", len(faces))
	}
	if faces[0].DetectScore != 0.9 {
		t.Errorf("expected the high-score face to survive filtering, got score %f", faces[0].DetectScore)
	}
}

func TestDetect_SidecarError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("model not loaded"))
	}))
	defer server.Close()

	c := New(server.URL)
	if _, err := c.Detect(context.Background(), []byte("fake-jpeg-bytes")); err == nil {
		t.Fatal("expected an error from a failing sidecar")
	}
}
