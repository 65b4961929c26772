// Package analyzer talks to the local CPU face-inference sidecar: it posts
// a decoded image and gets back zero or more detected faces, each with a
// 512-dim embedding.
package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"github.com/hrabal/negsort/internal/constants"
)

const defaultBaseURL = "http://localhost:8500"

// Client posts images to the face-embedding sidecar.
type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{baseURL: baseURL, http: &http.Client{}}
}

// Face is one detected face with its L2-normalised embedding.
type Face struct {
	BBox         []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetectScore  float64   `json:"det_score"`
	Embedding    []float32 `json:"embedding"`
	EmbeddingDim int       `json:"dim"`
}

type faceResponse struct {
	FacesCount int    `json:"faces_count"`
	Faces      []Face `json:"faces"`
	Model      string `json:"model"`
}

// Detect posts imageData to the sidecar's face-embedding endpoint and
// returns every face at or above the minimum detection score. Detection
// order follows whatever the sidecar returns; the matcher does not depend
// on face order within an image.
func (c *Client) Detect(ctx context.Context, imageData []byte) ([]Face, error) {
	body, err := c.postMultipart(ctx, "/embed/face", imageData)
	if err != nil {
		return nil, err
	}

	var resp faceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse face response: %w", err)
	}

	var faces []Face
	for _, f := range resp.Faces {
		if f.DetectScore < constants.MinDetectionScore {
			continue
		}
		if f.EmbeddingDim != 0 && f.EmbeddingDim != constants.EmbeddingDim {
			return nil, fmt.Errorf("sidecar returned embedding dim %d, want %d", f.EmbeddingDim, constants.EmbeddingDim)
		}
		faces = append(faces, f)
	}
	return faces, nil
}

func (c *Client) postMultipart(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("create form part: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to analyzer sidecar: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read analyzer response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("analyzer error (status %d): %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}
