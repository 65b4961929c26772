// Package decode turns a source image (JPEG passthrough or Sony RAW) into
// an in-memory, upright 8-bit RGB image ready for face analysis and
// compression.
package decode

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
)

// EncodeJPEG serialises a decoded image back to JPEG bytes at full
// resolution, for handing to the face analyzer. The analyzer scores faces
// on the source's native resolution, not the downscaled delivery artifact
// internal/compress produces later.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Result is a decoded image plus the cleanup for any temp files it created.
// Cleanup is always safe to call, including for JPEG passthrough where it is
// a no-op.
type Result struct {
	Image   image.Image
	Cleanup func()
}

// Decode reads sourcePath and returns an oriented, decoded image. RAW files
// are demosaiced into a scratch JPEG under tempDir first; that scratch file
// is removed by Cleanup. Failures here are meant to be handled per-image by
// the caller: an image that fails to decode contributes face_count=0 and a
// warning, not a batch abort.
func Decode(ctx context.Context, sourcePath, tempDir string) (Result, error) {
	ext := strings.ToLower(filepath.Ext(sourcePath))
	switch ext {
	case ".jpg", ".jpeg":
		return decodeJPEG(sourcePath)
	case ".arw":
		return decodeRAW(ctx, sourcePath, tempDir)
	default:
		return Result{}, fmt.Errorf("unsupported image extension %q", ext)
	}
}

func decodeJPEG(sourcePath string) (Result, error) {
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return Result{}, fmt.Errorf("read %s: %w", sourcePath, err)
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return Result{}, fmt.Errorf("decode jpeg %s: %w", sourcePath, err)
	}

	orientation := readJPEGOrientation(data)
	img = applyOrientation(img, orientation)

	return Result{Image: img, Cleanup: func() {}}, nil
}

func decodeRAW(ctx context.Context, sourcePath, tempDir string) (Result, error) {
	tempPath, err := convertRAW(ctx, sourcePath, tempDir)
	if err != nil {
		return Result{}, fmt.Errorf("convert raw %s: %w", sourcePath, err)
	}

	data, err := os.ReadFile(tempPath)
	if err != nil {
		os.Remove(tempPath)
		return Result{}, fmt.Errorf("read converted raw %s: %w", tempPath, err)
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		os.Remove(tempPath)
		return Result{}, fmt.Errorf("decode converted raw %s: %w", tempPath, err)
	}

	return Result{
		Image:   img,
		Cleanup: func() { os.Remove(tempPath) },
	}, nil
}
