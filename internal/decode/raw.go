package decode

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"
)

// convertRAW demosaics a Sony .arw file with dcraw (the same LibRaw-family
// pipeline the original ingestion tool wraps) and materialises the result as
// an 8-bit sRGB JPEG in the hot temp directory. The caller owns the returned
// path and must remove it once the image has been analyzed and compressed;
// Decode's cleanup func does this automatically.
//
// No pure-Go Sony RAW decoder exists among the packages this project draws
// on, so this is the one component that shells out to an external tool
// rather than staying in-process, mirroring how the original pipeline itself
// delegates RAW demosaicing to a native library rather than reimplementing it.
func convertRAW(ctx context.Context, sourcePath, tempDir string) (string, error) {
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}

	// -c: write PPM to stdout. -w: use camera white balance. -q 3: high
	// quality AHD demosaic, matching convert_for_delivery's demosaic choice.
	cmd := exec.CommandContext(ctx, "dcraw", "-c", "-w", "-q", "3", sourcePath)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("dcraw %s: %w: %s", sourcePath, err, stderr.String())
	}

	img, err := decodePPM(stdout.Bytes())
	if err != nil {
		return "", fmt.Errorf("decode dcraw output for %s: %w", sourcePath, err)
	}

	tempPath := filepath.Join(tempDir, fmt.Sprintf("raw_%s.jpg", uuid.New().String()[:12]))
	f, err := os.Create(tempPath)
	if err != nil {
		return "", fmt.Errorf("create temp raw jpeg: %w", err)
	}
	defer f.Close()

	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 90}); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("encode temp raw jpeg: %w", err)
	}
	return tempPath, nil
}

// decodePPM reads a binary (P6) PPM image, the format dcraw's -c flag emits.
func decodePPM(data []byte) (image.Image, error) {
	r := bytes.NewReader(data)

	var magic string
	if _, err := fmt.Fscan(r, &magic); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if magic != "P6" {
		return nil, fmt.Errorf("unsupported PPM magic %q", magic)
	}

	var width, height, maxVal int
	if _, err := fmt.Fscan(r, &width, &height, &maxVal); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if maxVal != 255 {
		return nil, fmt.Errorf("unsupported PPM max value %d", maxVal)
	}

	// A single whitespace byte separates the header from pixel data.
	if _, err := r.ReadByte(); err != nil {
		return nil, fmt.Errorf("read header terminator: %w", err)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	pixel := make([]byte, 3)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if _, err := io.ReadFull(r, pixel); err != nil {
				return nil, fmt.Errorf("read pixel (%d,%d): %w", x, y, err)
			}
			img.Set(x, y, colorRGB{pixel[0], pixel[1], pixel[2]})
		}
	}
	return img, nil
}

type colorRGB struct{ r, g, b byte }

func (c colorRGB) RGBA() (r, g, b, a uint32) {
	return uint32(c.r) * 0x101, uint32(c.g) * 0x101, uint32(c.b) * 0x101, 0xffff
}
