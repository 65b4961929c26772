package compress

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
)

func encodeTestJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{uint8(x % 256), uint8(y % 256), 128, 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

func decodeDims(t *testing.T, data []byte) (int, int) {
	t.Helper()
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	b := img.Bounds()
	return b.Dx(), b.Dy()
}

func TestCompress_DownscalesOversizedImage(t *testing.T) {
	input := encodeTestJPEG(t, 4000, 2000)
	out, err := Compress(input)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	w, h := decodeDims(t, out)
	if w != 2048 {
		t.Errorf("expected long edge 2048, got width %d", w)
	}
	if h != 1024 {
		t.Errorf("expected height 1024 preserving aspect ratio, got %d", h)
	}
}

func TestCompress_NeverUpscalesSmallImage(t *testing.T) {
	input := encodeTestJPEG(t, 200, 100)
	out, err := Compress(input)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	w, h := decodeDims(t, out)
	if w != 200 || h != 100 {
		t.Errorf("expected dimensions unchanged for already-small image, got %dx%d", w, h)
	}
}

func TestCompress_IsDeterministic(t *testing.T) {
	input := encodeTestJPEG(t, 3000, 3000)
	out1, err := Compress(input)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	out2, err := Compress(input)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if !bytes.Equal(out1, out2) {
		t.Errorf("expected identical output bytes for identical input")
	}
}
