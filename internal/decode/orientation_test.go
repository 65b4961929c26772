package decode

import (
	"image"
	"image/color"
	"testing"
)

func checkerboard(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{255, 0, 0, 255})
	img.Set(w-1, 0, color.RGBA{0, 255, 0, 255})
	return img
}

func at(img image.Image, x, y int) color.RGBA {
	r, g, b, a := img.At(x, y).RGBA()
	return color.RGBA{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8), uint8(a >> 8)}
}

func TestApplyOrientation_Upright(t *testing.T) {
	src := checkerboard(4, 2)
	out := applyOrientation(src, 1)
	if out != src {
		t.Fatalf("orientation 1 must be a no-op")
	}
}

func TestApplyOrientation_Rotate180(t *testing.T) {
	src := checkerboard(4, 2)
	out := applyOrientation(src, 3)
	if got := at(out, 3, 1); got != (color.RGBA{255, 0, 0, 255}) {
		t.Errorf("expected top-left red pixel to land at bottom-right after 180 rotation, got %v", got)
	}
}

func TestApplyOrientation_FlipHorizontal(t *testing.T) {
	src := checkerboard(4, 2)
	out := applyOrientation(src, 2)
	if got := at(out, 3, 0); got != (color.RGBA{255, 0, 0, 255}) {
		t.Errorf("expected top-left red pixel to land at top-right after horizontal flip, got %v", got)
	}
}

func TestApplyOrientation_Rotate90ChangesDimensions(t *testing.T) {
	src := checkerboard(4, 2)
	out := applyOrientation(src, 6)
	b := out.Bounds()
	if b.Dx() != 2 || b.Dy() != 4 {
		t.Errorf("expected dimensions to swap to 2x4, got %dx%d", b.Dx(), b.Dy())
	}
}
