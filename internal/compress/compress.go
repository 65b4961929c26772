// Package compress produces the single staged output artifact for a
// matched image: a stripped, sRGB JPEG with a bounded long edge.
package compress

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/hrabal/negsort/internal/constants"
	"golang.org/x/image/draw"
)

// Compress decodes an encoded image (already produced by the decoder for
// both JPEG-passthrough and RAW-converted inputs), downscales it to fit
// within the configured long edge if necessary, and re-encodes it as a
// metadata-stripped JPEG. Upscaling never happens: an image already within
// bounds is re-encoded at the same size.
func Compress(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return CompressImage(img)
}

// CompressImage applies the same long-edge-bounded downscale and
// metadata-stripping re-encode as Compress, for a caller that already holds
// a decoded image.Image (the engine, coming straight out of internal/decode,
// has no reason to round-trip through bytes first).
func CompressImage(img image.Image) ([]byte, error) {
	out := fitLongEdge(img, constants.OutputLongEdgeMax)

	var buf bytes.Buffer
	// image/jpeg.Encode never writes EXIF/XMP/ICC segments the source may
	// have carried, so re-encoding through image.Image already strips
	// metadata as a side effect of the format conversion.
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: constants.OutputJPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode compressed jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// fitLongEdge returns img unchanged if its long edge is already within
// maxEdge, otherwise a high-quality downscale to fit.
func fitLongEdge(img image.Image, maxEdge int) image.Image {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	long := width
	if height > long {
		long = height
	}
	if long <= maxEdge {
		return img
	}

	var newWidth, newHeight int
	if width >= height {
		newWidth = maxEdge
		newHeight = int(float64(height) * float64(maxEdge) / float64(width))
	} else {
		newHeight = maxEdge
		newWidth = int(float64(width) * float64(maxEdge) / float64(height))
	}
	if newWidth < 1 {
		newWidth = 1
	}
	if newHeight < 1 {
		newHeight = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}
