package decode

import (
	"strconv"
	"strings"

	exif "github.com/dsoprea/go-exif/v3"
	jpegstructure "github.com/dsoprea/go-jpeg-image-structure"
)

// readJPEGOrientation extracts the EXIF orientation tag from JPEG bytes.
// Returns 1 (upright, no-op) if the file carries no EXIF block or no
// orientation tag; a missing tag is not treated as an error, since most
// cameras write it but nothing requires them to.
func readJPEGOrientation(data []byte) int {
	mediaContext, err := jpegstructure.NewJpegMediaParser().ParseBytes(data)
	if err != nil {
		return 1
	}
	_, rawExif, err := mediaContext.Exif()
	if err != nil || len(rawExif) == 0 {
		return 1
	}

	entries, _, err := exif.GetFlatExifData(rawExif, nil)
	if err != nil {
		return 1
	}

	for _, entry := range entries {
		if entry.TagName != "Orientation" {
			continue
		}
		value := strings.TrimSpace(strings.ReplaceAll(entry.FormattedFirst, "\x00", ""))
		if n, err := strconv.Atoi(value); err == nil && n >= 1 && n <= 8 {
			return n
		}
	}
	return 1
}
