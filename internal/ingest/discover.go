// Package ingest discovers images under a source root, hashes them, and
// catalogs them into fixed-width batches ready for the engine to process.
package ingest

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hrabal/negsort/internal/constants"
)

// DiscoveredImage is one catalogued source file before it has an image_id.
type DiscoveredImage struct {
	SourcePath  string
	Filename    string
	Extension   string
	OrderingIdx int
}

// Discover walks sourceRoot recursively and returns every supported image,
// sorted by path for deterministic ordering_idx assignment. Extension
// matching is case-insensitive.
func Discover(sourceRoot string) ([]DiscoveredImage, error) {
	supported := make(map[string]bool, len(constants.SupportedExtensions))
	for _, ext := range constants.SupportedExtensions {
		supported[ext] = true
	}

	var paths []string
	err := filepath.WalkDir(sourceRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if supported[strings.ToLower(filepath.Ext(path))] {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(paths)

	images := make([]DiscoveredImage, len(paths))
	for i, path := range paths {
		images[i] = DiscoveredImage{
			SourcePath:  path,
			Filename:    filepath.Base(path),
			Extension:   strings.ToLower(filepath.Ext(path)),
			OrderingIdx: i,
		}
	}
	return images, nil
}
