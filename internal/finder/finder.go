// Package finder resolves a meta-spec id to its manifest path by scanning the
// specs root.
package finder

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"specloom/internal/storage"
)

const manifestName = "manifest.json"

// Find returns the manifest path whose metaSpec.id equals metaSpecID.
// Unparseable manifests under the root are skipped, not fatal.
func Find(ctx context.Context, root, metaSpecID string) (string, error) {
	paths, err := List(root)
	if err != nil {
		return "", err
	}
	backend := storage.File{}
	for _, path := range paths {
		m, err := backend.Load(ctx, path)
		if err != nil {
			continue
		}
		if m.MetaSpec.ID == metaSpecID {
			return path, nil
		}
	}
	return "", fmt.Errorf("meta-spec %s under %s: %w", metaSpecID, root, storage.ErrNotFound)
}

// List returns every manifest path under root, sorted.
func List(root string) ([]string, error) {
	pattern := filepath.Join(root, "**", manifestName)
	paths, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	sort.Strings(paths)
	return paths, nil
}
