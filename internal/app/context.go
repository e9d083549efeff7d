package app

import (
	"context"
	"fmt"
	"path/filepath"

	"specloom/internal/config"
	"specloom/internal/finder"
	"specloom/internal/lockdir"
	"specloom/internal/manifest"
	"specloom/internal/storage"
)

// SpecsRoot resolves the specs root against the workspace.
func SpecsRoot(cfg *config.Config, workspace string) string {
	if filepath.IsAbs(cfg.Specs.Root) {
		return cfg.Specs.Root
	}
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, cfg.Specs.Root)
}

// ResolveManifest picks the manifest path for a command: an explicit path
// wins, then a meta-spec id looked up under the specs root, then the single
// manifest in the root if there is exactly one.
func ResolveManifest(ctx context.Context, cfg *config.Config, workspace, explicitPath, metaSpecID string) (string, error) {
	if explicitPath != "" {
		return explicitPath, nil
	}
	root := SpecsRoot(cfg, workspace)
	if metaSpecID != "" {
		return finder.Find(ctx, root, metaSpecID)
	}
	paths, err := finder.List(root)
	if err != nil {
		return "", err
	}
	switch len(paths) {
	case 0:
		return "", fmt.Errorf("no manifest under %s; use --manifest or --meta-spec", root)
	case 1:
		return paths[0], nil
	default:
		return "", fmt.Errorf("multiple manifests under %s; use --manifest or --meta-spec", root)
	}
}

// NewStore builds the manifest store for the configured backend. The returned
// close func releases backend resources.
func NewStore(cfg *config.Config, workspace, command string) (*manifest.Store, func(), error) {
	locks := &lockdir.Manager{
		Attempts:   cfg.Lock.Attempts,
		Delay:      cfg.LockDelay(),
		StaleAfter: cfg.LockStaleAfter(),
		Command:    command,
	}
	switch cfg.Storage.Backend {
	case "sqlite":
		backend, err := storage.OpenSQLite(workspace)
		if err != nil {
			return nil, nil, err
		}
		s := manifest.New(backend)
		s.Locks = locks
		s.Strict = cfg.StrictPhases
		return s, func() { backend.Close() }, nil
	default:
		s := manifest.New(storage.File{})
		s.Locks = locks
		s.Strict = cfg.StrictPhases
		return s, func() {}, nil
	}
}
