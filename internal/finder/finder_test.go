package finder_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"specloom/internal/domain"
	"specloom/internal/finder"
	"specloom/internal/storage"
)

func writeManifest(t *testing.T, root, rel, id string) string {
	t.Helper()
	path := filepath.Join(root, rel, "manifest.json")
	m := &domain.Manifest{
		Version:  domain.DocumentVersion,
		MetaSpec: domain.MetaSpec{ID: id, Title: id},
	}
	if err := (storage.File{}).Save(context.Background(), path, m); err != nil {
		t.Fatalf("seed %s: %v", rel, err)
	}
	return path
}

func TestFind(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "041-other", "041-other")
	want := writeManifest(t, root, filepath.Join("nested", "042-demo"), "042-demo")

	got, err := finder.Find(context.Background(), root, "042-demo")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestFindMissing(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "041-other", "041-other")
	_, err := finder.Find(context.Background(), root, "099-nope")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindSkipsCorruptManifests(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "040-broken")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), []byte("{oops"), 0o644); err != nil {
		t.Fatal(err)
	}
	want := writeManifest(t, root, "042-demo", "042-demo")

	got, err := finder.Find(context.Background(), root, "042-demo")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestList(t *testing.T) {
	root := t.TempDir()
	b := writeManifest(t, root, "042-b", "042-b")
	a := writeManifest(t, root, "041-a", "041-a")

	paths, err := finder.List(root)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(paths) != 2 || paths[0] != a || paths[1] != b {
		t.Fatalf("unexpected listing: %v", paths)
	}
}
