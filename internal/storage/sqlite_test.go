package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"specloom/internal/storage"
)

func newSQLite(t *testing.T) *storage.SQLite {
	t.Helper()
	backend, err := storage.OpenSQLite(t.TempDir())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { backend.Close() })
	backend.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	return backend
}

func TestSQLiteRoundtrip(t *testing.T) {
	ctx := context.Background()
	backend := newSQLite(t)
	const path = "specs/042-demo/manifest.json"

	exists, err := backend.Exists(ctx, path)
	if err != nil || exists {
		t.Fatalf("fresh path should not exist: %v %v", exists, err)
	}
	if err := backend.Save(ctx, path, sampleManifest()); err != nil {
		t.Fatalf("save: %v", err)
	}
	m, err := backend.Load(ctx, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.MetaSpec.ID != "042-demo" || len(m.SubSpecs) != 1 {
		t.Fatalf("roundtrip mismatch: %+v", m)
	}

	// save again overwrites the same row
	m.MetaSpec.Title = "updated"
	if err := backend.Save(ctx, path, m); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	again, _ := backend.Load(ctx, path)
	if again.MetaSpec.Title != "updated" {
		t.Fatalf("upsert did not replace document")
	}
}

func TestSQLiteLoadMissing(t *testing.T) {
	backend := newSQLite(t)
	_, err := backend.Load(context.Background(), "specs/missing/manifest.json")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBackendContract(t *testing.T) {
	var _ storage.Backend = newSQLite(t)
	var _ storage.Backend = storage.File{}
	var _ storage.Backend = storage.NewMemory()
}
