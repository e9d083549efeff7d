// Package storage persists the manifest aggregate. Backends load and save the
// whole document; partial updates are never exposed.
package storage

import (
	"context"
	"errors"

	"specloom/internal/domain"
)

var (
	// ErrNotFound means no document (or sub-spec) exists for the given key.
	ErrNotFound = errors.New("not found")
	// ErrMalformedDocument means the persisted document cannot be parsed.
	// No repair or backup is attempted.
	ErrMalformedDocument = errors.New("malformed manifest document")
)

// Backend is a document store keyed by manifest path.
type Backend interface {
	Load(ctx context.Context, path string) (*domain.Manifest, error)
	Save(ctx context.Context, path string, m *domain.Manifest) error
	Exists(ctx context.Context, path string) (bool, error)
}
