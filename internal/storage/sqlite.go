package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"specloom/internal/db"
	"specloom/internal/domain"
	"specloom/internal/migrate"
)

// SQLite stores manifests as JSON documents in a single table, keyed by the
// logical manifest path. Hardened alternative to the file backend for setups
// where many agents share one coordination database.
type SQLite struct {
	DB  *sql.DB
	Now func() time.Time
}

// OpenSQLite opens (and migrates) the workspace database.
func OpenSQLite(workspace string) (*SQLite, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return &SQLite{DB: conn}, nil
}

func (s *SQLite) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *SQLite) Close() error {
	return s.DB.Close()
}

func (s *SQLite) Load(ctx context.Context, path string) (*domain.Manifest, error) {
	var doc string
	err := s.DB.QueryRowContext(ctx, `SELECT document FROM manifests WHERE path=?`, path).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("manifest %s: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var m domain.Manifest
	if err := json.Unmarshal([]byte(doc), &m); err != nil {
		return nil, fmt.Errorf("manifest %s: %w: %v", path, ErrMalformedDocument, err)
	}
	return &m, nil
}

func (s *SQLite) Save(ctx context.Context, path string, m *domain.Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO manifests(path,document,updated_at) VALUES (?,?,?)
		 ON CONFLICT(path) DO UPDATE SET document=excluded.document, updated_at=excluded.updated_at`,
		path, string(data), s.now().UTC().Format(time.RFC3339))
	return err
}

func (s *SQLite) Exists(ctx context.Context, path string) (bool, error) {
	var one int
	err := s.DB.QueryRowContext(ctx, `SELECT 1 FROM manifests WHERE path=?`, path).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
