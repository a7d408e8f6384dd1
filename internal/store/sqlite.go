package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite store and runs migrations.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	// In-memory databases need a shared cache so every pooled connection
	// sees the same data.
	if dsn == ":memory:" {
		dsn = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL DEFAULT '',
			owner_id INTEGER NOT NULL,
			deleted INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS files (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id INTEGER NOT NULL REFERENCES projects(id),
			user_id INTEGER NOT NULL,
			original_name TEXT NOT NULL,
			storage_key TEXT NOT NULL DEFAULT '',
			storage_bucket TEXT NOT NULL DEFAULT '',
			storage_type TEXT NOT NULL DEFAULT '',
			size INTEGER NOT NULL DEFAULT 0,
			mime_type TEXT NOT NULL DEFAULT '',
			md5 TEXT NOT NULL DEFAULT '',
			vectorized INTEGER NOT NULL DEFAULT 0,
			deleted INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_projects_owner ON projects(owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_files_project ON files(project_id, deleted)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Projects ---

func (s *SQLiteStore) CreateProject(ctx context.Context, p *Project) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO projects (name, owner_id, deleted, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		p.Name, p.OwnerID, p.Deleted, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return err
	}
	p.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) GetProject(ctx context.Context, id int64) (*Project, error) {
	var p Project
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, owner_id, deleted, created_at, updated_at FROM projects WHERE id = ?", id,
	).Scan(&p.ID, &p.Name, &p.OwnerID, &p.Deleted, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) DeleteProject(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE projects SET deleted = 1, updated_at = ? WHERE id = ?", time.Now().UTC(), id)
	return err
}

// --- Files ---

func (s *SQLiteStore) AddFile(ctx context.Context, f *File) error {
	now := time.Now().UTC()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO files (project_id, user_id, original_name, storage_key, storage_bucket, storage_type,
			size, mime_type, md5, vectorized, deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ProjectID, f.UserID, f.OriginalName, f.StorageKey, f.StorageBucket, f.StorageType,
		f.Size, f.MimeType, f.MD5, f.Vectorized, f.Deleted, f.CreatedAt, f.UpdatedAt,
	)
	if err != nil {
		return err
	}
	f.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) ListFilesByProject(ctx context.Context, projectID int64) ([]File, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, user_id, original_name, storage_key, storage_bucket, storage_type,
			size, mime_type, md5, vectorized, deleted, created_at, updated_at
		FROM files WHERE project_id = ? AND deleted = 0 ORDER BY id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFiles(rows)
}

func (s *SQLiteStore) DeleteFile(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE files SET deleted = 1, updated_at = ? WHERE id = ?", time.Now().UTC(), id)
	return err
}

func scanFiles(rows *sql.Rows) ([]File, error) {
	var files []File
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.UserID, &f.OriginalName, &f.StorageKey,
			&f.StorageBucket, &f.StorageType, &f.Size, &f.MimeType, &f.MD5, &f.Vectorized,
			&f.Deleted, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}
