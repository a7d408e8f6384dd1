package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres creates a new PostgreSQL store and runs migrations.
func NewPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *PostgresStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			owner_id BIGINT NOT NULL,
			deleted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS files (
			id BIGSERIAL PRIMARY KEY,
			project_id BIGINT NOT NULL REFERENCES projects(id),
			user_id BIGINT NOT NULL,
			original_name TEXT NOT NULL,
			storage_key TEXT NOT NULL DEFAULT '',
			storage_bucket TEXT NOT NULL DEFAULT '',
			storage_type TEXT NOT NULL DEFAULT '',
			size BIGINT NOT NULL DEFAULT 0,
			mime_type TEXT NOT NULL DEFAULT '',
			md5 TEXT NOT NULL DEFAULT '',
			vectorized BOOLEAN NOT NULL DEFAULT FALSE,
			deleted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
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

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// --- Projects ---

func (s *PostgresStore) CreateProject(ctx context.Context, p *Project) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	return s.db.QueryRowContext(ctx,
		"INSERT INTO projects (name, owner_id, deleted, created_at, updated_at) VALUES ($1, $2, $3, $4, $5) RETURNING id",
		p.Name, p.OwnerID, p.Deleted, p.CreatedAt, p.UpdatedAt,
	).Scan(&p.ID)
}

func (s *PostgresStore) GetProject(ctx context.Context, id int64) (*Project, error) {
	var p Project
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, owner_id, deleted, created_at, updated_at FROM projects WHERE id = $1", id,
	).Scan(&p.ID, &p.Name, &p.OwnerID, &p.Deleted, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) DeleteProject(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE projects SET deleted = TRUE, updated_at = NOW() WHERE id = $1", id)
	return err
}

// --- Files ---

func (s *PostgresStore) AddFile(ctx context.Context, f *File) error {
	now := time.Now().UTC()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now
	return s.db.QueryRowContext(ctx,
		`INSERT INTO files (project_id, user_id, original_name, storage_key, storage_bucket, storage_type,
			size, mime_type, md5, vectorized, deleted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) RETURNING id`,
		f.ProjectID, f.UserID, f.OriginalName, f.StorageKey, f.StorageBucket, f.StorageType,
		f.Size, f.MimeType, f.MD5, f.Vectorized, f.Deleted, f.CreatedAt, f.UpdatedAt,
	).Scan(&f.ID)
}

func (s *PostgresStore) ListFilesByProject(ctx context.Context, projectID int64) ([]File, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, user_id, original_name, storage_key, storage_bucket, storage_type,
			size, mime_type, md5, vectorized, deleted, created_at, updated_at
		FROM files WHERE project_id = $1 AND deleted = FALSE ORDER BY id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFiles(rows)
}

func (s *PostgresStore) DeleteFile(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE files SET deleted = TRUE, updated_at = NOW() WHERE id = $1", id)
	return err
}
