// Package store defines the read model for projects and their files and
// provides SQLite and PostgreSQL implementations.
package store

import (
	"context"
	"time"
)

// Store is the persistence interface for project and file metadata.
// Lookups of missing rows return (nil, nil).
type Store interface {
	// Projects
	CreateProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id int64) (*Project, error)
	DeleteProject(ctx context.Context, id int64) error

	// Files
	AddFile(ctx context.Context, f *File) error
	ListFilesByProject(ctx context.Context, projectID int64) ([]File, error)
	DeleteFile(ctx context.Context, id int64) error

	Ping(ctx context.Context) error
	Close() error
}

// Project is a user-owned collection of files.
type Project struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	OwnerID   int64     `json:"owner_id"`
	Deleted   bool      `json:"deleted"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// File is the metadata of one uploaded file.
type File struct {
	ID            int64     `json:"id"`
	ProjectID     int64     `json:"project_id"`
	UserID        int64     `json:"user_id"`
	OriginalName  string    `json:"original_name"`
	StorageKey    string    `json:"storage_key"`
	StorageBucket string    `json:"storage_bucket"`
	StorageType   string    `json:"storage_type"`
	Size          int64     `json:"size"`
	MimeType      string    `json:"mime_type"`
	MD5           string    `json:"md5"`
	Vectorized    bool      `json:"vectorized"`
	Deleted       bool      `json:"deleted"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
