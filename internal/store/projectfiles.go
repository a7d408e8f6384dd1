package store

import (
	"context"
	"fmt"

	"github.com/readify/gateway/internal/apperr"
)

// ProjectFiles answers identity-scoped file listings.
type ProjectFiles struct {
	store Store
}

// NewProjectFiles creates the service over s.
func NewProjectFiles(s Store) *ProjectFiles {
	return &ProjectFiles{store: s}
}

// ListProjectFiles returns the live files of projectID if userID owns it.
// A missing or deleted project is apperr.ErrNotFound; a project owned by
// someone else is apperr.ErrForbidden.
func (p *ProjectFiles) ListProjectFiles(ctx context.Context, projectID, userID int64) ([]File, error) {
	proj, err := p.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("get project %d: %w", projectID, err)
	}
	if proj == nil || proj.Deleted {
		return nil, fmt.Errorf("project %d: %w", projectID, apperr.ErrNotFound)
	}
	if proj.OwnerID != userID {
		return nil, fmt.Errorf("project %d for user %d: %w", projectID, userID, apperr.ErrForbidden)
	}

	files, err := p.store.ListFilesByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list files of project %d: %w", projectID, err)
	}
	return files, nil
}
