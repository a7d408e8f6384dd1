package store

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/readify/gateway/internal/apperr"
	"github.com/readify/gateway/internal/config"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestProject is a helper that inserts a project and returns it.
func createTestProject(t *testing.T, s Store, owner int64) *Project {
	t.Helper()
	p := &Project{Name: "reading list", OwnerID: owner}
	if err := s.CreateProject(context.Background(), p); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if p.ID == 0 {
		t.Fatal("CreateProject did not assign an id")
	}
	return p
}

func createTestFile(t *testing.T, s Store, projectID, userID int64, name string) *File {
	t.Helper()
	f := &File{
		ProjectID:     projectID,
		UserID:        userID,
		OriginalName:  name,
		StorageKey:    "uploads/" + name,
		StorageBucket: "readify",
		StorageType:   "minio",
		Size:          2048,
		MimeType:      "application/pdf",
		MD5:           "d41d8cd98f00b204e9800998ecf8427e",
		Vectorized:    true,
	}
	if err := s.AddFile(context.Background(), f); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	return f
}

func TestSQLite_ProjectRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := createTestProject(t, s, 10)

	got, err := s.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if got == nil {
		t.Fatal("project not found")
	}
	if got.OwnerID != 10 || got.Name != "reading list" || got.Deleted {
		t.Errorf("got %+v", got)
	}

	if err := s.DeleteProject(ctx, p.ID); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}
	got, _ = s.GetProject(ctx, p.ID)
	if got == nil || !got.Deleted {
		t.Errorf("project should be soft-deleted, got %+v", got)
	}
}

func TestSQLite_GetProjectMissing(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetProject(context.Background(), 987654321)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing project, got %+v", got)
	}
}

func TestSQLite_ListFilesSkipsDeleted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := createTestProject(t, s, 11)
	a := createTestFile(t, s, p.ID, 11, "a.pdf")
	b := createTestFile(t, s, p.ID, 11, "b.pdf")

	if err := s.DeleteFile(ctx, b.ID); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}

	files, err := s.ListFilesByProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("ListFilesByProject: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("len = %d, want 1", len(files))
	}
	f := files[0]
	if f.ID != a.ID || f.OriginalName != "a.pdf" || !f.Vectorized || f.Size != 2048 {
		t.Errorf("got %+v", f)
	}
	if f.CreatedAt.IsZero() {
		t.Error("CreatedAt not populated")
	}
}

func TestProjectFiles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	svc := NewProjectFiles(s)

	owned := createTestProject(t, s, 20)
	createTestFile(t, s, owned.ID, 20, "notes.md")
	gone := createTestProject(t, s, 20)
	if err := s.DeleteProject(ctx, gone.ID); err != nil {
		t.Fatal(err)
	}

	files, err := svc.ListProjectFiles(ctx, owned.ID, 20)
	if err != nil {
		t.Fatalf("ListProjectFiles: %v", err)
	}
	if len(files) != 1 || files[0].OriginalName != "notes.md" {
		t.Errorf("got %+v", files)
	}

	if _, err := svc.ListProjectFiles(ctx, owned.ID, 21); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("other user: error = %v, want ErrForbidden", err)
	}
	if _, err := svc.ListProjectFiles(ctx, gone.ID, 20); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("deleted project: error = %v, want ErrNotFound", err)
	}
	if _, err := svc.ListProjectFiles(ctx, 123456789, 20); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing project: error = %v, want ErrNotFound", err)
	}
}

func TestNew_UnknownDriver(t *testing.T) {
	if _, err := New(config.StorageConfig{Driver: "mysql"}); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestNew_SQLite(t *testing.T) {
	s, err := New(config.StorageConfig{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestNew_PostgresRequiresDSN(t *testing.T) {
	_, err := New(config.StorageConfig{Driver: "postgres"})
	if err == nil || !strings.Contains(err.Error(), "storage.dsn is required") {
		t.Fatalf("err = %v", err)
	}
}
