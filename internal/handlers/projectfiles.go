package handlers

import (
	"context"

	"github.com/readify/gateway/internal/apperr"
	"github.com/readify/gateway/internal/dispatch"
	"github.com/readify/gateway/internal/protocol"
	"github.com/readify/gateway/internal/session"
	"github.com/readify/gateway/internal/store"
)

// ProjectFileLister lists a project's files on behalf of a user. It returns
// apperr.ErrNotFound for a missing or deleted project and
// apperr.ErrForbidden when the user does not own it.
type ProjectFileLister interface {
	ListProjectFiles(ctx context.Context, projectID, userID int64) ([]store.File, error)
}

// QueryProjectFiles replies with the files of one of the caller's projects.
func QueryProjectFiles(files ProjectFileLister) dispatch.Handler {
	return dispatch.Typed(protocol.TypeQueryProjectFiles, func(ctx context.Context, c *session.Conn, msg protocol.Message[protocol.QueryProjectRequest]) error {
		id, err := identity(ctx)
		if err != nil {
			return err
		}
		if msg.Data.ProjectID <= 0 {
			return apperr.Invalid("projectId is required")
		}

		list, err := files.ListProjectFiles(ctx, msg.Data.ProjectID, id.UserID)
		if err != nil {
			return err
		}

		infos := make([]protocol.FileInfo, 0, len(list))
		for _, f := range list {
			infos = append(infos, fileInfo(f))
		}
		return c.SendEnvelope(protocol.New(protocol.TypeProjectFiles, infos))
	})
}

func fileInfo(f store.File) protocol.FileInfo {
	return protocol.FileInfo{
		ID:            f.ID,
		OriginalName:  f.OriginalName,
		StorageKey:    f.StorageKey,
		StorageBucket: f.StorageBucket,
		StorageType:   f.StorageType,
		Size:          f.Size,
		MimeType:      f.MimeType,
		MD5:           f.MD5,
		Vectorized:    f.Vectorized,
		ProjectID:     f.ProjectID,
		UserID:        f.UserID,
		CreateTime:    f.CreatedAt.UnixMilli(),
		UpdateTime:    f.UpdatedAt.UnixMilli(),
	}
}
