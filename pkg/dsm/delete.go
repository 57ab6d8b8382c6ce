package dsm

import (
	"context"

	"go.uber.org/zap"

	"github.com/lakefront/depot/pkg/metastore"
	"github.com/lakefront/depot/pkg/objstore"
)

// DeleteFile removes a logical file: the metadata record first, then the
// physical object. Record-first ordering means a crash in between leaves an
// orphaned object that gc can reap, never a record pointing at nothing.
// Deleting an unknown file fails with ErrNotFound.
func (m *Manager) DeleteFile(ctx context.Context, userID int64, fileID string) error {
	const op = "DeleteFile"

	rights, err := m.resolver.FileRights(ctx, userID, fileID)
	if err != nil {
		return opError(op, fileID, err)
	}
	if !rights.Delete {
		return denied(op, fileID, userID)
	}

	rec, err := metastore.GetFile(ctx, m.meta.DB(), fileID)
	if err != nil {
		return opError(op, fileID, err)
	}
	if rec == nil {
		return opError(op, fileID, objstore.ErrNotFound)
	}

	if rec.UploadID != "" {
		session := &objstore.MultipartSession{UploadID: rec.UploadID, Key: rec.ObjectKey}
		if err := m.store.AbortMultipartSession(ctx, session); err != nil {
			return opError(op, fileID, err)
		}
	}

	if err := metastore.DeleteFile(ctx, m.meta.DB(), fileID); err != nil {
		return opError(op, fileID, err)
	}
	if err := m.store.Delete(ctx, rec.ObjectKey); err != nil && !objstore.IsNotFound(err) {
		return opError(op, fileID, err)
	}

	m.logger.Info("deleted file", zap.String("file_id", fileID))
	return nil
}

// DeleteProjectData removes every file bound to a project, optionally
// restricted to one node. Metadata goes first, then a recursive delete sweeps
// the physical prefix, catching objects that never had a record.
func (m *Manager) DeleteProjectData(ctx context.Context, userID int64, projectID, nodeID string) error {
	const op = "DeleteProjectData"

	rights, err := m.resolver.ProjectRights(ctx, userID, projectID)
	if err != nil {
		return opError(op, projectID, err)
	}
	if !rights.Delete {
		return denied(op, projectID, userID)
	}

	if err := metastore.DeleteProjectFiles(ctx, m.meta.DB(), projectID, nodeID); err != nil {
		return opError(op, projectID, err)
	}

	prefix := projectID + "/"
	if nodeID != "" {
		prefix += nodeID + "/"
	}
	if err := m.store.DeleteRecursive(ctx, prefix); err != nil {
		return opError(op, projectID, err)
	}

	m.invalidateSizeCache(prefix)
	m.logger.Info("deleted project data",
		zap.String("project_id", projectID),
		zap.String("node_id", nodeID))
	return nil
}
