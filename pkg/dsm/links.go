package dsm

import (
	"context"

	"go.uber.org/zap"

	"github.com/lakefront/depot/pkg/access"
	"github.com/lakefront/depot/pkg/metastore"
	"github.com/lakefront/depot/pkg/objstore"
)

// UploadLink is what a caller needs to push a payload out of band. Either URL
// is set (single presigned PUT) or UploadID, ChunkSize and PartURLs are
// (multipart session); never both.
type UploadLink struct {
	FileID string

	URL string

	UploadID  string
	ChunkSize int64
	PartURLs  []string
}

// Multipart reports whether the link is a multipart session.
func (l *UploadLink) Multipart() bool {
	return l.UploadID != ""
}

// CreateUploadLink authorizes a write on fileID, reserves a provisional
// metadata record, and issues upload credentials for a payload of the
// announced size. Small payloads get one presigned PUT and a background
// reconciler that waits for the object to land; payloads at or above the
// multipart threshold get a session whose completion the caller must signal
// through CompleteUpload. The call returns as soon as links exist, never
// waiting for any data.
func (m *Manager) CreateUploadLink(ctx context.Context, userID int64, fileID string, size int64, sha256Checksum string) (*UploadLink, error) {
	const op = "CreateUploadLink"

	rights, err := m.resolver.FileRights(ctx, userID, fileID)
	if err != nil {
		return nil, opError(op, fileID, err)
	}
	if !rights.Write {
		return nil, denied(op, fileID, userID)
	}

	parsed, err := access.ParseFileID(fileID)
	if err != nil {
		return nil, opError(op, fileID, err)
	}

	rec := metastore.FileRecord{
		FileID:         fileID,
		Bucket:         m.store.Bucket(),
		ObjectKey:      fileID,
		UserID:         userID,
		ProjectID:      parsed.ProjectID,
		NodeID:         parsed.NodeID,
		SizeBytes:      -1,
		SHA256Checksum: sha256Checksum,
	}

	if size >= m.cfg.MultipartThreshold {
		session, err := m.store.CreateMultipartSession(ctx, fileID, size, m.cfg.LinkTTL, sha256Checksum)
		if err != nil {
			return nil, opError(op, fileID, err)
		}
		rec.UploadID = session.UploadID
		if err := metastore.InsertFile(ctx, m.meta.DB(), rec); err != nil {
			// The session would otherwise linger until gc reaps it.
			_ = m.store.AbortMultipartSession(ctx, session)
			return nil, opError(op, fileID, err)
		}
		m.logger.Info("issued multipart upload link",
			zap.String("file_id", fileID),
			zap.Int64("size", size),
			zap.Int("parts", len(session.PartURLs)))
		return &UploadLink{
			FileID:    fileID,
			UploadID:  session.UploadID,
			ChunkSize: session.ChunkSize,
			PartURLs:  session.PartURLs,
		}, nil
	}

	// Snapshot what is at the key right now. When the link overwrites an
	// existing object, the poller must wait for that state to change, or it
	// would reconcile instantly against the stale payload.
	var baseline uploadBaseline
	if meta, headErr := m.store.Head(ctx, fileID); headErr == nil {
		baseline = uploadBaseline{exists: true, size: meta.Size, lastModified: meta.LastModified}
	} else if !objstore.IsNotFound(headErr) {
		return nil, opError(op, fileID, headErr)
	}

	if err := metastore.InsertFile(ctx, m.meta.DB(), rec); err != nil {
		return nil, opError(op, fileID, err)
	}
	url, err := m.store.PresignPut(ctx, fileID, m.cfg.LinkTTL)
	if err != nil {
		return nil, opError(op, fileID, err)
	}

	// The upload happens out of band against the presigned URL, so nothing
	// signals completion. A poller brings the record in line once the object
	// shows up.
	m.spawnReconciler(fileID, baseline)

	m.logger.Info("issued upload link",
		zap.String("file_id", fileID),
		zap.Int64("size", size))
	return &UploadLink{FileID: fileID, URL: url}, nil
}

// CompleteUpload finalizes a multipart session and reconciles the record
// synchronously, so the file is queryable the moment the call returns.
func (m *Manager) CompleteUpload(ctx context.Context, userID int64, fileID string, parts []objstore.UploadedPart) (*metastore.FileRecord, error) {
	const op = "CompleteUpload"

	rights, err := m.resolver.FileRights(ctx, userID, fileID)
	if err != nil {
		return nil, opError(op, fileID, err)
	}
	if !rights.Write {
		return nil, denied(op, fileID, userID)
	}

	rec, err := metastore.GetFile(ctx, m.meta.DB(), fileID)
	if err != nil {
		return nil, opError(op, fileID, err)
	}
	if rec == nil {
		return nil, opError(op, fileID, objstore.ErrNotFound)
	}
	if rec.UploadID == "" {
		return nil, opError(op, fileID, ErrInconsistentState)
	}

	session := &objstore.MultipartSession{UploadID: rec.UploadID, Key: rec.ObjectKey}
	if _, err := m.store.CompleteMultipartSession(ctx, session, parts); err != nil {
		return nil, opError(op, fileID, err)
	}

	meta, err := m.store.Head(ctx, rec.ObjectKey)
	if err != nil {
		return nil, opError(op, fileID, err)
	}
	checksum := meta.SHA256Checksum
	if checksum == "" {
		checksum = rec.SHA256Checksum
	}
	if err := metastore.UpdateOnReconcile(ctx, m.meta.DB(), fileID,
		meta.Size, checksum, meta.ETag, meta.LastModified); err != nil {
		return nil, opError(op, fileID, err)
	}

	m.logger.Info("completed multipart upload",
		zap.String("file_id", fileID),
		zap.Int64("size", meta.Size))
	return metastore.GetFile(ctx, m.meta.DB(), fileID)
}

// AbortUpload cancels an in-flight upload. The multipart session, if any, is
// released on the backend; a purely provisional record disappears, while a
// record that already described a reconciled object merely sheds the pending
// session so the previous version stays addressable.
func (m *Manager) AbortUpload(ctx context.Context, userID int64, fileID string) error {
	const op = "AbortUpload"

	rights, err := m.resolver.FileRights(ctx, userID, fileID)
	if err != nil {
		return opError(op, fileID, err)
	}
	if !rights.Write {
		return denied(op, fileID, userID)
	}

	rec, err := metastore.GetFile(ctx, m.meta.DB(), fileID)
	if err != nil {
		return opError(op, fileID, err)
	}
	if rec == nil {
		return nil
	}

	if rec.UploadID != "" {
		session := &objstore.MultipartSession{UploadID: rec.UploadID, Key: rec.ObjectKey}
		if err := m.store.AbortMultipartSession(ctx, session); err != nil {
			return opError(op, fileID, err)
		}
	}

	if rec.SizeBytes < 0 {
		if err := metastore.DeleteFile(ctx, m.meta.DB(), fileID); err != nil {
			return opError(op, fileID, err)
		}
	} else if rec.UploadID != "" {
		if err := metastore.UpdateOnReconcile(ctx, m.meta.DB(), fileID,
			rec.SizeBytes, rec.SHA256Checksum, rec.EntityTag, rec.LastModified); err != nil {
			return opError(op, fileID, err)
		}
	}

	m.logger.Info("aborted upload", zap.String("file_id", fileID))
	return nil
}

// CreateDownloadLink authorizes a read and returns a presigned GET for the
// file's object. The store verifies the object exists before signing, so an
// issued link is known usable at issuance time.
func (m *Manager) CreateDownloadLink(ctx context.Context, userID int64, fileID string) (string, error) {
	const op = "CreateDownloadLink"

	rights, err := m.resolver.FileRights(ctx, userID, fileID)
	if err != nil {
		return "", opError(op, fileID, err)
	}
	if !rights.Read {
		return "", denied(op, fileID, userID)
	}

	key := fileID
	rec, err := metastore.GetFile(ctx, m.meta.DB(), fileID)
	if err != nil {
		return "", opError(op, fileID, err)
	}
	if rec != nil {
		key = rec.ObjectKey
	}

	url, err := m.store.PresignGet(ctx, key, m.cfg.LinkTTL)
	if err != nil {
		return "", opError(op, fileID, err)
	}
	return url, nil
}

// FileInfo returns the metadata record for a file the user can read.
func (m *Manager) FileInfo(ctx context.Context, userID int64, fileID string) (*metastore.FileRecord, error) {
	const op = "FileInfo"

	rights, err := m.resolver.FileRights(ctx, userID, fileID)
	if err != nil {
		return nil, opError(op, fileID, err)
	}
	if !rights.Read {
		return nil, denied(op, fileID, userID)
	}

	rec, err := metastore.GetFile(ctx, m.meta.DB(), fileID)
	if err != nil {
		return nil, opError(op, fileID, err)
	}
	if rec == nil {
		return nil, opError(op, fileID, objstore.ErrNotFound)
	}
	return rec, nil
}
