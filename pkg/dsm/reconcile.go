package dsm

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lakefront/depot/pkg/metastore"
	"github.com/lakefront/depot/pkg/objstore"
)

// uploadBaseline is the physical state observed at link issuance: either no
// object at the key, or the previous version's size and timestamp. The poller
// compares against it so an overwrite upload is only reconciled once the new
// payload has replaced the old object, never against the stale one.
type uploadBaseline struct {
	exists       bool
	size         int64
	lastModified time.Time
}

// unchanged reports whether the observed object is still the pre-upload one.
func (b uploadBaseline) unchanged(meta objstore.ObjectMetadata) bool {
	return b.exists && meta.Size == b.size && meta.LastModified.Equal(b.lastModified)
}

// spawnReconciler starts a background poller that waits for the object behind
// a presigned single-PUT link to land and then stamps the metadata record with
// the observed physical state. The caller returns immediately; the poller is
// bounded by the attempt ceiling and drained on Close.
func (m *Manager) spawnReconciler(fileID string, baseline uploadBaseline) {
	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		if err := m.reconcile(m.bgCtx, fileID, baseline); err != nil {
			m.logger.Error("upload reconciliation failed",
				zap.String("file_id", fileID),
				zap.Error(err))
		}
	}()
}

// reconcile polls the backend for the uploaded object with exponential
// backoff. Exhausting the attempt ceiling leaves the record provisional and
// reports ErrInconsistentState; the record is then only reachable through gc.
func (m *Manager) reconcile(ctx context.Context, fileID string, baseline uploadBaseline) error {
	delay := m.cfg.ReconcileBaseDelay

	for attempt := 1; attempt <= m.cfg.ReconcileAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > m.cfg.ReconcileMaxDelay {
			delay = m.cfg.ReconcileMaxDelay
		}

		rec, err := metastore.GetFile(ctx, m.meta.DB(), fileID)
		if err != nil {
			return err
		}
		if rec == nil {
			// Aborted while we slept; nothing left to reconcile.
			return nil
		}
		if rec.SizeBytes >= 0 && rec.UploadID == "" {
			return nil
		}

		meta, err := m.store.Head(ctx, rec.ObjectKey)
		if objstore.IsNotFound(err) {
			m.logger.Debug("upload not yet observable",
				zap.String("file_id", fileID),
				zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			if objstore.IsRetryable(err) {
				continue
			}
			return err
		}
		if baseline.unchanged(meta) {
			m.logger.Debug("object unchanged since link issuance",
				zap.String("file_id", fileID),
				zap.Int("attempt", attempt))
			continue
		}

		checksum := meta.SHA256Checksum
		if checksum == "" {
			checksum = rec.SHA256Checksum
		}
		if err := metastore.UpdateOnReconcile(ctx, m.meta.DB(), fileID,
			meta.Size, checksum, meta.ETag, meta.LastModified); err != nil {
			return err
		}
		m.logger.Info("reconciled upload",
			zap.String("file_id", fileID),
			zap.Int64("size", meta.Size),
			zap.Int("attempt", attempt))
		return nil
	}

	return opError("Reconcile", fileID, ErrInconsistentState)
}
