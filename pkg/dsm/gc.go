package dsm

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lakefront/depot/pkg/metastore"
	"github.com/lakefront/depot/pkg/objstore"
)

// GCReport summarizes one garbage-collection sweep.
type GCReport struct {
	SessionsAborted int
	RecordsRemoved  int
}

// CollectGarbage reaps the two kinds of debris an out-of-band upload flow
// accumulates: multipart sessions on the backend that were initiated but
// never completed or aborted, and provisional metadata records whose upload
// was never observed. Only debris older than maxAge is touched, so in-flight
// uploads stay untouched. Failures on individual items are logged and
// skipped; the sweep itself only fails when listing does.
func (m *Manager) CollectGarbage(ctx context.Context, maxAge time.Duration) (GCReport, error) {
	const op = "CollectGarbage"
	cutoff := time.Now().Add(-maxAge)
	var report GCReport

	sessions, err := m.store.ListOngoingSessions(ctx, "")
	if err != nil {
		return report, opError(op, "sessions", err)
	}
	for _, s := range sessions {
		if s.Initiated.After(cutoff) {
			continue
		}
		session := &objstore.MultipartSession{UploadID: s.UploadID, Key: s.Key}
		if err := m.store.AbortMultipartSession(ctx, session); err != nil {
			m.logger.Warn("failed to abort stale session",
				zap.String("key", s.Key),
				zap.String("upload_id", s.UploadID),
				zap.Error(err))
			continue
		}
		report.SessionsAborted++
		m.logger.Info("aborted stale multipart session",
			zap.String("key", s.Key),
			zap.Time("initiated", s.Initiated))
	}

	records, err := metastore.ListProvisionalBefore(ctx, m.meta.DB(), cutoff)
	if err != nil {
		return report, opError(op, "records", err)
	}
	for _, rec := range records {
		if err := metastore.DeleteFile(ctx, m.meta.DB(), rec.FileID); err != nil {
			m.logger.Warn("failed to remove provisional record",
				zap.String("file_id", rec.FileID),
				zap.Error(err))
			continue
		}
		report.RecordsRemoved++
		m.logger.Info("removed stale provisional record",
			zap.String("file_id", rec.FileID),
			zap.Time("created_at", rec.CreatedAt))
	}

	return report, nil
}
