package dsm

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/lakefront/depot/pkg/access"
	"github.com/lakefront/depot/pkg/metastore"
)

// DirectorySize returns the aggregate byte count under a prefix. The prefix's
// leading segment scopes authorization: project prefixes require read rights
// on that project. Computed sizes are cached and served until the staleness
// window elapses; deletes and clones under the prefix invalidate the entry.
func (m *Manager) DirectorySize(ctx context.Context, userID int64, prefix string) (int64, error) {
	const op = "DirectorySize"

	if err := m.authorizePrefix(ctx, userID, prefix); err != nil {
		return 0, opError(op, prefix, err)
	}

	m.sizeMu.Lock()
	if entry, ok := m.sizeCache[prefix]; ok && time.Since(entry.computed) < m.cfg.DirSizeStaleness {
		m.sizeMu.Unlock()
		return entry.size, nil
	}
	m.sizeMu.Unlock()

	meta, err := m.store.DirectorySize(ctx, prefix)
	if err != nil {
		return 0, opError(op, prefix, err)
	}

	m.sizeMu.Lock()
	m.sizeCache[prefix] = sizeEntry{size: meta.Size, computed: time.Now()}
	m.sizeMu.Unlock()

	m.logger.Debug("computed directory size",
		zap.String("prefix", prefix),
		zap.Int64("size", meta.Size))
	return meta.Size, nil
}

// invalidateSizeCache drops cached sizes for the prefix and everything above
// and below it.
func (m *Manager) invalidateSizeCache(prefix string) {
	m.sizeMu.Lock()
	defer m.sizeMu.Unlock()
	for cached := range m.sizeCache {
		if strings.HasPrefix(cached, prefix) || strings.HasPrefix(prefix, cached) {
			delete(m.sizeCache, cached)
		}
	}
}

// authorizePrefix maps a listing prefix onto the rights model: project-shaped
// prefixes need project read rights, api prefixes are implicitly owned, and
// exports prefixes only open for the user whose ID they embed. A bucket-wide
// (empty) prefix has no rights subject and is always refused.
func (m *Manager) authorizePrefix(ctx context.Context, userID int64, prefix string) error {
	head, rest, _ := strings.Cut(strings.TrimSuffix(prefix, "/"), "/")
	switch head {
	case "":
		return denied("authorizePrefix", prefix, userID)
	case "api":
		return nil
	case "exports":
		owner, _, _ := strings.Cut(rest, "/")
		uid, err := strconv.ParseInt(owner, 10, 64)
		if err != nil || uid <= 0 || uid != userID {
			return denied("authorizePrefix", prefix, userID)
		}
		return nil
	default:
		rights, err := m.resolver.ProjectRights(ctx, userID, head)
		if err != nil {
			return err
		}
		if !rights.Read {
			return denied("authorizePrefix", prefix, userID)
		}
		return nil
	}
}

// SearchFiles returns the metadata records visible to the user whose
// identifiers start with prefix, optionally narrowed by a doublestar glob
// pattern matched against the full identifier. Visibility is ownership plus
// membership-readable projects; the query never touches the backend.
func (m *Manager) SearchFiles(ctx context.Context, userID int64, prefix, pattern string) ([]metastore.FileRecord, error) {
	const op = "SearchFiles"

	if pattern != "" && !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("%s: malformed glob pattern %q: %w", op, pattern, access.ErrInvalidIdentifier)
	}

	readable, err := m.resolver.ReadableProjects(ctx, userID)
	if err != nil {
		return nil, opError(op, prefix, err)
	}

	records, err := metastore.ListFileIDsByPrefix(ctx, m.meta.DB(), prefix, userID, readable)
	if err != nil {
		return nil, opError(op, prefix, err)
	}
	if pattern == "" {
		return records, nil
	}

	filtered := records[:0]
	for _, rec := range records {
		ok, matchErr := doublestar.Match(pattern, rec.FileID)
		if matchErr != nil {
			return nil, opError(op, pattern, matchErr)
		}
		if ok {
			filtered = append(filtered, rec)
		}
	}
	return filtered, nil
}
