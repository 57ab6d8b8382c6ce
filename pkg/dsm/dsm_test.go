package dsm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lakefront/depot/pkg/access"
	"github.com/lakefront/depot/pkg/metastore"
)

const (
	projA = "6f1d2c3b-4a5e-4f60-8b7c-9d0e1f2a3b4c"
	nodeA = "0a1b2c3d-4e5f-4a6b-8c7d-9e0f1a2b3c4d"
	projB = "7e2f3a4b-5c6d-4e7f-9a8b-0c1d2e3f4a5b"
	nodeB = "8f3a4b5c-6d7e-4f80-a9b1-2c3d4e5f6a7b"
)

// testConfig keeps reconciliation fast enough for unit tests: millisecond
// polls instead of the production backoff, with enough attempts that a test
// staging the object shortly after link issuance always gets observed.
func testConfig() Config {
	return Config{
		MultipartThreshold: 1 << 20,
		ReconcileAttempts:  200,
		ReconcileBaseDelay: time.Millisecond,
		ReconcileMaxDelay:  5 * time.Millisecond,
	}
}

func newTestManager(t *testing.T, cfg Config) (*Manager, *fakeStore, *metastore.Store) {
	t.Helper()

	store := newFakeStore()
	meta, err := metastore.Open(context.Background(), metastore.Config{Path: ":memory:"})
	require.NoError(t, err)

	m := New(store, meta, access.NewResolver(meta.DB(), nil), cfg, zap.NewNop())
	t.Cleanup(func() {
		m.Close()
		_ = meta.Close()
	})
	return m, store, meta
}

func seedProject(t *testing.T, meta *metastore.Store, projectID string, owner int64) {
	t.Helper()
	require.NoError(t, metastore.InsertProject(context.Background(), meta.DB(), metastore.Project{
		UUID:  projectID,
		Name:  "project-" + projectID[:8],
		Owner: owner,
	}))
}
