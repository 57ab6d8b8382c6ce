// Package dsm orchestrates logical file operations across the object store,
// the metadata store, and the access resolver.
//
// Every operation follows the same shape: authorize against the resolver,
// touch the physical backend, then bring the metadata index in line. Where a
// step can fail after another has succeeded, the ordering is chosen so the
// failure mode is an orphaned physical object (invisible, collectable) rather
// than a dangling metadata record pointing at nothing.
package dsm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lakefront/depot/pkg/access"
	"github.com/lakefront/depot/pkg/metastore"
	"github.com/lakefront/depot/pkg/objstore"
)

// ErrInconsistentState marks a metadata record whose physical counterpart
// never materialized: reconciliation exhausted its attempt ceiling.
var ErrInconsistentState = fmt.Errorf("inconsistent metadata state")

const (
	// DefaultLinkTTL bounds the validity of issued presigned links.
	DefaultLinkTTL = time.Hour

	// DefaultReconcileAttempts is the hard ceiling on reconciliation polls
	// for a single upload before it is declared inconsistent.
	DefaultReconcileAttempts = 50

	// DefaultReconcileBaseDelay seeds the exponential backoff between polls.
	DefaultReconcileBaseDelay = 500 * time.Millisecond

	// DefaultReconcileMaxDelay caps the backoff growth.
	DefaultReconcileMaxDelay = 30 * time.Second

	// DefaultDirSizeStaleness is how long a computed directory size is served
	// from cache before being recomputed.
	DefaultDirSizeStaleness = 5 * time.Minute
)

// ObjectStore is the slice of the object-store client the manager drives.
// Satisfied by *objstore.Client; narrowed so tests can substitute a fake.
type ObjectStore interface {
	Bucket() string
	Head(ctx context.Context, key string) (objstore.ObjectMetadata, error)
	Delete(ctx context.Context, key string) error
	DeleteRecursive(ctx context.Context, prefix string) error
	CopyRecursiveMapped(ctx context.Context, srcPrefix, dstPrefix string, mapKey objstore.KeyMapFunc, progress objstore.ProgressFunc) error
	DirectorySize(ctx context.Context, prefix string) (objstore.DirectoryMetadata, error)
	ForEachObject(ctx context.Context, prefix string, fn func(objstore.ObjectMetadata) error) error
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
	PresignPut(ctx context.Context, key string, expiry time.Duration) (string, error)
	CreateMultipartSession(ctx context.Context, key string, totalSize int64, expiry time.Duration, sha256Checksum string) (*objstore.MultipartSession, error)
	CompleteMultipartSession(ctx context.Context, session *objstore.MultipartSession, parts []objstore.UploadedPart) (string, error)
	AbortMultipartSession(ctx context.Context, session *objstore.MultipartSession) error
	ListOngoingSessions(ctx context.Context, prefix string) ([]objstore.OngoingSession, error)
}

// Resolver is the access-rights surface the manager consults before every
// operation. Satisfied by *access.Resolver.
type Resolver interface {
	ProjectRights(ctx context.Context, userID int64, projectID string) (access.Rights, error)
	FileRights(ctx context.Context, userID int64, fileID string) (access.Rights, error)
	ReadableProjects(ctx context.Context, userID int64) ([]string, error)
}

// Config tunes the manager. The zero value is usable; unset fields take the
// Default* values above.
type Config struct {
	LinkTTL time.Duration

	// MultipartThreshold is the payload size at or above which upload links
	// are issued as multipart sessions instead of a single presigned PUT.
	MultipartThreshold int64

	ReconcileAttempts  int
	ReconcileBaseDelay time.Duration
	ReconcileMaxDelay  time.Duration

	DirSizeStaleness time.Duration
}

func (c *Config) applyDefaults() {
	if c.LinkTTL <= 0 {
		c.LinkTTL = DefaultLinkTTL
	}
	if c.MultipartThreshold <= 0 {
		c.MultipartThreshold = objstore.MultipartMinSize
	}
	if c.ReconcileAttempts <= 0 {
		c.ReconcileAttempts = DefaultReconcileAttempts
	}
	if c.ReconcileBaseDelay <= 0 {
		c.ReconcileBaseDelay = DefaultReconcileBaseDelay
	}
	if c.ReconcileMaxDelay <= 0 {
		c.ReconcileMaxDelay = DefaultReconcileMaxDelay
	}
	if c.DirSizeStaleness <= 0 {
		c.DirSizeStaleness = DefaultDirSizeStaleness
	}
}

// Manager is the data storage manager.
type Manager struct {
	store    ObjectStore
	meta     *metastore.Store
	resolver Resolver
	cfg      Config
	logger   *zap.Logger

	// Background reconcilers; Close cancels and drains them.
	bg       sync.WaitGroup
	bgCtx    context.Context
	bgCancel context.CancelFunc

	sizeMu    sync.Mutex
	sizeCache map[string]sizeEntry
}

type sizeEntry struct {
	size     int64
	computed time.Time
}

// New builds a manager. All dependencies are required.
func New(store ObjectStore, meta *metastore.Store, resolver Resolver, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:     store,
		meta:      meta,
		resolver:  resolver,
		cfg:       cfg,
		logger:    logger,
		bgCtx:     ctx,
		bgCancel:  cancel,
		sizeCache: make(map[string]sizeEntry),
	}
}

// Close stops background reconciliation and waits for in-flight pollers.
func (m *Manager) Close() {
	m.bgCancel()
	m.bg.Wait()
}

// opError stamps an error with the failed operation and identifier.
func opError(op, id string, err error) error {
	return fmt.Errorf("%s: %s: %w", op, id, err)
}

// denied is the uniform authorization failure.
func denied(op, id string, userID int64) error {
	return fmt.Errorf("%s: %s: user %d: %w", op, id, userID, objstore.ErrAccessDenied)
}
