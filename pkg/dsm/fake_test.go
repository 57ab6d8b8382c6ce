package dsm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lakefront/depot/pkg/objstore"
)

// fakeStore is an in-memory ObjectStore for manager tests. It tracks enough
// state to observe what the manager did: objects by key, open sessions, abort
// and size-computation counts.
type fakeStore struct {
	mu       sync.Mutex
	objects  map[string]objstore.ObjectMetadata
	sessions map[string]string // upload ID -> key
	nextID   int

	ongoing      []objstore.OngoingSession
	aborted      []string
	dirSizeCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		objects:  make(map[string]objstore.ObjectMetadata),
		sessions: make(map[string]string),
	}
}

func (f *fakeStore) putObject(key string, size int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = objstore.ObjectMetadata{
		Key:          key,
		Size:         size,
		ETag:         "etag-" + key,
		LastModified: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC),
	}
}

func (f *fakeStore) sortedKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (f *fakeStore) Bucket() string { return "test-bucket" }

func (f *fakeStore) Head(ctx context.Context, key string) (objstore.ObjectMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[key]
	if !ok {
		return objstore.ObjectMetadata{}, objstore.ErrNotFound
	}
	return obj, nil
}

func (f *fakeStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *fakeStore) DeleteRecursive(ctx context.Context, prefix string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			delete(f.objects, k)
		}
	}
	return nil
}

func (f *fakeStore) CopyRecursiveMapped(ctx context.Context, srcPrefix, dstPrefix string, mapKey objstore.KeyMapFunc, progress objstore.ProgressFunc) error {
	for _, k := range f.sortedKeys() {
		if strings.HasPrefix(k, dstPrefix) {
			return objstore.ErrDestinationNotEmpty
		}
	}
	for _, k := range f.sortedKeys() {
		if !strings.HasPrefix(k, srcPrefix) {
			continue
		}
		dst, ok := mapKey(k)
		if !ok {
			continue
		}
		f.mu.Lock()
		src := f.objects[k]
		f.objects[dst] = objstore.ObjectMetadata{
			Key:          dst,
			Size:         src.Size,
			ETag:         "etag-" + dst,
			LastModified: src.LastModified,
		}
		f.mu.Unlock()
		if progress != nil {
			progress(src.Size, dst)
		}
	}
	return nil
}

func (f *fakeStore) DirectorySize(ctx context.Context, prefix string) (objstore.DirectoryMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirSizeCalls++
	var size int64
	for k, obj := range f.objects {
		if strings.HasPrefix(k, prefix) {
			size += obj.Size
		}
	}
	return objstore.DirectoryMetadata{Prefix: prefix, Size: size}, nil
}

func (f *fakeStore) ForEachObject(ctx context.Context, prefix string, fn func(objstore.ObjectMetadata) error) error {
	for _, k := range f.sortedKeys() {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		f.mu.Lock()
		obj := f.objects[k]
		f.mu.Unlock()
		if err := fn(obj); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeStore) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[key]; !ok {
		return "", objstore.ErrNotFound
	}
	return "https://signed.test/get/" + key, nil
}

func (f *fakeStore) PresignPut(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "https://signed.test/put/" + key, nil
}

func (f *fakeStore) CreateMultipartSession(ctx context.Context, key string, totalSize int64, expiry time.Duration, sha256Checksum string) (*objstore.MultipartSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("upload-%d", f.nextID)
	f.sessions[id] = key
	return &objstore.MultipartSession{
		UploadID:  id,
		Key:       key,
		ChunkSize: 10 << 20,
		PartURLs:  []string{"https://signed.test/part/" + key + "/1", "https://signed.test/part/" + key + "/2"},
	}, nil
}

func (f *fakeStore) CompleteMultipartSession(ctx context.Context, session *objstore.MultipartSession, parts []objstore.UploadedPart) (string, error) {
	f.mu.Lock()
	key, ok := f.sessions[session.UploadID]
	if !ok {
		f.mu.Unlock()
		return "", objstore.ErrNotFound
	}
	delete(f.sessions, session.UploadID)
	f.mu.Unlock()

	f.putObject(key, int64(len(parts))*1024)
	return "etag-" + key, nil
}

func (f *fakeStore) AbortMultipartSession(ctx context.Context, session *objstore.MultipartSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, session.UploadID)
	f.aborted = append(f.aborted, session.UploadID)
	return nil
}

func (f *fakeStore) ListOngoingSessions(ctx context.Context, prefix string) ([]objstore.OngoingSession, error) {
	return f.ongoing, nil
}

var _ ObjectStore = (*fakeStore)(nil)
