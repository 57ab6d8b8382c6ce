package objstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeChunks(t *testing.T) {
	tests := []struct {
		name      string
		totalSize int64
		wantParts int
		wantChunk int64
		wantErr   error
	}{
		{"empty payload", 0, 1, 10 * mib, nil},
		{"single byte", 1, 1, 10 * mib, nil},
		{"exactly one chunk", 10 * mib, 1, 10 * mib, nil},
		{"one byte over", 10*mib + 1, 2, 10 * mib, nil},
		{"ten thousand small parts", 10000 * 10 * mib, 10000, 10 * mib, nil},
		{"just past small ceiling", 10000*10*mib + 1, 2001, 50 * mib, nil},
		{"one terabyte", 1 << 40, 5243, 200 * mib, nil},
		{"max addressable", 10000 * 5 * gib, 10000, 5 * gib, nil},
		{"beyond part limit", 10000*5*gib + 1, 0, 0, ErrTooManyParts},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parts, chunk, err := computeChunks(tt.totalSize)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantParts, parts)
			assert.Equal(t, tt.wantChunk, chunk)
		})
	}
}

func TestCreateMultipartSession(t *testing.T) {
	ctx := context.Background()
	api := newFakeS3()
	c := newTestClient(api)

	session, err := c.CreateMultipartSession(ctx, "proj/node/data.bin", 25*mib, time.Hour, "abc123")
	require.NoError(t, err)

	assert.NotEmpty(t, session.UploadID)
	assert.Equal(t, "proj/node/data.bin", session.Key)
	assert.Equal(t, 10*mib, session.ChunkSize)
	require.Len(t, session.PartURLs, 3)
	for i, url := range session.PartURLs {
		assert.Equal(t, fmt.Sprintf("https://signed.test/part/proj/node/data.bin/%d", i+1), url)
	}
}

func TestCreateMultipartSessionTooLarge(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(newFakeS3())

	_, err := c.CreateMultipartSession(ctx, "big.bin", 10000*5*gib+1, time.Hour, "")
	require.ErrorIs(t, err, ErrTooManyParts)
}

func TestCreateMultipartSessionPresignFailureAborts(t *testing.T) {
	ctx := context.Background()
	api := newFakeS3()
	c := newWithAPI(api, &fakePresigner{err: fmt.Errorf("signer offline")}, "test-bucket", nil)

	_, err := c.CreateMultipartSession(ctx, "data.bin", 25*mib, time.Hour, "")
	require.Error(t, err)

	// The session must not linger on the backend.
	sessions, err := c.ListOngoingSessions(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestCompleteMultipartSession(t *testing.T) {
	ctx := context.Background()
	api := newFakeS3()
	c := newTestClient(api)

	session, err := c.CreateMultipartSession(ctx, "data.bin", 25*mib, time.Hour, "")
	require.NoError(t, err)

	// Simulate the out-of-band part uploads.
	for i := 1; i <= 3; i++ {
		api.mu.Lock()
		api.uploads[session.UploadID].parts[int32(i)] = []byte{byte(i)}
		api.mu.Unlock()
	}

	etag, err := c.CompleteMultipartSession(ctx, session, []UploadedPart{
		{Number: 1, ETag: "a"}, {Number: 2, ETag: "b"}, {Number: 3, ETag: "c"},
	})
	require.NoError(t, err)
	assert.Equal(t, "etag-complete", etag)

	ok, err := c.Exists(ctx, "data.bin")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCompleteMultipartSessionRejectsGaps(t *testing.T) {
	ctx := context.Background()
	api := newFakeS3()
	c := newTestClient(api)

	session, err := c.CreateMultipartSession(ctx, "data.bin", 25*mib, time.Hour, "")
	require.NoError(t, err)
	for i := 1; i <= 3; i++ {
		api.mu.Lock()
		api.uploads[session.UploadID].parts[int32(i)] = []byte{byte(i)}
		api.mu.Unlock()
	}

	_, err = c.CompleteMultipartSession(ctx, session, []UploadedPart{
		{Number: 1, ETag: "a"}, {Number: 3, ETag: "c"},
	})
	require.Error(t, err)
}

func TestAbortMultipartSessionIdempotent(t *testing.T) {
	ctx := context.Background()
	api := newFakeS3()
	c := newTestClient(api)

	session, err := c.CreateMultipartSession(ctx, "data.bin", 25*mib, time.Hour, "")
	require.NoError(t, err)

	require.NoError(t, c.AbortMultipartSession(ctx, session))
	// Second abort finds no session; still success.
	require.NoError(t, c.AbortMultipartSession(ctx, session))
}

func TestListOngoingSessions(t *testing.T) {
	ctx := context.Background()
	api := newFakeS3()
	c := newTestClient(api)

	_, err := c.CreateMultipartSession(ctx, "proj-a/n1/x.bin", 25*mib, time.Hour, "")
	require.NoError(t, err)
	_, err = c.CreateMultipartSession(ctx, "proj-b/n2/y.bin", 25*mib, time.Hour, "")
	require.NoError(t, err)

	all, err := c.ListOngoingSessions(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	scoped, err := c.ListOngoingSessions(ctx, "proj-a/")
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "proj-a/n1/x.bin", scoped[0].Key)
	assert.False(t, scoped[0].Initiated.IsZero())
}
