package objstore

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExists(t *testing.T) {
	ctx := context.Background()
	api := newFakeS3()
	api.put("present", []byte("x"))
	c := newTestClient(api)

	ok, err := c.Exists(ctx, "present")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Exists(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHead(t *testing.T) {
	ctx := context.Background()
	api := newFakeS3()
	api.put("k", []byte("hello"))
	api.mu.Lock()
	obj := api.objects["k"]
	obj.checksum = "sha-value"
	api.objects["k"] = obj
	api.mu.Unlock()
	c := newTestClient(api)

	meta, err := c.Head(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "k", meta.Key)
	assert.Equal(t, int64(5), meta.Size)
	assert.Equal(t, "etag-k", meta.ETag, "quotes must be stripped")
	assert.Equal(t, "sha-value", meta.SHA256Checksum)
	assert.False(t, meta.LastModified.IsZero())

	_, err = c.Head(ctx, "absent")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUndelete(t *testing.T) {
	ctx := context.Background()

	t.Run("no history at all", func(t *testing.T) {
		c := newTestClient(newFakeS3())
		err := c.Undelete(ctx, "never-existed")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("already visible", func(t *testing.T) {
		api := newFakeS3()
		api.versions = []types.ObjectVersion{{Key: aws.String("k"), IsLatest: aws.Bool(true)}}
		c := newTestClient(api)
		require.NoError(t, c.Undelete(ctx, "k"))
	})

	t.Run("latest is a delete marker", func(t *testing.T) {
		api := newFakeS3()
		api.put("k", []byte("old"))
		api.deleteMarkers = []types.DeleteMarkerEntry{{
			Key:       aws.String("k"),
			VersionId: aws.String("v2"),
			IsLatest:  aws.Bool(true),
		}}
		c := newTestClient(api)
		require.NoError(t, c.Undelete(ctx, "k"))
	})

	t.Run("stale marker below a newer version", func(t *testing.T) {
		api := newFakeS3()
		api.deleteMarkers = []types.DeleteMarkerEntry{{
			Key:       aws.String("k"),
			VersionId: aws.String("v1"),
			IsLatest:  aws.Bool(false),
		}}
		c := newTestClient(api)
		require.NoError(t, c.Undelete(ctx, "k"))
	})
}

func TestStreamRead(t *testing.T) {
	ctx := context.Background()
	api := newFakeS3()
	payload := []byte("0123456789abcdef")
	api.put("k", payload)
	c := newTestClient(api)

	r, err := c.StreamRead(ctx, "k", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(16), r.Size())

	var got []byte
	var chunks int
	for {
		chunk, err := r.Next(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, chunk...)
		chunks++
	}
	assert.Equal(t, payload, got)
	assert.Equal(t, 4, chunks)
}

func TestStreamReadMissing(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(newFakeS3())
	_, err := c.StreamRead(ctx, "absent", 5)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStreamWriteSinglePut(t *testing.T) {
	ctx := context.Background()
	api := newFakeS3()
	c := newTestClient(api)

	payload := []byte("small payload")
	require.NoError(t, c.StreamWrite(ctx, "k", bytes.NewReader(payload)))

	api.mu.Lock()
	got := api.objects["k"].data
	api.mu.Unlock()
	assert.Equal(t, payload, got)
	assert.Empty(t, api.uploads)
}

func TestStreamWriteMultipart(t *testing.T) {
	ctx := context.Background()
	api := newFakeS3()
	c := newTestClient(api)

	// One full part plus a remainder forces the multipart path.
	payload := bytes.Repeat([]byte("y"), int(partSizeLadder[0])+512)
	require.NoError(t, c.StreamWrite(ctx, "big", bytes.NewReader(payload)))

	api.mu.Lock()
	got := api.objects["big"].data
	api.mu.Unlock()
	assert.Equal(t, len(payload), len(got))
	assert.Equal(t, payload[:64], got[:64])
	assert.Empty(t, api.uploads, "session must be completed, not abandoned")
}

func TestBucketExists(t *testing.T) {
	ctx := context.Background()

	t.Run("reachable", func(t *testing.T) {
		c := newTestClient(newFakeS3())
		ok, err := c.BucketExists(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("missing bucket is false not error", func(t *testing.T) {
		api := newFakeS3()
		api.errHeadBucket = &types.NotFound{}
		c := newTestClient(api)
		ok, err := c.BucketExists(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("unavailable backend surfaces", func(t *testing.T) {
		api := newFakeS3()
		api.errHeadBucket = assert.AnError
		c := newTestClient(api)
		_, err := c.BucketExists(ctx)
		require.Error(t, err)
	})
}

func TestHealthyAbsorbsErrors(t *testing.T) {
	ctx := context.Background()
	api := newFakeS3()
	c := newTestClient(api)
	assert.True(t, c.Healthy(ctx))

	api.errHeadBucket = assert.AnError
	assert.False(t, c.Healthy(ctx))
}
