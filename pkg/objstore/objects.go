package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

// Exists reports whether an object with the exact key is present. A missing
// object is false, never an error; connectivity and authorization failures
// are surfaced.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.Head(ctx, key)
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Head returns the metadata snapshot for a single object.
// Fails with ErrNotFound if the key is absent.
func (c *Client) Head(ctx context.Context, key string) (ObjectMetadata, error) {
	var out *s3.HeadObjectOutput
	err := c.withRetry(ctx, "Head", func() error {
		var callErr error
		out, callErr = c.api.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket:       aws.String(c.bucket),
			Key:          aws.String(key),
			ChecksumMode: types.ChecksumModeEnabled,
		})
		return c.wrapErr("Head", key, callErr)
	})
	if err != nil {
		return ObjectMetadata{}, err
	}
	return ObjectMetadata{
		Key:            key,
		Size:           aws.ToInt64(out.ContentLength),
		LastModified:   aws.ToTime(out.LastModified),
		ETag:           cleanETag(aws.ToString(out.ETag)),
		SHA256Checksum: aws.ToString(out.ChecksumSHA256),
	}, nil
}

// Delete removes a single object. Deleting an absent key is a no-op on the
// backend and treated as success.
func (c *Client) Delete(ctx context.Context, key string) error {
	return c.withRetry(ctx, "Delete", func() error {
		_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
		})
		return c.wrapErr("Delete", key, err)
	})
}

// Undelete restores the visibility of an object on a versioned bucket by
// removing its most recent delete marker. It does not resurrect versions
// beyond that marker. Fails with ErrNotFound when the key has no version or
// delete-marker history at all.
func (c *Client) Undelete(ctx context.Context, key string) error {
	out, err := c.api.ListObjectVersions(ctx, &s3.ListObjectVersionsInput{
		Bucket:  aws.String(c.bucket),
		Prefix:  aws.String(key),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return c.wrapErr("Undelete", key, err)
	}

	if !aws.ToBool(out.IsTruncated) && len(out.Versions) == 0 && len(out.DeleteMarkers) == 0 {
		return &StoreError{Op: "Undelete", Bucket: c.bucket, Key: key, Err: ErrNotFound}
	}
	if len(out.DeleteMarkers) == 0 {
		// Object is already visible.
		return nil
	}

	latest := out.DeleteMarkers[0]
	if !aws.ToBool(latest.IsLatest) {
		return nil
	}
	_, err = c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket:    aws.String(c.bucket),
		Key:       aws.String(key),
		VersionId: latest.VersionId,
	})
	if err != nil {
		return c.wrapErr("Undelete", key, err)
	}
	c.logger.Debug("restored object", zap.String("key", key))
	return nil
}

// ChunkReader yields the content of an object as a finite sequence of byte
// chunks fetched via successive range requests. Memory use is bounded by the
// chunk size regardless of object size. Not restartable: create a new reader
// to re-read.
type ChunkReader struct {
	client    *Client
	key       string
	size      int64
	chunkSize int64
	position  int64
}

// Size returns the total object size captured when the reader was created.
func (r *ChunkReader) Size() int64 {
	return r.size
}

// Next returns the next chunk, or io.EOF when the object is exhausted.
func (r *ChunkReader) Next(ctx context.Context) ([]byte, error) {
	if r.position >= r.size {
		return nil, io.EOF
	}
	end := r.position + r.chunkSize - 1
	if end > r.size-1 {
		end = r.size - 1
	}

	var chunk []byte
	err := r.client.withRetry(ctx, "StreamRead", func() error {
		out, callErr := r.client.api.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(r.client.bucket),
			Key:    aws.String(r.key),
			Range:  aws.String(rangeHeader(r.position, end)),
		})
		if callErr != nil {
			return r.client.wrapErr("StreamRead", r.key, callErr)
		}
		defer func() { _ = out.Body.Close() }()
		data, readErr := io.ReadAll(out.Body)
		if readErr != nil {
			return r.client.wrapErr("StreamRead", r.key, readErr)
		}
		chunk = data
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.position = end + 1
	return chunk, nil
}

// StreamRead opens a chunked reader over an object. The object size is pinned
// with a head call up front so the range loop terminates deterministically.
func (c *Client) StreamRead(ctx context.Context, key string, chunkSize int64) (*ChunkReader, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultReadChunkSize
	}
	meta, err := c.Head(ctx, key)
	if err != nil {
		return nil, err
	}
	return &ChunkReader{
		client:    c,
		key:       key,
		size:      meta.Size,
		chunkSize: chunkSize,
	}, nil
}

// DefaultReadChunkSize is the range-GET size used by StreamRead when the
// caller does not choose one.
const DefaultReadChunkSize int64 = 8 * 1024 * 1024

// StreamWrite uploads from r without buffering the whole payload: content is
// consumed in part-sized chunks and shipped through a multipart session.
// Payloads that fit a single part degrade to a plain put. The session is
// aborted on any failure so no orphaned parts accumulate.
func (c *Client) StreamWrite(ctx context.Context, key string, r io.Reader) error {
	partSize := partSizeLadder[0]
	buf := make([]byte, partSize)

	// First chunk decides between single put and multipart.
	n, readErr := io.ReadFull(r, buf)
	if readErr != nil && !errors.Is(readErr, io.EOF) && !errors.Is(readErr, io.ErrUnexpectedEOF) {
		return &StoreError{Op: "StreamWrite", Bucket: c.bucket, Key: key, Err: readErr}
	}
	if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
		_, err := c.api.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(c.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(buf[:n]),
			ContentLength: aws.Int64(int64(n)),
		})
		return c.wrapErr("StreamWrite", key, err)
	}

	create, err := c.api.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return c.wrapErr("StreamWrite", key, err)
	}
	uploadID := aws.ToString(create.UploadId)

	abort := func() {
		_, abortErr := c.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(c.bucket),
			Key:      aws.String(key),
			UploadId: aws.String(uploadID),
		})
		if abortErr != nil {
			c.logger.Warn("failed to abort streaming upload", zap.String("key", key), zap.Error(abortErr))
		}
	}

	var completed []types.CompletedPart
	partNumber := int32(1)
	chunk := buf[:n]
	for {
		out, upErr := c.api.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        aws.String(c.bucket),
			Key:           aws.String(key),
			UploadId:      aws.String(uploadID),
			PartNumber:    aws.Int32(partNumber),
			Body:          bytes.NewReader(chunk),
			ContentLength: aws.Int64(int64(len(chunk))),
		})
		if upErr != nil {
			abort()
			return c.wrapErr("StreamWrite", key, upErr)
		}
		completed = append(completed, types.CompletedPart{
			ETag:       out.ETag,
			PartNumber: aws.Int32(partNumber),
		})
		partNumber++

		n, readErr = io.ReadFull(r, buf)
		if readErr != nil && !errors.Is(readErr, io.EOF) && !errors.Is(readErr, io.ErrUnexpectedEOF) {
			abort()
			return &StoreError{Op: "StreamWrite", Bucket: c.bucket, Key: key, Err: readErr}
		}
		if n > 0 {
			chunk = buf[:n]
			continue
		}
		break
	}

	_, err = c.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(c.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		abort()
		return c.wrapErr("StreamWrite", key, err)
	}
	return nil
}

func rangeHeader(start, end int64) string {
	return fmt.Sprintf("bytes=%d-%d", start, end)
}
