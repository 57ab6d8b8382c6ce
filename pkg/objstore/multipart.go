package objstore

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

const (
	mib = int64(1) << 20
	gib = int64(1) << 30

	// MultipartMinSize is the payload size at and above which uploads go
	// through a multipart session instead of a single presigned put.
	MultipartMinSize = 100 * mib

	// MultipartCopyThreshold is the object size above which CopyObject
	// switches to the multipart-copy path. Single-call copies fail or
	// truncate on many backends well below the 5 GiB API ceiling, so the
	// switch happens early.
	MultipartCopyThreshold = 100 * mib

	// maxPartCount is the backend's part-count ceiling per upload.
	maxPartCount = 10000
)

// partSizeLadder holds the candidate chunk sizes for multipart uploads,
// smallest first. The chunking policy walks the ladder and picks the first
// size whose part count fits under maxPartCount, so chunk size grows with
// payload size. The top rung is the backend's maximum part size.
var partSizeLadder = []int64{
	10 * mib,
	50 * mib,
	100 * mib,
	200 * mib,
	400 * mib,
	800 * mib,
	1600 * mib,
	3200 * mib,
	5 * gib,
}

// computeChunks derives the part count and chunk size for a payload of
// totalSize bytes. Fails with ErrTooManyParts when even the largest chunk
// size would exceed the part-count ceiling.
func computeChunks(totalSize int64) (int, int64, error) {
	for _, chunk := range partSizeLadder {
		count := totalSize / chunk
		if totalSize%chunk != 0 {
			count++
		}
		if count == 0 {
			count = 1
		}
		if count <= maxPartCount {
			return int(count), chunk, nil
		}
	}
	return 0, 0, ErrTooManyParts
}

// MultipartSession is the handle for an in-progress multipart upload: the
// backend upload identifier, the negotiated chunk size, and one presigned
// URL per part, each expiring independently.
type MultipartSession struct {
	UploadID  string
	Key       string
	ChunkSize int64
	PartURLs  []string
}

// UploadedPart pairs a part number with the ETag the backend returned for it.
// Completion requires a dense 1..N sequence of part numbers.
type UploadedPart struct {
	Number int32
	ETag   string
}

// CreateMultipartSession initiates a multipart upload for a payload of the
// announced size and presigns one upload URL per part. The optional checksum
// is recorded as object metadata so reconciliation can verify it later.
func (c *Client) CreateMultipartSession(ctx context.Context, key string, totalSize int64, expiry time.Duration, sha256Checksum string) (*MultipartSession, error) {
	// The bucket probe keeps an unusable session from ever being handed out.
	if _, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return nil, c.wrapErr("CreateMultipartSession", key, err)
	}

	numParts, chunkSize, err := computeChunks(totalSize)
	if err != nil {
		return nil, &StoreError{Op: "CreateMultipartSession", Bucket: c.bucket, Key: key, Err: err}
	}

	input := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}
	if sha256Checksum != "" {
		input.Metadata = map[string]string{"sha256_checksum": sha256Checksum}
	}
	create, err := c.api.CreateMultipartUpload(ctx, input)
	if err != nil {
		return nil, c.wrapErr("CreateMultipartSession", key, err)
	}
	uploadID := aws.ToString(create.UploadId)

	urls := make([]string, numParts)
	for i := range urls {
		req, presignErr := c.presigner.PresignUploadPart(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(c.bucket),
			Key:        aws.String(key),
			UploadId:   aws.String(uploadID),
			PartNumber: aws.Int32(int32(i + 1)),
		}, s3.WithPresignExpires(expiry))
		if presignErr != nil {
			// Session is unusable; release it before reporting.
			c.abortUpload(ctx, key, uploadID)
			return nil, c.wrapErr("CreateMultipartSession", key, presignErr)
		}
		urls[i] = req.URL
	}

	c.logger.Debug("created multipart session",
		zap.String("key", key),
		zap.Int64("total_size", totalSize),
		zap.Int("parts", numParts),
		zap.Int64("chunk_size", chunkSize))

	return &MultipartSession{
		UploadID:  uploadID,
		Key:       key,
		ChunkSize: chunkSize,
		PartURLs:  urls,
	}, nil
}

// CompleteMultipartSession stitches independently uploaded parts into the
// final object and returns the backend's content fingerprint. The backend
// validates that part numbers form a dense contiguous sequence. Completion is
// not idempotent and is never retried here: on failure the caller decides
// whether to resume or abort.
func (c *Client) CompleteMultipartSession(ctx context.Context, session *MultipartSession, parts []UploadedPart) (string, error) {
	completed := make([]types.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(p.Number),
		}
	}
	out, err := c.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(c.bucket),
		Key:             aws.String(session.Key),
		UploadId:        aws.String(session.UploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return "", c.wrapErr("CompleteMultipartSession", session.Key, err)
	}
	return cleanETag(aws.ToString(out.ETag)), nil
}

// AbortMultipartSession releases an upload session and the storage its parts
// consume. Idempotent: aborting an already-completed or already-aborted
// session is a no-op.
func (c *Client) AbortMultipartSession(ctx context.Context, session *MultipartSession) error {
	_, err := c.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(c.bucket),
		Key:      aws.String(session.Key),
		UploadId: aws.String(session.UploadID),
	})
	if err != nil {
		terr := translate(err)
		if IsNotFound(terr) {
			return nil
		}
		return &StoreError{Op: "AbortMultipartSession", Bucket: c.bucket, Key: session.Key, Err: terr}
	}
	return nil
}

// OngoingSession identifies an uncompleted multipart upload on the backend.
type OngoingSession struct {
	UploadID  string
	Key       string
	Initiated time.Time
}

// ListOngoingSessions returns every multipart upload that was initiated but
// neither completed nor aborted. Abandoned sessions consume backend storage
// until reaped; the gc command feeds on this listing.
//
// Some S3-compatible stores only report uploads when a prefix is supplied, so
// callers may pass one; empty lists the whole bucket on AWS.
func (c *Client) ListOngoingSessions(ctx context.Context, prefix string) ([]OngoingSession, error) {
	input := &s3.ListMultipartUploadsInput{Bucket: aws.String(c.bucket)}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}

	var sessions []OngoingSession
	for {
		out, err := c.api.ListMultipartUploads(ctx, input)
		if err != nil {
			return nil, c.wrapErr("ListOngoingSessions", prefix, err)
		}
		for _, u := range out.Uploads {
			sessions = append(sessions, OngoingSession{
				UploadID:  aws.ToString(u.UploadId),
				Key:       aws.ToString(u.Key),
				Initiated: aws.ToTime(u.Initiated),
			})
		}
		if !aws.ToBool(out.IsTruncated) {
			return sessions, nil
		}
		input.KeyMarker = out.NextKeyMarker
		input.UploadIdMarker = out.NextUploadIdMarker
	}
}

// abortUpload is the best-effort cleanup used on construction failures.
func (c *Client) abortUpload(ctx context.Context, key, uploadID string) {
	_, err := c.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(c.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		c.logger.Warn("failed to abort multipart upload",
			zap.String("key", key),
			zap.String("upload_id", uploadID),
			zap.Error(err))
	}
}
