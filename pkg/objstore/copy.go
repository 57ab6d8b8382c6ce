package objstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

// ProgressFunc reports transfer progress: bytes moved so far and the key the
// bytes belong to. The copy API gives no incremental signal, so the callback
// fires exactly once per object, at completion, with the full size.
type ProgressFunc func(bytesTransferred int64, key string)

// CopyObject copies a single object within the bucket. Objects above
// MultipartCopyThreshold go through the multipart-copy path transparently;
// single-call copies silently truncate on several backends past that size.
func (c *Client) CopyObject(ctx context.Context, srcKey, dstKey string, progress ProgressFunc) error {
	meta, err := c.Head(ctx, srcKey)
	if err != nil {
		return err
	}

	if meta.Size > MultipartCopyThreshold {
		if err := c.multipartCopy(ctx, srcKey, dstKey, meta.Size); err != nil {
			return err
		}
	} else {
		_, err = c.api.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(c.bucket),
			Key:        aws.String(dstKey),
			CopySource: aws.String(copySource(c.bucket, srcKey)),
		})
		if err != nil {
			return c.wrapErr("CopyObject", dstKey, err)
		}
	}

	if progress != nil {
		progress(meta.Size, dstKey)
	}
	return nil
}

// multipartCopy moves a large object via ranged UploadPartCopy calls with
// TransferConcurrency parts in flight.
func (c *Client) multipartCopy(ctx context.Context, srcKey, dstKey string, size int64) error {
	numParts, chunkSize, err := computeChunks(size)
	if err != nil {
		return &StoreError{Op: "CopyObject", Bucket: c.bucket, Key: dstKey, Err: err}
	}

	create, err := c.api.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(dstKey),
	})
	if err != nil {
		return c.wrapErr("CopyObject", dstKey, err)
	}
	uploadID := aws.ToString(create.UploadId)

	completed := make([]types.CompletedPart, numParts)
	sem := make(chan struct{}, c.transferConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for i := 0; i < numParts; i++ {
		wg.Add(1)
		go func(part int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			mu.Lock()
			failed := firstErr != nil
			mu.Unlock()
			if failed {
				return
			}

			start := int64(part) * chunkSize
			end := start + chunkSize - 1
			if end > size-1 {
				end = size - 1
			}
			out, copyErr := c.api.UploadPartCopy(ctx, &s3.UploadPartCopyInput{
				Bucket:          aws.String(c.bucket),
				Key:             aws.String(dstKey),
				UploadId:        aws.String(uploadID),
				PartNumber:      aws.Int32(int32(part + 1)),
				CopySource:      aws.String(copySource(c.bucket, srcKey)),
				CopySourceRange: aws.String(rangeHeader(start, end)),
			})
			if copyErr != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = c.wrapErr("CopyObject", dstKey, copyErr)
				}
				mu.Unlock()
				return
			}
			completed[part] = types.CompletedPart{
				ETag:       out.CopyPartResult.ETag,
				PartNumber: aws.Int32(int32(part + 1)),
			}
		}(i)
	}
	wg.Wait()

	if firstErr != nil {
		c.abortUpload(ctx, dstKey, uploadID)
		return firstErr
	}

	_, err = c.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(c.bucket),
		Key:             aws.String(dstKey),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		c.abortUpload(ctx, dstKey, uploadID)
		return c.wrapErr("CopyObject", dstKey, err)
	}
	return nil
}

// KeyMapFunc rewrites a source key into its destination key during a
// recursive copy. Returning ok=false skips the object.
type KeyMapFunc func(srcKey string) (dstKey string, ok bool)

// CopyRecursive copies every object under srcPrefix to dstPrefix, recreating
// the same structure with at most CrossObjectConcurrency copies in flight.
//
// The destination must be empty; any existing content fails the whole call
// with ErrDestinationNotEmpty before a single copy is issued. The emptiness
// check and the copies are not covered by any cross-process lock, so a
// concurrent writer can still land objects under dstPrefix in between: an
// accepted race, documented rather than hidden behind locking this layer
// cannot provide.
//
// On failure, sub-copies already issued run to completion or failure before
// the error propagates; already-copied objects are not rolled back.
func (c *Client) CopyRecursive(ctx context.Context, srcPrefix, dstPrefix string, progress ProgressFunc) error {
	mapKey := func(srcKey string) (string, bool) {
		return remapKey(srcKey, srcPrefix, dstPrefix), true
	}
	return c.CopyRecursiveMapped(ctx, srcPrefix, dstPrefix, mapKey, progress)
}

// CopyRecursiveMapped is CopyRecursive with caller-controlled key rewriting,
// for copies that restructure the tree while moving it (a project clone
// renames node directories in flight). dstPrefix is only used for the
// destination-empty check; mapKey decides where each object lands.
func (c *Client) CopyRecursiveMapped(ctx context.Context, srcPrefix, dstPrefix string, mapKey KeyMapFunc, progress ProgressFunc) error {
	entries, _, err := c.ListPage(ctx, ListOptions{Prefix: dstPrefix, Limit: 1, NoDelimiter: true})
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		return &StoreError{Op: "CopyRecursive", Bucket: c.bucket, Key: dstPrefix, Err: ErrDestinationNotEmpty}
	}

	return c.forEachConcurrent(ctx, srcPrefix, func(ctx context.Context, obj ObjectMetadata) error {
		dstKey, ok := mapKey(obj.Key)
		if !ok {
			return nil
		}
		return c.CopyObject(ctx, obj.Key, dstKey, progress)
	})
}

// DeleteRecursive removes every object under prefix, paging through the
// listing and issuing batched deletes bounded by the backend's per-call item
// limit. Safe to call on an empty or absent prefix.
func (c *Client) DeleteRecursive(ctx context.Context, prefix string) error {
	cursor := ""
	for {
		entries, next, err := c.ListPage(ctx, ListOptions{
			Prefix:      prefix,
			Cursor:      cursor,
			Limit:       DeleteBatchMax,
			NoDelimiter: true,
		})
		if err != nil {
			return err
		}

		identifiers := make([]types.ObjectIdentifier, 0, len(entries))
		for _, e := range entries {
			if e.Object != nil {
				identifiers = append(identifiers, types.ObjectIdentifier{Key: aws.String(e.Object.Key)})
			}
		}
		if len(identifiers) > 0 {
			err := c.withRetry(ctx, "DeleteRecursive", func() error {
				out, delErr := c.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
					Bucket: aws.String(c.bucket),
					Delete: &types.Delete{Objects: identifiers},
				})
				if delErr != nil {
					return c.wrapErr("DeleteRecursive", prefix, delErr)
				}
				// The batch call answers 200 even when individual keys fail;
				// those failures only show up in the response body.
				if len(out.Errors) > 0 {
					first := out.Errors[0]
					return &StoreError{
						Op:     "DeleteRecursive",
						Bucket: c.bucket,
						Key:    aws.ToString(first.Key),
						Err: fmt.Errorf("%d of %d objects failed, first: %s: %s",
							len(out.Errors), len(identifiers),
							aws.ToString(first.Code), aws.ToString(first.Message)),
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
			c.logger.Debug("deleted batch",
				zap.String("prefix", prefix),
				zap.Int("count", len(identifiers)))
		}

		if next == "" {
			return nil
		}
		cursor = next
	}
}

// forEachConcurrent feeds objects under prefix to fn with the cross-object
// ceiling. After the first failure no new work is issued, in-flight calls
// drain, and the first error propagates. Completion order is unspecified.
func (c *Client) forEachConcurrent(ctx context.Context, prefix string, fn func(context.Context, ObjectMetadata) error) error {
	work := make(chan ObjectMetadata, c.crossObjectConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	setErr := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}
	failed := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return firstErr != nil
	}

	for i := 0; i < c.crossObjectConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for obj := range work {
				if failed() {
					continue
				}
				if c.limiter != nil {
					if err := c.limiter.Wait(ctx); err != nil {
						setErr(err)
						continue
					}
				}
				if err := fn(ctx, obj); err != nil {
					setErr(err)
				}
			}
		}()
	}

	listErr := c.ForEachObject(ctx, prefix, func(obj ObjectMetadata) error {
		if failed() {
			return errStopListing
		}
		select {
		case work <- obj:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	close(work)
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	if errors.Is(listErr, errStopListing) {
		return nil
	}
	return listErr
}

// errStopListing short-circuits the listing loop once a worker has failed.
var errStopListing = errors.New("stop listing")

// remapKey substitutes the source prefix with the destination prefix.
func remapKey(key, srcPrefix, dstPrefix string) string {
	return dstPrefix + strings.TrimPrefix(key, srcPrefix)
}

// copySource formats the x-amz-copy-source header value.
func copySource(bucket, key string) string {
	return fmt.Sprintf("%s/%s", bucket, key)
}
