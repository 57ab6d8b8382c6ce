package objstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// Sentinel errors for object store operations.
var (
	// ErrNotFound indicates the requested object, bucket or version does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrBucketNotFound indicates the bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrAccessDenied indicates insufficient permissions on the backend.
	ErrAccessDenied = errors.New("access denied")

	// ErrDestinationNotEmpty indicates a recursive copy target prefix already
	// holds at least one object.
	ErrDestinationNotEmpty = errors.New("destination prefix not empty")

	// ErrBackendUnavailable indicates a connectivity or service failure of the
	// storage backend, distinct from not-found.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrThrottled indicates the request was rate limited by the backend.
	ErrThrottled = errors.New("request throttled")

	// ErrTooManyParts indicates no chunk size in the part-size ladder can cover
	// the announced payload within the backend's part-count ceiling.
	ErrTooManyParts = errors.New("payload exceeds multipart part limit")
)

// StoreError wraps backend errors with operation context.
type StoreError struct {
	// Op is the operation that failed (e.g. "ListPage", "CopyObject").
	Op string

	// Bucket is the bucket name.
	Bucket string

	// Key is the object key or prefix, if applicable.
	Key string

	// Err is the translated error, one of the sentinels above or the raw
	// backend error when no classification applies.
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s: %s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Bucket, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if the error indicates an absent object or bucket.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrBucketNotFound)
}

// IsAccessDenied returns true if the error indicates insufficient permissions.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// IsRetryable reports whether an operation may be safely reattempted.
// Only throttling and backend unavailability qualify; the caller must still
// restrict retries to idempotent operations.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrThrottled) || errors.Is(err, ErrBackendUnavailable)
}

// translate maps an SDK error onto the stable taxonomy. Every backend call
// goes through this single boundary so callers never see botched SDK types.
func translate(err error) error {
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	var noSuchBucket *types.NoSuchBucket
	switch {
	case errors.As(err, &notFound), errors.As(err, &noSuchKey):
		return ErrNotFound
	case errors.As(err, &noSuchBucket):
		return ErrBucketNotFound
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchVersion", "NoSuchUpload":
			return ErrNotFound
		case "NoSuchBucket":
			return ErrBucketNotFound
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return ErrAccessDenied
		case "SlowDown", "Throttling", "RequestLimitExceeded", "TooManyRequests":
			return ErrThrottled
		case "ServiceUnavailable", "InternalError", "RequestTimeout":
			return ErrBackendUnavailable
		}
		return err
	}

	// Fallback for S3-compatible stores that return bare HTTP statuses.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "404"):
		return ErrNotFound
	case strings.Contains(msg, "403"):
		return ErrAccessDenied
	case strings.Contains(msg, "429"):
		return ErrThrottled
	case strings.Contains(msg, "503"), strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"):
		return ErrBackendUnavailable
	}
	return err
}

// wrapErr translates err and attaches operation context.
func (c *Client) wrapErr(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Bucket: c.bucket, Key: key, Err: translate(err)}
}
