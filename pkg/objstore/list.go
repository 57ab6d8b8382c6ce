package objstore

import (
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Delimiter separates hierarchical key segments. Directories are a listing
// convention over this delimiter, not a backend entity.
const Delimiter = "/"

// ObjectMetadata is an immutable snapshot of a stored object as reported by
// the backend on head or list.
type ObjectMetadata struct {
	Key          string
	Size         int64
	LastModified time.Time

	// ETag is the backend's opaque content fingerprint, without quotes.
	ETag string

	// SHA256Checksum is the content checksum when the object carries one.
	SHA256Checksum string
}

// DirectoryMetadata describes a common key prefix and, when computed, the
// aggregate size of the objects below it.
type DirectoryMetadata struct {
	Prefix string

	// Size is the sum of member object sizes at computation time, or -1 when
	// the entry came from a delimiter listing and was never aggregated.
	Size int64
}

// ListEntry is one element of a listing page: either a leaf object or a
// common prefix surfaced as a directory.
type ListEntry struct {
	Object    *ObjectMetadata
	Directory *DirectoryMetadata
}

// Key returns the entry's key or directory prefix.
func (e ListEntry) Key() string {
	if e.Object != nil {
		return e.Object.Key
	}
	return e.Directory.Prefix
}

// IsDir reports whether the entry is a common prefix.
func (e ListEntry) IsDir() bool {
	return e.Directory != nil
}

// ListOptions configures a ListPage call.
type ListOptions struct {
	// Prefix restricts results to keys starting with this value.
	Prefix string

	// StartAfter positions the first entry strictly after this key. Ignored
	// when Cursor is set.
	StartAfter string

	// Cursor resumes a prior listing. Empty starts from the beginning.
	Cursor string

	// Limit is the page size. Zero uses DefaultPageSize; values above the
	// backend ceiling are clamped to MaxKeysPerPage.
	Limit int

	// NoDelimiter disables directory grouping, listing every leaf key under
	// the prefix regardless of depth.
	NoDelimiter bool
}

// ListPage returns one page of entries under a prefix in ascending key order,
// plus the cursor for the next page. An empty cursor means the listing is
// exhausted. Callers needing the full listing loop until the cursor is empty;
// ForEachObject does that loop.
func (c *Client) ListPage(ctx context.Context, opts ListOptions) ([]ListEntry, string, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxKeysPerPage {
		limit = MaxKeysPerPage
	}

	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(c.bucket),
		Prefix:  aws.String(opts.Prefix),
		MaxKeys: aws.Int32(int32(limit)),
	}
	if !opts.NoDelimiter {
		input.Delimiter = aws.String(Delimiter)
	}
	if opts.Cursor != "" {
		input.ContinuationToken = aws.String(opts.Cursor)
	} else if opts.StartAfter != "" {
		input.StartAfter = aws.String(opts.StartAfter)
	}

	var out *s3.ListObjectsV2Output
	err := c.withRetry(ctx, "ListPage", func() error {
		var callErr error
		out, callErr = c.api.ListObjectsV2(ctx, input)
		return c.wrapErr("ListPage", opts.Prefix, callErr)
	})
	if err != nil {
		return nil, "", err
	}

	entries := mergeListing(out)

	next := ""
	if aws.ToBool(out.IsTruncated) {
		next = aws.ToString(out.NextContinuationToken)
	}
	return entries, next, nil
}

// mergeListing interleaves common prefixes and objects so the page stays in
// strict ascending key order. S3 returns each group sorted; a single merge
// pass restores the global order.
func mergeListing(out *s3.ListObjectsV2Output) []ListEntry {
	entries := make([]ListEntry, 0, len(out.Contents)+len(out.CommonPrefixes))
	i, j := 0, 0
	for i < len(out.CommonPrefixes) || j < len(out.Contents) {
		switch {
		case i >= len(out.CommonPrefixes):
			entries = append(entries, objectEntry(out.Contents[j]))
			j++
		case j >= len(out.Contents):
			entries = append(entries, prefixEntry(out.CommonPrefixes[i]))
			i++
		case aws.ToString(out.CommonPrefixes[i].Prefix) < aws.ToString(out.Contents[j].Key):
			entries = append(entries, prefixEntry(out.CommonPrefixes[i]))
			i++
		default:
			entries = append(entries, objectEntry(out.Contents[j]))
			j++
		}
	}
	return entries
}

func objectEntry(obj types.Object) ListEntry {
	return ListEntry{Object: &ObjectMetadata{
		Key:          aws.ToString(obj.Key),
		Size:         aws.ToInt64(obj.Size),
		LastModified: aws.ToTime(obj.LastModified),
		ETag:         cleanETag(aws.ToString(obj.ETag)),
	}}
}

func prefixEntry(p types.CommonPrefix) ListEntry {
	return ListEntry{Directory: &DirectoryMetadata{
		Prefix: aws.ToString(p.Prefix),
		Size:   -1,
	}}
}

// ForEachObject walks every leaf object under prefix in key order, paging
// until the listing is exhausted. Returning an error from fn stops the walk.
func (c *Client) ForEachObject(ctx context.Context, prefix string, fn func(ObjectMetadata) error) error {
	cursor := ""
	for {
		entries, next, err := c.ListPage(ctx, ListOptions{
			Prefix:      prefix,
			Cursor:      cursor,
			Limit:       MaxKeysPerPage,
			NoDelimiter: true,
		})
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.Object == nil {
				continue
			}
			if err := fn(*e.Object); err != nil {
				return err
			}
		}
		if next == "" {
			return nil
		}
		cursor = next
	}
}

// DirectorySize sums the sizes of all objects under prefix. The result is a
// point-in-time aggregate with no staleness guarantee.
func (c *Client) DirectorySize(ctx context.Context, prefix string) (DirectoryMetadata, error) {
	var size int64
	err := c.ForEachObject(ctx, prefix, func(obj ObjectMetadata) error {
		size += obj.Size
		return nil
	})
	if err != nil {
		return DirectoryMetadata{}, err
	}
	return DirectoryMetadata{Prefix: prefix, Size: size}, nil
}

// cleanETag strips the surrounding quotes S3 puts on ETag values.
func cleanETag(etag string) string {
	return strings.Trim(etag, "\"")
}
