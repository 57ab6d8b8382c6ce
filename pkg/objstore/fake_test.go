package objstore

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// fakeS3 is an in-memory s3API with enough fidelity for the client's paging,
// multipart, and recursive logic. Listing order is strict ascending key order,
// continuation tokens are offsets into the stable snapshot of that order.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	uploads map[string]*fakeUpload
	nextID  int

	// Optional per-method failure injection.
	errHeadObject  error
	errHeadBucket  error
	errListObjects error
	errCopyObject  error
	errDeleteBatch error

	// errDeleteKeys maps keys to an error code reported in the batch delete
	// response body; those keys survive while the rest of the batch deletes.
	errDeleteKeys map[string]string

	// Versions and DeleteMarkers feed ListObjectVersions verbatim.
	versions      []types.ObjectVersion
	deleteMarkers []types.DeleteMarkerEntry

	// Call counters for assertions.
	copyCalls        int
	deleteBatchCalls int
	listCalls        int
}

type fakeObject struct {
	data         []byte
	etag         string
	checksum     string
	lastModified time.Time
}

type fakeUpload struct {
	key     string
	parts   map[int32][]byte
	aborted bool
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects: make(map[string]fakeObject),
		uploads: make(map[string]*fakeUpload),
	}
}

func (f *fakeS3) put(key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = fakeObject{
		data:         data,
		etag:         fmt.Sprintf("etag-%s", key),
		lastModified: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fakeS3) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.objects))
	for k := range f.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.errHeadBucket != nil {
		return nil, f.errHeadBucket
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.errHeadObject != nil {
		return nil, f.errHeadObject
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	out := &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.data))),
		ETag:          aws.String(`"` + obj.etag + `"`),
		LastModified:  aws.Time(obj.lastModified),
	}
	if obj.checksum != "" {
		out.ChecksumSHA256 = aws.String(obj.checksum)
	}
	return out, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	data := obj.data
	if r := aws.ToString(in.Range); r != "" {
		var start, end int64
		if _, err := fmt.Sscanf(r, "bytes=%d-%d", &start, &end); err != nil {
			return nil, fmt.Errorf("bad range %q", r)
		}
		if end > int64(len(data))-1 {
			end = int64(len(data)) - 1
		}
		data = data[start : end+1]
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(strings.NewReader(string(data))),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.put(aws.ToString(in.Key), data)
	return &s3.PutObjectOutput{ETag: aws.String(`"etag-put"`)}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	f.listCalls++
	f.mu.Unlock()
	if f.errListObjects != nil {
		return nil, f.errListObjects
	}

	prefix := aws.ToString(in.Prefix)
	delimiter := aws.ToString(in.Delimiter)
	startAfter := aws.ToString(in.StartAfter)

	type entry struct {
		key   string
		isDir bool
		size  int64
	}
	var all []entry
	seenDirs := map[string]bool{}
	for _, key := range f.keys() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if startAfter != "" && key <= startAfter {
			continue
		}
		rest := key[len(prefix):]
		if delimiter != "" {
			if idx := strings.Index(rest, delimiter); idx >= 0 {
				dir := prefix + rest[:idx+1]
				if !seenDirs[dir] {
					seenDirs[dir] = true
					all = append(all, entry{key: dir, isDir: true})
				}
				continue
			}
		}
		f.mu.Lock()
		size := int64(len(f.objects[key].data))
		f.mu.Unlock()
		all = append(all, entry{key: key, size: size})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].key < all[j].key })

	offset := 0
	if tok := aws.ToString(in.ContinuationToken); tok != "" {
		n, err := strconv.Atoi(tok)
		if err != nil {
			return nil, fmt.Errorf("bad continuation token %q", tok)
		}
		offset = n
	}
	limit := int(aws.ToInt32(in.MaxKeys))
	if limit <= 0 {
		limit = 1000
	}

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	end := offset + limit
	if end < len(all) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	} else {
		end = len(all)
	}
	for _, e := range all[offset:end] {
		if e.isDir {
			out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(e.key)})
		} else {
			out.Contents = append(out.Contents, types.Object{
				Key:          aws.String(e.key),
				Size:         aws.Int64(e.size),
				ETag:         aws.String(`"etag-` + e.key + `"`),
				LastModified: aws.Time(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
			})
		}
	}
	return out, nil
}

func (f *fakeS3) ListObjectVersions(ctx context.Context, in *s3.ListObjectVersionsInput, opts ...func(*s3.Options)) (*s3.ListObjectVersionsOutput, error) {
	return &s3.ListObjectVersionsOutput{
		IsTruncated:   aws.Bool(false),
		Versions:      f.versions,
		DeleteMarkers: f.deleteMarkers,
	}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, opts ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteBatchCalls++
	if f.errDeleteBatch != nil {
		return nil, f.errDeleteBatch
	}
	out := &s3.DeleteObjectsOutput{}
	for _, id := range in.Delete.Objects {
		key := aws.ToString(id.Key)
		if code, ok := f.errDeleteKeys[key]; ok {
			out.Errors = append(out.Errors, types.Error{
				Key:     aws.String(key),
				Code:    aws.String(code),
				Message: aws.String("injected failure"),
			})
			continue
		}
		delete(f.objects, key)
	}
	return out, nil
}

func (f *fakeS3) CopyObject(ctx context.Context, in *s3.CopyObjectInput, opts ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	f.mu.Lock()
	f.copyCalls++
	f.mu.Unlock()
	if f.errCopyObject != nil {
		return nil, f.errCopyObject
	}

	src := aws.ToString(in.CopySource)
	// "bucket/key" form.
	_, key, _ := strings.Cut(src, "/")
	f.mu.Lock()
	obj, ok := f.objects[key]
	f.mu.Unlock()
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	f.put(aws.ToString(in.Key), obj.data)
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeS3) CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("upload-%d", f.nextID)
	f.uploads[id] = &fakeUpload{
		key:   aws.ToString(in.Key),
		parts: make(map[int32][]byte),
	}
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String(id)}, nil
}

func (f *fakeS3) UploadPart(ctx context.Context, in *s3.UploadPartInput, opts ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	up, ok := f.uploads[aws.ToString(in.UploadId)]
	if !ok {
		return nil, &types.NoSuchUpload{}
	}
	part := aws.ToInt32(in.PartNumber)
	up.parts[part] = data
	return &s3.UploadPartOutput{ETag: aws.String(fmt.Sprintf(`"part-%d"`, part))}, nil
}

func (f *fakeS3) UploadPartCopy(ctx context.Context, in *s3.UploadPartCopyInput, opts ...func(*s3.Options)) (*s3.UploadPartCopyOutput, error) {
	src := aws.ToString(in.CopySource)
	_, key, _ := strings.Cut(src, "/")
	f.mu.Lock()
	obj, ok := f.objects[key]
	f.mu.Unlock()
	if !ok {
		return nil, &types.NoSuchKey{}
	}

	data := obj.data
	if r := aws.ToString(in.CopySourceRange); r != "" {
		var start, end int64
		if _, err := fmt.Sscanf(r, "bytes=%d-%d", &start, &end); err != nil {
			return nil, fmt.Errorf("bad range %q", r)
		}
		data = data[start : end+1]
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	up, ok := f.uploads[aws.ToString(in.UploadId)]
	if !ok {
		return nil, &types.NoSuchUpload{}
	}
	part := aws.ToInt32(in.PartNumber)
	up.parts[part] = data
	return &s3.UploadPartCopyOutput{
		CopyPartResult: &types.CopyPartResult{ETag: aws.String(fmt.Sprintf(`"part-%d"`, part))},
	}, nil
}

func (f *fakeS3) CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	up, ok := f.uploads[aws.ToString(in.UploadId)]
	f.mu.Unlock()
	if !ok || up.aborted {
		return nil, &types.NoSuchUpload{}
	}

	// Completion requires a dense 1..N part sequence.
	parts := in.MultipartUpload.Parts
	var data []byte
	for i, p := range parts {
		num := aws.ToInt32(p.PartNumber)
		if num != int32(i+1) {
			return nil, fmt.Errorf("non-contiguous part number %d at index %d", num, i)
		}
		f.mu.Lock()
		chunk, ok := up.parts[num]
		f.mu.Unlock()
		if !ok {
			return nil, fmt.Errorf("part %d was never uploaded", num)
		}
		data = append(data, chunk...)
	}

	f.put(up.key, data)
	f.mu.Lock()
	delete(f.uploads, aws.ToString(in.UploadId))
	f.mu.Unlock()
	return &s3.CompleteMultipartUploadOutput{ETag: aws.String(`"etag-complete"`)}, nil
}

func (f *fakeS3) AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, opts ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	up, ok := f.uploads[aws.ToString(in.UploadId)]
	if !ok {
		return nil, &types.NoSuchUpload{}
	}
	up.aborted = true
	delete(f.uploads, aws.ToString(in.UploadId))
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeS3) ListMultipartUploads(ctx context.Context, in *s3.ListMultipartUploadsInput, opts ...func(*s3.Options)) (*s3.ListMultipartUploadsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &s3.ListMultipartUploadsOutput{IsTruncated: aws.Bool(false)}
	prefix := aws.ToString(in.Prefix)
	ids := make([]string, 0, len(f.uploads))
	for id := range f.uploads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		up := f.uploads[id]
		if prefix != "" && !strings.HasPrefix(up.key, prefix) {
			continue
		}
		out.Uploads = append(out.Uploads, types.MultipartUpload{
			UploadId:  aws.String(id),
			Key:       aws.String(up.key),
			Initiated: aws.Time(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)),
		})
	}
	return out, nil
}

// fakePresigner emits deterministic URLs instead of signing anything.
type fakePresigner struct {
	err error
}

func (p *fakePresigner) PresignGetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &v4.PresignedHTTPRequest{URL: "https://signed.test/get/" + aws.ToString(in.Key)}, nil
}

func (p *fakePresigner) PresignPutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &v4.PresignedHTTPRequest{URL: "https://signed.test/put/" + aws.ToString(in.Key)}, nil
}

func (p *fakePresigner) PresignUploadPart(ctx context.Context, in *s3.UploadPartInput, opts ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &v4.PresignedHTTPRequest{
		URL: fmt.Sprintf("https://signed.test/part/%s/%d", aws.ToString(in.Key), aws.ToInt32(in.PartNumber)),
	}, nil
}

// newTestClient wires a client over the fakes.
func newTestClient(api *fakeS3) *Client {
	return newWithAPI(api, &fakePresigner{}, "test-bucket", nil)
}
