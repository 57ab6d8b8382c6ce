package objstore

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// PresignGet returns a time-limited URL granting direct download access to an
// object. Bucket and object existence are verified first so an unusable link
// is never handed to a caller. Expiry enforcement is the backend's job; the
// URL embeds the deadline and signature.
func (c *Client) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if _, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return "", c.wrapErr("PresignGet", key, err)
	}
	if _, err := c.Head(ctx, key); err != nil {
		return "", err
	}

	req, err := c.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", c.wrapErr("PresignGet", key, err)
	}
	return req.URL, nil
}

// PresignPut returns a time-limited URL granting direct single-shot upload
// access to a key. Only bucket existence is checked: the object typically
// does not exist yet.
func (c *Client) PresignPut(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if _, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return "", c.wrapErr("PresignPut", key, err)
	}

	req, err := c.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", c.wrapErr("PresignPut", key, err)
	}
	return req.URL, nil
}
