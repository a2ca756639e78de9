package push

import (
	"bytes"
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/contentbridge/adaptor/errkind"
)

// S3Archiver uploads each sent feed body to an S3-compatible bucket,
// implementing Archiver. It is the production archival mechanism: feed
// senders that need to replay or audit what was pushed read the bucket
// rather than the indexer, which does not retain feed bodies.
type S3Archiver struct {
	Bucket   string
	Uploader *manager.Uploader
}

// NewS3Archiver builds an S3Archiver over client for bucket.
func NewS3Archiver(client *s3.Client, bucket string) *S3Archiver {
	return &S3Archiver{Bucket: bucket, Uploader: manager.NewUploader(client)}
}

var _ Archiver = (*S3Archiver)(nil)

// Archive uploads data under key in the configured bucket.
func (a *S3Archiver) Archive(ctx context.Context, key string, data []byte) error {
	_, err := a.Uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return errkind.Wrap(errkind.Unavailable, "push: archive feed to s3", err)
	}
	return nil
}
