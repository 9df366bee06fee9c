package s3blob

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// multipartCutoff is the S3 minimum part size (5 MiB). Day objects at or
// above it go through the multipart uploader.
const multipartCutoff int64 = 5 * 1024 * 1024

const exportContentType = "application/x-ndjson"

// objectWriter uploads finished JSONL day objects for the history export.
type objectWriter struct {
	client *s3.Client
	bucket string
}

func newObjectWriter(c *Client) *objectWriter {
	return &objectWriter{client: c.S3(), bucket: c.Bucket()}
}

// putObject uploads one day object. Small objects go up in a single
// PutObject call; anything at or above the multipart cutoff is split into
// parts and uploaded concurrently by the manager.
func (w *objectWriter) putObject(ctx context.Context, key string, body *bytes.Buffer) error {
	if int64(body.Len()) >= multipartCutoff {
		uploader := manager.NewUploader(w.client, func(u *manager.Uploader) {
			u.PartSize = multipartCutoff
		})
		_, err := uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(w.bucket),
			Key:         aws.String(key),
			Body:        body,
			ContentType: aws.String(exportContentType),
		})
		if err != nil {
			return fmt.Errorf("s3blob: multipart upload %s: %w", key, err)
		}
		return nil
	}

	_, err := w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(exportContentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", key, err)
	}
	return nil
}
