package s3blob

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/domain"
)

// Writer implements domain.BlobWriter. Uploads go through the transfer
// manager so large snapshots are split into parts.
type Writer struct {
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewWriter creates a Writer that stores objects under prefix in the
// client's bucket.
func NewWriter(c *Client, prefix string) *Writer {
	return &Writer{
		uploader: manager.NewUploader(c.s3),
		bucket:   c.bucket,
		prefix:   prefix,
	}
}

// Put uploads data to key, joined under the writer's prefix.
func (w *Writer) Put(ctx context.Context, key string, data io.Reader, contentType string) error {
	full := objectKey(w.prefix, key)
	_, err := w.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(full),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: upload %s: %w", full, err)
	}
	return nil
}

func objectKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return path.Join(prefix, key)
}

var _ domain.BlobWriter = (*Writer)(nil)
