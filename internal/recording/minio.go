package recording

import (
	"bytes"
	"context"
	"fmt"
	"strconv"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStore uploads bundles to an S3-compatible bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to endpoint and makes sure bucket exists.
func NewMinioStore(ctx context.Context, endpoint, accessKey, secretKey, bucket string, secure bool) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}

	return &MinioStore{client: client, bucket: bucket}, nil
}

func (s *MinioStore) Save(ctx context.Context, art *Artifact) error {
	_, err := s.client.PutObject(ctx, s.bucket, art.ObjectKey(),
		bytes.NewReader(art.Data), int64(len(art.Data)),
		minio.PutObjectOptions{
			ContentType: "application/zip",
			UserMetadata: map[string]string{
				"call-id":     art.CallID,
				"session-id":  art.SessionID,
				"duration-ms": strconv.FormatInt(art.Duration.Milliseconds(), 10),
			},
		})
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	return nil
}
