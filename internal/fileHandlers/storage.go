package fileHandlers

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStorage hands out short lived signed URLs, the bytes themselves are
// moved with plain HTTP requests against those URLs.
type ObjectStorage interface {
	PresignPut(ctx context.Context, object string, expiry time.Duration) (*url.URL, error)
	PresignDelete(ctx context.Context, object string, expiry time.Duration) (*url.URL, error)
	// ObjectURL is the permanent address stored in the files table.
	ObjectURL(object string) string
}

type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

type s3Storage struct {
	client *minio.Client
	bucket string
	base   string
}

// NewS3 signs requests locally. Without a region minio would ask the endpoint
// for the bucket location first.
func NewS3(cfg S3Config) (ObjectStorage, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}

	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}

	return &s3Storage{
		client: client,
		bucket: cfg.Bucket,
		base:   fmt.Sprintf("%s://%s/%s/", scheme, cfg.Endpoint, cfg.Bucket),
	}, nil
}

func (s *s3Storage) PresignPut(ctx context.Context, object string, expiry time.Duration) (*url.URL, error) {
	return s.client.PresignedPutObject(ctx, s.bucket, object, expiry)
}

func (s *s3Storage) PresignDelete(ctx context.Context, object string, expiry time.Duration) (*url.URL, error) {
	return s.client.Presign(ctx, "DELETE", s.bucket, object, expiry, nil)
}

func (s *s3Storage) ObjectURL(object string) string {
	return s.base + object
}
