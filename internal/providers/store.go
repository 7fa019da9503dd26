package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/alfie-backend/internal/config"
)

// AssetStore persists generated media and returns its public URL.
type AssetStore interface {
	Put(ctx context.Context, key, contentType string, data []byte, tags map[string]string) (string, error)
}

// MinioStore is an AssetStore backed by any S3-compatible endpoint.
type MinioStore struct {
	client     *minio.Client
	bucket     string
	publicBase string

	once      sync.Once
	bucketErr error
}

// NewMinioStore builds a store from cfg. It does not contact the endpoint;
// the bucket is created lazily on first Put.
func NewMinioStore(cfg config.AssetsConfig) (*MinioStore, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("assets endpoint is empty")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("assets bucket is empty")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	base := strings.TrimRight(cfg.PublicBaseURL, "/")
	if base == "" {
		base = strings.TrimRight(client.EndpointURL().String(), "/") + "/" + cfg.Bucket
	}
	return &MinioStore{client: client, bucket: cfg.Bucket, publicBase: base}, nil
}

func (s *MinioStore) ensureBucket(ctx context.Context) error {
	s.once.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.bucketErr = fmt.Errorf("check bucket: %w", err)
			return
		}
		if exists {
			return
		}
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			s.bucketErr = fmt.Errorf("create bucket: %w", err)
			return
		}
		log.Info().Str("bucket", s.bucket).Msg("asset bucket created")
	})
	return s.bucketErr
}

// Put uploads data under key with tags as object user tags.
func (s *MinioStore) Put(ctx context.Context, key, contentType string, data []byte, tags map[string]string) (string, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return "", err
	}
	key = strings.TrimLeft(key, "/")
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
		UserTags:    tags,
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return s.URL(key), nil
}

// URL returns the public URL for key.
func (s *MinioStore) URL(key string) string {
	return s.publicBase + "/" + strings.TrimLeft(key, "/")
}
