// Package minio implements storage.ObjectStore on S3-compatible endpoints
// (MinIO, Ceph, R2) using the minio-go SDK.
package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dvloznov/pricepaid-importer/internal/storage"
)

// Config holds the endpoint settings.
type Config struct {
	EndpointURL     string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	UseSSL          bool
	Bucket          string
}

// Store is the minio-go backed ObjectStore.
type Store struct {
	client *minio.Client
	bucket string
}

// NewStore creates a Store from cfg.
func NewStore(cfg Config) (*Store, error) {
	if cfg.EndpointURL == "" {
		return nil, fmt.Errorf("NewStore: endpoint URL is required")
	}
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("NewStore: credentials are required")
	}

	// Accept either "host:port" or a full URL.
	endpoint := cfg.EndpointURL
	useSSL := cfg.UseSSL
	if u, err := url.Parse(cfg.EndpointURL); err == nil && u.Host != "" {
		endpoint = u.Host
		if u.Scheme == "https" {
			useSSL = true
		}
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("NewStore: create minio client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// Bucket implements storage.ObjectStore.
func (s *Store) Bucket() string {
	return s.bucket
}

// Put stores data under key.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("Put: put object %s: %w", key, err)
	}
	return nil
}

// Get downloads the object bytes.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classify("Get", key, err)
	}
	defer obj.Close()

	// GetObject is lazy; a missing key only surfaces on the first read.
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, classify("Get", key, err)
	}
	return data, nil
}

// Exists stats the object.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("Exists: stat object %s: %w", key, err)
	}
	return true, nil
}

// List drains the recursive listing channel under prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("List: list prefix %s: %w", prefix, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close is a no-op; minio clients hold no long-lived resources.
func (s *Store) Close() error {
	return nil
}

func classify(op, key string, err error) error {
	if isNoSuchKey(err) {
		return storage.ErrNotFound
	}
	return fmt.Errorf("%s: object %s: %w", op, key, err)
}

func isNoSuchKey(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return true
	}
	return false
}

var _ storage.ObjectStore = (*Store)(nil)
