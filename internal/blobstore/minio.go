package blobstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig configures an S3-compatible object store.
type MinioConfig struct {
	// Endpoint is the host[:port] of the S3 API, e.g. "localhost:9000".
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// Prefix namespaces every key inside the bucket.
	Prefix string
	// PublicBaseURL overrides the URL objects are served under, e.g. a CDN.
	PublicBaseURL string
	// Client is an optional pre-configured client. When set, Endpoint and
	// credentials are ignored.
	Client *minio.Client
}

func (c *MinioConfig) validate() error {
	if strings.TrimSpace(c.Bucket) == "" {
		return fmt.Errorf("bucket is required")
	}
	if c.Client != nil {
		return nil
	}
	if strings.TrimSpace(c.Endpoint) == "" {
		return fmt.Errorf("endpoint is required when client is not provided")
	}
	if c.AccessKey == "" {
		return fmt.Errorf("access key is required when client is not provided")
	}
	if c.SecretKey == "" {
		return fmt.Errorf("secret key is required when client is not provided")
	}
	return nil
}

// MinioStore stores objects in an S3-compatible bucket.
type MinioStore struct {
	client  *minio.Client
	bucket  string
	prefix  string
	baseURL string
}

// NewMinioStore creates a bucket-backed store. It does not contact the server.
func NewMinioStore(cfg MinioConfig) (*MinioStore, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid s3 config: %w", err)
	}

	client := cfg.Client
	if client == nil {
		var err error
		client, err = minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure: cfg.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("create minio client: %w", err)
		}
	}

	baseURL := strings.TrimSpace(cfg.PublicBaseURL)
	if baseURL == "" {
		endpoint := client.EndpointURL()
		baseURL = (&url.URL{Scheme: endpoint.Scheme, Host: endpoint.Host, Path: "/" + cfg.Bucket}).String()
	}

	return &MinioStore{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  normalizePrefix(cfg.Prefix),
		baseURL: baseURL,
	}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Put uploads r under key with the given content type. The object size is
// not known upfront, so the client streams it as a multipart upload.
func (s *MinioStore) Put(ctx context.Context, key string, r io.Reader, contentType string) (PutResult, error) {
	var zero PutResult
	if r == nil {
		return zero, fmt.Errorf("reader is required")
	}
	objectKey, err := s.objectKey(key)
	if err != nil {
		return zero, err
	}
	info, err := s.client.PutObject(ctx, s.bucket, objectKey, r, -1, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return zero, fmt.Errorf("put object %s: %w", objectKey, err)
	}
	return PutResult{Key: key, SizeBytes: info.Size}, nil
}

// Delete removes key. S3 treats deleting a missing key as success.
func (s *MinioStore) Delete(ctx context.Context, key string) error {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return err
	}
	err = s.client.RemoveObject(ctx, s.bucket, objectKey, minio.RemoveObjectOptions{})
	if err != nil && minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return fmt.Errorf("remove object %s: %w", objectKey, err)
	}
	return nil
}

// PublicURL returns baseURL/prefix/key.
func (s *MinioStore) PublicURL(key string) string {
	return joinURL(s.baseURL, joinKey(s.prefix, key))
}

// List returns every object under the configured prefix, keyed without it.
func (s *MinioStore) List(ctx context.Context) ([]ObjectInfo, error) {
	listPrefix := ""
	if s.prefix != "" {
		listPrefix = s.prefix + "/"
	}

	var out []ObjectInfo
	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    listPrefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, fmt.Errorf("list objects: %w", object.Err)
		}
		key := strings.TrimPrefix(object.Key, listPrefix)
		if key == "" || strings.HasSuffix(key, "/") {
			continue
		}
		out = append(out, ObjectInfo{
			Key:          key,
			SizeBytes:    object.Size,
			LastModified: object.LastModified.UTC(),
		})
	}
	return out, nil
}

func (s *MinioStore) objectKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("%w: key is required", ErrInvalidKey)
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return joinKey(s.prefix, key), nil
}

func normalizePrefix(prefix string) string {
	return strings.Trim(strings.ReplaceAll(strings.TrimSpace(prefix), `\`, "/"), "/")
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}
