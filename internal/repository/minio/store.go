package minio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/zulfikar2701/sakae-riken-screws-detection/internal/repository/ports"
)

func NewClient(endpoint, key, secret string, useSSL bool) (*minio.Client, error) {
	return minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(key, secret, ""),
		Secure: useSSL,
	})
}

// Store backs the mailbox bucket with MinIO or any S3-compatible service.
type Store struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

var (
	_ ports.ObjectStore   = (*Store)(nil)
	_ ports.PostPresigner = (*Store)(nil)
)

// NewStore wraps client for a single bucket. publicURL, when set, replaces
// the endpoint in presigned URLs so browser clients outside the cluster
// network can reach storage directly.
func NewStore(client *minio.Client, bucket, publicURL string) *Store {
	return &Store{
		client:    client,
		bucket:    strings.TrimSpace(bucket),
		publicURL: strings.TrimRight(strings.TrimSpace(publicURL), "/"),
	}
}

func (s *Store) EnsureBucket(ctx context.Context) error {
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

func (s *Store) Put(ctx context.Context, key, contentType string, reader io.Reader, size int64) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, ports.ObjectInfo, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, ports.ObjectInfo{}, s.mapErr(key, err)
	}
	stat, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, ports.ObjectInfo{}, s.mapErr(key, err)
	}
	return obj, toObjectInfo(stat), nil
}

func (s *Store) Stat(ctx context.Context, key string) (ports.ObjectInfo, error) {
	stat, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return ports.ObjectInfo{}, s.mapErr(key, err)
	}
	return toObjectInfo(stat), nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]ports.ObjectInfo, error) {
	var infos []ports.ObjectInfo
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, obj.Err)
		}
		infos = append(infos, toObjectInfo(obj))
	}
	return infos, nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return s.mapErr(key, err)
	}
	return nil
}

// PresignPost signs a POST policy for key: bucket and key fixed, expiry
// bounded, content type and length range constrained when requested.
func (s *Store) PresignPost(ctx context.Context, key string, input ports.PresignInput) (*ports.PresignedPostPolicy, error) {
	ttl := input.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	expiresAt := time.Now().UTC().Add(ttl)

	policy := minio.NewPostPolicy()
	if err := policy.SetBucket(s.bucket); err != nil {
		return nil, fmt.Errorf("presign %s: %w", key, err)
	}
	if err := policy.SetKey(key); err != nil {
		return nil, fmt.Errorf("presign %s: %w", key, err)
	}
	if err := policy.SetExpires(expiresAt); err != nil {
		return nil, fmt.Errorf("presign %s: %w", key, err)
	}
	if input.ContentType != "" {
		if err := policy.SetContentType(input.ContentType); err != nil {
			return nil, fmt.Errorf("presign %s: %w", key, err)
		}
	}
	if input.MaxBytes > 0 {
		if err := policy.SetContentLengthRange(1, input.MaxBytes); err != nil {
			return nil, fmt.Errorf("presign %s: %w", key, err)
		}
	}

	target, fields, err := s.client.PresignedPostPolicy(ctx, policy)
	if err != nil {
		return nil, fmt.Errorf("presign %s: %w", key, err)
	}

	return &ports.PresignedPostPolicy{
		URL:       s.rewriteURL(target),
		Fields:    fields,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Store) rewriteURL(target *url.URL) string {
	if s.publicURL == "" {
		return target.String()
	}
	public, err := url.Parse(s.publicURL)
	if err != nil {
		return target.String()
	}
	rewritten := *target
	rewritten.Scheme = public.Scheme
	rewritten.Host = public.Host
	return rewritten.String()
}

func (s *Store) mapErr(key string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
		return fmt.Errorf("%w: %s", ports.ErrObjectNotFound, key)
	}
	return err
}

func toObjectInfo(info minio.ObjectInfo) ports.ObjectInfo {
	return ports.ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		ETag:         info.ETag,
		ContentType:  info.ContentType,
		LastModified: info.LastModified,
	}
}
