package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/queryctl/queryctl/internal/storage"
)

type Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

type client interface {
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, bucket, key string) (storage.ObjectInfo, error)
	List(ctx context.Context, bucket, prefix string) ([]storage.ObjectInfo, error)
	Delete(ctx context.Context, bucket, key string) error
}

// Store reads result objects from one bucket of an S3-compatible
// object store.
type Store struct {
	client client
	bucket string
}

func NewWithClient(bucket string, c client) (*Store, error) {
	if c == nil {
		return nil, fmt.Errorf("client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	return &Store{client: c, bucket: strings.TrimSpace(bucket)}, nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	normalized, err := normalizeKey(key)
	if err != nil {
		return nil, err
	}
	reader, err := s.client.Get(ctx, s.bucket, normalized)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, storage.ErrObjectNotFound
		}
		return nil, fmt.Errorf("get object %q: %w", normalized, err)
	}
	return reader, nil
}

func (s *Store) Stat(ctx context.Context, key string) (storage.ObjectInfo, error) {
	normalized, err := normalizeKey(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := s.client.Stat(ctx, s.bucket, normalized)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return storage.ObjectInfo{}, storage.ErrObjectNotFound
		}
		return storage.ObjectInfo{}, fmt.Errorf("stat object %q: %w", normalized, err)
	}
	return info, nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	prefix = strings.TrimPrefix(strings.TrimSpace(prefix), "/")
	infos, err := s.client.List(ctx, s.bucket, prefix)
	if err != nil {
		return nil, fmt.Errorf("list objects %q: %w", prefix, err)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	normalized, err := normalizeKey(key)
	if err != nil {
		return err
	}
	if err := s.client.Delete(ctx, s.bucket, normalized); err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil
		}
		return fmt.Errorf("delete object %q: %w", normalized, err)
	}
	return nil
}

func normalizeKey(key string) (string, error) {
	key = strings.TrimSpace(strings.TrimPrefix(key, "/"))
	if key == "" {
		return "", fmt.Errorf("object key is required")
	}
	cleaned := path.Clean(key)
	if cleaned == "." || strings.HasPrefix(cleaned, "../") || strings.Contains(cleaned, "/../") {
		return "", fmt.Errorf("invalid object key: %q", key)
	}
	return cleaned, nil
}

// Provider hands out per-bucket stores over a shared connection.
// Result locations may reference any bucket the credentials can read,
// so stores are created lazily as locations are resolved.
type Provider struct {
	client client

	mu     sync.Mutex
	stores map[string]*Store
}

func NewProvider(cfg Config) (*Provider, error) {
	mc, err := newMinioClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Provider{client: mc, stores: make(map[string]*Store)}, nil
}

func NewProviderWithClient(c client) (*Provider, error) {
	if c == nil {
		return nil, fmt.Errorf("client is required")
	}
	return &Provider{client: c, stores: make(map[string]*Store)}, nil
}

func (p *Provider) Open(bucket string) (storage.ObjectStore, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if store, ok := p.stores[bucket]; ok {
		return store, nil
	}
	store := &Store{client: p.client, bucket: bucket}
	p.stores[bucket] = store
	return store, nil
}

func newMinioClient(cfg Config) (*minioClient, error) {
	endpoint, secure, err := parseEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	clientImpl, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: strings.TrimSpace(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &minioClient{client: clientImpl}, nil
}

func parseEndpoint(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("endpoint is required")
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		parsed, err := url.Parse(raw)
		if err != nil {
			return "", false, fmt.Errorf("parse endpoint URL: %w", err)
		}
		if parsed.Host == "" {
			return "", false, fmt.Errorf("endpoint host is required")
		}
		if parsed.Scheme == "https" {
			return parsed.Host, true, nil
		}
		return parsed.Host, useSSL, nil
	}
	return raw, useSSL, nil
}

type minioClient struct {
	client *minio.Client
}

func (m *minioClient) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapMinioErr(err)
	}
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, mapMinioErr(err)
	}
	return obj, nil
}

func (m *minioClient) Stat(ctx context.Context, bucket, key string) (storage.ObjectInfo, error) {
	obj, err := m.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return storage.ObjectInfo{}, mapMinioErr(err)
	}
	return storage.ObjectInfo{Key: obj.Key, Size: obj.Size, ETag: obj.ETag, LastModified: obj.LastModified}, nil
}

func (m *minioClient) List(ctx context.Context, bucket, prefix string) ([]storage.ObjectInfo, error) {
	var infos []storage.ObjectInfo
	for obj := range m.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, mapMinioErr(obj.Err)
		}
		infos = append(infos, storage.ObjectInfo{Key: obj.Key, Size: obj.Size, ETag: obj.ETag, LastModified: obj.LastModified})
	}
	return infos, nil
}

func (m *minioClient) Delete(ctx context.Context, bucket, key string) error {
	if err := m.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return mapMinioErr(err)
	}
	return nil
}

func mapMinioErr(err error) error {
	if err == nil {
		return nil
	}
	var response minio.ErrorResponse
	if errors.As(err, &response) {
		switch response.Code {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return storage.ErrObjectNotFound
		case "AccessDenied":
			return storage.ErrAccessDenied
		}
	}
	return err
}
