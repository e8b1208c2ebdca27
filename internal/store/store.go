// Package store saves and loads template archives, either in a local
// directory or in S3 compatible object storage.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kernel/tplsync/pkg/util"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrNotFound is returned by Get when the archive does not exist.
var ErrNotFound = errors.New("archive not found")

const (
	scheme      = "s3://"
	contentType = "application/zip"
)

// Store holds archives by name.
type Store interface {
	// Put stores data under name and returns where it was written.
	Put(ctx context.Context, name string, data []byte) (string, error)
	Get(ctx context.Context, name string) ([]byte, error)
}

var (
	_ Store = (*Local)(nil)
	_ Store = (*S3)(nil)
)

// Local stores archives in a directory.
type Local struct {
	Dir string
}

func (l *Local) path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(l.Dir, filepath.FromSlash(name))
}

func (l *Local) Put(ctx context.Context, name string, data []byte) (string, error) {
	p := l.path(name)
	if err := util.WriteFileAtomic(p, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", p, err)
	}
	return p, nil
}

func (l *Local) Get(ctx context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(l.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return data, err
}

// Location is a parsed s3:// URI.
type Location struct {
	Bucket string
	Key    string
}

func (l Location) String() string {
	if l.Key == "" {
		return scheme + l.Bucket
	}
	return scheme + l.Bucket + "/" + l.Key
}

// IsRemote reports whether uri names object storage.
func IsRemote(uri string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(uri)), scheme)
}

// ParseURI splits s3://bucket/key. The key may be empty.
func ParseURI(uri string) (Location, error) {
	trimmed := strings.TrimSpace(uri)
	if !IsRemote(trimmed) {
		return Location{}, fmt.Errorf("invalid object storage uri %q: expected %sbucket/key", uri, scheme)
	}
	rest := trimmed[len(scheme):]
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return Location{}, fmt.Errorf("invalid object storage uri %q: bucket is required", uri)
	}
	return Location{Bucket: bucket, Key: strings.Trim(key, "/")}, nil
}

// S3Config configures an S3 store.
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"-"`
	// Prefix is prepended to every object name.
	Prefix string `mapstructure:"-"`
}

// S3 stores archives in a bucket, creating it on first use.
type S3 struct {
	client *minio.Client
	bucket string
	region string
	prefix string

	initOnce sync.Once
	initErr  error
}

// NewS3 validates cfg and creates the client. It does not contact the server.
func NewS3(cfg S3Config) (*S3, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}
	return &S3{client: client, bucket: bucket, region: region, prefix: strings.Trim(cfg.Prefix, "/")}, nil
}

func (s *S3) ensureBucket(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.initErr = err
			return
		}
		if exists {
			return
		}
		s.initErr = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
	})
	return s.initErr
}

// ObjectKey returns the key name is stored under.
func (s *S3) ObjectKey(name string) string {
	return objectKey(s.prefix, name)
}

func objectKey(prefix, name string) string {
	name = strings.TrimLeft(strings.TrimSpace(name), "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func (s *S3) Put(ctx context.Context, name string, data []byte) (string, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return "", fmt.Errorf("failed to ensure bucket %s: %w", s.bucket, err)
	}
	key := s.ObjectKey(name)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return Location{Bucket: s.bucket, Key: key}.String(), nil
}

func (s *S3) Get(ctx context.Context, name string) ([]byte, error) {
	key := s.ObjectKey(name)
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, notFound(err, key)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, notFound(err, key)
	}
	return data, nil
}

func notFound(err error, key string) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return fmt.Errorf("failed to download %s: %w", key, err)
}

// Open returns the store and object name for uri. Plain paths resolve to a
// Local store rooted at their directory; s3:// URIs use cfg for credentials.
func Open(uri string, cfg S3Config) (Store, string, error) {
	if !IsRemote(uri) {
		dir, name := filepath.Split(uri)
		if dir == "" {
			dir = "."
		}
		return &Local{Dir: dir}, name, nil
	}
	loc, err := ParseURI(uri)
	if err != nil {
		return nil, "", err
	}
	cfg.Bucket = loc.Bucket
	cfg.Prefix = ""
	s, err := NewS3(cfg)
	if err != nil {
		return nil, "", err
	}
	return s, loc.Key, nil
}
