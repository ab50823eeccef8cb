package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// DefaultFolder is the logical folder objects are uploaded under.
const DefaultFolder = "shop_uploads"

// RemoteStorage is a Backend that streams payloads to an S3-compatible
// object store (AWS S3, MinIO, Cloudflare R2, ...).
type RemoteStorage struct {
	client     *minio.Client
	bucket     string
	folder     string
	publicBase string
}

// NewRemoteStorage creates the object store client and makes sure the
// configured bucket exists.
func NewRemoteStorage(ctx context.Context, cfg RemoteConfig) (*RemoteStorage, error) {
	if cfg.Endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("remote storage requires endpoint, access key and secret key")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("remote storage requires a bucket")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}

	if err := ensureBucket(ctx, client, cfg.Bucket, cfg.Region); err != nil {
		return nil, err
	}

	return &RemoteStorage{
		client:     client,
		bucket:     cfg.Bucket,
		folder:     strings.Trim(cfg.Folder, "/"),
		publicBase: strings.TrimRight(cfg.PublicBase, "/"),
	}, nil
}

// ensureBucket checks if a bucket exists, and creates it if it does not.
func ensureBucket(ctx context.Context, client *minio.Client, bucket string, region string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", bucket, err)
	}

	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
			return fmt.Errorf("create bucket %q: %w", bucket, err)
		}
		slog.Info("Created bucket", "bucket", bucket)
	}
	return nil
}

func (s *RemoteStorage) Name() string {
	return string(ModeRemote)
}

func (s *RemoteStorage) objectName(key string) string {
	if s.folder == "" {
		return key
	}
	return s.folder + "/" + key
}

// Store uploads body under <folder>/<key> and returns the object's URL.
func (s *RemoteStorage) Store(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error) {
	if !ValidKey(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	name := s.objectName(key)
	info, err := s.client.PutObject(ctx, s.bucket, name, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put object %q: %w", name, err)
	}

	slog.Debug("Uploaded object", "bucket", s.bucket, "object", name, "etag", info.ETag)
	return s.objectURL(name), nil
}

// objectURL returns the durable URL of an uploaded object, either under the
// configured public base or the store's own path-style address.
func (s *RemoteStorage) objectURL(name string) string {
	if s.publicBase != "" {
		return s.publicBase + "/" + escapeObjectPath(name)
	}

	u := *s.client.EndpointURL()
	u.Path = path.Join("/", s.bucket, name)
	u.RawPath = ""
	return u.String()
}

func escapeObjectPath(name string) string {
	parts := strings.Split(name, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
