package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultPublicPrefix = "/uploads"

	// tmpDirName holds partially written uploads. Keys can never start
	// with a dot, so it cannot collide with a stored object.
	tmpDirName = ".tmp"
)

var (
	ErrInvalidKey = errors.New("invalid storage key")
	// ErrObjectExists is returned instead of overwriting a stored object.
	ErrObjectExists = errors.New("object already exists")
)

// LocalFileStorage is a Backend that writes each payload to <root>/<key> on
// the local filesystem. Payloads are first written to a temporary file and
// then linked into place, so readers never observe a partial object and an
// existing object is never replaced.
type LocalFileStorage struct {
	root   string
	prefix string
}

// NewLocalFileStorage creates a LocalFileStorage. The root directory is
// created lazily on the first Store call.
func NewLocalFileStorage(cfg LocalConfig) *LocalFileStorage {
	prefix := strings.TrimRight(cfg.PublicPrefix, "/")
	if prefix == "" {
		prefix = DefaultPublicPrefix
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return &LocalFileStorage{root: cfg.Root, prefix: prefix}
}

func (s *LocalFileStorage) Name() string {
	return string(ModeLocal)
}

// Root returns the directory stored objects live in.
func (s *LocalFileStorage) Root() string {
	return s.root
}

// PublicPrefix returns the URL path under which Root is served.
func (s *LocalFileStorage) PublicPrefix() string {
	return s.prefix
}

// ValidKey reports whether key is usable as a single path segment.
func ValidKey(key string) bool {
	if key == "" || len(key) > 255 || strings.HasPrefix(key, ".") {
		return false
	}
	if strings.ContainsAny(key, "/\\\x00") || strings.Contains(key, "..") {
		return false
	}
	return filepath.Base(key) == key
}

func (s *LocalFileStorage) objectPath(key string) (string, error) {
	if !ValidKey(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.root, key), nil
}

// Store writes body to <root>/<key> and returns the root-relative public
// path of the object.
func (s *LocalFileStorage) Store(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error) {
	objPath, err := s.objectPath(key)
	if err != nil {
		return "", err
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	tmpDir := filepath.Join(s.root, tmpDirName)
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	tmp, err := os.CreateTemp(tmpDir, "upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		// After a successful publish this just fails with ENOENT.
		if err := os.Remove(tmp.Name()); err != nil && !os.IsNotExist(err) {
			slog.Debug("Failed to remove temp upload file", "path", tmp.Name(), "err", err)
		}
	}()

	written, err := io.Copy(tmp, body)
	if err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write %q: %w", key, err)
	}

	if size >= 0 && written != size {
		_ = tmp.Close()
		return "", fmt.Errorf("write %q: wrote %d bytes, expected %d", key, written, size)
	}

	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	if err := MoveFile(tmp.Name(), objPath); err != nil {
		return "", fmt.Errorf("publish %q: %w", key, err)
	}

	slog.Debug("Stored object on disk", "key", key, "size", written, "content_type", contentType)
	return s.PublicPath(key), nil
}

// PublicPath returns the root-relative URL path for key.
func (s *LocalFileStorage) PublicPath(key string) string {
	return s.prefix + "/" + url.PathEscape(key)
}

// Open returns the stored object for key. Callers must close the file.
func (s *LocalFileStorage) Open(key string) (*os.File, error) {
	objPath, err := s.objectPath(key)
	if err != nil {
		return nil, err
	}
	return os.Open(objPath)
}
