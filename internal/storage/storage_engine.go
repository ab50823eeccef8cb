package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Backend persists a single payload under a storage key and reports where
// it can be fetched from.
type Backend interface {
	// Store writes size bytes read from body under key. The returned
	// location is either an absolute URL or, for backends that do not know
	// their public address, a root-relative path such as "/uploads/<key>".
	Store(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error)

	// Name identifies the backend in logs, metrics and the catalog.
	Name() string
}

// Mode selects which Backend implementation a process uses.
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
)

// LocalConfig configures the filesystem backend.
type LocalConfig struct {
	// Root is the directory uploads are written to.
	Root string
	// PublicPrefix is the URL path the root is served under.
	PublicPrefix string
}

// RemoteConfig configures the S3-compatible object store backend.
type RemoteConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Folder    string
	Region    string
	UseSSL    bool
	// PublicBase overrides the URL prefix returned for stored objects,
	// for example a CDN host in front of the bucket.
	PublicBase string
}

// BackendConfig is read once at startup and never changes afterwards.
type BackendConfig struct {
	Mode   Mode
	Local  LocalConfig
	Remote RemoteConfig
}

var ErrUnknownMode = errors.New("unknown storage mode")

// NewBackend constructs the backend selected by cfg.Mode.
func NewBackend(ctx context.Context, cfg BackendConfig) (Backend, error) {
	switch cfg.Mode {
	case ModeLocal:
		return NewLocalFileStorage(cfg.Local), nil
	case ModeRemote:
		remote, err := NewRemoteStorage(ctx, cfg.Remote)
		if err != nil {
			return nil, err
		}
		return remote, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, cfg.Mode)
	}
}
