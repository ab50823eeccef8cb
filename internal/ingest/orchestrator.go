// Package ingest validates uploaded files and stores them concurrently
// through a single storage backend chosen at startup.
package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/url"
	"strings"
	"time"

	"shopmedia/internal/naming"
	"shopmedia/internal/resolve"
	"shopmedia/internal/storage"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxFileSize    = 10 << 20
	DefaultMaxConcurrency = 4

	// sniffLen matches the number of bytes mimetype inspects by default.
	sniffLen = 3072
)

// DefaultAllowedTypes are the image formats accepted when none are configured.
var DefaultAllowedTypes = []string{"image/jpeg", "image/png", "image/webp"}

// Recorder keeps a durable record of stored objects.
type Recorder interface {
	Record(ctx context.Context, backend string, obj StoredObject) error
}

// Observer is notified of every finished file.
type Observer interface {
	ObserveResult(backend string, res Result, elapsed time.Duration)
}

type Options struct {
	// MaxFileSize is the largest accepted payload in bytes.
	MaxFileSize int64
	// AllowedTypes lists accepted media types, e.g. "image/png".
	AllowedTypes []string
	// MaxConcurrency caps concurrent stores within one batch.
	MaxConcurrency int
	// VerifyContent rejects files whose bytes are not an allowed format,
	// regardless of the declared content type.
	VerifyContent bool

	Recorder Recorder
	Observer Observer
}

// Orchestrator is the entry point of the ingestion pipeline.
type Orchestrator struct {
	backend storage.Backend
	names   *naming.Sanitizer
	opts    Options
	allowed map[string]struct{}
}

// New returns an Orchestrator bound to backend for its whole lifetime.
func New(backend storage.Backend, names *naming.Sanitizer, opts Options) *Orchestrator {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	if len(opts.AllowedTypes) == 0 {
		opts.AllowedTypes = DefaultAllowedTypes
	}

	allowed := make(map[string]struct{}, len(opts.AllowedTypes))
	for _, t := range opts.AllowedTypes {
		allowed[normalizeType(t)] = struct{}{}
	}

	return &Orchestrator{
		backend: backend,
		names:   names,
		opts:    opts,
		allowed: allowed,
	}
}

// Backend returns the name of the bound storage backend.
func (o *Orchestrator) Backend() string {
	return o.backend.Name()
}

// MaxFileSize returns the effective per-file size limit.
func (o *Orchestrator) MaxFileSize() int64 {
	return o.opts.MaxFileSize
}

// IngestOne validates and stores a single file. Relative storage locations
// are resolved against origin. It never panics and never returns an error;
// failures are reported in the Result.
func (o *Orchestrator) IngestOne(ctx context.Context, origin *url.URL, file IncomingFile) Result {
	return o.ingest(ctx, origin, 0, file)
}

// IngestMany stores every file concurrently and returns one Result per file
// in submission order. A failing file never affects the others.
func (o *Orchestrator) IngestMany(ctx context.Context, origin *url.URL, files []IncomingFile) []Result {
	results := make([]Result, len(files))

	var g errgroup.Group
	g.SetLimit(o.opts.MaxConcurrency)

	for i, file := range files {
		g.Go(func() error {
			results[i] = o.ingest(ctx, origin, i, file)
			return nil
		})
	}

	// Workers never return errors.
	_ = g.Wait()
	return results
}

func (o *Orchestrator) ingest(ctx context.Context, origin *url.URL, index int, file IncomingFile) (res Result) {
	start := time.Now()
	res = Result{Index: index, Name: file.Name, State: StateReceived}

	defer func() {
		if p := recover(); p != nil {
			slog.Error("Recovered panic while storing upload", "filename", file.Name, "panic", p)
			res.Object = nil
			res = o.fail(res, KindStorageWriteFailed, "", fmt.Errorf("internal error: %v", p))
		}

		if o.opts.Observer != nil {
			o.opts.Observer.ObserveResult(o.backend.Name(), res, time.Since(start))
		}
	}()

	if file.Open == nil {
		return o.fail(res, KindNoFileProvided, "", ErrNoFile)
	}

	contentType := normalizeType(file.ContentType)
	if file.Size > o.opts.MaxFileSize {
		return o.fail(res, KindValidationFailed, "", fmt.Errorf("%w: %d bytes, limit %d", ErrFileTooLarge, file.Size, o.opts.MaxFileSize))
	}
	if contentType != "" && contentType != "application/octet-stream" && !o.isAllowed(contentType) {
		return o.fail(res, KindValidationFailed, "", fmt.Errorf("%w: %q", ErrUnsupportedType, contentType))
	}

	res.State = StateSanitizing
	key := o.names.Key(file.Name)

	rc, err := file.Open()
	if err != nil {
		return o.fail(res, KindStorageWriteFailed, key, fmt.Errorf("open upload: %w", err))
	}
	defer rc.Close()

	br := bufio.NewReaderSize(rc, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return o.fail(res, KindStorageWriteFailed, key, fmt.Errorf("read upload: %w", err))
	}

	detected := normalizeType(mimetype.Detect(head).String())
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = detected
		if !o.isAllowed(contentType) {
			return o.fail(res, KindValidationFailed, key, fmt.Errorf("%w: %q", ErrUnsupportedType, contentType))
		}
	}
	if o.opts.VerifyContent && !o.isAllowed(detected) {
		return o.fail(res, KindValidationFailed, key, fmt.Errorf("%w: detected %q", ErrContentMismatch, detected))
	}

	if err := ctx.Err(); err != nil {
		return o.fail(res, KindStorageWriteFailed, key, err)
	}

	res.State = StateStoring
	body := &limitedReader{r: br, remaining: o.opts.MaxFileSize}
	location, err := o.backend.Store(ctx, key, body, file.Size, contentType)
	if err != nil {
		if errors.Is(err, ErrFileTooLarge) || body.exceeded {
			return o.fail(res, KindValidationFailed, key, fmt.Errorf("%w: limit %d", ErrFileTooLarge, o.opts.MaxFileSize))
		}
		return o.fail(res, KindStorageWriteFailed, key, err)
	}

	obj := StoredObject{
		Key:         key,
		URL:         resolve.Resolve(origin, location),
		Size:        body.read,
		ContentType: contentType,
		Location:    location,
	}

	if o.opts.Recorder != nil {
		if err := o.opts.Recorder.Record(ctx, o.backend.Name(), obj); err != nil {
			slog.Warn("Failed to record stored upload", "key", key, "err", err)
		}
	}

	slog.Info("Stored upload", "filename", file.Name, "key", key, "backend", o.backend.Name(), "size", obj.Size, "content_type", contentType)

	res.State = StateStored
	res.Object = &obj
	return res
}

func (o *Orchestrator) fail(res Result, kind ErrorKind, key string, cause error) Result {
	res.State = StateFailed
	res.Failure = newFailure(kind, key, cause)

	attrs := []any{"filename", res.Name, "kind", kind, "key", key, "backend", o.backend.Name(), "err", cause}
	if kind == KindStorageWriteFailed {
		slog.Error("Upload failed", attrs...)
	} else {
		slog.Warn("Upload rejected", attrs...)
	}
	return res
}

func (o *Orchestrator) isAllowed(contentType string) bool {
	_, ok := o.allowed[contentType]
	return ok
}

// normalizeType strips parameters and lowercases a media type, folding the
// non-standard "image/jpg" into "image/jpeg".
func normalizeType(contentType string) string {
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		return ""
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType, _, _ = strings.Cut(contentType, ";")
	}

	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	if mediaType == "image/jpg" || mediaType == "image/pjpeg" {
		return "image/jpeg"
	}
	return mediaType
}

// limitedReader fails with ErrFileTooLarge once more than remaining bytes
// have been read.
type limitedReader struct {
	r         io.Reader
	remaining int64
	read      int64
	exceeded  bool
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		l.exceeded = true
		return 0, ErrFileTooLarge
	}

	// Read one byte past the limit so an oversized body is detected.
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}

	n, err := l.r.Read(p)
	l.read += int64(n)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		l.exceeded = true
		return n, ErrFileTooLarge
	}
	return n, err
}
