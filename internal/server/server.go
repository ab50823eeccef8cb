// Package server exposes the ingestion pipeline over HTTP.
package server

import (
	"errors"
	"math"
	"net/http"
	"time"

	"shopmedia/internal/catalog"
	"shopmedia/internal/ingest"
	"shopmedia/internal/metrics"
	"shopmedia/internal/resolve"
	"shopmedia/internal/storage"

	"github.com/go-chi/cors"
	promclient "github.com/prometheus/client_golang/prometheus"
)

const (
	// DefaultMaxFiles is the largest batch accepted by the multi-file route.
	DefaultMaxFiles = 10

	multipartMemory = 32 << 20
	formOverhead    = 1 << 20
)

type Options struct {
	Policy      ingest.Policy
	MaxFiles    int
	CORSOrigins []string

	// Static, when set, is served read-only under its public prefix.
	Static *storage.LocalFileStorage
	// Catalog, when set, enables the upload listing and the gallery.
	Catalog *catalog.Catalog
	// Registry, when set, is exposed on /metrics.
	Registry *promclient.Registry
}

// Server serves the upload API.
type Server struct {
	ingest   *ingest.Orchestrator
	resolver *resolve.Resolver
	opts     Options
	now      func() time.Time
}

func New(orch *ingest.Orchestrator, resolver *resolve.Resolver, opts Options) (*Server, error) {
	if orch == nil {
		return nil, errors.New("orchestrator must not be nil")
	}
	if resolver == nil {
		return nil, errors.New("resolver must not be nil")
	}
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = DefaultMaxFiles
	}
	if opts.Policy == "" {
		opts.Policy = ingest.PolicyBestEffort
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}

	return &Server{
		ingest:   orch,
		resolver: resolver,
		opts:     opts,
		now:      time.Now,
	}, nil
}

// bodyLimit is the largest request body accepted on the upload routes. It
// saturates at math.MaxInt64 instead of wrapping.
func (s *Server) bodyLimit() int64 {
	files, size := int64(s.opts.MaxFiles), s.ingest.MaxFileSize()
	if size > (math.MaxInt64-formOverhead)/files {
		return math.MaxInt64
	}
	return files*size + formOverhead
}

// Handler returns the http.Handler for every route.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)

	limit := s.bodyLimit()
	mux.Handle("POST /api/upload", LimitBody(limit, http.HandlerFunc(s.handleUploadSingle)))
	mux.Handle("POST /api/upload/multiple", LimitBody(limit, http.HandlerFunc(s.handleUploadMultiple)))

	if s.opts.Static != nil {
		mux.HandleFunc("GET "+s.opts.Static.PublicPrefix()+"/{key}", s.handleStatic)
	}

	if s.opts.Catalog != nil {
		mux.HandleFunc("GET /api/uploads", s.handleListUploads)
		mux.HandleFunc("GET /gallery", s.handleGallery)
	}

	if s.opts.Registry != nil {
		mux.Handle("GET /metrics", metrics.Handler(s.opts.Registry))
	}

	corsHandler := cors.Handler(cors.Options{
		AllowedOrigins: s.opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	})

	return LogRequest(corsHandler(mux))
}
