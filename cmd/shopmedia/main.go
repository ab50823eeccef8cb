package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shopmedia/internal/catalog"
	"shopmedia/internal/config"
	"shopmedia/internal/ingest"
	"shopmedia/internal/metrics"
	"shopmedia/internal/naming"
	"shopmedia/internal/resolve"
	"shopmedia/internal/server"
	"shopmedia/internal/storage"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func Run(ctx context.Context) error {

	listen := flag.String("listen", "", "HTTP listen port (overrides PORT)")
	dataDir := flag.String("data-dir", "", "directory for local uploads and the catalog (overrides DATA_DIR)")
	logLevel := flag.String("log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")
	envFile := flag.String("env-file", ".env", "dotenv file to load when present")

	flag.Parse()

	handler := log.NewWithOptions(os.Stdout, log.Options{
		Level:           log.InfoLevel,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    true,
	})

	slog.SetDefault(slog.New(handler))

	if err := config.LoadDotEnv(*envFile); err != nil {
		return err
	}

	overrides := map[string]string{}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			overrides["PORT"] = *listen
		case "data-dir":
			overrides["DATA_DIR"] = *dataDir
		case "log-level":
			overrides["LOG_LEVEL"] = *logLevel
		}
	})

	cfg, err := config.Load(func(key string) (string, bool) {
		if v, ok := overrides[key]; ok {
			return v, true
		}
		return os.LookupEnv(key)
	})
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	handler.SetLevel(level)

	backend, err := storage.NewBackend(ctx, cfg.Backend)
	if err != nil {
		return fmt.Errorf("failed to create storage backend: %w", err)
	}

	names, err := naming.NewSanitizer(cfg.PermittedScripts...)
	if err != nil {
		return err
	}

	resolver, err := resolve.New(cfg.TrustedProxies)
	if err != nil {
		return err
	}

	cat, err := catalog.Open(ctx, cfg.CatalogPath)
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	defer cat.Close()

	reg := metrics.NewRegistry()
	observer, err := metrics.NewObserver(metrics.DefaultNamespace, reg)
	if err != nil {
		return err
	}

	orch := ingest.New(backend, names, ingest.Options{
		MaxFileSize:    cfg.MaxFileSize,
		AllowedTypes:   cfg.AllowedTypes,
		MaxConcurrency: cfg.MaxConcurrency,
		VerifyContent:  cfg.VerifyContent,
		Recorder:       cat,
		Observer:       observer,
	})

	opts := server.Options{
		Policy:      cfg.BatchPolicy,
		MaxFiles:    cfg.MaxFiles,
		CORSOrigins: cfg.CORSOrigins,
		Catalog:     cat,
		Registry:    reg,
	}
	if local, ok := backend.(*storage.LocalFileStorage); ok {
		opts.Static = local
	}

	srv, err := server.New(orch, resolver, opts)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 20 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      2 * time.Minute,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	eg.Go(func() error {
		slog.Info("Starting HTTP server",
			"port", cfg.Port,
			"backend", backend.Name(),
			"max_file_size", humanize.IBytes(uint64(cfg.MaxFileSize)),
			"max_files", cfg.MaxFiles,
			"policy", cfg.BatchPolicy,
		)
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	return eg.Wait()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Run(ctx); err != nil {
		slog.Error("shopmedia exited with error", "error", err)
		stop()
		os.Exit(1)
	}
}
