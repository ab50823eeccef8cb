// Package config loads process configuration from the environment. It is
// read once at startup and passed by value to every component.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"

	"shopmedia/internal/ingest"
	"shopmedia/internal/naming"
	"shopmedia/internal/resolve"
	"shopmedia/internal/storage"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
)

// ErrConfigurationMissing is returned when only some of the remote storage
// credentials are set, which would leave the backend choice ambiguous.
var ErrConfigurationMissing = errors.New("remote storage credentials are incomplete")

const (
	EnvEndpoint  = "STORAGE_ENDPOINT"
	EnvAccessKey = "STORAGE_ACCESS_KEY"
	EnvSecretKey = "STORAGE_SECRET_KEY"
)

// MaxFileSizeLimit bounds MAX_FILE_SIZE so request body limits derived from it
// stay within int64.
const MaxFileSizeLimit = 1 << 40

type Config struct {
	Port     string
	DataDir  string
	LogLevel string

	Backend storage.BackendConfig

	MaxFileSize      int64
	MaxFiles         int
	MaxConcurrency   int
	AllowedTypes     []string
	VerifyContent    bool
	PermittedScripts []string
	BatchPolicy      ingest.Policy

	TrustedProxies []string
	CORSOrigins    []string
	CatalogPath    string
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// LoadDotEnv loads variables from the given files (".env" when none are
// given) without overriding variables that are already set. Missing files
// are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}

	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load builds a Config from lookup. Remote storage is selected when all of
// STORAGE_ENDPOINT, STORAGE_ACCESS_KEY and STORAGE_SECRET_KEY are set, local
// storage when none are, and ErrConfigurationMissing is returned otherwise.
func Load(lookup LookupFunc) (Config, error) {
	env := func(key, fallback string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return fallback
	}

	var errs []error

	dataDir := env("DATA_DIR", "./data")
	cfg := Config{
		Port:             env("PORT", "4000"),
		DataDir:          dataDir,
		LogLevel:         env("LOG_LEVEL", "info"),
		AllowedTypes:     list(env("ALLOWED_TYPES", ""), ingest.DefaultAllowedTypes),
		PermittedScripts: list(env("PERMITTED_SCRIPTS", ""), naming.DefaultScripts),
		TrustedProxies:   list(env("TRUSTED_PROXIES", ""), resolve.DefaultTrustedProxies),
		CORSOrigins:      list(env("CORS_ORIGINS", ""), []string{"*"}),
		CatalogPath:      env("CATALOG_PATH", filepath.Join(dataDir, "catalog.sqlite")),
	}

	size, err := humanize.ParseBytes(env("MAX_FILE_SIZE", "10MiB"))
	switch {
	case err != nil || size == 0:
		errs = append(errs, fmt.Errorf("MAX_FILE_SIZE: invalid size %q", env("MAX_FILE_SIZE", "")))
	case size > MaxFileSizeLimit:
		errs = append(errs, fmt.Errorf("MAX_FILE_SIZE: %s exceeds the %s limit",
			humanize.IBytes(size), humanize.IBytes(MaxFileSizeLimit)))
	default:
		cfg.MaxFileSize = int64(size)
	}

	cfg.MaxFiles = positiveInt(env("MAX_FILES", "10"), "MAX_FILES", &errs)
	cfg.MaxConcurrency = positiveInt(env("MAX_CONCURRENCY", "4"), "MAX_CONCURRENCY", &errs)

	cfg.VerifyContent, err = strconv.ParseBool(env("VERIFY_CONTENT", "true"))
	if err != nil {
		errs = append(errs, fmt.Errorf("VERIFY_CONTENT: %w", err))
	}

	cfg.BatchPolicy, err = ingest.ParsePolicy(env("BATCH_POLICY", string(ingest.PolicyBestEffort)))
	if err != nil {
		errs = append(errs, fmt.Errorf("BATCH_POLICY: %w", err))
	}

	backend, err := loadBackend(env)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.Backend = backend

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadBackend(env func(key, fallback string) string) (storage.BackendConfig, error) {
	creds := map[string]string{
		EnvEndpoint:  env(EnvEndpoint, ""),
		EnvAccessKey: env(EnvAccessKey, ""),
		EnvSecretKey: env(EnvSecretKey, ""),
	}

	var present, missing []string
	for _, key := range []string{EnvEndpoint, EnvAccessKey, EnvSecretKey} {
		if creds[key] != "" {
			present = append(present, key)
		} else {
			missing = append(missing, key)
		}
	}

	switch len(present) {
	case 0:
		dataDir := env("DATA_DIR", "./data")
		return storage.BackendConfig{
			Mode: storage.ModeLocal,
			Local: storage.LocalConfig{
				Root:         env("UPLOAD_DIR", filepath.Join(dataDir, "uploads")),
				PublicPrefix: env("UPLOAD_PUBLIC_PREFIX", storage.DefaultPublicPrefix),
			},
		}, nil
	case len(creds):
		useSSL, err := strconv.ParseBool(env("STORAGE_USE_SSL", "true"))
		if err != nil {
			return storage.BackendConfig{}, fmt.Errorf("STORAGE_USE_SSL: %w", err)
		}
		return storage.BackendConfig{
			Mode: storage.ModeRemote,
			Remote: storage.RemoteConfig{
				Endpoint:   creds[EnvEndpoint],
				AccessKey:  creds[EnvAccessKey],
				SecretKey:  creds[EnvSecretKey],
				Bucket:     env("STORAGE_BUCKET", "shop-media"),
				Folder:     env("STORAGE_FOLDER", storage.DefaultFolder),
				Region:     env("STORAGE_REGION", ""),
				UseSSL:     useSSL,
				PublicBase: env("STORAGE_PUBLIC_BASE", ""),
			},
		}, nil
	default:
		return storage.BackendConfig{}, fmt.Errorf("%w: %s set but %s missing",
			ErrConfigurationMissing, strings.Join(present, ", "), strings.Join(missing, ", "))
	}
}

func list(value string, fallback []string) []string {
	if value == "" {
		return append([]string(nil), fallback...)
	}

	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func positiveInt(value string, name string, errs *[]error) int {
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		*errs = append(*errs, fmt.Errorf("%s: must be a positive integer, got %q", name, value))
		return 0
	}
	return n
}
