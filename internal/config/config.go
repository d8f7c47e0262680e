// Package config implements the single-writer configuration snapshot
// cell described in spec.md §6/§9 (global_config): loaded once from the
// process environment at startup, fail-fast on missing required values,
// and replaceable wholesale via POST /load_config without ever being
// mutated in place.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
)

// Config is the immutable, process-wide configuration snapshot. Callers
// must never mutate a *Config obtained from a Store; build a new one and
// call Store.Replace instead.
type Config struct {
	StorageS3Bucket    string
	StorageAPIEndpoint string
	StorageAPIKey      string
	StorageRegion      string
	APIPort            int
	LogLevel           string
	HeartbeatURL       string
	ListenerURL        string
	ConfigURL          string
	ObjectsDir         string
	SafetensorsDir     string
	TasksDir           string
}

const (
	envS3Bucket    = "SPLITUP_STORAGE_S3_BUCKET"
	envAPIEndpoint = "SPLITUP_STORAGE_API_ENDPOINT"
	envAPIKey      = "SPLITUP_STORAGE_API_KEY"
	envRegion      = "SPLITUP_STORAGE_REGION"
	envAPIPort     = "SPLITUP_COMPUTE_SERVICE_API_PORT"
	envLogLevel    = "SPLITUP_COMPUTE_SERVICE_LOG_LEVEL"
	envHeartbeat   = "SPLITUP_COMPUTE_SERVICE_HEARTBEAT_URL"
	envListener    = "SPLITUP_COMPUTE_SERVICE_LISTENER_URL"
	envConfigURL   = "SPLITUP_COMPUTE_SERVICE_CONFIG_URL"
)

// Load builds a Config from the process environment, applying the
// defaults spec.md §6 specifies and fail-fasting (returning a
// multierror aggregating every missing required variable at once, not
// just the first) when a required value is absent.
func Load() (*Config, error) {
	var errs *multierror.Error

	bucket := os.Getenv(envS3Bucket)
	if bucket == "" {
		errs = multierror.Append(errs, fmt.Errorf("%s is required", envS3Bucket))
	}
	endpoint := os.Getenv(envAPIEndpoint)
	if endpoint == "" {
		errs = multierror.Append(errs, fmt.Errorf("%s is required", envAPIEndpoint))
	}
	apiKey := os.Getenv(envAPIKey)
	if apiKey == "" {
		errs = multierror.Append(errs, fmt.Errorf("%s is required", envAPIKey))
	}

	region := os.Getenv(envRegion)
	if region == "" {
		region = "eu-west-2"
	}

	port := 6068
	if raw := os.Getenv(envAPIPort); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s must be an integer: %w", envAPIPort, err))
		} else {
			port = parsed
		}
	}

	logLevel := os.Getenv(envLogLevel)
	if logLevel == "" {
		logLevel = "INFO"
	}

	if errs.ErrorOrNil() != nil {
		return nil, errs
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("config: resolving home directory: %w", err)
	}

	return &Config{
		StorageS3Bucket:    bucket,
		StorageAPIEndpoint: endpoint,
		StorageAPIKey:      apiKey,
		StorageRegion:      region,
		APIPort:            port,
		LogLevel:           logLevel,
		HeartbeatURL:       os.Getenv(envHeartbeat),
		ListenerURL:        os.Getenv(envListener),
		ConfigURL:          os.Getenv(envConfigURL),
		ObjectsDir:         filepath.Join(home, ".splitup", "objects"),
		SafetensorsDir:     filepath.Join(home, ".tinygrad", "safetensors"),
		TasksDir:           filepath.Join(home, ".tinygrad", "tasks"),
	}, nil
}

// Store is the single-writer snapshot cell: Current returns a consistent
// pointer to an immutable Config, and Replace atomically swaps it for a
// newly loaded one. No lock is needed on the read path because the
// pointer itself, not the struct, is what changes.
type Store struct {
	current atomic.Pointer[Config]
}

// NewStore builds a Store already holding initial.
func NewStore(initial *Config) *Store {
	s := &Store{}
	s.current.Store(initial)
	return s
}

// Current returns the active configuration snapshot, or nil if the
// store has never been loaded (HealthStatus.status == degraded in that
// state, per spec.md §6).
func (s *Store) Current() *Config {
	return s.current.Load()
}

// Replace wholesale-swaps the active snapshot. It never mutates the
// previous Config in place, so any goroutine mid-read of the old pointer
// keeps seeing a consistent value.
func (s *Store) Replace(next *Config) {
	s.current.Store(next)
}

// FetchRemote retrieves a Config from a remote config-serving endpoint
// (spec.md §6's SPLITUP_COMPUTE_SERVICE_CONFIG_URL collaborator),
// expecting a JSON object keyed by Config's Go field names (Config has
// no json tags), e.g. "StorageS3Bucket". It's the POST /load_config
// handler's collaborator. spec.md
// §1 lists the remote config-fetch endpoint itself as an out-of-scope
// external collaborator, so unlike ObjectClient/ArtifactStore this is a
// single unretried fetch, not wrapped in internal/backoff.
func FetchRemote(ctx context.Context, url string) (*Config, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("config: building remote fetch request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("config: fetching remote config from %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("config: remote config fetch from %s returned HTTP %d", url, resp.StatusCode)
	}

	var remote Config
	if err := json.NewDecoder(resp.Body).Decode(&remote); err != nil {
		return nil, fmt.Errorf("config: decoding remote config: %w", err)
	}
	return &remote, nil
}
