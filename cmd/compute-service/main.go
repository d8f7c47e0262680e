// Command compute-service runs the worker node described in spec.md: it
// serves the HTTP API facade and drains the single-worker execution
// queue until told to shut down. The CLI front-end itself (argument
// parsing, colored output, progress bars) is an explicit spec.md
// Non-goal; this binary only wires the components together and handles
// OS signals.
package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/splitup/compute-service/internal/accelerator"
	"github.com/splitup/compute-service/internal/api"
	"github.com/splitup/compute-service/internal/artifactstore"
	"github.com/splitup/compute-service/internal/backoff"
	"github.com/splitup/compute-service/internal/config"
	"github.com/splitup/compute-service/internal/execution"
	"github.com/splitup/compute-service/internal/logging"
	"github.com/splitup/compute-service/internal/notifier"
	"github.com/splitup/compute-service/internal/objectclient"
)

const resultVersion = "0.1.0"

func main() {
	if err := run(); err != nil {
		logging.Logger().Error("compute-service exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logging.SetLevel(cfg.LogLevel)
	logger := logging.Logger()

	configStore := config.NewStore(cfg)

	objectClient := objectclient.New(cfg.StorageAPIEndpoint, cfg.StorageAPIKey, cfg.StorageS3Bucket, logger)

	downloader := objectDownloader{Backoff: backoff.DefaultConfig(), Logger: logger.Named("objectdownloader")}
	store, err := artifactstore.New(cfg.ObjectsDir, downloader, logger)
	if err != nil {
		return fmt.Errorf("initializing artifact store: %w", err)
	}

	notifierClient := notifier.New(cfg.HeartbeatURL, cfg.ListenerURL, logger)

	service := execution.New(store, objectClient, accelerator.ReferenceExecutor{}, notifierClient, logger, 4096)

	server := &api.Server{
		Service:     service,
		ConfigStore: configStore,
		Logger:      logger.Named("api"),
		Version:     resultVersion,
		StartedAt:   time.Now(),
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.APIPort),
		Handler: server.Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := notifierClient.Heartbeat(ctx, notifier.StatusIdle, time.Now()); err != nil {
		logger.Warn("startup heartbeat failed", "error", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return service.Run(groupCtx)
	})
	group.Go(func() error {
		logger.Info("listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = group.Wait()

	offlineCtx, cancelOffline := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelOffline()
	if hbErr := notifierClient.Heartbeat(offlineCtx, notifier.StatusOffline, time.Now()); hbErr != nil {
		logger.Warn("shutdown heartbeat failed", "error", hbErr)
	}

	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// objectDownloader adapts the plain HTTP GET verb to artifactstore.Downloader.
// execution.Service presigns the URL before calling Store.Fetch, so by the
// time this runs url is already signed; ArtifactStore itself never needs
// to know that. Per spec.md §4.2/§5, any I/O error during the download is
// retryable, so the whole request-and-read is wrapped in internal/backoff's
// 5-attempt/3s-doubling schedule rather than attempted once.
type objectDownloader struct {
	Backoff backoff.Config
	Logger  hclog.Logger
}

func (d objectDownloader) Download(ctx context.Context, url string) (io.ReadCloser, error) {
	var body []byte
	err := backoff.Retry(ctx, d.Backoff, d.Logger, "download "+url, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("objectDownloader: building request: %w", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("objectDownloader: GET %s: %w", url, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("objectDownloader: GET %s returned HTTP %d", url, resp.StatusCode)
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("objectDownloader: reading body of %s: %w", url, err)
		}
		body = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}
