// Package objectclient implements the ObjectClient component of
// spec.md §4.5: it asks a storage-API endpoint for a presigned URL and
// then performs the plain HTTP verb against that URL, uploading or
// downloading object-store blobs without ever holding or using local
// storage credentials. Its request dispatch is grounded directly on
// internal/backend/remote-state/http/client.go's httpRequest, substituting
// a JSON presign envelope for the teacher's raw state blob.
package objectclient

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/splitup/compute-service/internal/backoff"
)

// Operation names the presign request's intent, mirroring spec.md §4.5's
// `operation ∈ {upload, download, delete}`.
type Operation string

const (
	OpUpload   Operation = "upload"
	OpDownload Operation = "download"
	OpDelete   Operation = "delete"
)

// Uri is the canonical "s3://bucket/key" identifier Put returns, per
// spec.md §4.5's contract.
type Uri string

// Client is the ObjectClient described in spec.md §4.5. It never signs
// requests itself; PresignURL delegates that to the storage-API endpoint
// and the client only ever executes the resulting, already-signed verb.
type Client struct {
	Endpoint string
	APIKey   string
	Bucket   string
	HTTP     *retryablehttp.Client
	Backoff  backoff.Config
	Logger   hclog.Logger
}

// New builds a Client backed by a retryablehttp.Client configured the
// way the teacher configures its httpClient.Client: default transport,
// logging routed through hclog instead of the standard logger. The
// retryablehttp client's own retry policy is disabled (RetryMax: 0) --
// spec.md §4.5 mandates that PresignURL/Get/Put/Delete are wrapped in
// internal/backoff's 5-attempt/3s-doubling schedule (§4.8), so retrying
// again underneath via retryablehttp's own policy would double up two
// independent, differently-tuned retry loops.
func New(endpoint, apiKey, bucket string, logger hclog.Logger) *Client {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("objectclient")

	httpClient := retryablehttp.NewClient()
	httpClient.Logger = hclogAdapter{logger}
	httpClient.RetryMax = 0

	return &Client{
		Endpoint: endpoint,
		APIKey:   apiKey,
		Bucket:   bucket,
		HTTP:     httpClient,
		Backoff:  backoff.DefaultConfig(),
		Logger:   logger,
	}
}

type presignRequest struct {
	Operation       Operation `json:"operation"`
	Key             string    `json:"key"`
	ExpiresInSecond int       `json:"expires_in_seconds"`
}

type presignResponse struct {
	URL string `json:"url"`
}

// PresignURL requests a time-limited signed URL for op against key from
// the storage-API endpoint. The server signs; this client never does.
func (c *Client) PresignURL(ctx context.Context, op Operation, key string, expiresIn int) (string, error) {
	body, err := json.Marshal(presignRequest{Operation: op, Key: key, ExpiresInSecond: expiresIn})
	if err != nil {
		return "", fmt.Errorf("objectclient: encoding presign request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint+"/presign", body)
	if err != nil {
		return "", fmt.Errorf("objectclient: building presign request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	var parsed presignResponse
	what := fmt.Sprintf("presign %s %s", op, key)
	err = backoff.Retry(ctx, c.Backoff, c.Logger, what, func(ctx context.Context) error {
		resp, err := c.HTTP.Do(req)
		if err != nil {
			return fmt.Errorf("objectclient: requesting presigned url for %s %s: %w", op, key, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("objectclient: presign %s %s returned HTTP %d", op, key, resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return fmt.Errorf("objectclient: decoding presign response: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return parsed.URL, nil
}

// Get downloads key to destPath, presigning the download first.
func (c *Client) Get(ctx context.Context, key, destPath string) error {
	url, err := c.PresignURL(ctx, OpDownload, key, 300)
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("objectclient: building download request: %w", err)
	}

	return backoff.Retry(ctx, c.Backoff, c.Logger, "download "+key, func(ctx context.Context) error {
		resp, err := c.HTTP.Do(req)
		if err != nil {
			return fmt.Errorf("objectclient: downloading %s: %w", key, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("objectclient: download %s returned HTTP %d", key, resp.StatusCode)
		}

		out, err := os.Create(destPath)
		if err != nil {
			return fmt.Errorf("objectclient: creating %s: %w", destPath, err)
		}
		defer out.Close()

		if _, err := io.Copy(out, resp.Body); err != nil {
			return fmt.Errorf("objectclient: writing %s: %w", destPath, err)
		}
		return nil
	})
}

// Put uploads the file at localPath to key, presigning the upload first,
// and returns the canonical s3://bucket/key identifier spec.md §4.5 calls
// for. metadata, when non-nil, is attached as x-amz-meta-* headers.
func (c *Client) Put(ctx context.Context, key, localPath string, metadata map[string]string) (Uri, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("objectclient: reading %s: %w", localPath, err)
	}

	url, err := c.PresignURL(ctx, OpUpload, key, 300)
	if err != nil {
		return "", err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPut, url, data)
	if err != nil {
		return "", fmt.Errorf("objectclient: building upload request: %w", err)
	}
	for k, v := range metadata {
		req.Header.Set("x-amz-meta-"+k, v)
	}
	hash := md5.Sum(data)
	req.Header.Set("Content-MD5", base64.StdEncoding.EncodeToString(hash[:]))

	err = backoff.Retry(ctx, c.Backoff, c.Logger, "upload "+key, func(ctx context.Context) error {
		resp, err := c.HTTP.Do(req)
		if err != nil {
			return fmt.Errorf("objectclient: uploading %s: %w", key, err)
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK, http.StatusCreated, http.StatusNoContent:
			return nil
		default:
			return fmt.Errorf("objectclient: upload %s returned HTTP %d", key, resp.StatusCode)
		}
	})
	if err != nil {
		return "", err
	}
	return Uri(fmt.Sprintf("s3://%s/%s", c.Bucket, key)), nil
}

// Delete removes key from object storage, presigning the deletion first.
func (c *Client) Delete(ctx context.Context, key string) error {
	url, err := c.PresignURL(ctx, OpDelete, key, 300)
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("objectclient: building delete request: %w", err)
	}

	return backoff.Retry(ctx, c.Backoff, c.Logger, "delete "+key, func(ctx context.Context) error {
		resp, err := c.HTTP.Do(req)
		if err != nil {
			return fmt.Errorf("objectclient: deleting %s: %w", key, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
			return fmt.Errorf("objectclient: delete %s returned HTTP %d", key, resp.StatusCode)
		}
		return nil
	})
}

// hclogAdapter satisfies retryablehttp.LeveledLogger by forwarding to an
// hclog.Logger, the same substitution the teacher's backends make when
// handing retryablehttp a non-standard logger.
type hclogAdapter struct {
	logger hclog.Logger
}

func (a hclogAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, keysAndValues...)
}
func (a hclogAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info(msg, keysAndValues...)
}
func (a hclogAdapter) Debug(msg string, keysAndValues ...interface{}) {
	a.logger.Debug(msg, keysAndValues...)
}
func (a hclogAdapter) Warn(msg string, keysAndValues ...interface{}) {
	a.logger.Warn(msg, keysAndValues...)
}
