// Package notifier implements the NotifierClient of spec.md §4.7: two
// retried POSTs, one reporting worker liveness and one reporting a
// terminal execution result to a downstream listener. Both go through
// internal/backoff, and a body of {success:false} is treated the same as
// a transport failure so a flaky listener gets retried rather than
// silently dropped.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/splitup/compute-service/internal/backoff"
)

// Status is the worker liveness value reported to the heartbeat URL.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusOffline Status = "offline"
)

// Client is the NotifierClient. HeartbeatURL and ListenerURL may both be
// empty, in which case the corresponding call is a no-op: a worker
// running without a configured listener still executes tasks, it just
// has nothing to tell.
type Client struct {
	HeartbeatURL string
	ListenerURL  string
	HTTP         *retryablehttp.Client
	Backoff      backoff.Config
	Logger       hclog.Logger
}

// New builds a notifier Client with the default backoff policy.
func New(heartbeatURL, listenerURL string, logger hclog.Logger) *Client {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Client{
		HeartbeatURL: heartbeatURL,
		ListenerURL:  listenerURL,
		HTTP:         retryablehttp.NewClient(),
		Backoff:      backoff.DefaultConfig(),
		Logger:       logger.Named("notifier"),
	}
}

type heartbeatBody struct {
	Status      Status `json:"status"`
	LastUpdated string `json:"lastUpdated"`
}

type completionBody struct {
	ExecutionID string `json:"execution_id"`
	TaskID      string `json:"task_id"`
	Result      any    `json:"result"`
}

type ackBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Heartbeat reports status to HeartbeatURL, retried via internal/backoff.
// Called with StatusIdle on startup and StatusOffline on graceful
// shutdown.
func (c *Client) Heartbeat(ctx context.Context, status Status, now time.Time) error {
	if c.HeartbeatURL == "" {
		return nil
	}
	body := heartbeatBody{Status: status, LastUpdated: now.UTC().Format(time.RFC3339)}
	return backoff.Retry(ctx, c.Backoff, c.Logger, "heartbeat", func(ctx context.Context) error {
		return c.postAndCheckAck(ctx, c.HeartbeatURL, body)
	})
}

// ReportCompleted reports a terminal execution's outcome to
// {ListenerURL}/report_completed, retried via internal/backoff.
func (c *Client) ReportCompleted(ctx context.Context, executionID, taskID string, result any) error {
	if c.ListenerURL == "" {
		return nil
	}
	body := completionBody{ExecutionID: executionID, TaskID: taskID, Result: result}
	return backoff.Retry(ctx, c.Backoff, c.Logger, "report_completed", func(ctx context.Context) error {
		return c.postAndCheckAck(ctx, c.ListenerURL+"/report_completed", body)
	})
}

func (c *Client) postAndCheckAck(ctx context.Context, url string, payload any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notifier: encoding request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("notifier: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("notifier: POST %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("notifier: POST %s returned HTTP %d", url, resp.StatusCode)
	}

	var ack ackBody
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		// A listener that doesn't speak the ack envelope is treated as
		// success: the HTTP status already confirmed delivery.
		return nil
	}
	if !ack.Success {
		return fmt.Errorf("notifier: POST %s acknowledged failure: %s", url, ack.Message)
	}
	return nil
}
