package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func fastClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	client := New(ts.URL, ts.URL, nil)
	client.Backoff.MaxAttempts = 3
	client.Backoff.InitialBackoff = time.Millisecond
	return client, ts
}

func TestHeartbeatSendsStatus(t *testing.T) {
	var got heartbeatBody
	client, _ := fastClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(ackBody{Success: true})
	})

	err := client.Heartbeat(context.Background(), StatusIdle, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if got.Status != StatusIdle {
		t.Fatalf("status = %q, want %q", got.Status, StatusIdle)
	}
}

func TestReportCompletedRetriesOnAckFailure(t *testing.T) {
	var attempts int32
	client, _ := fastClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 2 {
			json.NewEncoder(w).Encode(ackBody{Success: false, Message: "try again"})
			return
		}
		json.NewEncoder(w).Encode(ackBody{Success: true})
	})

	err := client.ReportCompleted(context.Background(), "e1", "add", map[string]string{"tensor_url": "s3://bucket/k"})
	if err != nil {
		t.Fatalf("ReportCompleted: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
}

func TestReportCompletedExhaustsRetries(t *testing.T) {
	client, _ := fastClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ackBody{Success: false, Message: "down"})
	})

	err := client.ReportCompleted(context.Background(), "e1", "add", nil)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
}

func TestHeartbeatNoopWithoutURL(t *testing.T) {
	client := New("", "", nil)
	if err := client.Heartbeat(context.Background(), StatusIdle, time.Now()); err != nil {
		t.Fatalf("Heartbeat with no URL should be a no-op, got: %v", err)
	}
}
