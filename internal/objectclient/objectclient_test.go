package objectclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/splitup/compute-service/internal/backoff"
)

// fakeStorageAPI stands in for the external storage-API endpoint:
// it answers /presign by handing back a URL pointing right back at
// itself, then serves the plain verb against an in-memory blob.
type fakeStorageAPI struct {
	blobs map[string][]byte
}

func newFakeStorageAPI() *fakeStorageAPI {
	return &fakeStorageAPI{blobs: map[string][]byte{}}
}

func (f *fakeStorageAPI) handler(serverURL func() string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/presign":
			var req presignRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			json.NewEncoder(w).Encode(presignResponse{URL: serverURL() + "/objects/" + req.Key})

		case r.Method == http.MethodPut:
			key := r.URL.Path[len("/objects/"):]
			data, _ := io.ReadAll(r.Body)
			f.blobs[key] = data
			w.WriteHeader(http.StatusOK)

		case r.Method == http.MethodGet:
			key := r.URL.Path[len("/objects/"):]
			data, ok := f.blobs[key]
			if !ok {
				http.NotFound(w, r)
				return
			}
			w.Write(data)

		case r.Method == http.MethodDelete:
			key := r.URL.Path[len("/objects/"):]
			delete(f.blobs, key)
			w.WriteHeader(http.StatusOK)

		default:
			http.Error(w, "unexpected method", http.StatusMethodNotAllowed)
		}
	}
}

func newTestClient(t *testing.T) (*Client, *fakeStorageAPI) {
	t.Helper()
	api := newFakeStorageAPI()
	var serverURL string
	ts := httptest.NewServer(api.handler(func() string { return serverURL }))
	t.Cleanup(ts.Close)
	serverURL = ts.URL

	client := New(ts.URL, "test-key", "test-bucket", nil)
	client.Backoff = backoff.Config{MaxAttempts: 2, InitialBackoff: time.Millisecond}
	return client, api
}

func TestPutGetRoundTrip(t *testing.T) {
	client, _ := newTestClient(t)
	dir := t.TempDir()

	src := filepath.Join(dir, "src.bin")
	if err := os.WriteFile(src, []byte("tensor bytes"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	uri, err := client.Put(context.Background(), "results/task_add/e1/out.pt", src, nil)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if uri != "s3://test-bucket/results/task_add/e1/out.pt" {
		t.Fatalf("uri = %q, want canonical s3:// form", uri)
	}

	dest := filepath.Join(dir, "dest.bin")
	if err := client.Get(context.Background(), "results/task_add/e1/out.pt", dest); err != nil {
		t.Fatalf("Get: %v", err)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "tensor bytes" {
		t.Fatalf("got = %q, want %q", got, "tensor bytes")
	}
}

func TestDeleteRemovesObject(t *testing.T) {
	client, api := newTestClient(t)
	api.blobs["gone.pt"] = []byte("x")

	if err := client.Delete(context.Background(), "gone.pt"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := api.blobs["gone.pt"]; ok {
		t.Fatal("object still present after Delete")
	}
}

func TestGetMissingObjectFails(t *testing.T) {
	client, _ := newTestClient(t)
	err := client.Get(context.Background(), "does/not/exist", filepath.Join(t.TempDir(), "dest"))
	if err == nil {
		t.Fatal("expected error for missing object")
	}
}
