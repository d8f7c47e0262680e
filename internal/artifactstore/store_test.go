package artifactstore

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
)

type fakeDownloader struct {
	body []byte
	err  error
}

func (f *fakeDownloader) Download(ctx context.Context, url string) (io.ReadCloser, error) {
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(strings.NewReader(string(f.body))), nil
}

func TestIDOfDeterministic(t *testing.T) {
	data := []byte("hello graph program")
	if IDOf(data, true) != IDOf(data, true) {
		t.Fatal("IDOf is not deterministic for identical input")
	}
	if len(IDOf(data, true)) != 8 {
		t.Fatalf("truncated id length = %d, want 8", len(IDOf(data, true)))
	}
	if len(IDOf(data, false)) != 32 {
		t.Fatalf("full id length = %d, want 32", len(IDOf(data, false)))
	}
}

func TestFetchDownloadAndVerify(t *testing.T) {
	dir := t.TempDir()
	blob := make([]byte, 1024)
	for i := range blob {
		blob[i] = byte(i)
	}
	id := IDOfContent(KindTask, blob)

	store, err := New(dir, &fakeDownloader{body: blob}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	path, err := store.Fetch(context.Background(), KindTask, id, "http://example.invalid/blob")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading fetched file: %v", err)
	}
	if string(got) != string(blob) {
		t.Fatal("fetched content does not match uploaded blob")
	}
	if truncateDigest(KindTask, shaSum(got)) != id {
		t.Fatalf("fetched content hashes to the wrong id")
	}
}

func TestFetchIntegrityMismatch(t *testing.T) {
	dir := t.TempDir()
	id := IDOfContent(KindTask, []byte("expected bytes"))

	store, err := New(dir, &fakeDownloader{body: []byte("tampered bytes")}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = store.Fetch(context.Background(), KindTask, id, "http://example.invalid/blob")
	var integrityErr *IntegrityError
	if !errors.As(err, &integrityErr) {
		t.Fatalf("err = %v (%T), want *IntegrityError", err, err)
	}

	entries, err := os.ReadDir(store.classDir(KindTask))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, entry := range entries {
		if strings.Contains(entry.Name(), string(id)) {
			t.Fatalf("tampered content was left in the tasks directory as %q", entry.Name())
		}
	}
}

func TestFetchCacheHitAvoidsDownload(t *testing.T) {
	dir := t.TempDir()
	blob := []byte("cached contents")
	id := IDOfContent(KindTask, blob)

	store, err := New(dir, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := os.WriteFile(store.classDir(KindTask)+"/"+string(id)+".pkl", blob, 0o644); err != nil {
		t.Fatalf("seeding cache: %v", err)
	}

	path, err := store.Fetch(context.Background(), KindTask, id, "")
	if err != nil {
		t.Fatalf("Fetch should hit the cache without a downloader: %v", err)
	}
	if path == "" {
		t.Fatal("expected a non-empty cached path")
	}
}
