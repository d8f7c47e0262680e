package artifactstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	uuid "github.com/hashicorp/go-uuid"
)

// IntegrityError reports that a downloaded blob's content hash did not
// match the id it was fetched for. It is fatal for the Fetch call that
// produced it and is never retried (spec.md §4.2/§7).
type IntegrityError struct {
	Kind Kind
	Want ArtifactID
	Got  ArtifactID
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("artifactstore: integrity check failed for %s artifact %s: downloaded content hashes to %s", e.Kind, e.Want, e.Got)
}

// Downloader fetches the bytes at url. Implementations are expected to
// already carry their own retry policy (cmd/compute-service's
// objectDownloader runs its HTTP GET inside internal/backoff); Store only
// calls it once per Fetch miss.
type Downloader interface {
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// Store is the content-addressed local cache described in spec.md §4.2.
// It's safe for concurrent use: fetches of different ids never conflict,
// and concurrent fetches of the *same* id race harmlessly to the same
// temp-file-then-rename outcome because the final path is entirely
// determined by the artifact's hash.
type Store struct {
	Root       string
	Downloader Downloader
	Logger     hclog.Logger
}

// New constructs a Store rooted at root, creating the tasks/ and
// safetensors/ subdirectories described in spec.md §6's on-disk layout.
func New(root string, downloader Downloader, logger hclog.Logger) (*Store, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	for _, kind := range []Kind{KindTask, KindSafetensors} {
		if err := os.MkdirAll(filepath.Join(root, string(kind)), 0o755); err != nil {
			return nil, fmt.Errorf("artifactstore: creating %s directory: %w", kind, err)
		}
	}
	return &Store{Root: root, Downloader: downloader, Logger: logger.Named("artifactstore")}, nil
}

func (s *Store) classDir(kind Kind) string {
	return filepath.Join(s.Root, string(kind))
}

// Fetch resolves id to a local path within the class directory for kind.
// If no existing file's content hashes to id, and url is non-empty, it
// downloads url to a temp file, verifies the hash, and atomically renames
// it into place; a verified mismatch returns *IntegrityError and leaves
// the class directory unchanged.
func (s *Store) Fetch(ctx context.Context, kind Kind, id ArtifactID, url string) (string, error) {
	if existing, ok, err := s.findByHash(kind, id); err != nil {
		return "", err
	} else if ok {
		return existing, nil
	}

	if url == "" {
		return "", fmt.Errorf("artifactstore: no local %s artifact %s and no url to fetch it from", kind, id)
	}
	if s.Downloader == nil {
		return "", fmt.Errorf("artifactstore: no downloader configured")
	}

	body, err := s.Downloader.Download(ctx, url)
	if err != nil {
		return "", fmt.Errorf("artifactstore: downloading %s artifact %s: %w", kind, id, err)
	}
	defer body.Close()

	tempName, err := uuid.GenerateUUID()
	if err != nil {
		return "", fmt.Errorf("artifactstore: generating temp file name: %w", err)
	}
	tempPath := filepath.Join(s.classDir(kind), "."+tempName+".tmp")
	tempFile, err := os.Create(tempPath)
	if err != nil {
		return "", fmt.Errorf("artifactstore: creating temp file: %w", err)
	}

	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tempFile, hasher), body); err != nil {
		tempFile.Close()
		os.Remove(tempPath)
		return "", fmt.Errorf("artifactstore: writing downloaded %s artifact %s: %w", kind, id, err)
	}
	if err := tempFile.Close(); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("artifactstore: closing temp file: %w", err)
	}

	got := truncateDigest(kind, hasher.Sum(nil))
	if got != id {
		os.Remove(tempPath)
		s.Logger.Warn("integrity check failed", "kind", kind, "want", id, "got", got)
		return "", &IntegrityError{Kind: kind, Want: id, Got: got}
	}

	finalPath := filepath.Join(s.classDir(kind), string(id)+fileExtension(kind))
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("artifactstore: renaming into place: %w", err)
	}
	return finalPath, nil
}

// findByHash scans the class directory for any file whose content hashes
// to id. It's a linear scan by design: the spec calls for a
// constant-time-per-file check, not an index, to keep mirroring across
// worker nodes free of any central catalog.
func (s *Store) findByHash(kind Kind, id ArtifactID) (string, bool, error) {
	entries, err := os.ReadDir(s.classDir(kind))
	if err != nil {
		return "", false, fmt.Errorf("artifactstore: listing %s directory: %w", kind, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) == ".tmp" {
			continue
		}
		path := filepath.Join(s.classDir(kind), entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if truncateDigest(kind, shaSum(data)) == id {
			return path, true, nil
		}
	}
	return "", false, nil
}

func shaSum(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

func truncateDigest(kind Kind, digest []byte) ArtifactID {
	full := hex.EncodeToString(digest)
	if kind == KindTask {
		return ArtifactID(full[:8])
	}
	return ArtifactID(full[:32])
}

func fileExtension(kind Kind) string {
	if kind == KindSafetensors {
		return ".safetensors"
	}
	return ".pkl"
}

// IDOfContent is a convenience wrapper for callers (currently the
// package's tests) that already hold a blob in memory and want its id,
// truncated by kind, without going through a reader.
func IDOfContent(kind Kind, data []byte) ArtifactID {
	return idForKind(kind, data)
}
