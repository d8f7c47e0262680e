package execution

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/splitup/compute-service/internal/artifactstore"
	"github.com/splitup/compute-service/internal/graphcodec"
	"github.com/splitup/compute-service/internal/graphrewriter"
	"github.com/splitup/compute-service/internal/objectclient"
	"github.com/splitup/compute-service/internal/tensorcodec"
)

// executeTask runs the _execute_task pipeline of spec.md §4.6, steps
// 1-8. Any error produced here becomes the task's Failed ComputeResult;
// it never propagates to the worker loop as a Go error.
func (s *Service) executeTask(ctx context.Context, req TaskExecutionRequest) ComputeResult {
	graphPath, err := s.fetchCachedBlob(ctx, artifactstore.KindTask, req.TaskStorageKey)
	if err != nil {
		return s.failure(req, err)
	}

	graphBytes, err := os.ReadFile(graphPath)
	if err != nil {
		return s.failure(req, fmt.Errorf("reading graph blob: %w", err))
	}
	program, err := graphcodec.Decode(graphBytes)
	if err != nil {
		return s.failure(req, fmt.Errorf("decoding graph: %w", err))
	}

	bindings := graphrewriter.ActualTensors{}
	for _, key := range req.InputStorageKeys {
		if err := ctx.Err(); err != nil {
			return s.cancelled(req)
		}
		localPath, err := s.fetchEphemeral(ctx, key)
		if err != nil {
			return s.failure(req, err)
		}
		tensor, err := decodeTensorFile(localPath)
		if err != nil {
			return s.failure(req, err)
		}
		bindings[stemOf(key)] = tensor
	}
	for _, weightURL := range req.Parameters {
		if err := ctx.Err(); err != nil {
			return s.cancelled(req)
		}
		// Parameters are already-resolved URLs (spec.md §3's
		// parameters: Vec<Url>), unlike task_storage_key/input_storage_keys
		// which are object-store keys requiring a presign round trip.
		weightPath, err := s.fetchWeightBlob(ctx, weightURL)
		if err != nil {
			return s.failure(req, err)
		}
		tensor, err := decodeTensorFile(weightPath)
		if err != nil {
			return s.failure(req, err)
		}
		bindings[stemOf(weightURL)] = tensor
	}

	if err := ctx.Err(); err != nil {
		return s.cancelled(req)
	}

	substituted, err := graphrewriter.Substitute(program.Root, program.Placeholders, bindings)
	if err != nil {
		return s.failure(req, err)
	}

	resultTensor, err := s.executor.Execute(ctx, substituted)
	if err != nil {
		if ctx.Err() != nil {
			return s.cancelled(req)
		}
		return s.failure(req, fmt.Errorf("accelerator execution: %w", err))
	}

	if err := ctx.Err(); err != nil {
		return s.cancelled(req)
	}

	tensorURI, err := s.uploadResult(ctx, req, resultTensor)
	if err != nil {
		return s.failure(req, err)
	}

	return ComputeResult{
		ExecutionID: req.ExecutionID,
		TaskID:      req.TaskID,
		TensorURLs:  []string{string(tensorURI)},
		Status:      StatusSuccess,
	}
}

// fetchCachedBlob resolves a storage key through ArtifactStore: the key's
// final path segment is treated as the expected content hash (the
// convention a content-addressed object store enforces by construction),
// presigns a download for the key, and lets ArtifactStore verify the
// downloaded bytes hash to it.
func (s *Service) fetchCachedBlob(ctx context.Context, kind artifactstore.Kind, key string) (string, error) {
	url, err := s.objectClient.PresignURL(ctx, objectclient.OpDownload, key, 300)
	if err != nil {
		return "", fmt.Errorf("presigning %s %s: %w", kind, key, err)
	}
	id := artifactstore.ArtifactID(stemOf(key))
	path, err := s.artifactStore.Fetch(ctx, kind, id, url)
	if err != nil {
		return "", fmt.Errorf("fetching %s %s: %w", kind, key, err)
	}
	return path, nil
}

// fetchWeightBlob resolves an already-presigned weight bundle URL
// through ArtifactStore, reusing the cache across executions that share
// the same weights.
func (s *Service) fetchWeightBlob(ctx context.Context, url string) (string, error) {
	id := artifactstore.ArtifactID(stemOf(url))
	path, err := s.artifactStore.Fetch(ctx, artifactstore.KindSafetensors, id, url)
	if err != nil {
		return "", fmt.Errorf("fetching weight bundle %s: %w", url, err)
	}
	return path, nil
}

// fetchEphemeral downloads a per-task input tensor directly: unlike
// graph blobs and weight bundles, these aren't reused across executions,
// so there's no cache to populate.
func (s *Service) fetchEphemeral(ctx context.Context, key string) (string, error) {
	dir, err := os.MkdirTemp("", "splitup-input-*")
	if err != nil {
		return "", fmt.Errorf("creating temp dir for %s: %w", key, err)
	}
	dest := filepath.Join(dir, stemOf(key))
	if err := s.objectClient.Get(ctx, key, dest); err != nil {
		return "", fmt.Errorf("downloading %s: %w", key, err)
	}
	return dest, nil
}

func (s *Service) uploadResult(ctx context.Context, req TaskExecutionRequest, tensor *tensorcodec.Tensor) (objectclient.Uri, error) {
	encoded, err := tensorcodec.Encode(tensor)
	if err != nil {
		return "", fmt.Errorf("encoding result tensor: %w", err)
	}

	tempFile, err := os.CreateTemp("", "splitup-result-*.pt")
	if err != nil {
		return "", fmt.Errorf("creating temp file for result: %w", err)
	}
	defer os.Remove(tempFile.Name())
	if _, err := tempFile.Write(encoded); err != nil {
		tempFile.Close()
		return "", fmt.Errorf("writing result tensor: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return "", fmt.Errorf("closing result tensor file: %w", err)
	}

	key := fmt.Sprintf("results/task_%s/%s/%s.pt", req.TaskID, req.ExecutionID, uuid.NewString())
	uri, err := s.objectClient.Put(ctx, key, tempFile.Name(), nil)
	if err != nil {
		return "", fmt.Errorf("uploading result: %w", err)
	}
	return uri, nil
}

func decodeTensorFile(path string) (*tensorcodec.Tensor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tensor file %s: %w", path, err)
	}
	tensor, err := tensorcodec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decoding tensor file %s: %w", path, err)
	}
	return tensor, nil
}

// stemOf returns the final path segment of key with any extension
// removed, e.g. "i/a" -> "a", "results/foo.pt" -> "foo".
func stemOf(key string) string {
	base := filepath.Base(key)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (s *Service) failure(req TaskExecutionRequest, err error) ComputeResult {
	return ComputeResult{ExecutionID: req.ExecutionID, TaskID: req.TaskID, Status: StatusFailed, Error: err.Error()}
}

// cancelled reports a cancelled execution the way spec.md §7 mandates:
// there is no distinct wire status for cancellation, so it is recorded
// as a Failure with Error == "cancelled".
func (s *Service) cancelled(req TaskExecutionRequest) ComputeResult {
	return ComputeResult{ExecutionID: req.ExecutionID, TaskID: req.TaskID, Status: StatusFailed, Error: cancelledReason}
}
