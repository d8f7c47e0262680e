// Package execution implements the ExecutionService of spec.md §4.6: a
// FIFO task queue drained by a single cooperative worker, a cancellation
// registry, and a results table. Concurrency follows SPEC_FULL.md §7's
// goroutine substitution for the source spec's single-threaded event
// loop: the worker and the HTTP handlers run on separate goroutines, so
// the shared maps spec.md §5 allows an event loop to leave unlocked are
// guarded here by a mutex instead.
package execution

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/semaphore"

	"github.com/splitup/compute-service/internal/accelerator"
	"github.com/splitup/compute-service/internal/artifactstore"
	"github.com/splitup/compute-service/internal/objectclient"
)

// ArtifactFetcher is the subset of *artifactstore.Store the pipeline
// needs; declared as an interface so tests can substitute a fake without
// touching the filesystem.
type ArtifactFetcher interface {
	Fetch(ctx context.Context, kind artifactstore.Kind, id artifactstore.ArtifactID, url string) (string, error)
}

// ObjectTransfer is the subset of *objectclient.Client the pipeline
// needs: presigning, downloading arbitrary input tensors, and uploading
// the realized result.
type ObjectTransfer interface {
	PresignURL(ctx context.Context, op objectclient.Operation, key string, expiresIn int) (string, error)
	Get(ctx context.Context, key, destPath string) error
	Put(ctx context.Context, key, localPath string, metadata map[string]string) (objectclient.Uri, error)
}

// CompletionNotifier is the subset of *notifier.Client the worker loop
// needs after each terminal execution.
type CompletionNotifier interface {
	ReportCompleted(ctx context.Context, executionID, taskID string, result any) error
}

// Service is the ExecutionService. Construct with New and start the
// worker with Run; Submit/Status/Cancel/ListActive are safe to call
// concurrently from any number of HTTP handler goroutines.
type Service struct {
	artifactStore ArtifactFetcher
	objectClient  ObjectTransfer
	executor      accelerator.Executor
	notifier      CompletionNotifier
	logger        hclog.Logger

	queue chan TaskExecutionRequest
	sem   *semaphore.Weighted

	mu          sync.Mutex
	active      map[string]context.CancelFunc
	activeNames map[string]string
	results     map[string]ComputeResult
}

// New constructs a Service. queueDepth bounds how many requests can wait
// in the queue; once it is full, Submit returns an error instead of
// blocking. spec.md treats the queue as unbounded, but an idiomatic Go
// channel needs a concrete capacity, so callers should pick something
// generous (cmd/compute-service uses 4096).
func New(artifactStore ArtifactFetcher, objectClient ObjectTransfer, executor accelerator.Executor, notifier CompletionNotifier, logger hclog.Logger, queueDepth int) *Service {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Service{
		artifactStore: artifactStore,
		objectClient:  objectClient,
		executor:      executor,
		notifier:      notifier,
		logger:        logger.Named("execution"),
		queue:         make(chan TaskExecutionRequest, queueDepth),
		sem:           semaphore.NewWeighted(1),
		active:        make(map[string]context.CancelFunc),
		activeNames:   make(map[string]string),
		results:       make(map[string]ComputeResult),
	}
}

// Submit enqueues req, recording it as Queued immediately so a
// subsequent Status call observes it even before the worker picks it up.
func (s *Service) Submit(req TaskExecutionRequest) error {
	s.mu.Lock()
	if _, exists := s.results[req.ExecutionID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("execution: %q already submitted", req.ExecutionID)
	}
	s.results[req.ExecutionID] = ComputeResult{ExecutionID: req.ExecutionID, TaskID: req.TaskID, Status: StatusQueued}
	s.mu.Unlock()

	select {
	case s.queue <- req:
		return nil
	default:
		return fmt.Errorf("execution: queue is full, rejecting %q", req.ExecutionID)
	}
}

// Status returns the current record for id: Queued/Running snapshot or
// the terminal result.
func (s *Service) Status(id string) (ComputeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, ok := s.results[id]
	if !ok {
		return ComputeResult{}, &NotFoundError{ExecutionID: id}
	}
	return result, nil
}

// Cancel signals the Running execution id to abort at its next
// suspension point. Per spec.md §4.6, cancelling a Queued or unknown id
// is indistinguishable to the caller.
func (s *Service) Cancel(id string) error {
	s.mu.Lock()
	cancel, ok := s.active[id]
	s.mu.Unlock()
	if !ok {
		return &NotRunningError{ExecutionID: id}
	}
	cancel()
	return nil
}

// ListActive returns a snapshot of execution id -> task id for every
// Running execution, the "named active-execution listing" SPEC_FULL.md
// supplements from original_source/.
func (s *Service) ListActive() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.activeNames))
	for id, name := range s.activeNames {
		out[id] = name
	}
	return out
}

// Run drains the queue until ctx is cancelled, processing exactly one
// request at a time. It blocks; callers typically run it in its own
// goroutine (cmd/compute-service wires it through an errgroup).
func (s *Service) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-s.queue:
			s.runOne(ctx, req)
		}
	}
}

func (s *Service) runOne(ctx context.Context, req TaskExecutionRequest) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer s.sem.Release(1)

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.active[req.ExecutionID] = cancel
	s.activeNames[req.ExecutionID] = req.TaskID
	s.results[req.ExecutionID] = ComputeResult{ExecutionID: req.ExecutionID, TaskID: req.TaskID, Status: StatusRunning}
	s.mu.Unlock()

	result := s.executeTaskSafely(taskCtx, req)

	s.mu.Lock()
	s.results[req.ExecutionID] = result
	delete(s.active, req.ExecutionID)
	delete(s.activeNames, req.ExecutionID)
	s.mu.Unlock()

	if err := s.notifier.ReportCompleted(ctx, req.ExecutionID, req.TaskID, result); err != nil {
		s.logger.Warn("report_completed ultimately failed", "execution_id", req.ExecutionID, "error", err)
	}
}

// executeTaskSafely runs executeTask and converts any panic into a
// Failed ComputeResult, matching spec.md §4.6 step 4 ("on
// panic/exception, record a Failure result with the error string; still
// notify").
func (s *Service) executeTaskSafely(ctx context.Context, req TaskExecutionRequest) (result ComputeResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("worker panic recovered", "execution_id", req.ExecutionID, "panic", r)
			result = ComputeResult{ExecutionID: req.ExecutionID, TaskID: req.TaskID, Status: StatusFailed, Error: fmt.Sprintf("panic: %v", r)}
		}
	}()
	return s.executeTask(ctx, req)
}
