package execution

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/splitup/compute-service/internal/accelerator"
	"github.com/splitup/compute-service/internal/artifactstore"
	"github.com/splitup/compute-service/internal/dtype"
	"github.com/splitup/compute-service/internal/graphcodec"
	"github.com/splitup/compute-service/internal/graphir"
	"github.com/splitup/compute-service/internal/objectclient"
	"github.com/splitup/compute-service/internal/tensorcodec"
)

// fakeArtifactStore serves canned local paths for graph/weight blobs
// without touching the filesystem beyond what the test itself seeds.
type fakeArtifactStore struct {
	mu    sync.Mutex
	paths map[artifactstore.ArtifactID]string
}

func (f *fakeArtifactStore) Fetch(ctx context.Context, kind artifactstore.Kind, id artifactstore.ArtifactID, url string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path, ok := f.paths[id]
	if !ok {
		return "", errors.New("fakeArtifactStore: no such id")
	}
	return path, nil
}

// fakeObjectTransfer answers presign/get/put without any network I/O;
// Get serves bytes from an in-memory map keyed by storage key, Put
// records uploads for assertions.
type fakeObjectTransfer struct {
	mu      sync.Mutex
	inputs  map[string][]byte
	uploads []string
}

func (f *fakeObjectTransfer) PresignURL(ctx context.Context, op objectclient.Operation, key string, expiresIn int) (string, error) {
	return "https://example.invalid/" + key, nil
}

func (f *fakeObjectTransfer) Get(ctx context.Context, key, destPath string) error {
	f.mu.Lock()
	data, ok := f.inputs[key]
	f.mu.Unlock()
	if !ok {
		return errors.New("fakeObjectTransfer: no such input")
	}
	return os.WriteFile(destPath, data, 0o644)
}

func (f *fakeObjectTransfer) Put(ctx context.Context, key, localPath string, metadata map[string]string) (objectclient.Uri, error) {
	f.mu.Lock()
	f.uploads = append(f.uploads, key)
	f.mu.Unlock()
	return objectclient.Uri("s3://bucket/" + key), nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	reports []string
}

func (f *fakeNotifier) ReportCompleted(ctx context.Context, executionID, taskID string, result any) error {
	f.mu.Lock()
	f.reports = append(f.reports, executionID)
	f.mu.Unlock()
	return nil
}

// blockingExecutor lets tests hold a task Running until signaled, to
// exercise cancellation.
type blockingExecutor struct {
	release chan struct{}
}

func (b *blockingExecutor) Execute(ctx context.Context, root graphir.Node) (*tensorcodec.Tensor, error) {
	select {
	case <-b.release:
		return accelerator.ReferenceExecutor{}.Execute(ctx, root)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func buildAddGraph(t *testing.T) *graphSetup {
	t.Helper()
	shape := []uint64{2}
	pa := graphir.PlaceholderInfo{Name: "a", Shape: shape, DType: dtype.Float32}
	pb := graphir.PlaceholderInfo{Name: "b", Shape: shape, DType: dtype.Float32}

	aBuf := &graphir.Buffer{ID: 1, Device: "gpu", Size: 8, DType: dtype.Float32, Placeholder: &pa}
	aView := &graphir.View{ID: 2, Source: aBuf, ShapeTracker: graphir.NewShapeTrackerFromShape(shape), DType: dtype.Float32}
	bBuf := &graphir.Buffer{ID: 3, Device: "gpu", Size: 8, DType: dtype.Float32, Placeholder: &pb}
	bView := &graphir.View{ID: 4, Source: bBuf, ShapeTracker: graphir.NewShapeTrackerFromShape(shape), DType: dtype.Float32}
	root := &graphir.Op{ID: 5, Kind: graphir.OpAdd, Sources: []graphir.Node{aView, bView}, DType: dtype.Float32}

	return &graphSetup{root: root, placeholders: []graphir.PlaceholderInfo{pa, pb}}
}

type graphSetup struct {
	root         graphir.Node
	placeholders []graphir.PlaceholderInfo
}

func tensorBytes(t *testing.T, shape []uint64, values []float32) []byte {
	t.Helper()
	data := make([]byte, len(values)*4)
	for i, v := range values {
		encoded, err := dtype.EncodeScalar(dtype.Float32, float64(v))
		if err != nil {
			t.Fatalf("EncodeScalar: %v", err)
		}
		copy(data[i*4:(i+1)*4], encoded)
	}
	encoded, err := tensorcodec.Encode(&tensorcodec.Tensor{Shape: shape, DType: dtype.Float32, Data: data})
	if err != nil {
		t.Fatalf("tensorcodec.Encode: %v", err)
	}
	return encoded
}

func newTestService(t *testing.T, graph *graphSetup, executor accelerator.Executor) (*Service, *fakeArtifactStore, *fakeObjectTransfer, *fakeNotifier) {
	t.Helper()
	dir := t.TempDir()
	graphPath := filepath.Join(dir, "graph.bin")

	program := &graphir.Program{Root: graph.root, Placeholders: graph.placeholders}
	encoded, err := graphcodec.Encode(program)
	if err != nil {
		t.Fatalf("encoding test program: %v", err)
	}
	if err := os.WriteFile(graphPath, encoded, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	store := &fakeArtifactStore{paths: map[artifactstore.ArtifactID]string{"add": graphPath}}
	transfer := &fakeObjectTransfer{inputs: map[string][]byte{
		"i/a": tensorBytes(t, []uint64{2}, []float32{0, 0}),
		"i/b": tensorBytes(t, []uint64{2}, []float32{1, 1}),
	}}
	notif := &fakeNotifier{}

	svc := New(store, transfer, executor, notif, nil, 16)
	return svc, store, transfer, notif
}

func TestSubmitAndStatusHappyPath(t *testing.T) {
	graph := buildAddGraph(t)
	svc, _, transfer, notif := newTestService(t, graph, accelerator.ReferenceExecutor{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	if err := svc.Submit(TaskExecutionRequest{
		ExecutionID:      "e1",
		TaskID:           "add",
		TaskStorageKey:   "t/add",
		InputStorageKeys: []string{"i/a", "i/b"},
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	waitForTerminal(t, svc, "e1")

	result, err := svc.Status("e1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if result.Status != StatusSuccess {
		t.Fatalf("status = %v, error = %q", result.Status, result.Error)
	}
	if len(result.TensorURLs) != 1 {
		t.Fatalf("tensor_urls = %v, want 1 entry", result.TensorURLs)
	}
	if len(transfer.uploads) != 1 {
		t.Fatalf("uploads = %v, want 1", transfer.uploads)
	}
	reports := waitForReports(t, notif, 1)
	if len(reports) != 1 || reports[0] != "e1" {
		t.Fatalf("reports = %v, want [e1]", reports)
	}
}

func TestStatusUnknownExecutionReturnsNotFound(t *testing.T) {
	graph := buildAddGraph(t)
	svc, _, _, _ := newTestService(t, graph, accelerator.ReferenceExecutor{})

	_, err := svc.Status("missing")
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v (%T), want *NotFoundError", err, err)
	}
}

func TestCancelQueuedOrUnknownIsNotRunning(t *testing.T) {
	graph := buildAddGraph(t)
	svc, _, _, _ := newTestService(t, graph, accelerator.ReferenceExecutor{})

	err := svc.Cancel("never-submitted")
	var notRunning *NotRunningError
	if !errors.As(err, &notRunning) {
		t.Fatalf("err = %v (%T), want *NotRunningError", err, err)
	}
}

func TestCancelRunningExecutionRecordsCancelled(t *testing.T) {
	graph := buildAddGraph(t)
	executor := &blockingExecutor{release: make(chan struct{})}
	svc, _, _, _ := newTestService(t, graph, executor)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	if err := svc.Submit(TaskExecutionRequest{
		ExecutionID:      "e2",
		TaskID:           "add",
		TaskStorageKey:   "t/add",
		InputStorageKeys: []string{"i/a", "i/b"},
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	waitForRunning(t, svc, "e2")
	if err := svc.Cancel("e2"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	waitForTerminal(t, svc, "e2")
	result, err := svc.Status("e2")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if result.Status != StatusFailed || result.Error != cancelledReason {
		t.Fatalf("status = %v, error = %q, want failure/cancelled", result.Status, result.Error)
	}

	active := svc.ListActive()
	if _, stillActive := active["e2"]; stillActive {
		t.Fatal("cancelled execution still listed as active")
	}
}

func TestQueueOrderingPreservesEnqueueOrder(t *testing.T) {
	graph := buildAddGraph(t)
	svc, _, _, notif := newTestService(t, graph, accelerator.ReferenceExecutor{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	if err := svc.Submit(TaskExecutionRequest{ExecutionID: "a", TaskID: "add", TaskStorageKey: "t/add", InputStorageKeys: []string{"i/a", "i/b"}}); err != nil {
		t.Fatalf("Submit a: %v", err)
	}
	if err := svc.Submit(TaskExecutionRequest{ExecutionID: "b", TaskID: "add", TaskStorageKey: "t/add", InputStorageKeys: []string{"i/a", "i/b"}}); err != nil {
		t.Fatalf("Submit b: %v", err)
	}

	waitForTerminal(t, svc, "b")

	reports := waitForReports(t, notif, 2)
	if len(reports) != 2 || reports[0] != "a" || reports[1] != "b" {
		t.Fatalf("reports = %v, want [a b] in that order", reports)
	}
}

// waitForReports polls until notif has received at least n reports (the
// worker notifies only after recording the terminal result, so a report
// can lag the status a test just observed) and returns a copy of them.
func waitForReports(t *testing.T, notif *fakeNotifier, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		notif.mu.Lock()
		reports := append([]string(nil), notif.reports...)
		notif.mu.Unlock()
		if len(reports) >= n || !time.Now().Before(deadline) {
			return reports
		}
		time.Sleep(time.Millisecond)
	}
}

func waitForTerminal(t *testing.T, svc *Service, id string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		result, err := svc.Status(id)
		if err == nil && (result.Status == StatusSuccess || result.Status == StatusFailed) {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("execution %q did not reach a terminal state in time", id)
}

func waitForRunning(t *testing.T, svc *Service, id string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		result, err := svc.Status(id)
		if err == nil && result.Status == StatusRunning {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("execution %q did not reach running in time", id)
}
