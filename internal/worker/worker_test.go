package worker

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ocrbridge/ocrd/internal/engine"
	"github.com/ocrbridge/ocrd/internal/files"
	"github.com/ocrbridge/ocrd/internal/pages"
	"github.com/ocrbridge/ocrd/internal/storage"
)

type mockAdapter struct {
	name engine.Name
	fn   func(ctx context.Context, path string, p engine.Params, pageIndex int) (engine.PageResult, error)
}

func (m *mockAdapter) Name() engine.Name { return m.name }

func (m *mockAdapter) Process(ctx context.Context, path string, p engine.Params, pageIndex int) (engine.PageResult, error) {
	return m.fn(ctx, path, p, pageIndex)
}

type mockAdapterSource struct {
	fn func(ctx context.Context, name engine.Name) (engine.Adapter, error)
}

func (m *mockAdapterSource) Adapter(ctx context.Context, name engine.Name) (engine.Adapter, error) {
	return m.fn(ctx, name)
}

type mockSplitter struct {
	fn func(ctx context.Context, path string, format files.Format, workDir string) ([]pages.Page, func(), error)
}

func (m *mockSplitter) Split(ctx context.Context, path string, format files.Format, workDir string) ([]pages.Page, func(), error) {
	if m.fn != nil {
		return m.fn(ctx, path, format, workDir)
	}
	return []pages.Page{{Path: path, Index: 0, Width: 200, Height: 100}}, func() {}, nil
}

type mockFS struct {
	mu      sync.Mutex
	saved   map[string]string
	removed []string
}

func (m *mockFS) SaveResult(jobID, doc string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = make(map[string]string)
	}
	m.saved[jobID] = doc
	return "/results/" + jobID + ".hocr", nil
}

func (m *mockFS) Remove(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, path)
	return nil
}

func (m *mockFS) removedPaths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.removed...)
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// writeUpload drops a minimal PNG-signed file so format detection succeeds.
func writeUpload(t *testing.T, dir, jobID string) string {
	t.Helper()
	path := filepath.Join(dir, jobID)
	sig := []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0x00}
	if err := os.WriteFile(path, sig, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func enqueueTestJob(t *testing.T, store *storage.Store, dir, jobID string) storage.Job {
	t.Helper()
	j := storage.Job{
		ID:         jobID,
		Engine:     "tesseract",
		ParamsJSON: `{"languages":["eng"],"psm":3,"oem":3,"dpi":300}`,
		FilePath:   writeUpload(t, dir, jobID),
	}
	if err := store.CreateJob(j, time.Hour); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return j
}

func singleWordAdapter() *mockAdapterSource {
	a := &mockAdapter{
		name: engine.Tesseract,
		fn: func(_ context.Context, _ string, _ engine.Params, _ int) (engine.PageResult, error) {
			return engine.PageResult{
				Annotations: []engine.Annotation{
					{Text: "hello", Confidence: 0.97, Box: engine.BoundingBox{X: 10, Y: 12, Width: 60, Height: 20}},
				},
			}, nil
		},
	}
	return &mockAdapterSource{fn: func(_ context.Context, _ engine.Name) (engine.Adapter, error) {
		return a, nil
	}}
}

func TestRunOnceNoJob(t *testing.T) {
	p := NewProcessor(openTestStore(t), singleWordAdapter(), &mockSplitter{}, &mockFS{}, Options{})

	done, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if done {
		t.Error("RunOnce reported work on an empty queue")
	}
}

func TestRunOnceCompletesJob(t *testing.T) {
	store := openTestStore(t)
	dir := t.TempDir()
	j := enqueueTestJob(t, store, dir, "job-1")
	fs := &mockFS{}

	p := NewProcessor(store, singleWordAdapter(), &mockSplitter{}, fs, Options{})
	done, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Fatal("RunOnce did not process the pending job")
	}

	got, err := store.GetJob(j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != storage.StatusCompleted {
		t.Errorf("status = %s, want %s", got.Status, storage.StatusCompleted)
	}
	if got.ResultPath == "" {
		t.Error("completed job has no result path")
	}

	doc := fs.saved[j.ID]
	if !strings.Contains(doc, ">hello</span>") {
		t.Errorf("result lacks recognized word:\n%s", doc)
	}
	if !strings.Contains(doc, `content="ocrd/tesseract"`) {
		t.Error("result lacks ocr-system identifying the engine")
	}

	removed := fs.removedPaths()
	if len(removed) != 1 || removed[0] != j.FilePath {
		t.Errorf("upload not removed after processing, removed = %v", removed)
	}
}

func TestRunOnceFailsJobOnEngineError(t *testing.T) {
	store := openTestStore(t)
	j := enqueueTestJob(t, store, t.TempDir(), "job-err")
	fs := &mockFS{}

	failing := &mockAdapterSource{fn: func(_ context.Context, _ engine.Name) (engine.Adapter, error) {
		return &mockAdapter{name: engine.Tesseract, fn: func(context.Context, string, engine.Params, int) (engine.PageResult, error) {
			return engine.PageResult{}, engine.NewError(engine.KindEngine, "tesseract crashed")
		}}, nil
	}}

	p := NewProcessor(store, failing, &mockSplitter{}, fs, Options{})
	done, err := p.RunOnce(context.Background())
	if err != nil || !done {
		t.Fatalf("RunOnce = (%v, %v)", done, err)
	}

	got, err := store.GetJob(j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != storage.StatusFailed {
		t.Fatalf("status = %s, want %s", got.Status, storage.StatusFailed)
	}
	if got.ErrorKind != string(engine.KindEngine) {
		t.Errorf("error kind = %q, want %q", got.ErrorKind, engine.KindEngine)
	}
	if len(fs.saved) != 0 {
		t.Error("failed job must not save a result")
	}
	if removed := fs.removedPaths(); len(removed) != 1 || removed[0] != j.FilePath {
		t.Errorf("upload not removed after failure, removed = %v", removed)
	}
}

func TestRunOncePlatformErrorKind(t *testing.T) {
	store := openTestStore(t)
	j := enqueueTestJob(t, store, t.TempDir(), "job-plat")

	unavailable := &mockAdapterSource{fn: func(_ context.Context, name engine.Name) (engine.Adapter, error) {
		return nil, engine.NewError(engine.KindPlatform, "engine %s requires macOS", name)
	}}

	p := NewProcessor(store, unavailable, &mockSplitter{}, &mockFS{}, Options{})
	if done, err := p.RunOnce(context.Background()); err != nil || !done {
		t.Fatalf("RunOnce = (%v, %v)", done, err)
	}

	got, _ := store.GetJob(j.ID)
	if got.ErrorKind != string(engine.KindPlatform) {
		t.Errorf("error kind = %q, want %q", got.ErrorKind, engine.KindPlatform)
	}
}

func TestRunOnceRejectsInvalidAdapterOutput(t *testing.T) {
	store := openTestStore(t)
	j := enqueueTestJob(t, store, t.TempDir(), "job-shape")

	outOfRange := &mockAdapterSource{fn: func(_ context.Context, _ engine.Name) (engine.Adapter, error) {
		return &mockAdapter{name: engine.Tesseract, fn: func(context.Context, string, engine.Params, int) (engine.PageResult, error) {
			return engine.PageResult{Annotations: []engine.Annotation{{Text: "x", Confidence: 1.5}}}, nil
		}}, nil
	}}

	p := NewProcessor(store, outOfRange, &mockSplitter{}, &mockFS{}, Options{})
	if done, err := p.RunOnce(context.Background()); err != nil || !done {
		t.Fatalf("RunOnce = (%v, %v)", done, err)
	}

	got, _ := store.GetJob(j.ID)
	if got.Status != storage.StatusFailed {
		t.Fatalf("status = %s, want %s", got.Status, storage.StatusFailed)
	}
	if got.ErrorKind != string(engine.KindUnexpectedOutput) {
		t.Errorf("error kind = %q, want %q", got.ErrorKind, engine.KindUnexpectedOutput)
	}
}

func TestProcessPageCarriesDeadline(t *testing.T) {
	store := openTestStore(t)
	enqueueTestJob(t, store, t.TempDir(), "job-ddl")

	sawDeadline := false
	checking := &mockAdapterSource{fn: func(_ context.Context, _ engine.Name) (engine.Adapter, error) {
		return &mockAdapter{name: engine.Tesseract, fn: func(ctx context.Context, _ string, _ engine.Params, _ int) (engine.PageResult, error) {
			if ddl, ok := ctx.Deadline(); ok && time.Until(ddl) <= 5*time.Second {
				sawDeadline = true
			}
			return engine.PageResult{}, nil
		}}, nil
	}}

	p := NewProcessor(store, checking, &mockSplitter{}, &mockFS{}, Options{PageTimeout: 5 * time.Second})
	if done, err := p.RunOnce(context.Background()); err != nil || !done {
		t.Fatalf("RunOnce = (%v, %v)", done, err)
	}
	if !sawDeadline {
		t.Error("adapter context carried no page deadline")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	p := NewProcessor(openTestStore(t), singleWordAdapter(), &mockSplitter{}, &mockFS{},
		Options{PollInterval: 10 * time.Millisecond, Slots: 3})

	ctx, cancel := context.WithCancel(context.Background())
	doneCh := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(doneCh)
	}()

	cancel()
	select {
	case <-doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
