// Package worker drains the job queue. A Processor claims pending jobs,
// runs the requested engine over every page, and moves each job to exactly
// one terminal state; a Reaper evicts expired records and their files.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ocrbridge/ocrd/internal/engine"
	"github.com/ocrbridge/ocrd/internal/files"
	"github.com/ocrbridge/ocrd/internal/hocr"
	"github.com/ocrbridge/ocrd/internal/pages"
	"github.com/ocrbridge/ocrd/internal/storage"
)

// JobStore abstracts the queue operations the processor needs.
type JobStore interface {
	ClaimNext() (*storage.Job, error)
	CompleteJob(id, resultPath string, retention time.Duration) error
	FailJob(id, errKind, errMsg string, retention time.Duration) error
}

// AdapterSource resolves an engine name to a processing adapter, enforcing
// platform availability.
type AdapterSource interface {
	Adapter(ctx context.Context, name engine.Name) (engine.Adapter, error)
}

// PageSplitter expands an upload into raster pages.
type PageSplitter interface {
	Split(ctx context.Context, path string, format files.Format, workDir string) ([]pages.Page, func(), error)
}

// FileStore persists results and removes consumed uploads.
type FileStore interface {
	SaveResult(jobID, doc string) (string, error)
	Remove(path string) error
}

// Options tune a Processor. Zero values get sensible defaults.
type Options struct {
	// PollInterval is how long an idle worker sleeps between claims.
	PollInterval time.Duration
	// PageTimeout bounds a single engine invocation on a single page.
	PageTimeout time.Duration
	// Retention is how long terminal jobs stay retrievable.
	Retention time.Duration
	// Slots is the number of jobs processed concurrently.
	Slots int
}

func (o *Options) defaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.PageTimeout <= 0 {
		o.PageTimeout = 60 * time.Second
	}
	if o.Retention <= 0 {
		o.Retention = 48 * time.Hour
	}
	if o.Slots <= 0 {
		o.Slots = 2
	}
}

// Processor processes OCR jobs from the SQLite queue.
type Processor struct {
	store    JobStore
	adapters AdapterSource
	splitter PageSplitter
	fs       FileStore
	opts     Options
	logger   *slog.Logger
}

// NewProcessor creates a Processor with the given dependencies.
func NewProcessor(store JobStore, adapters AdapterSource, splitter PageSplitter, fs FileStore, opts Options) *Processor {
	opts.defaults()
	return &Processor{
		store:    store,
		adapters: adapters,
		splitter: splitter,
		fs:       fs,
		opts:     opts,
		logger:   slog.Default(),
	}
}

// Run polls for jobs on opts.Slots concurrent workers until ctx is
// cancelled. The claim is atomic in the store, so workers never double
// process a job.
func (p *Processor) Run(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.opts.Slots; i++ {
		g.Go(func() error {
			p.runLoop(ctx)
			return nil
		})
	}
	g.Wait()
}

func (p *Processor) runLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := p.RunOnce(ctx)
		if err != nil {
			p.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.opts.PollInterval):
		}
	}
}

// RunOnce claims and processes a single job. Returns true if a job was
// processed, regardless of whether it completed or failed.
func (p *Processor) RunOnce(ctx context.Context) (bool, error) {
	job, err := p.store.ClaimNext()
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	// The upload is consumed by this attempt either way; the result file
	// is what outlives processing.
	defer func() {
		if err := p.fs.Remove(job.FilePath); err != nil {
			p.logger.Warn("removing consumed upload", "job_id", job.ID, "error", err)
		}
	}()

	resultPath, err := p.processJob(ctx, job)
	if err != nil {
		kind := engine.KindOf(err)
		p.logger.Warn("job failed", "job_id", job.ID, "engine", job.Engine, "kind", kind, "error", err)
		if failErr := p.store.FailJob(job.ID, string(kind), err.Error(), p.opts.Retention); failErr != nil {
			p.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := p.store.CompleteJob(job.ID, resultPath, p.opts.Retention); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	p.logger.Info("job completed", "job_id", job.ID, "engine", job.Engine)
	return true, nil
}

func (p *Processor) processJob(ctx context.Context, job *storage.Job) (string, error) {
	var params engine.Params
	if err := json.Unmarshal([]byte(job.ParamsJSON), &params); err != nil {
		return "", fmt.Errorf("parsing stored parameters: %w", err)
	}

	adapter, err := p.adapters.Adapter(ctx, engine.Name(job.Engine))
	if err != nil {
		return "", err
	}

	format, err := files.Detect(job.FilePath)
	if err != nil {
		return "", engine.NewError(engine.KindEngine, "reading upload: %v", err)
	}

	pgs, cleanup, err := p.splitter.Split(ctx, job.FilePath, format, filepath.Dir(job.FilePath))
	if err != nil {
		return "", err
	}
	defer cleanup()

	doc := make([]hocr.Page, 0, len(pgs))
	for _, pg := range pgs {
		res, err := p.processPage(ctx, adapter, pg, params)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", pg.Index, err)
		}
		doc = append(doc, hocr.Page{
			Annotations: res.Annotations,
			Coords:      res.Coords,
			Width:       pg.Width,
			Height:      pg.Height,
		})
	}

	rendered := hocr.Convert(doc, hocr.Metadata{
		System: "ocrd/" + job.Engine,
		Title:  job.ID,
	})
	return p.fs.SaveResult(job.ID, rendered)
}

// processPage runs the adapter under the per-page deadline and rejects
// results that violate the normalized annotation contract.
func (p *Processor) processPage(ctx context.Context, a engine.Adapter, pg pages.Page, params engine.Params) (engine.PageResult, error) {
	pageCtx, cancel := context.WithTimeout(ctx, p.opts.PageTimeout)
	defer cancel()

	res, err := a.Process(pageCtx, pg.Path, params, pg.Index)
	if err != nil {
		return engine.PageResult{}, err
	}
	if err := res.Validate(); err != nil {
		return engine.PageResult{}, err
	}
	return res, nil
}
