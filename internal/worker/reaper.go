package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ocrbridge/ocrd/internal/storage"
)

// ReaperStore abstracts the eviction operations.
type ReaperStore interface {
	ExpiredJobs(limit int) ([]storage.Job, error)
	DeleteJob(id string) error
}

// FileRemover deletes job artifacts. Removal of a missing file must be a
// no-op.
type FileRemover interface {
	Remove(path string) error
}

// Reaper periodically deletes expired job records together with any files
// they still own. Expired records are already invisible to reads, so the
// reaper only reclaims disk, never changes observable state.
type Reaper struct {
	store    ReaperStore
	fs       FileRemover
	interval time.Duration
	batch    int
	logger   *slog.Logger
}

// NewReaper creates a Reaper sweeping at the given interval.
// If interval is <= 0, it defaults to one minute.
func NewReaper(store ReaperStore, fs FileRemover, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reaper{
		store:    store,
		fs:       fs,
		interval: interval,
		batch:    100,
		logger:   slog.Default(),
	}
}

// Run sweeps until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunOnce(); err != nil {
				r.logger.Error("reaper sweep failed", "error", err)
			}
		}
	}
}

// RunOnce evicts one batch of expired jobs and reports how many were
// removed. File removal comes before record deletion so a crash between the
// two re-runs as a no-op next sweep.
func (r *Reaper) RunOnce() (int, error) {
	jobs, err := r.store.ExpiredJobs(r.batch)
	if err != nil {
		return 0, fmt.Errorf("listing expired jobs: %w", err)
	}

	removed := 0
	for _, j := range jobs {
		if err := r.fs.Remove(j.FilePath); err != nil {
			r.logger.Warn("removing expired upload", "job_id", j.ID, "error", err)
			continue
		}
		if err := r.fs.Remove(j.ResultPath); err != nil {
			r.logger.Warn("removing expired result", "job_id", j.ID, "error", err)
			continue
		}
		if err := r.store.DeleteJob(j.ID); err != nil {
			r.logger.Warn("deleting expired job", "job_id", j.ID, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		r.logger.Info("reaped expired jobs", "count", removed)
	}
	return removed, nil
}
