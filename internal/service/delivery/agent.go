package delivery

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"meterrelay/internal/logger"
	"meterrelay/internal/metrics"
	"meterrelay/internal/model"
	"meterrelay/internal/repository"
)

// Attempts is the fixed number of transfer attempts per Deliver call.
const Attempts = 3

type Options struct {
	// RetryDelays[i] is the pause after failed attempt i.
	RetryDelays []time.Duration
	Verify      bool
	MaxRequeues int
}

// Agent delivers files through a Transport and owns the backlog of
// deliveries that ran out of attempts.
type Agent struct {
	transport Transport
	opts      Options
	backlog   repository.BacklogRepository
	logger    *logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	preflightOnce sync.Once
	preflightErr  error
}

func NewAgent(transport Transport, opts Options, backlog repository.BacklogRepository, log *logger.Logger, m *metrics.Metrics) *Agent {
	if log == nil {
		log = logger.NewNop()
	}
	return &Agent{
		transport: transport,
		opts:      opts,
		backlog:   backlog,
		logger:    log,
		metrics:   m,
		now:       time.Now,
	}
}

// Ready runs the transport preflight on first use and caches the result.
// A failure is logged once.
func (a *Agent) Ready(ctx context.Context) error {
	a.preflightOnce.Do(func() {
		a.preflightErr = a.transport.Check(ctx)
		if a.preflightErr != nil {
			a.logger.Error("Delivery disabled, %s not configured: %v", a.transport.Name(), a.preflightErr)
		} else {
			a.logger.Info("Delivery via %s ready", a.transport.Name())
		}
	})
	return a.preflightErr
}

// Deliver copies path to dest with up to three attempts. It reports only
// success or failure; the caller decides whether to enqueue.
func (a *Agent) Deliver(ctx context.Context, path, dest string) bool {
	if err := a.Ready(ctx); err != nil {
		return false
	}
	if dest == "" {
		a.logger.Error("No destination configured, upload skipped")
		return false
	}
	if _, err := os.Stat(path); err != nil {
		a.logger.Error("Image file not found: %s", path)
		return false
	}

	for attempt := 0; attempt < Attempts; attempt++ {
		start := a.now()
		err := a.transport.Copy(ctx, path, dest)
		if err == nil && a.opts.Verify {
			err = a.transport.Verify(ctx, path, dest)
		}
		a.metrics.UploadAttempt(err == nil)

		if err == nil {
			a.logger.Info("Upload successful: %s (%.1fs, attempt %d/%d)", path, a.now().Sub(start).Seconds(), attempt+1, Attempts)
			return true
		}
		if errors.Is(err, model.ErrConfiguration) {
			a.logger.Error("Upload aborted: %v", err)
			return false
		}
		a.logger.Warning("Upload attempt %d/%d failed: %v", attempt+1, Attempts, err)

		if attempt == Attempts-1 {
			break
		}
		if err := sleep(ctx, a.retryDelay(attempt)); err != nil {
			a.logger.Warning("Upload retries interrupted: %v", err)
			return false
		}
	}

	a.logger.Error("Upload failed after %d attempts: %s", Attempts, path)
	return false
}

func (a *Agent) retryDelay(attempt int) time.Duration {
	if attempt < len(a.opts.RetryDelays) {
		return a.opts.RetryDelays[attempt]
	}
	if n := len(a.opts.RetryDelays); n > 0 {
		return a.opts.RetryDelays[n-1]
	}
	return 0
}

// Enqueue records a failed delivery. Entries evicted to make room are logged
// as lost.
func (a *Agent) Enqueue(path string, detected bool, retryCount int) {
	if a.backlog == nil {
		return
	}
	evicted, err := a.backlog.Push(model.BacklogEntry{
		Path:       path,
		Detected:   detected,
		RetryCount: retryCount,
		CreatedAt:  a.now(),
	})
	if err != nil {
		a.logger.Error("Failed to queue %s for retry: %v", path, err)
		return
	}
	for _, e := range evicted {
		a.logger.Error("Backlog full (%d), dropped oldest entry %s", a.backlog.Capacity(), e.Path)
		a.metrics.Dropped("evicted")
	}
	a.metrics.SetBacklog(a.BacklogLen())
}

// DrainReport summarizes one backlog pass.
type DrainReport struct {
	Attempted int
	Delivered []string
	Requeued  int
	Dropped   int
	Skipped   bool
}

// DrainBacklog retries every queued delivery in FIFO order. An entry leaves
// the queue only once it is delivered, its file is gone, or it has failed more
// than MaxRequeues passes; otherwise its retry count is bumped in place. A
// cancelled context stops the pass and leaves untried entries as they were.
func (a *Agent) DrainBacklog(ctx context.Context, dest string) DrainReport {
	var report DrainReport
	if a.backlog == nil {
		return report
	}
	if err := a.Ready(ctx); err != nil {
		report.Skipped = true
		return report
	}

	entries, err := a.backlog.Snapshot()
	if err != nil {
		a.logger.Error("Failed to read backlog: %v", err)
		return report
	}
	if len(entries) == 0 {
		return report
	}
	a.logger.Info("Retrying %d queued uploads", len(entries))

	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}

		if _, err := os.Stat(e.Path); err != nil {
			a.logger.Warning("Dropping queued upload, file gone: %s", e.Path)
			a.remove(e)
			a.metrics.Dropped("missing")
			report.Dropped++
			continue
		}

		report.Attempted++
		if a.Deliver(ctx, e.Path, dest) {
			a.remove(e)
			report.Delivered = append(report.Delivered, e.Path)
			continue
		}
		if ctx.Err() != nil {
			// interrupted, not a failed pass
			break
		}

		e.RetryCount++
		if e.RetryCount > a.opts.MaxRequeues {
			a.logger.Error("Dropping %s after %d retries", e.Path, e.RetryCount)
			a.remove(e)
			a.metrics.Dropped("exhausted")
			report.Dropped++
			continue
		}
		if err := a.backlog.UpdateRetry(e.ID, e.RetryCount); err != nil {
			a.logger.Error("Failed to record retry for %s: %v", e.Path, err)
		}
		report.Requeued++
	}

	a.metrics.SetBacklog(a.BacklogLen())
	return report
}

func (a *Agent) remove(e model.BacklogEntry) {
	if err := a.backlog.Remove(e.ID); err != nil {
		a.logger.Error("Failed to remove %s from backlog: %v", e.Path, err)
	}
}

// BacklogPaths lists files that must survive pruning.
func (a *Agent) BacklogPaths() []string {
	if a.backlog == nil {
		return nil
	}
	paths, err := a.backlog.Paths()
	if err != nil {
		a.logger.Error("Failed to list backlog: %v", err)
		return nil
	}
	return paths
}

func (a *Agent) BacklogLen() int {
	if a.backlog == nil {
		return 0
	}
	n, err := a.backlog.Len()
	if err != nil {
		a.logger.Error("Failed to count backlog: %v", err)
		return 0
	}
	return n
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
