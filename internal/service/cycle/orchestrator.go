// Package cycle sequences one capture-to-cloud pass per interval.
package cycle

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"meterrelay/internal/logger"
	"meterrelay/internal/metrics"
	"meterrelay/internal/model"
	"meterrelay/internal/service/delivery"
	"meterrelay/internal/service/storage"
)

// Capturer is the acquisition controller.
type Capturer interface {
	Capture(ctx context.Context, maxAttempts int) (model.CaptureResult, error)
	Release() error
}

// Extractor never fails; it returns the original frame when markers are missing.
type Extractor interface {
	Extract(frame model.Frame) model.ExtractionOutcome
}

type Store interface {
	Save(frame model.Frame, detected bool, ts time.Time, cycleID string) (model.StoredImage, error)
	MarkDelivered(stored model.StoredImage)
	Prune(keep int, protected []string) storage.PruneReport
}

type Deliverer interface {
	Deliver(ctx context.Context, path, dest string) bool
	DrainBacklog(ctx context.Context, dest string) delivery.DrainReport
	Enqueue(path string, detected bool, retryCount int)
	BacklogPaths() []string
	BacklogLen() int
}

type Reporter interface {
	Report(ctx context.Context, code model.StatusCode, field2, field3 *float64) bool
}

type DiskChecker interface {
	Check(ctx context.Context) (storage.DiskStatus, error)
}

type HealthWriter interface {
	Update(s model.HealthSnapshot) bool
	WriteFinal(status model.HealthStatus, message string) bool
}

// Relay forwards a saved image to a secondary channel. Its result never
// affects the cycle status.
type Relay interface {
	Send(ctx context.Context, path, caption string) bool
}

// Notifier receives one event per finished cycle. It must not block.
type Notifier interface {
	Publish(event model.CycleEvent) bool
}

// Components groups the collaborators of the orchestrator. Metrics, Relay
// and Notifier are optional.
type Components struct {
	Capturer  Capturer
	Extractor Extractor
	Store     Store
	Delivery  Deliverer
	Reporter  Reporter
	Disk      DiskChecker
	Health    HealthWriter
	Metrics   *metrics.Metrics
	Relay     Relay
	Notifier  Notifier
}

type Options struct {
	Interval        time.Duration
	CaptureAttempts int
	KeepImages      int
	// Destination is the remote folder or prefix uploads go to.
	Destination     string
	MetricsTextfile string
	// NodeName labels relayed images.
	NodeName        string
}

// Result describes a finished cycle.
type Result struct {
	CycleID  string
	Status   model.StatusCode
	Detected bool
	Stored   *model.StoredImage
	Message  string
	Duration time.Duration
	Reported bool
	Relayed  bool
}

type Orchestrator struct {
	c      Components
	opts   Options
	logger *logger.Logger
	now    func() time.Time
	wait   func(ctx context.Context, d time.Duration) error

	cycles    int
	successes int

	mu           sync.Mutex
	cancel       context.CancelFunc
	stopped      bool
	shutdownOnce sync.Once
}

func New(c Components, opts Options, log *logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.NewNop()
	}
	if opts.CaptureAttempts < 1 {
		opts.CaptureAttempts = 1
	}
	return &Orchestrator{c: c, opts: opts, logger: log, now: time.Now, wait: waitTimer}
}

// RunCycle executes DiskCheck, Capture, Extract, Save, Deliver, Report and
// Cleanup once. Stage failures end up in the returned status code.
func (o *Orchestrator) RunCycle(ctx context.Context) Result {
	start := o.now()
	res := Result{CycleID: uuid.NewString(), Status: model.StatusFailed}
	o.logger.Info("Cycle %s started", res.CycleID)

	o.drainBacklog(ctx)

	res.Message = o.acquire(ctx, &res)
	res.Duration = o.now().Sub(start)

	var field2 *float64
	if res.Status.Success() && res.Stored != nil {
		kb := res.Stored.SizeKB()
		field2 = &kb
	}
	field3 := res.Duration.Seconds()
	res.Reported = o.c.Reporter.Report(ctx, res.Status, field2, &field3)
	if !res.Reported {
		o.logger.Warning("Status %d not reported", int(res.Status))
	}

	o.cleanup(&res, start)
	return res
}

func (o *Orchestrator) drainBacklog(ctx context.Context) {
	report := o.c.Delivery.DrainBacklog(ctx, o.opts.Destination)
	for _, p := range report.Delivered {
		o.c.Store.MarkDelivered(model.StoredImage{Path: p, Filename: filepath.Base(p)})
	}
	if report.Attempted > 0 || report.Dropped > 0 {
		o.logger.Info("Backlog: %d retried, %d delivered, %d requeued, %d dropped",
			report.Attempted, len(report.Delivered), report.Requeued, report.Dropped)
	}
}

// acquire runs the forward stages and returns the cycle message.
func (o *Orchestrator) acquire(ctx context.Context, res *Result) string {
	status, err := o.c.Disk.Check(ctx)
	if err != nil {
		o.logger.Warning("Disk check failed, continuing: %v", err)
	} else if status.Low() {
		o.logger.Error("Low disk space: %.1f MB free, capture skipped", status.FreeMB())
		return "skipped: low disk space"
	}

	capture, err := o.c.Capturer.Capture(ctx, o.opts.CaptureAttempts)
	if err != nil {
		o.logger.Error("Capture failed: %v", err)
		return "capture failed"
	}
	original := capture.Frame
	defer original.Close()

	outcome := o.c.Extractor.Extract(original)
	if outcome.Detected {
		defer outcome.Image.Close()
	} else {
		o.logger.Warning("Markers not found, using full frame")
	}
	res.Detected = outcome.Detected

	stored, err := o.c.Store.Save(outcome.Image, outcome.Detected, capture.CapturedAt, res.CycleID)
	if err != nil {
		o.logger.Error("Save failed: %v", err)
		return "save failed"
	}
	res.Stored = &stored

	if o.c.Relay != nil {
		res.Relayed = o.c.Relay.Send(ctx, stored.Path, relayCaption(o.opts.NodeName, capture.CapturedAt, outcome.Detected))
	}

	if !o.c.Delivery.Deliver(ctx, stored.Path, o.opts.Destination) {
		o.c.Delivery.Enqueue(stored.Path, stored.Detected, 0)
		return "upload failed, queued for retry"
	}
	o.c.Store.MarkDelivered(stored)

	res.Status = model.DeriveStatus(outcome.Detected, true)
	if outcome.Detected {
		return "uploaded extracted display"
	}
	return "uploaded full frame"
}

func relayCaption(node string, ts time.Time, detected bool) string {
	view := "display"
	if !detected {
		view = "full frame, markers not found"
	}
	return fmt.Sprintf("%s | %s | %s", node, ts.Format("2006-01-02 15:04:05"), view)
}

func (o *Orchestrator) cleanup(res *Result, start time.Time) {
	o.c.Store.Prune(o.opts.KeepImages, o.c.Delivery.BacklogPaths())

	o.cycles++
	if res.Status.Success() {
		o.successes++
	}
	backlog := o.c.Delivery.BacklogLen()

	health := model.HealthRunning
	if !res.Status.Success() {
		health = model.HealthError
	}
	finished := o.now()
	o.c.Health.Update(model.HealthSnapshot{
		Status:       health,
		Timestamp:    finished,
		LastMessage:  res.Message,
		CycleCount:   o.cycles,
		SuccessCount: o.successes,
		BacklogSize:  backlog,
	})

	o.c.Metrics.ObserveCycle(res.Status.String(), finished.Sub(start), finished)
	o.c.Metrics.SetBacklog(backlog)
	if err := o.c.Metrics.WriteTextfile(o.opts.MetricsTextfile); err != nil {
		o.logger.Warning("%v", err)
	}

	if o.c.Notifier != nil {
		event := model.CycleEvent{
			CycleID:    res.CycleID,
			StatusCode: res.Status,
			Detected:   res.Detected,
			Message:    res.Message,
			Duration:   res.Duration.Seconds(),
			Timestamp:  finished,
		}
		if res.Stored != nil {
			event.Filename = res.Stored.Filename
		}
		o.c.Notifier.Publish(event)
	}

	o.logger.Info("Cycle %s finished: status=%d (%s) in %.1fs, backlog=%d",
		res.CycleID, int(res.Status), res.Message, finished.Sub(start).Seconds(), backlog)
}

// Run executes cycles on fixed interval boundaries until ctx is done or
// Shutdown is called.
func (o *Orchestrator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return nil
	}
	o.cancel = cancel
	o.mu.Unlock()

	o.logger.Info("Running every %s", o.opts.Interval)
	// Boundaries are carried forward from the first start so timer latency
	// does not accumulate.
	next := o.now()
	for {
		o.RunCycle(ctx)
		if ctx.Err() != nil {
			return nil
		}

		next = NextBoundary(next, o.opts.Interval, o.now())
		wait := next.Sub(o.now())
		if wait <= 0 {
			o.logger.Warning("Cycle overran the %s interval, starting next cycle now", o.opts.Interval)
			continue
		}
		if err := o.wait(ctx, wait); err != nil {
			return nil
		}
	}
}

func waitTimer(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NextBoundary returns when the cycle after the one scheduled for start should
// begin. An overrun cycle is followed immediately.
func NextBoundary(start time.Time, interval time.Duration, now time.Time) time.Time {
	next := start.Add(interval)
	if !now.Before(next) {
		return now
	}
	return next
}

// Shutdown stops the loop, forces the indicator LOW and writes the final
// health snapshot. Only the first call has effect.
func (o *Orchestrator) Shutdown(reason string) {
	o.shutdownOnce.Do(func() {
		o.mu.Lock()
		o.stopped = true
		cancel := o.cancel
		o.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if err := o.c.Capturer.Release(); err != nil {
			o.logger.Error("Failed to release indicator: %v", err)
		}
		o.c.Health.WriteFinal(model.HealthStopped, reason)
		o.logger.Info("Shutdown: %s", reason)
	})
}
