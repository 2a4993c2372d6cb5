package camera

import (
	"context"
	"errors"
	"fmt"
	"time"

	"meterrelay/internal/hardware"
	"meterrelay/internal/logger"
	"meterrelay/internal/model"
)

// Timing holds the fixed delays of the acquisition sequence.
type Timing struct {
	Warmup      time.Duration
	Focus       time.Duration
	PostCapture time.Duration
	RetryPause  time.Duration
}

// Controller drives the indicator line and the capture device. It is the only
// owner of both.
type Controller struct {
	backend  Backend
	line     hardware.Line
	settings Settings
	timing   Timing
	log      *logger.Logger
	now      func() time.Time
}

func NewController(backend Backend, line hardware.Line, settings Settings, timing Timing, log *logger.Logger) *Controller {
	if line == nil {
		line = hardware.NoopLine{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Controller{
		backend:  backend,
		line:     line,
		settings: settings,
		timing:   timing,
		log:      log,
		now:      time.Now,
	}
}

// Capture runs the acquisition sequence up to maxAttempts times. The indicator
// line is LOW when Capture returns, whatever the outcome.
func (c *Controller) Capture(ctx context.Context, maxAttempts int) (model.CaptureResult, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		frame, err := c.attempt(ctx)
		if err == nil {
			c.log.Debug("Captured %dx%d frame via %s (attempt %d)", frame.Width(), frame.Height(), c.backend.Name(), attempt)
			return model.CaptureResult{Frame: frame, CapturedAt: c.now()}, nil
		}
		lastErr = err
		c.log.Warning("Capture attempt %d/%d failed: %v", attempt, maxAttempts, err)

		if ctx.Err() != nil {
			break
		}
		if attempt < maxAttempts {
			if err := sleep(ctx, c.timing.RetryPause); err != nil {
				break
			}
		}
	}

	return model.CaptureResult{}, model.NewFault(model.ErrHardware, "capture", lastErr)
}

func (c *Controller) attempt(ctx context.Context) (frame model.Frame, err error) {
	var dev Device

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("capture panic: %v", r)
		}
		if lowErr := c.line.Low(); lowErr != nil {
			c.log.Error("Failed to drive indicator LOW: %v", lowErr)
		}
		if dev != nil {
			if closeErr := dev.Close(); closeErr != nil {
				c.log.Warning("Failed to close capture device: %v", closeErr)
			}
		}
		if err != nil && frame != nil {
			frame.Close()
			frame = nil
		}
	}()

	if err := c.line.High(); err != nil {
		return nil, fmt.Errorf("indicator high: %w", err)
	}
	if err := sleep(ctx, c.timing.Warmup); err != nil {
		return nil, err
	}

	dev, err = c.backend.Open(ctx, c.settings)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", c.backend.Name(), err)
	}
	if !dev.SettlesInternally() {
		if err := sleep(ctx, c.timing.Focus); err != nil {
			return nil, err
		}
	}

	frame, err = dev.Grab(ctx)
	if err != nil {
		return nil, fmt.Errorf("grab: %w", err)
	}
	if !model.ValidFrame(frame) {
		return frame, errors.New("grab returned an empty frame")
	}

	// the device is not needed for the post-capture illumination window
	closeErr := dev.Close()
	dev = nil
	if closeErr != nil {
		c.log.Warning("Failed to close capture device: %v", closeErr)
	}

	if err := sleep(ctx, c.timing.PostCapture); err != nil {
		return frame, err
	}
	return frame, nil
}

// Release forces the indicator LOW and frees the line. Safe to call more than once.
func (c *Controller) Release() error {
	return c.line.Release()
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
