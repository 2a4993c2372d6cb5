// Package opencv provides the capture backends that decode into gocv frames.
package opencv

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"meterrelay/internal/camera"
	"meterrelay/internal/model"
	"meterrelay/internal/vision"
)

// LibcameraBackend captures stills with the rpicam-still/libcamera-still CLI.
// The tool runs its own preview timeout before exposing, so the device
// settles internally.
type LibcameraBackend struct {
	Binary string
	// Timeout bounds one invocation on top of the settle time.
	Timeout time.Duration
}

func (b *LibcameraBackend) Name() string { return "libcamera" }

func (b *LibcameraBackend) Open(ctx context.Context, s camera.Settings) (camera.Device, error) {
	if b.Binary == "" {
		return nil, fmt.Errorf("libcamera binary not configured")
	}
	return &libcameraDevice{backend: b, settings: s}, nil
}

type libcameraDevice struct {
	backend  *LibcameraBackend
	settings camera.Settings
}

func (d *libcameraDevice) SettlesInternally() bool { return true }

func (d *libcameraDevice) args() []string {
	settleMs := d.settings.FocusDelay.Milliseconds()
	if settleMs < 1 {
		settleMs = 1
	}
	return []string{
		"-n",
		"-e", "bmp",
		"-o", "-",
		"--width", strconv.Itoa(d.settings.Width),
		"--height", strconv.Itoa(d.settings.Height),
		"-t", strconv.FormatInt(settleMs, 10),
	}
}

func (d *libcameraDevice) Grab(ctx context.Context) (model.Frame, error) {
	timeout := d.backend.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout+d.settings.FocusDelay)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, d.backend.Binary, d.args()...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = 3 * time.Second

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s timed out: %w", d.backend.Binary, ctx.Err())
		}
		return nil, fmt.Errorf("%s failed: %w: %s", d.backend.Binary, err, strings.TrimSpace(stderr.String()))
	}

	frame, err := vision.Decode(stdout.Bytes())
	if err != nil {
		return nil, err
	}
	if d.settings.Rotation == 0 {
		return frame, nil
	}
	defer frame.Close()
	return vision.Rotate(frame, d.settings.Rotation)
}

func (d *libcameraDevice) Close() error { return nil }
