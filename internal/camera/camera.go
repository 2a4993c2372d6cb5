// Package camera implements the hardware-timed acquisition sequence that
// produces one decoded frame per cycle.
package camera

import (
	"context"
	"time"

	"meterrelay/internal/model"
)

// Settings is applied to the capture device on every open.
type Settings struct {
	Width    int
	Height   int
	Rotation int
	// FocusDelay is handed to backends that settle exposure internally.
	FocusDelay time.Duration
}

// Backend opens capture devices. One backend is chosen at startup.
type Backend interface {
	Name() string
	Open(ctx context.Context, s Settings) (Device, error)
}

// Device is a capture device opened for the duration of one attempt.
type Device interface {
	// SettlesInternally reports whether the device waits for focus/exposure
	// on its own, in which case the controller skips its settle delay.
	SettlesInternally() bool
	Grab(ctx context.Context) (model.Frame, error)
	Close() error
}

// Unavailable is the backend used when probing found no capture stack.
// Every Open fails with Err, so cycles report a hardware fault.
type Unavailable struct {
	Err error
}

func (u Unavailable) Name() string { return "unavailable" }

func (u Unavailable) Open(context.Context, Settings) (Device, error) {
	return nil, u.Err
}
