// Package hardware owns the single digital output line that drives the
// illumination LED/relay during capture.
package hardware

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// ErrReleased is returned by High after the line has been released.
var ErrReleased = errors.New("indicator line released")

// Line is a digital output that can be driven HIGH or LOW.
type Line interface {
	High() error
	Low() error
	Release() error
}

type outputPin interface {
	Out(l gpio.Level) error
	Halt() error
	String() string
}

// Indicator is an owned handle on one GPIO pin.
type Indicator struct {
	pin      outputPin
	mu       sync.Mutex
	released bool
	once     sync.Once
	relErr   error
}

var (
	hostOnce sync.Once
	hostErr  error
)

// Open initializes the host drivers (once per process) and claims pinName,
// e.g. "GPIO23". The line starts LOW.
func Open(pinName string) (*Indicator, error) {
	hostOnce.Do(func() {
		_, hostErr = host.Init()
	})
	if hostErr != nil {
		return nil, fmt.Errorf("failed to initialize gpio host: %w", hostErr)
	}

	p := gpioreg.ByName(pinName)
	if p == nil {
		return nil, fmt.Errorf("gpio pin %q not found", pinName)
	}
	return newIndicator(p)
}

func newIndicator(p outputPin) (*Indicator, error) {
	if err := p.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("failed to configure %s as output: %w", p, err)
	}
	return &Indicator{pin: p}, nil
}

// High drives the line HIGH.
func (i *Indicator) High() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.released {
		return ErrReleased
	}
	return i.pin.Out(gpio.High)
}

// Low drives the line LOW. It is safe to call after Release.
func (i *Indicator) Low() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.pin.Out(gpio.Low)
}

// Release forces the line LOW and halts the pin. Only the first call has effect.
func (i *Indicator) Release() error {
	i.once.Do(func() {
		i.mu.Lock()
		defer i.mu.Unlock()
		i.released = true
		lowErr := i.pin.Out(gpio.Low)
		haltErr := i.pin.Halt()
		i.relErr = errors.Join(lowErr, haltErr)
	})
	return i.relErr
}

func (i *Indicator) String() string {
	return i.pin.String()
}

// NoopLine stands in for the indicator on benches without a GPIO header.
type NoopLine struct{}

func (NoopLine) High() error    { return nil }
func (NoopLine) Low() error     { return nil }
func (NoopLine) Release() error { return nil }
