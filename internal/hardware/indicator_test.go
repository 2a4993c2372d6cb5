package hardware

import (
	"errors"
	"sync"
	"testing"

	"periph.io/x/conn/v3/gpio"
)

type fakePin struct {
	mu     sync.Mutex
	levels []gpio.Level
	halts  int
	outErr error
}

func (p *fakePin) Out(l gpio.Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.outErr != nil {
		return p.outErr
	}
	p.levels = append(p.levels, l)
	return nil
}

func (p *fakePin) Halt() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.halts++
	return nil
}

func (p *fakePin) String() string { return "GPIO23" }

func (p *fakePin) last() gpio.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.levels[len(p.levels)-1]
}

func TestIndicator_StartsLow(t *testing.T) {
	pin := &fakePin{}
	ind, err := newIndicator(pin)
	if err != nil {
		t.Fatalf("newIndicator failed: %v", err)
	}
	if pin.last() != gpio.Low {
		t.Error("line must start LOW")
	}

	if err := ind.High(); err != nil {
		t.Fatal(err)
	}
	if pin.last() != gpio.High {
		t.Error("expected HIGH")
	}
	if err := ind.Low(); err != nil {
		t.Fatal(err)
	}
	if pin.last() != gpio.Low {
		t.Error("expected LOW")
	}
}

func TestIndicator_ReleaseOnce(t *testing.T) {
	pin := &fakePin{}
	ind, _ := newIndicator(pin)
	_ = ind.High()

	var wg sync.WaitGroup
	for n := 0; n < 8; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = ind.Release()
		}()
	}
	wg.Wait()

	if pin.halts != 1 {
		t.Errorf("Halt called %d times, expected 1", pin.halts)
	}
	if pin.last() != gpio.Low {
		t.Error("line must be LOW after release")
	}
	if err := ind.High(); !errors.Is(err, ErrReleased) {
		t.Errorf("High after release = %v, expected ErrReleased", err)
	}
}

func TestIndicator_ConfigureError(t *testing.T) {
	if _, err := newIndicator(&fakePin{outErr: errors.New("busy")}); err == nil {
		t.Error("expected error when pin cannot be driven")
	}
}

func TestNoopLine(t *testing.T) {
	var l Line = NoopLine{}
	if l.High() != nil || l.Low() != nil || l.Release() != nil {
		t.Error("NoopLine must never fail")
	}
}
