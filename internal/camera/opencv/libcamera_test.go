package opencv

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"meterrelay/internal/camera"
)

func TestLibcameraArgs(t *testing.T) {
	d := &libcameraDevice{settings: camera.Settings{Width: 1280, Height: 960, FocusDelay: 3 * time.Second, Rotation: 180}}
	got := strings.Join(d.args(), " ")
	want := "-n -e bmp -o - --width 1280 --height 960 -t 3000"
	if got != want {
		t.Errorf("args = %q, expected %q", got, want)
	}
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rpicam-still")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLibcameraGrab_ToolFailure(t *testing.T) {
	b := &LibcameraBackend{Binary: writeScript(t, "echo 'no cameras available' >&2; exit 1")}
	dev, err := b.Open(context.Background(), camera.Settings{Width: 64, Height: 48})
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Close()

	_, err = dev.Grab(context.Background())
	if err == nil || !strings.Contains(err.Error(), "no cameras available") {
		t.Errorf("expected tool stderr in error, got %v", err)
	}
}

func TestLibcameraGrab_Timeout(t *testing.T) {
	b := &LibcameraBackend{Binary: writeScript(t, "exec sleep 30"), Timeout: 200 * time.Millisecond}
	dev, _ := b.Open(context.Background(), camera.Settings{Width: 64, Height: 48})

	start := time.Now()
	if _, err := dev.Grab(context.Background()); err == nil {
		t.Fatal("expected timeout")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("hung subprocess was not terminated")
	}
}

func TestLibcameraGrab_Garbage(t *testing.T) {
	b := &LibcameraBackend{Binary: writeScript(t, "printf 'not an image'")}
	dev, _ := b.Open(context.Background(), camera.Settings{Width: 64, Height: 48})
	if _, err := dev.Grab(context.Background()); err == nil {
		t.Error("expected decode failure")
	}
}
