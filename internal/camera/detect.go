package camera

import (
	"errors"
	"fmt"
	"os"
)

var ErrNoBackend = errors.New("no camera backend available")

type Kind string

const (
	KindLibcamera Kind = "libcamera"
	KindV4L2      Kind = "v4l2"
)

// Selection is the result of probing the host for a capture stack.
type Selection struct {
	Kind Kind
	// Path is the still-capture binary for KindLibcamera or the device node for KindV4L2.
	Path string
}

var libcameraBinaries = []string{"rpicam-still", "libcamera-still"}

// Detect picks a capture stack once at startup. The libcamera CLI is preferred;
// a V4L2 device node is the fallback. preferred may force one kind ("auto" or
// empty tries both).
func Detect(preferred string, deviceIndex int, lookPath func(string) (string, error), stat func(string) (os.FileInfo, error)) (Selection, error) {
	tryLibcamera := preferred == "" || preferred == "auto" || preferred == string(KindLibcamera)
	tryV4L2 := preferred == "" || preferred == "auto" || preferred == string(KindV4L2)

	if tryLibcamera {
		for _, bin := range libcameraBinaries {
			if path, err := lookPath(bin); err == nil {
				return Selection{Kind: KindLibcamera, Path: path}, nil
			}
		}
	}
	if tryV4L2 {
		node := fmt.Sprintf("/dev/video%d", deviceIndex)
		if _, err := stat(node); err == nil {
			return Selection{Kind: KindV4L2, Path: node}, nil
		}
	}
	return Selection{}, fmt.Errorf("%w (preferred %q)", ErrNoBackend, preferred)
}
