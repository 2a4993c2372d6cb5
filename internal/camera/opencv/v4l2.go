package opencv

import (
	"context"
	"errors"
	"fmt"

	"gocv.io/x/gocv"

	"meterrelay/internal/camera"
	"meterrelay/internal/model"
	"meterrelay/internal/vision"
)

// V4L2Backend reads frames from /dev/video<Index> through OpenCV.
type V4L2Backend struct {
	Index int
	// Discard is the number of buffered frames dropped before the kept one.
	Discard int
}

func (b *V4L2Backend) Name() string { return "v4l2" }

func (b *V4L2Backend) Open(ctx context.Context, s camera.Settings) (camera.Device, error) {
	vc, err := gocv.OpenVideoCapture(b.Index)
	if err != nil {
		return nil, fmt.Errorf("failed to open /dev/video%d: %w", b.Index, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("/dev/video%d did not open", b.Index)
	}
	vc.Set(gocv.VideoCaptureFrameWidth, float64(s.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(s.Height))

	return &v4l2Device{vc: vc, settings: s, discard: b.Discard}, nil
}

type v4l2Device struct {
	vc       *gocv.VideoCapture
	settings camera.Settings
	discard  int
}

func (d *v4l2Device) SettlesInternally() bool { return false }

func (d *v4l2Device) Grab(ctx context.Context) (model.Frame, error) {
	mat := gocv.NewMat()
	for i := 0; i < d.discard; i++ {
		d.vc.Read(&mat)
	}
	if ok := d.vc.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		return nil, errors.New("no frame read from capture device")
	}

	frame := vision.NewMatFrame(mat)
	if d.settings.Rotation == 0 {
		return frame, nil
	}
	defer frame.Close()
	return vision.Rotate(frame, d.settings.Rotation)
}

func (d *v4l2Device) Close() error {
	return d.vc.Close()
}
