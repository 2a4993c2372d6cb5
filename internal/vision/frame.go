// Package vision holds the OpenCV-backed image operations: frame wrapping,
// marker-based region extraction and JPEG encoding.
package vision

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// MatFrame adapts a gocv.Mat to model.Frame. Close is idempotent.
type MatFrame struct {
	mat  gocv.Mat
	once sync.Once
	err  error
}

func NewMatFrame(m gocv.Mat) *MatFrame {
	return &MatFrame{mat: m}
}

func (f *MatFrame) Mat() gocv.Mat { return f.mat }
func (f *MatFrame) Width() int    { return f.mat.Cols() }
func (f *MatFrame) Height() int   { return f.mat.Rows() }
func (f *MatFrame) Empty() bool   { return f.mat.Empty() }

func (f *MatFrame) Close() error {
	f.once.Do(func() {
		f.err = f.mat.Close()
	})
	return f.err
}

// Decode turns an encoded image (BMP, PNG, JPEG) into a BGR frame.
func Decode(data []byte) (*MatFrame, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("decoded image is empty (%d bytes in)", len(data))
	}
	return NewMatFrame(mat), nil
}

// Rotate returns a new frame turned clockwise by degrees (0, 90, 180, 270).
// The input is left untouched; for 0 a clone is returned.
func Rotate(src *MatFrame, degrees int) (*MatFrame, error) {
	dst := gocv.NewMat()
	var err error
	switch degrees {
	case 0:
		dst.Close()
		return NewMatFrame(src.mat.Clone()), nil
	case 90:
		err = gocv.Rotate(src.mat, &dst, gocv.Rotate90Clockwise)
	case 180:
		err = gocv.Rotate(src.mat, &dst, gocv.Rotate180Clockwise)
	case 270:
		err = gocv.Rotate(src.mat, &dst, gocv.Rotate90CounterClockwise)
	default:
		err = fmt.Errorf("unsupported rotation %d", degrees)
	}
	if err != nil {
		dst.Close()
		return nil, err
	}
	return NewMatFrame(dst), nil
}
