package vision

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"

	"meterrelay/internal/model"
)

// JPEGEncoder compresses frames at a fixed quality.
type JPEGEncoder struct {
	Quality int
}

func (e JPEGEncoder) Ext() string { return ".jpg" }

func (e JPEGEncoder) Encode(frame model.Frame) ([]byte, error) {
	mf, ok := frame.(*MatFrame)
	if !ok {
		return nil, fmt.Errorf("unsupported frame type %T", frame)
	}
	if !model.ValidFrame(frame) {
		return nil, errors.New("cannot encode an empty frame")
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mf.Mat(), []int{int(gocv.IMWriteJpegQuality), e.Quality})
	if err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	defer buf.Close()

	// the native buffer is freed on Close
	data := make([]byte, len(buf.GetBytes()))
	copy(data, buf.GetBytes())
	return data, nil
}
