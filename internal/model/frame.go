package model

import "time"

// Frame is a decoded image buffer. Implementations own native memory and
// must be closed exactly once by whoever holds them last.
type Frame interface {
	Width() int
	Height() int
	Empty() bool
	Close() error
}

// ValidFrame reports whether f holds pixels with non-zero dimensions.
func ValidFrame(f Frame) bool {
	if f == nil || f.Empty() {
		return false
	}
	return f.Width() > 0 && f.Height() > 0
}

// CaptureResult is a frame produced by the acquisition controller.
type CaptureResult struct {
	Frame      Frame
	CapturedAt time.Time
}

// ExtractionOutcome is either an extracted sub-image (Detected) or the
// original frame passed through unchanged (fallback).
type ExtractionOutcome struct {
	Image    Frame
	Detected bool
}

// Extracted wraps a perspective-corrected sub-image.
func Extracted(f Frame) ExtractionOutcome {
	return ExtractionOutcome{Image: f, Detected: true}
}

// Fallback wraps the original frame when the markers were not found.
func Fallback(original Frame) ExtractionOutcome {
	return ExtractionOutcome{Image: original, Detected: false}
}
