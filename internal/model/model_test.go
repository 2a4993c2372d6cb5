package model

import (
	"errors"
	"io/fs"
	"testing"
)

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		detected  bool
		delivered bool
		expected  StatusCode
	}{
		{true, true, StatusExtractedDelivered},
		{false, true, StatusFallbackDelivered},
		{true, false, StatusFailed},
		{false, false, StatusFailed},
	}

	for _, tt := range tests {
		got := DeriveStatus(tt.detected, tt.delivered)
		if got != tt.expected {
			t.Errorf("DeriveStatus(%v, %v) = %v, expected %v", tt.detected, tt.delivered, got, tt.expected)
		}
		if got.Success() != tt.delivered {
			t.Errorf("Success() = %v for %v", got.Success(), got)
		}
	}
}

func TestStatusCode_WireValues(t *testing.T) {
	if int(StatusExtractedDelivered) != 1 || int(StatusFallbackDelivered) != 0 || int(StatusFailed) != 2 {
		t.Fatal("status codes must stay 1/0/2")
	}
}

func TestFault_Is(t *testing.T) {
	err := NewFault(ErrStorage, "save", fs.ErrPermission)

	if !errors.Is(err, ErrStorage) {
		t.Error("expected errors.Is(err, ErrStorage)")
	}
	if !errors.Is(err, fs.ErrPermission) {
		t.Error("expected wrapped cause to be reachable")
	}
	if errors.Is(err, ErrTransport) {
		t.Error("unexpected match on ErrTransport")
	}

	var fault *Fault
	if !errors.As(err, &fault) || fault.Op != "save" {
		t.Errorf("errors.As failed: %v", err)
	}
}

type stubFrame struct {
	w, h  int
	empty bool
}

func (f stubFrame) Width() int   { return f.w }
func (f stubFrame) Height() int  { return f.h }
func (f stubFrame) Empty() bool  { return f.empty }
func (f stubFrame) Close() error { return nil }

func TestValidFrame(t *testing.T) {
	if ValidFrame(nil) {
		t.Error("nil frame must be invalid")
	}
	if ValidFrame(stubFrame{w: 0, h: 10}) {
		t.Error("zero width must be invalid")
	}
	if ValidFrame(stubFrame{w: 10, h: 10, empty: true}) {
		t.Error("empty frame must be invalid")
	}
	if !ValidFrame(stubFrame{w: 10, h: 10}) {
		t.Error("expected valid frame")
	}
}
