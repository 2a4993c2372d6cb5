package model

import (
	"errors"
	"fmt"
)

// Fault kinds. Component boundaries convert these into outcome values; they
// only escape a component when the caller needs to log the cause.
var (
	ErrHardware      = errors.New("hardware fault")
	ErrStorage       = errors.New("storage fault")
	ErrTransport     = errors.New("transport fault")
	ErrConfiguration = errors.New("configuration fault")
)

// Fault attaches a kind and the failing operation to an underlying error.
type Fault struct {
	Kind error
	Op   string
	Err  error
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s: %v", f.Op, f.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", f.Op, f.Kind, f.Err)
}

func (f *Fault) Unwrap() []error {
	if f.Err == nil {
		return []error{f.Kind}
	}
	return []error{f.Kind, f.Err}
}

// NewFault builds a Fault. kind should be one of the Err* sentinels.
func NewFault(kind error, op string, err error) error {
	return &Fault{Kind: kind, Op: op, Err: err}
}
