// Package delivery uploads stored images to the remote object store with
// bounded retries and keeps a backlog of deliveries that ran out of attempts.
package delivery

import (
	"context"
	"errors"
)

// Transport copies one local file to a remote destination.
type Transport interface {
	Name() string
	// Check verifies the transport is installed and configured. A non-nil
	// error wraps model.ErrConfiguration.
	Check(ctx context.Context) error
	Copy(ctx context.Context, path, dest string) error
	// Verify confirms the file is present at the destination.
	Verify(ctx context.Context, path, dest string) error
}

var errNotVerified = errors.New("file not found at destination after copy")
