package repository

import (
	"meterrelay/internal/model"
)

// ImageRepository catalogues images written to the output directory.
type ImageRepository interface {
	// Create operations
	Insert(img *model.Image) (int64, error)

	// Update operations
	MarkDelivered(filename string) error

	// Read operations
	GetByFilename(filename string) (*model.Image, error)
	GetLatest(limit int) ([]model.Image, error)
	Count() (int, error)

	// Delete operations
	DeleteByFilepath(path string) error
}

// BacklogRepository is a bounded FIFO of deferred deliveries.
type BacklogRepository interface {
	// Push appends an entry. When the queue is over capacity the oldest
	// entries are removed and returned.
	Push(entry model.BacklogEntry) (evicted []model.BacklogEntry, err error)

	// Snapshot returns every entry, oldest first, without removing any.
	Snapshot() ([]model.BacklogEntry, error)

	// Remove deletes one entry. Removing an unknown id is not an error.
	Remove(id int64) error

	// UpdateRetry records a failed attempt in place, keeping position and
	// creation time.
	UpdateRetry(id int64, retryCount int) error

	// Paths lists the file paths referenced by queued entries.
	Paths() ([]string, error)

	Len() (int, error)
	Capacity() int
}
