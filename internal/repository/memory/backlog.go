// Package memory provides an in-process backlog used when no database is configured.
package memory

import (
	"sync"

	"meterrelay/internal/model"
)

// Backlog is a bounded FIFO kept in memory. Contents are lost on restart.
type Backlog struct {
	mu       sync.Mutex
	entries  []model.BacklogEntry
	capacity int
	nextID   int64
}

func NewBacklog(capacity int) *Backlog {
	if capacity < 1 {
		capacity = 1
	}
	return &Backlog{capacity: capacity}
}

func (b *Backlog) Capacity() int { return b.capacity }

func (b *Backlog) Push(entry model.BacklogEntry) ([]model.BacklogEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	entry.ID = b.nextID
	b.entries = append(b.entries, entry)

	var evicted []model.BacklogEntry
	if over := len(b.entries) - b.capacity; over > 0 {
		evicted = append(evicted, b.entries[:over]...)
		b.entries = append([]model.BacklogEntry(nil), b.entries[over:]...)
	}
	return evicted, nil
}

// Snapshot returns a copy of the queue, oldest first.
func (b *Backlog) Snapshot() ([]model.BacklogEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]model.BacklogEntry(nil), b.entries...), nil
}

func (b *Backlog) Remove(id int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, e := range b.entries {
		if e.ID == id {
			b.entries = append(b.entries[:i:i], b.entries[i+1:]...)
			return nil
		}
	}
	return nil
}

func (b *Backlog) UpdateRetry(id int64, retryCount int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.entries {
		if b.entries[i].ID == id {
			b.entries[i].RetryCount = retryCount
			return nil
		}
	}
	return nil
}

func (b *Backlog) Paths() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	seen := make(map[string]bool, len(b.entries))
	paths := make([]string, 0, len(b.entries))
	for _, e := range b.entries {
		if !seen[e.Path] {
			seen[e.Path] = true
			paths = append(paths, e.Path)
		}
	}
	return paths, nil
}

func (b *Backlog) Len() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries), nil
}
