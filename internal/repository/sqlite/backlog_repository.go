package sqlite

import (
	"fmt"

	"meterrelay/internal/model"
)

// BacklogRepository implements repository.BacklogRepository for SQLite.
// Queued deliveries survive process restarts.
type BacklogRepository struct {
	db       *DB
	capacity int
}

func NewBacklogRepository(db *DB, capacity int) *BacklogRepository {
	if capacity < 1 {
		capacity = 1
	}
	return &BacklogRepository{db: db, capacity: capacity}
}

func (r *BacklogRepository) Capacity() int { return r.capacity }

// Push appends entry and evicts the oldest rows beyond capacity.
func (r *BacklogRepository) Push(entry model.BacklogEntry) ([]model.BacklogEntry, error) {
	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin backlog push: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO backlog (path, detected, retry_count, created_at) VALUES (?, ?, ?, ?)
	`, entry.Path, entry.Detected, entry.RetryCount, entry.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to insert backlog entry: %w", err)
	}

	var count int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM backlog`).Scan(&count); err != nil {
		return nil, fmt.Errorf("failed to count backlog: %w", err)
	}

	var evicted []model.BacklogEntry
	if over := count - r.capacity; over > 0 {
		rows, err := tx.Query(`
			SELECT id, path, detected, retry_count, created_at FROM backlog ORDER BY id ASC LIMIT ?
		`, over)
		if err != nil {
			return nil, fmt.Errorf("failed to select evicted entries: %w", err)
		}
		for rows.Next() {
			var e model.BacklogEntry
			if err := rows.Scan(&e.ID, &e.Path, &e.Detected, &e.RetryCount, &e.CreatedAt); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan backlog entry: %w", err)
			}
			evicted = append(evicted, e)
		}
		rows.Close()

		for _, e := range evicted {
			if _, err := tx.Exec(`DELETE FROM backlog WHERE id = ?`, e.ID); err != nil {
				return nil, fmt.Errorf("failed to evict backlog entry: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit backlog push: %w", err)
	}
	return evicted, nil
}

// Snapshot returns every entry in insertion order. Rows stay in place until
// Remove is called for them.
func (r *BacklogRepository) Snapshot() ([]model.BacklogEntry, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`SELECT id, path, detected, retry_count, created_at FROM backlog ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query backlog: %w", err)
	}
	defer rows.Close()

	var entries []model.BacklogEntry
	for rows.Next() {
		var e model.BacklogEntry
		if err := rows.Scan(&e.ID, &e.Path, &e.Detected, &e.RetryCount, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan backlog entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *BacklogRepository) Remove(id int64) error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM backlog WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to remove backlog entry %d: %w", id, err)
	}
	return nil
}

func (r *BacklogRepository) UpdateRetry(id int64, retryCount int) error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`UPDATE backlog SET retry_count = ? WHERE id = ?`, retryCount, id); err != nil {
		return fmt.Errorf("failed to update backlog entry %d: %w", id, err)
	}
	return nil
}

// Paths lists the file paths still referenced by queued entries.
func (r *BacklogRepository) Paths() ([]string, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`SELECT DISTINCT path FROM backlog`)
	if err != nil {
		return nil, fmt.Errorf("failed to query backlog paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan backlog path: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// Len returns the number of queued entries.
func (r *BacklogRepository) Len() (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var count int
	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM backlog`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count backlog: %w", err)
	}
	return count, nil
}
