package sqlite

import (
	"database/sql"
	"fmt"

	"meterrelay/internal/model"
)

// ImageRepository implements repository.ImageRepository for SQLite.
type ImageRepository struct {
	db *DB
}

// NewImageRepository creates a new SQLite image repository.
func NewImageRepository(db *DB) *ImageRepository {
	return &ImageRepository{db: db}
}

const imageColumns = `id, filename, device_id, cycle_id, timestamp, filepath, filesize, detected, delivered`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanImage(row rowScanner) (model.Image, error) {
	var img model.Image
	err := row.Scan(&img.ID, &img.Filename, &img.DeviceID, &img.CycleID, &img.Timestamp,
		&img.FilePath, &img.FileSize, &img.Detected, &img.Delivered)
	return img, err
}

// Insert adds a new image record. A row with the same filename is replaced.
func (r *ImageRepository) Insert(img *model.Image) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`
		INSERT OR REPLACE INTO images (filename, device_id, cycle_id, timestamp, filepath, filesize, detected, delivered)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, img.Filename, img.DeviceID, img.CycleID, img.Timestamp, img.FilePath, img.FileSize, img.Detected, img.Delivered)
	if err != nil {
		return 0, fmt.Errorf("failed to insert image: %w", err)
	}

	return result.LastInsertId()
}

// MarkDelivered flags the image as uploaded.
func (r *ImageRepository) MarkDelivered(filename string) error {
	r.db.Lock()
	defer r.db.Unlock()

	_, err := r.db.Conn().Exec(`UPDATE images SET delivered = 1 WHERE filename = ?`, filename)
	if err != nil {
		return fmt.Errorf("failed to mark image delivered: %w", err)
	}
	return nil
}

// GetByFilename retrieves an image by its filename.
func (r *ImageRepository) GetByFilename(filename string) (*model.Image, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	img, err := scanImage(r.db.Conn().QueryRow(`
		SELECT `+imageColumns+` FROM images WHERE filename = ?
	`, filename))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get image: %w", err)
	}
	return &img, nil
}

// GetLatest returns up to limit images, newest first.
func (r *ImageRepository) GetLatest(limit int) ([]model.Image, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Conn().Query(`
		SELECT `+imageColumns+` FROM images ORDER BY timestamp DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query images: %w", err)
	}
	defer rows.Close()

	images := make([]model.Image, 0, limit)
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan image: %w", err)
		}
		images = append(images, img)
	}

	return images, rows.Err()
}

// Count returns the number of catalogued images.
func (r *ImageRepository) Count() (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var count int
	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM images`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count images: %w", err)
	}
	return count, nil
}

// DeleteByFilepath removes the record for a pruned file.
func (r *ImageRepository) DeleteByFilepath(path string) error {
	r.db.Lock()
	defer r.db.Unlock()

	_, err := r.db.Conn().Exec(`DELETE FROM images WHERE filepath = ?`, path)
	if err != nil {
		return fmt.Errorf("failed to delete image: %w", err)
	}
	return nil
}
