package model

import "time"

// Image represents a catalogued photo stored on the device.
type Image struct {
	ID        int64     `json:"id"`
	Filename  string    `json:"filename"`
	DeviceID  string    `json:"device_id"`
	CycleID   string    `json:"cycle_id"`
	Timestamp time.Time `json:"timestamp"`
	FilePath  string    `json:"filepath"`
	FileSize  int64     `json:"filesize"`
	Detected  bool      `json:"detected"`
	Delivered bool      `json:"delivered"`
}

// StoredImage is the result of a successful save to the output directory.
type StoredImage struct {
	Path     string
	Filename string
	Size     int64
	Detected bool
}

// SizeKB returns the file size in kilobytes.
func (s StoredImage) SizeKB() float64 {
	return float64(s.Size) / 1024.0
}
