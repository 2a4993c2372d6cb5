// Package health persists the last-known process status for external monitors.
package health

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"meterrelay/internal/atomicfile"
	"meterrelay/internal/logger"
	"meterrelay/internal/model"
)

// Writer overwrites the health file on every update. Writes are best-effort:
// failures are logged and never returned to the cycle.
type Writer struct {
	path     string
	deviceID string
	logger   *logger.Logger
	now      func() time.Time

	mu    sync.Mutex
	last  model.HealthSnapshot
	final bool
}

func NewWriter(path, deviceID string, log *logger.Logger) *Writer {
	if log == nil {
		log = logger.NewNop()
	}
	return &Writer{
		path:     path,
		deviceID: deviceID,
		logger:   log,
		now:      time.Now,
		last: model.HealthSnapshot{
			DeviceID: deviceID,
			Status:   model.HealthRunning,
		},
	}
}

// Update records a snapshot. It is ignored after WriteFinal.
func (w *Writer) Update(s model.HealthSnapshot) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.final {
		return false
	}
	return w.write(s)
}

// WriteFinal records the closing snapshot with the given status and blocks
// further updates. Only the first call writes.
func (w *Writer) WriteFinal(status model.HealthStatus, message string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.final {
		return false
	}
	w.final = true

	s := w.last
	s.Status = status
	s.LastMessage = message
	return w.write(s)
}

// Last returns the most recent snapshot.
func (w *Writer) Last() model.HealthSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

func (w *Writer) write(s model.HealthSnapshot) bool {
	s.DeviceID = w.deviceID
	if s.Timestamp.IsZero() {
		s.Timestamp = w.now()
	}
	w.last = s

	if w.path == "" {
		return true
	}
	if err := w.persist(s); err != nil {
		w.logger.Warning("Failed to write health file: %v", err)
		return false
	}
	return true
}

func (w *Writer) persist(s model.HealthSnapshot) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal health snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		return fmt.Errorf("create health directory: %w", err)
	}
	return atomicfile.Write(w.path, data)
}

// Read loads a health file written by Writer.
func Read(path string) (model.HealthSnapshot, error) {
	var s model.HealthSnapshot
	data, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse health file: %w", err)
	}
	return s, nil
}
