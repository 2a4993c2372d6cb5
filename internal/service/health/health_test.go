package health

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"meterrelay/internal/model"
)

func TestWriter_Update(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "health.json")
	w := NewWriter(path, "Node-1", nil)

	ok := w.Update(model.HealthSnapshot{
		Status:       model.HealthRunning,
		LastMessage:  "Cycle 3: extracted_delivered",
		CycleCount:   3,
		SuccessCount: 2,
		BacklogSize:  1,
	})
	if !ok {
		t.Fatal("Update failed")
	}

	s, err := Read(path)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if s.DeviceID != "Node-1" || s.CycleCount != 3 || s.SuccessCount != 2 || s.BacklogSize != 1 {
		t.Errorf("snapshot = %+v", s)
	}
	if s.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}

func TestWriter_Schema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "health.json")
	w := NewWriter(path, "Node-1", nil)
	w.Update(model.HealthSnapshot{Status: model.HealthError, Timestamp: time.Unix(0, 0).UTC()})

	data, _ := os.ReadFile(path)
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"device_id", "status", "timestamp", "last_message", "cycle_count", "success_count", "backlog_size"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("health file missing %q", key)
		}
	}
	if raw["status"] != "error" {
		t.Errorf("status = %v", raw["status"])
	}
}

func TestWriter_FinalBlocksUpdates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "health.json")
	w := NewWriter(path, "Node-1", nil)
	w.Update(model.HealthSnapshot{Status: model.HealthRunning, CycleCount: 5})

	if !w.WriteFinal(model.HealthStopped, "Service stopped") {
		t.Fatal("WriteFinal failed")
	}
	if w.WriteFinal(model.HealthStopped, "again") {
		t.Error("second WriteFinal should be a no-op")
	}
	if w.Update(model.HealthSnapshot{Status: model.HealthRunning}) {
		t.Error("Update after WriteFinal should be ignored")
	}

	s, _ := Read(path)
	if s.Status != model.HealthStopped || s.CycleCount != 5 || s.LastMessage != "Service stopped" {
		t.Errorf("final snapshot = %+v", s)
	}
}

func TestWriter_FailureIsBestEffort(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	os.WriteFile(blocker, nil, 0644)

	w := NewWriter(filepath.Join(blocker, "health.json"), "Node-1", nil)
	if w.Update(model.HealthSnapshot{Status: model.HealthRunning, CycleCount: 1}) {
		t.Error("expected write failure to be reported")
	}
	if w.Last().CycleCount != 1 {
		t.Error("in-memory snapshot should still be updated")
	}
}
