package model

import (
	"fmt"
	"time"
)

// StatusCode is the per-cycle value sent to the telemetry endpoint.
type StatusCode int

const (
	StatusFallbackDelivered  StatusCode = 0
	StatusExtractedDelivered StatusCode = 1
	StatusFailed             StatusCode = 2
)

// DeriveStatus maps the extraction result and delivery result to a status code.
func DeriveStatus(detected, delivered bool) StatusCode {
	switch {
	case !delivered:
		return StatusFailed
	case detected:
		return StatusExtractedDelivered
	default:
		return StatusFallbackDelivered
	}
}

// Success reports whether the cycle delivered an image.
func (c StatusCode) Success() bool {
	return c == StatusFallbackDelivered || c == StatusExtractedDelivered
}

func (c StatusCode) String() string {
	switch c {
	case StatusFallbackDelivered:
		return "fallback_delivered"
	case StatusExtractedDelivered:
		return "extracted_delivered"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(c))
	}
}

// BacklogEntry is a delivery deferred after the agent exhausted its retries.
type BacklogEntry struct {
	ID         int64     `json:"id"`
	Path       string    `json:"path"`
	Detected   bool      `json:"detected"`
	RetryCount int       `json:"retry_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// HealthStatus is the process state recorded in the health snapshot.
type HealthStatus string

const (
	HealthRunning HealthStatus = "running"
	HealthStopped HealthStatus = "stopped"
	HealthError   HealthStatus = "error"
)

// HealthSnapshot is the last-known process status persisted for monitoring.
type HealthSnapshot struct {
	DeviceID     string       `json:"device_id"`
	Status       HealthStatus `json:"status"`
	Timestamp    time.Time    `json:"timestamp"`
	LastMessage  string       `json:"last_message"`
	CycleCount   int          `json:"cycle_count"`
	SuccessCount int          `json:"success_count"`
	BacklogSize  int          `json:"backlog_size"`
}

// CycleEvent is published to live viewers after every cycle.
type CycleEvent struct {
	CycleID    string     `json:"cycle_id"`
	StatusCode StatusCode `json:"status_code"`
	Detected   bool       `json:"detected"`
	Filename   string     `json:"filename,omitempty"`
	Message    string     `json:"message"`
	Duration   float64    `json:"duration_seconds"`
	Timestamp  time.Time  `json:"timestamp"`
}
