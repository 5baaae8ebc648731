package domain

import (
	"time"

	"github.com/google/uuid"
)

// LogRepository defines the interface for managing bridge logs.
// It provides methods for persisting and retrieving log entries.
type LogRepository interface {
	// InsertLog saves a new log entry to the repository.
	InsertLog(log *Log) error
	// GetLogs retrieves up to limit log entries, newest first.
	GetLogs(limit int) ([]*Log, error)
}

// Log represents a single log entry, containing information about an event that occurred in the bridge.
type Log struct {
	ID        uuid.UUID      `json:"id"`        // Unique identifier for the log entry.
	Timestamp time.Time      `json:"timestamp"` // The time at which the log entry was created.
	Level     string         `json:"level"`     // The severity level of the log (DEBUG, INFO, WARN, ERROR).
	Message   string         `json:"message"`   // The main content of the log message.
	Context   map[string]any `json:"context"`   // A map of additional key-value data for structured logging.
	DeviceID  *string        `json:"device_id"` // An optional device the entry relates to.
}
