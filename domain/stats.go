package domain

import "time"

// StatsRepository defines the read-only aggregate queries over stored detections.
type StatsRepository interface {
	// GetDetectionStats returns per-device counts for detections at or after since.
	// When deviceID is set the result holds exactly one entry for that device.
	GetDetectionStats(deviceID string, since time.Time) ([]*DetectionStats, error)
	// GetDatabaseStats returns the overall row counts and detection time bounds.
	GetDatabaseStats() (*DatabaseStats, error)
	// GetAllTags returns every non-empty tag with its counts, most detected first.
	GetAllTags() ([]*TagStats, error)
	// GetLongestTrackPerTag returns, per tag, the track with the most detections.
	// Ties are broken by the longest duration.
	GetLongestTrackPerTag() ([]*LongestTrack, error)
}

// DetectionStats summarises detections for one device.
type DetectionStats struct {
	TotalDetections int    `json:"total_detections" db:"total_detections"`
	UniqueTracks    int    `json:"unique_tracks" db:"unique_tracks"`
	UniqueTags      int    `json:"unique_tags" db:"unique_tags"`
	DeviceID        string `json:"device_id" db:"device_id"`
	DeviceName      string `json:"device_name" db:"device_name"`
}

// DatabaseStats summarises the whole store. The detection bounds are nil when
// no detection has been stored yet.
type DatabaseStats struct {
	TotalDetections int        `json:"total_detections"`
	TotalTracks     int        `json:"total_tracks"`
	TotalDevices    int        `json:"total_devices"`
	TotalEvents     int        `json:"total_events"`
	LatestDetection *time.Time `json:"latest_detection"`
	OldestDetection *time.Time `json:"oldest_detection"`
}

// TagStats counts detections, tracks and devices seen for a tag.
type TagStats struct {
	Tag            string `json:"tag" db:"tag"`
	DetectionCount int    `json:"detection_count" db:"detection_count"`
	TrackCount     int    `json:"track_count" db:"track_count"`
	DeviceCount    int    `json:"device_count" db:"device_count"`
}

// LongestTrack is the most observed track for a tag.
type LongestTrack struct {
	Tag             string    `json:"tag"`
	TrackID         string    `json:"track_id"`
	DeviceID        string    `json:"device_id"`
	DeviceName      string    `json:"device_name"`
	DetectionCount  int       `json:"detection_count"`
	FirstDetection  time.Time `json:"first_detection"`
	LastDetection   time.Time `json:"last_detection"`
	DurationSeconds float64   `json:"duration_seconds"`
}
