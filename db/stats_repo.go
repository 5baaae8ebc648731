package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/worldsio/detectbridge/domain"
)

var _ domain.StatsRepository = (*Repository)(nil)

// GetDetectionStats counts detections stored at or after since. Without a
// deviceID the counts are grouped per device, otherwise a single aggregate row
// for the device is returned.
func (repo *Repository) GetDetectionStats(deviceID string, since time.Time) ([]*domain.DetectionStats, error) {
	cutoff := domain.FormatTimestamp(since)

	if deviceID != "" {
		var row struct {
			TotalDetections int            `db:"total_detections"`
			UniqueTracks    int            `db:"unique_tracks"`
			UniqueTags      int            `db:"unique_tags"`
			DeviceName      sql.NullString `db:"device_name"`
		}
		query := `SELECT COUNT(*) AS total_detections,
		                 COUNT(DISTINCT track_id) AS unique_tracks,
		                 COUNT(DISTINCT tag) AS unique_tags,
		                 MAX(device_name) AS device_name
		          FROM detections
		          WHERE device_id = ? AND timestamp >= ?`

		if err := repo.dbConn.Get(&row, query, deviceID, cutoff); err != nil {
			return nil, fmt.Errorf("getting detection stats for %s: %w", deviceID, err)
		}
		return []*domain.DetectionStats{{
			TotalDetections: row.TotalDetections,
			UniqueTracks:    row.UniqueTracks,
			UniqueTags:      row.UniqueTags,
			DeviceID:        deviceID,
			DeviceName:      row.DeviceName.String,
		}}, nil
	}

	var rows []struct {
		TotalDetections int            `db:"total_detections"`
		UniqueTracks    int            `db:"unique_tracks"`
		UniqueTags      int            `db:"unique_tags"`
		DeviceID        string         `db:"device_id"`
		DeviceName      sql.NullString `db:"device_name"`
	}
	query := `SELECT COUNT(*) AS total_detections,
	                 COUNT(DISTINCT track_id) AS unique_tracks,
	                 COUNT(DISTINCT tag) AS unique_tags,
	                 device_id,
	                 device_name
	          FROM detections
	          WHERE timestamp >= ?
	          GROUP BY device_id, device_name
	          ORDER BY total_detections DESC, device_id`

	if err := repo.dbConn.Select(&rows, query, cutoff); err != nil {
		return nil, fmt.Errorf("getting detection stats: %w", err)
	}

	stats := make([]*domain.DetectionStats, len(rows))
	for i, row := range rows {
		stats[i] = &domain.DetectionStats{
			TotalDetections: row.TotalDetections,
			UniqueTracks:    row.UniqueTracks,
			UniqueTags:      row.UniqueTags,
			DeviceID:        row.DeviceID,
			DeviceName:      row.DeviceName.String,
		}
	}
	return stats, nil
}

// GetDatabaseStats returns the row counts of the store and the detection time bounds.
func (repo *Repository) GetDatabaseStats() (*domain.DatabaseStats, error) {
	var row struct {
		TotalDetections int            `db:"total_detections"`
		TotalTracks     int            `db:"total_tracks"`
		TotalDevices    int            `db:"total_devices"`
		TotalEvents     int            `db:"total_events"`
		Latest          sql.NullString `db:"latest_detection"`
		Oldest          sql.NullString `db:"oldest_detection"`
	}
	query := `SELECT (SELECT COUNT(*) FROM detections) AS total_detections,
	                 (SELECT COUNT(*) FROM tracks) AS total_tracks,
	                 (SELECT COUNT(*) FROM devices) AS total_devices,
	                 (SELECT COUNT(*) FROM events) AS total_events,
	                 (SELECT MAX(timestamp) FROM detections) AS latest_detection,
	                 (SELECT MIN(timestamp) FROM detections) AS oldest_detection`

	if err := repo.dbConn.Get(&row, query); err != nil {
		return nil, fmt.Errorf("getting database stats: %w", err)
	}

	return &domain.DatabaseStats{
		TotalDetections: row.TotalDetections,
		TotalTracks:     row.TotalTracks,
		TotalDevices:    row.TotalDevices,
		TotalEvents:     row.TotalEvents,
		LatestDetection: parseStoredNull(row.Latest),
		OldestDetection: parseStoredNull(row.Oldest),
	}, nil
}

// GetAllTags returns every non-empty tag with its detection, track and device counts.
func (repo *Repository) GetAllTags() ([]*domain.TagStats, error) {
	var tags []*domain.TagStats
	query := `SELECT tag,
	                 COUNT(*) AS detection_count,
	                 COUNT(DISTINCT track_id) AS track_count,
	                 COUNT(DISTINCT device_id) AS device_count
	          FROM detections
	          WHERE tag IS NOT NULL AND tag != ''
	          GROUP BY tag
	          ORDER BY detection_count DESC, tag`

	if err := repo.dbConn.Select(&tags, query); err != nil {
		return nil, fmt.Errorf("getting tags: %w", err)
	}
	if tags == nil {
		tags = []*domain.TagStats{}
	}
	return tags, nil
}

// GetLongestTrackPerTag returns, for every tag, the track with the most
// detections. Ties go to the track observed for the longest time. A track id
// reported by two devices, or under two names, counts as two tracks.
func (repo *Repository) GetLongestTrackPerTag() ([]*domain.LongestTrack, error) {
	var rows []struct {
		Tag             string          `db:"tag"`
		TrackID         string          `db:"track_id"`
		DeviceID        string          `db:"device_id"`
		DeviceName      sql.NullString  `db:"device_name"`
		DetectionCount  int             `db:"detection_count"`
		FirstDetection  string          `db:"first_detection"`
		LastDetection   string          `db:"last_detection"`
		DurationSeconds sql.NullFloat64 `db:"duration_seconds"`
	}
	query := `WITH track_stats AS (
	              SELECT tag,
	                     track_id,
	                     device_id,
	                     device_name,
	                     COUNT(*) AS detection_count,
	                     MIN(timestamp) AS first_detection,
	                     MAX(timestamp) AS last_detection,
	                     (julianday(MAX(timestamp)) - julianday(MIN(timestamp))) * 86400.0 AS duration_seconds
	              FROM detections
	              WHERE tag IS NOT NULL AND tag != '' AND track_id IS NOT NULL AND track_id != ''
	              GROUP BY track_id, tag, device_id, device_name
	          ),
	          ranked AS (
	              SELECT *,
	                     ROW_NUMBER() OVER (
	                         PARTITION BY tag
	                         ORDER BY detection_count DESC, duration_seconds DESC, track_id, device_id
	                     ) AS rn
	              FROM track_stats
	          )
	          SELECT tag, track_id, device_id, device_name, detection_count,
	                 first_detection, last_detection, duration_seconds
	          FROM ranked
	          WHERE rn = 1
	          ORDER BY detection_count DESC, tag`

	if err := repo.dbConn.Select(&rows, query); err != nil {
		return nil, fmt.Errorf("getting longest track per tag: %w", err)
	}

	tracks := make([]*domain.LongestTrack, len(rows))
	for i, row := range rows {
		tracks[i] = &domain.LongestTrack{
			Tag:             row.Tag,
			TrackID:         row.TrackID,
			DeviceID:        row.DeviceID,
			DeviceName:      row.DeviceName.String,
			DetectionCount:  row.DetectionCount,
			FirstDetection:  parseStored(row.FirstDetection),
			LastDetection:   parseStored(row.LastDetection),
			DurationSeconds: row.DurationSeconds.Float64,
		}
	}
	return tracks, nil
}
