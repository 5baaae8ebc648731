package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/worldsio/detectbridge/domain"
)

var _ domain.DetectionRepository = (*Repository)(nil)

// dbDetection represents a detection as stored in the database.
type dbDetection struct {
	ID                  int64          `db:"id"`
	DeviceID            string         `db:"device_id"`
	TrackID             sql.NullString `db:"track_id"`
	Tag                 sql.NullString `db:"tag"`
	Timestamp           string         `db:"timestamp"`
	Direction           sql.NullString `db:"direction"`
	PositionType        sql.NullString `db:"position_type"`
	PositionCoordinates JSONText       `db:"position_coordinates"`
	PolygonType         sql.NullString `db:"polygon_type"`
	PolygonCoordinates  JSONText       `db:"polygon_coordinates"`
	GeofenceIDs         StringList     `db:"geofence_ids"`
	ZoneIDs             StringList     `db:"zone_ids"`
	GlobalTrackID       sql.NullString `db:"global_track_id"`
	DeviceName          sql.NullString `db:"device_name"`
	Metadata            JSONText       `db:"metadata"`
	CreatedAt           sql.NullString `db:"created_at"`
	UpdatedAt           sql.NullString `db:"updated_at"`
}

// toDomainDetection converts a dbDetection to a domain.Detection.
func toDomainDetection(row *dbDetection) *domain.Detection {
	detection := &domain.Detection{
		ID:                  row.ID,
		DeviceID:            row.DeviceID,
		TrackID:             row.TrackID.String,
		Tag:                 row.Tag.String,
		Timestamp:           parseStored(row.Timestamp),
		Direction:           row.Direction.String,
		PositionType:        row.PositionType.String,
		PositionCoordinates: []byte(row.PositionCoordinates),
		PolygonType:         row.PolygonType.String,
		PolygonCoordinates:  []byte(row.PolygonCoordinates),
		GeofenceIDs:         row.GeofenceIDs,
		ZoneIDs:             row.ZoneIDs,
		GlobalTrackID:       row.GlobalTrackID.String,
		DeviceName:          row.DeviceName.String,
		Metadata:            []byte(row.Metadata),
	}
	if created := parseStoredNull(row.CreatedAt); created != nil {
		detection.CreatedAt = *created
	}
	if updated := parseStoredNull(row.UpdatedAt); updated != nil {
		detection.UpdatedAt = *updated
	}
	return detection
}

// fromDomainDetection converts a domain.Detection to a dbDetection.
func fromDomainDetection(detection *domain.Detection) *dbDetection {
	deviceID := detection.DeviceID
	if deviceID == "" {
		deviceID = domain.UnknownDeviceID
	}
	return &dbDetection{
		DeviceID:            deviceID,
		TrackID:             nullString(detection.TrackID),
		Tag:                 nullString(detection.Tag),
		Timestamp:           domain.FormatTimestamp(detection.Timestamp),
		Direction:           nullString(detection.Direction),
		PositionType:        nullString(detection.PositionType),
		PositionCoordinates: JSONText(detection.PositionCoordinates),
		PolygonType:         nullString(detection.PolygonType),
		PolygonCoordinates:  JSONText(detection.PolygonCoordinates),
		GeofenceIDs:         StringList(detection.GeofenceIDs),
		ZoneIDs:             StringList(detection.ZoneIDs),
		GlobalTrackID:       nullString(detection.GlobalTrackID),
		DeviceName:          nullString(detection.DeviceName),
		Metadata:            JSONText(detection.Metadata),
	}
}

// InsertDetection stores a flattened detection row and sets detection.ID.
func (repo *Repository) InsertDetection(detection *domain.Detection) error {
	row := fromDomainDetection(detection)
	query := `INSERT INTO detections (
	              device_id, track_id, tag, timestamp, direction,
	              position_type, position_coordinates, polygon_type, polygon_coordinates,
	              geofence_ids, zone_ids, global_track_id, device_name, metadata
	          ) VALUES (
	              :device_id, :track_id, :tag, :timestamp, :direction,
	              :position_type, :position_coordinates, :polygon_type, :polygon_coordinates,
	              :geofence_ids, :zone_ids, :global_track_id, :device_name, :metadata
	          )`

	result, err := repo.dbConn.NamedExec(query, row)
	if err != nil {
		return fmt.Errorf("inserting detection for device %s: %w", row.DeviceID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading detection id: %w", err)
	}
	detection.ID = id
	detection.DeviceID = row.DeviceID
	return nil
}

// GetRecentDetections returns up to limit detections, newest first.
func (repo *Repository) GetRecentDetections(limit int, deviceID string) ([]*domain.Detection, error) {
	var rows []*dbDetection
	var err error
	if deviceID != "" {
		query := `SELECT * FROM detections WHERE device_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`
		err = repo.dbConn.Select(&rows, query, deviceID, limit)
	} else {
		query := `SELECT * FROM detections ORDER BY timestamp DESC, id DESC LIMIT ?`
		err = repo.dbConn.Select(&rows, query, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching recent detections: %w", err)
	}

	return toDomainDetections(rows), nil
}

// GetDetectionsByTimeRange returns detections within [start, end], newest first.
func (repo *Repository) GetDetectionsByTimeRange(start, end time.Time, deviceID string) ([]*domain.Detection, error) {
	var rows []*dbDetection
	query := `SELECT * FROM detections WHERE timestamp BETWEEN ? AND ?`
	args := []any{domain.FormatTimestamp(start), domain.FormatTimestamp(end)}

	if deviceID != "" {
		query += ` AND device_id = ?`
		args = append(args, deviceID)
	}
	query += ` ORDER BY timestamp DESC, id DESC`

	if err := repo.dbConn.Select(&rows, query, args...); err != nil {
		return nil, fmt.Errorf("fetching detections between %s and %s: %w", start, end, err)
	}

	return toDomainDetections(rows), nil
}

func toDomainDetections(rows []*dbDetection) []*domain.Detection {
	detections := make([]*domain.Detection, len(rows))
	for i, row := range rows {
		detections[i] = toDomainDetection(row)
	}
	return detections
}
