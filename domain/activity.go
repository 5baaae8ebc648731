package domain

import "encoding/json"

// Geometry is a GeoJSON-like shape as returned by the upstream API.
// Coordinates are kept raw because points and polygons nest differently.
type Geometry struct {
	Type        string          `json:"type,omitempty"`
	Coordinates json.RawMessage `json:"coordinates,omitempty"`
}

// Site groups devices at a physical location.
type Site struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// Device is a camera or sensor registered with the upstream API.
type Device struct {
	ID         string    `json:"id"`
	UUID       string    `json:"uuid,omitempty"`
	ExternalID string    `json:"externalId,omitempty"`
	Name       string    `json:"name,omitempty"`
	Enabled    bool      `json:"enabled"`
	Address    string    `json:"address,omitempty"`
	FrameRate  *float64  `json:"frameRate,omitempty"`
	Position   *Geometry `json:"position,omitempty"`
	Site       *Site     `json:"site,omitempty"`
}

// Zone is a named area attached to a data source.
type Zone struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// DataSource is the stream a track or video was recorded from.
type DataSource struct {
	ID     string  `json:"id,omitempty"`
	Name   string  `json:"name,omitempty"`
	Type   string  `json:"type,omitempty"`
	Device *Device `json:"device,omitempty"`
	Zones  []Zone  `json:"zones,omitempty"`
}

// Video is the recording a track belongs to.
type Video struct {
	ID               string      `json:"id,omitempty"`
	URL              string      `json:"url,omitempty"`
	ThumbnailURL     string      `json:"thumbnailUrl,omitempty"`
	DisplayName      string      `json:"displayName,omitempty"`
	ResolutionHeight *int        `json:"resolutionHeight,omitempty"`
	ResolutionWidth  *int        `json:"resolutionWidth,omitempty"`
	FrameRate        *float64    `json:"frameRate,omitempty"`
	DataSource       *DataSource `json:"dataSource,omitempty"`
}

// TrackDetection is a single observation inside a track.
type TrackDetection struct {
	ID            string          `json:"id,omitempty"`
	Timestamp     string          `json:"timestamp,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	CreatedAt     string          `json:"createdAt,omitempty"`
	UpdatedAt     string          `json:"updatedAt,omitempty"`
	Direction     Scalar          `json:"direction,omitempty"`
	GeofenceIDs   []string        `json:"geofenceIds,omitempty"`
	ZoneIDs       []string        `json:"zoneIds,omitempty"`
	GlobalTrackID string          `json:"globalTrackId,omitempty"`
	DeviceID      string          `json:"deviceId,omitempty"`
	Tag           string          `json:"tag,omitempty"`
	Confidence    *float64        `json:"confidence,omitempty"`
	Polygon       *Geometry       `json:"polygon,omitempty"`
	Position      *Geometry       `json:"position,omitempty"`
	Track         *Track          `json:"track,omitempty"`
	Device        *Device         `json:"device,omitempty"`
}

// Track follows one object across consecutive detections.
type Track struct {
	ID         string           `json:"id,omitempty"`
	Tag        string           `json:"tag,omitempty"`
	StartTime  string           `json:"startTime,omitempty"`
	EndTime    string           `json:"endTime,omitempty"`
	Metadata   json.RawMessage  `json:"metadata,omitempty"`
	DataSource *DataSource      `json:"dataSource,omitempty"`
	Video      *Video           `json:"video,omitempty"`
	Detections []TrackDetection `json:"detections,omitempty"`
}

// DetectionActivity is the payload pushed by the detectionActivity subscription.
type DetectionActivity struct {
	Track     *Track    `json:"track,omitempty"`
	Timestamp string    `json:"timestamp,omitempty"`
	Direction Scalar    `json:"direction,omitempty"`
	Position  *Geometry `json:"position,omitempty"`
	Polygon   *Geometry `json:"polygon,omitempty"`
}

// FirstDetection returns the first detection of the activity's track, or nil.
func (a *DetectionActivity) FirstDetection() *TrackDetection {
	if a == nil || a.Track == nil || len(a.Track.Detections) == 0 {
		return nil
	}
	return &a.Track.Detections[0]
}

// VideoDevice returns the device behind the track's video data source, or nil.
func (t *Track) VideoDevice() *Device {
	if t == nil || t.Video == nil || t.Video.DataSource == nil {
		return nil
	}
	return t.Video.DataSource.Device
}
