package domain

import (
	"encoding/json"
	"time"
)

// UnknownDeviceID is stored when a detection arrives without a device id.
const UnknownDeviceID = "unknown"

// DetectionRepository defines the persistence operations for live detections.
type DetectionRepository interface {
	// InsertDetection stores a flattened detection row and sets its ID.
	InsertDetection(detection *Detection) error
	// GetRecentDetections returns up to limit detections, newest first.
	// An empty deviceID returns detections for every device.
	GetRecentDetections(limit int, deviceID string) ([]*Detection, error)
	// GetDetectionsByTimeRange returns detections whose timestamp falls within
	// [start, end], newest first, optionally restricted to a device.
	GetDetectionsByTimeRange(start, end time.Time, deviceID string) ([]*Detection, error)
}

// TrackRepository defines the persistence operations for tracks.
type TrackRepository interface {
	// UpsertTrack inserts the track or replaces the existing row with the same track id.
	UpsertTrack(track *TrackRecord) error
	// GetTrack returns the stored track with the given track id.
	GetTrack(trackID string) (*TrackRecord, error)
}

// DeviceRepository caches the device list fetched from the upstream API.
type DeviceRepository interface {
	// UpsertDevice inserts the device or replaces the existing row with the same device id.
	UpsertDevice(device *DeviceRecord) error
	// GetDevices returns every cached device ordered by device id.
	GetDevices() ([]*DeviceRecord, error)
}

// Detection is a single detection activity flattened for storage.
type Detection struct {
	ID                  int64           `json:"id"`
	DeviceID            string          `json:"device_id"`
	TrackID             string          `json:"track_id"`
	Tag                 string          `json:"tag"`
	Timestamp           time.Time       `json:"timestamp"`
	Direction           string          `json:"direction"`
	PositionType        string          `json:"position_type"`
	PositionCoordinates json.RawMessage `json:"position_coordinates"`
	PolygonType         string          `json:"polygon_type"`
	PolygonCoordinates  json.RawMessage `json:"polygon_coordinates"`
	GeofenceIDs         []string        `json:"geofence_ids"`
	ZoneIDs             []string        `json:"zone_ids"`
	GlobalTrackID       string          `json:"global_track_id"`
	DeviceName          string          `json:"device_name"`
	Metadata            json.RawMessage `json:"metadata"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// TrackRecord is the stored view of a track and the video it was recorded on.
type TrackRecord struct {
	TrackID               string    `json:"track_id"`
	DeviceID              string    `json:"device_id"`
	Tag                   string    `json:"tag"`
	DataSourceName        string    `json:"data_source_name"`
	VideoURL              string    `json:"video_url"`
	VideoThumbnailURL     string    `json:"video_thumbnail_url"`
	VideoDisplayName      string    `json:"video_display_name"`
	VideoResolutionHeight *int      `json:"video_resolution_height"`
	VideoResolutionWidth  *int      `json:"video_resolution_width"`
	VideoFrameRate        *float64  `json:"video_frame_rate"`
	VideoDataSourceID     string    `json:"video_data_source_id"`
	VideoDataSourceName   string    `json:"video_data_source_name"`
	VideoDataSourceType   string    `json:"video_data_source_type"`
	VideoDeviceName       string    `json:"video_device_name"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// DeviceRecord is the stored view of an upstream device.
type DeviceRecord struct {
	DeviceID            string          `json:"device_id"`
	DeviceName          string          `json:"device_name"`
	DeviceAddress       string          `json:"device_address"`
	Enabled             bool            `json:"enabled"`
	FrameRate           *float64        `json:"frame_rate"`
	PositionType        string          `json:"position_type"`
	PositionCoordinates json.RawMessage `json:"position_coordinates"`
	SiteID              string          `json:"site_id"`
	SiteName            string          `json:"site_name"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// NewDetection flattens a detection activity received for deviceID.
// Geofence, zone, global track and metadata come from the track's first detection.
// When the activity carries no parseable timestamp, receivedAt is used instead.
func NewDetection(activity *DetectionActivity, deviceID string, receivedAt time.Time) *Detection {
	if deviceID == "" {
		deviceID = UnknownDeviceID
	}

	detection := &Detection{
		DeviceID:            deviceID,
		Timestamp:           ParseTimestamp(activity.Timestamp, receivedAt),
		Direction:           activity.Direction.String(),
		PositionCoordinates: emptyArray,
		PolygonCoordinates:  emptyArray,
		GeofenceIDs:         []string{},
		ZoneIDs:             []string{},
		Metadata:            emptyObject,
	}

	if activity.Track != nil {
		detection.TrackID = activity.Track.ID
		detection.Tag = activity.Track.Tag
		if device := activity.Track.VideoDevice(); device != nil {
			detection.DeviceName = device.Name
		}
	}

	if activity.Position != nil {
		detection.PositionType = activity.Position.Type
		detection.PositionCoordinates = orEmpty(activity.Position.Coordinates, emptyArray)
	}

	if activity.Polygon != nil {
		detection.PolygonType = activity.Polygon.Type
		detection.PolygonCoordinates = orEmpty(activity.Polygon.Coordinates, emptyArray)
	}

	if first := activity.FirstDetection(); first != nil {
		if first.GeofenceIDs != nil {
			detection.GeofenceIDs = first.GeofenceIDs
		}
		if first.ZoneIDs != nil {
			detection.ZoneIDs = first.ZoneIDs
		}
		detection.GlobalTrackID = first.GlobalTrackID
		detection.Metadata = orEmpty(first.Metadata, emptyObject)
	}

	return detection
}

// NewTrackRecord builds the stored view of a track seen on deviceID.
func NewTrackRecord(track *Track, deviceID string) *TrackRecord {
	record := &TrackRecord{
		TrackID:  track.ID,
		DeviceID: deviceID,
		Tag:      track.Tag,
	}

	if track.DataSource != nil {
		record.DataSourceName = track.DataSource.Name
	}

	if video := track.Video; video != nil {
		record.VideoURL = video.URL
		record.VideoThumbnailURL = video.ThumbnailURL
		record.VideoDisplayName = video.DisplayName
		record.VideoResolutionHeight = video.ResolutionHeight
		record.VideoResolutionWidth = video.ResolutionWidth
		record.VideoFrameRate = video.FrameRate
		if source := video.DataSource; source != nil {
			record.VideoDataSourceID = source.ID
			record.VideoDataSourceName = source.Name
			record.VideoDataSourceType = source.Type
			if source.Device != nil {
				record.VideoDeviceName = source.Device.Name
			}
		}
	}

	return record
}

// NewDeviceRecord builds the stored view of an upstream device.
func NewDeviceRecord(device *Device) *DeviceRecord {
	record := &DeviceRecord{
		DeviceID:            device.ID,
		DeviceName:          device.Name,
		DeviceAddress:       device.Address,
		Enabled:             device.Enabled,
		FrameRate:           device.FrameRate,
		PositionCoordinates: emptyArray,
	}

	if device.Position != nil {
		record.PositionType = device.Position.Type
		record.PositionCoordinates = orEmpty(device.Position.Coordinates, emptyArray)
	}

	if device.Site != nil {
		record.SiteID = device.Site.ID
		record.SiteName = device.Site.Name
	}

	return record
}

var (
	emptyArray  = json.RawMessage("[]")
	emptyObject = json.RawMessage("{}")
)

func orEmpty(raw json.RawMessage, fallback json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return fallback
	}
	return raw
}
