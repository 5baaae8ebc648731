package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/worldsio/detectbridge/domain"
)

var _ domain.TrackRepository = (*Repository)(nil)

var (
	// ErrTrackNotFound is returned when no track is stored under the requested track id.
	ErrTrackNotFound = errors.New("track not found")
)

// dbTrack represents a track as stored in the database.
type dbTrack struct {
	ID                    int64           `db:"id"`
	TrackID               string          `db:"track_id"`
	DeviceID              string          `db:"device_id"`
	Tag                   sql.NullString  `db:"tag"`
	DataSourceName        sql.NullString  `db:"data_source_name"`
	VideoURL              sql.NullString  `db:"video_url"`
	VideoThumbnailURL     sql.NullString  `db:"video_thumbnail_url"`
	VideoDisplayName      sql.NullString  `db:"video_display_name"`
	VideoResolutionHeight sql.NullInt64   `db:"video_resolution_height"`
	VideoResolutionWidth  sql.NullInt64   `db:"video_resolution_width"`
	VideoFrameRate        sql.NullFloat64 `db:"video_frame_rate"`
	VideoDataSourceID     sql.NullString  `db:"video_data_source_id"`
	VideoDataSourceName   sql.NullString  `db:"video_data_source_name"`
	VideoDataSourceType   sql.NullString  `db:"video_data_source_type"`
	VideoDeviceName       sql.NullString  `db:"video_device_name"`
	CreatedAt             sql.NullString  `db:"created_at"`
	UpdatedAt             sql.NullString  `db:"updated_at"`
}

func toDomainTrack(row *dbTrack) *domain.TrackRecord {
	track := &domain.TrackRecord{
		TrackID:             row.TrackID,
		DeviceID:            row.DeviceID,
		Tag:                 row.Tag.String,
		DataSourceName:      row.DataSourceName.String,
		VideoURL:            row.VideoURL.String,
		VideoThumbnailURL:   row.VideoThumbnailURL.String,
		VideoDisplayName:    row.VideoDisplayName.String,
		VideoDataSourceID:   row.VideoDataSourceID.String,
		VideoDataSourceName: row.VideoDataSourceName.String,
		VideoDataSourceType: row.VideoDataSourceType.String,
		VideoDeviceName:     row.VideoDeviceName.String,
	}
	if row.VideoResolutionHeight.Valid {
		height := int(row.VideoResolutionHeight.Int64)
		track.VideoResolutionHeight = &height
	}
	if row.VideoResolutionWidth.Valid {
		width := int(row.VideoResolutionWidth.Int64)
		track.VideoResolutionWidth = &width
	}
	if row.VideoFrameRate.Valid {
		rate := row.VideoFrameRate.Float64
		track.VideoFrameRate = &rate
	}
	if created := parseStoredNull(row.CreatedAt); created != nil {
		track.CreatedAt = *created
	}
	if updated := parseStoredNull(row.UpdatedAt); updated != nil {
		track.UpdatedAt = *updated
	}
	return track
}

func fromDomainTrack(track *domain.TrackRecord) *dbTrack {
	row := &dbTrack{
		TrackID:             track.TrackID,
		DeviceID:            track.DeviceID,
		Tag:                 nullString(track.Tag),
		DataSourceName:      nullString(track.DataSourceName),
		VideoURL:            nullString(track.VideoURL),
		VideoThumbnailURL:   nullString(track.VideoThumbnailURL),
		VideoDisplayName:    nullString(track.VideoDisplayName),
		VideoDataSourceID:   nullString(track.VideoDataSourceID),
		VideoDataSourceName: nullString(track.VideoDataSourceName),
		VideoDataSourceType: nullString(track.VideoDataSourceType),
		VideoDeviceName:     nullString(track.VideoDeviceName),
	}
	if track.VideoResolutionHeight != nil {
		row.VideoResolutionHeight = sql.NullInt64{Int64: int64(*track.VideoResolutionHeight), Valid: true}
	}
	if track.VideoResolutionWidth != nil {
		row.VideoResolutionWidth = sql.NullInt64{Int64: int64(*track.VideoResolutionWidth), Valid: true}
	}
	if track.VideoFrameRate != nil {
		row.VideoFrameRate = sql.NullFloat64{Float64: *track.VideoFrameRate, Valid: true}
	}
	return row
}

// UpsertTrack inserts the track, or updates the row with the same track id.
// created_at is kept from the first insert.
func (repo *Repository) UpsertTrack(track *domain.TrackRecord) error {
	if track.TrackID == "" {
		return errors.New("upserting track: empty track id")
	}

	query := `INSERT INTO tracks (
	              track_id, device_id, tag, data_source_name,
	              video_url, video_thumbnail_url, video_display_name,
	              video_resolution_height, video_resolution_width, video_frame_rate,
	              video_data_source_id, video_data_source_name, video_data_source_type,
	              video_device_name
	          ) VALUES (
	              :track_id, :device_id, :tag, :data_source_name,
	              :video_url, :video_thumbnail_url, :video_display_name,
	              :video_resolution_height, :video_resolution_width, :video_frame_rate,
	              :video_data_source_id, :video_data_source_name, :video_data_source_type,
	              :video_device_name
	          )
	          ON CONFLICT(track_id) DO UPDATE SET
	              device_id = excluded.device_id,
	              tag = excluded.tag,
	              data_source_name = excluded.data_source_name,
	              video_url = excluded.video_url,
	              video_thumbnail_url = excluded.video_thumbnail_url,
	              video_display_name = excluded.video_display_name,
	              video_resolution_height = excluded.video_resolution_height,
	              video_resolution_width = excluded.video_resolution_width,
	              video_frame_rate = excluded.video_frame_rate,
	              video_data_source_id = excluded.video_data_source_id,
	              video_data_source_name = excluded.video_data_source_name,
	              video_data_source_type = excluded.video_data_source_type,
	              video_device_name = excluded.video_device_name,
	              updated_at = ` + namedNowExpr

	if _, err := repo.dbConn.NamedExec(query, fromDomainTrack(track)); err != nil {
		return fmt.Errorf("upserting track %s: %w", track.TrackID, err)
	}
	return nil
}

// GetTrack returns the stored track with the given track id.
func (repo *Repository) GetTrack(trackID string) (*domain.TrackRecord, error) {
	var row dbTrack
	query := `SELECT * FROM tracks WHERE track_id = ?`

	err := repo.dbConn.Get(&row, query, trackID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("getting track %s: %w", trackID, ErrTrackNotFound)
		}
		return nil, fmt.Errorf("getting track %s: %w", trackID, err)
	}
	return toDomainTrack(&row), nil
}
