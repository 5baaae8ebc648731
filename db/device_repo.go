package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/worldsio/detectbridge/domain"
)

var _ domain.DeviceRepository = (*Repository)(nil)

// dbDevice represents a cached device as stored in the database.
type dbDevice struct {
	ID                  int64           `db:"id"`
	DeviceID            string          `db:"device_id"`
	DeviceName          sql.NullString  `db:"device_name"`
	DeviceAddress       sql.NullString  `db:"device_address"`
	Enabled             sql.NullBool    `db:"enabled"`
	FrameRate           sql.NullFloat64 `db:"frame_rate"`
	PositionType        sql.NullString  `db:"position_type"`
	PositionCoordinates JSONText        `db:"position_coordinates"`
	SiteID              sql.NullString  `db:"site_id"`
	SiteName            sql.NullString  `db:"site_name"`
	CreatedAt           sql.NullString  `db:"created_at"`
	UpdatedAt           sql.NullString  `db:"updated_at"`
}

func toDomainDevice(row *dbDevice) *domain.DeviceRecord {
	device := &domain.DeviceRecord{
		DeviceID:            row.DeviceID,
		DeviceName:          row.DeviceName.String,
		DeviceAddress:       row.DeviceAddress.String,
		Enabled:             row.Enabled.Bool,
		PositionType:        row.PositionType.String,
		PositionCoordinates: []byte(row.PositionCoordinates),
		SiteID:              row.SiteID.String,
		SiteName:            row.SiteName.String,
	}
	if row.FrameRate.Valid {
		rate := row.FrameRate.Float64
		device.FrameRate = &rate
	}
	if created := parseStoredNull(row.CreatedAt); created != nil {
		device.CreatedAt = *created
	}
	if updated := parseStoredNull(row.UpdatedAt); updated != nil {
		device.UpdatedAt = *updated
	}
	return device
}

// UpsertDevice inserts the device, or updates the row with the same device id.
func (repo *Repository) UpsertDevice(device *domain.DeviceRecord) error {
	if device.DeviceID == "" {
		return errors.New("upserting device: empty device id")
	}

	row := &dbDevice{
		DeviceID:            device.DeviceID,
		DeviceName:          nullString(device.DeviceName),
		DeviceAddress:       nullString(device.DeviceAddress),
		Enabled:             sql.NullBool{Bool: device.Enabled, Valid: true},
		PositionType:        nullString(device.PositionType),
		PositionCoordinates: JSONText(device.PositionCoordinates),
		SiteID:              nullString(device.SiteID),
		SiteName:            nullString(device.SiteName),
	}
	if device.FrameRate != nil {
		row.FrameRate = sql.NullFloat64{Float64: *device.FrameRate, Valid: true}
	}

	query := `INSERT INTO devices (
	              device_id, device_name, device_address, enabled, frame_rate,
	              position_type, position_coordinates, site_id, site_name
	          ) VALUES (
	              :device_id, :device_name, :device_address, :enabled, :frame_rate,
	              :position_type, :position_coordinates, :site_id, :site_name
	          )
	          ON CONFLICT(device_id) DO UPDATE SET
	              device_name = excluded.device_name,
	              device_address = excluded.device_address,
	              enabled = excluded.enabled,
	              frame_rate = excluded.frame_rate,
	              position_type = excluded.position_type,
	              position_coordinates = excluded.position_coordinates,
	              site_id = excluded.site_id,
	              site_name = excluded.site_name,
	              updated_at = ` + namedNowExpr

	if _, err := repo.dbConn.NamedExec(query, row); err != nil {
		return fmt.Errorf("upserting device %s: %w", device.DeviceID, err)
	}
	return nil
}

// GetDevices returns every cached device ordered by device id.
func (repo *Repository) GetDevices() ([]*domain.DeviceRecord, error) {
	var rows []*dbDevice
	query := `SELECT * FROM devices ORDER BY device_id`

	if err := repo.dbConn.Select(&rows, query); err != nil {
		return nil, fmt.Errorf("fetching devices: %w", err)
	}

	devices := make([]*domain.DeviceRecord, len(rows))
	for i, row := range rows {
		devices[i] = toDomainDevice(row)
	}
	return devices, nil
}
