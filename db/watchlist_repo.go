package db

import (
	"fmt"

	"github.com/worldsio/detectbridge/domain"
)

var _ domain.WatchlistRepository = (*Repository)(nil)

// AddWatch records deviceID in the watchlist.
func (repo *Repository) AddWatch(deviceID string) error {
	query := `INSERT INTO watchlist (device_id) VALUES (?) ON CONFLICT(device_id) DO NOTHING`

	if _, err := repo.dbConn.Exec(query, deviceID); err != nil {
		return fmt.Errorf("adding %s to watchlist: %w", deviceID, err)
	}
	return nil
}

// RemoveWatch removes deviceID from the watchlist.
func (repo *Repository) RemoveWatch(deviceID string) error {
	query := `DELETE FROM watchlist WHERE device_id = ?`

	if _, err := repo.dbConn.Exec(query, deviceID); err != nil {
		return fmt.Errorf("removing %s from watchlist: %w", deviceID, err)
	}
	return nil
}

// GetWatchlist returns the watched device ids, oldest first.
func (repo *Repository) GetWatchlist() ([]string, error) {
	var deviceIDs []string
	query := `SELECT device_id FROM watchlist ORDER BY added_at, rowid`

	if err := repo.dbConn.Select(&deviceIDs, query); err != nil {
		return nil, fmt.Errorf("fetching watchlist: %w", err)
	}
	if deviceIDs == nil {
		deviceIDs = []string{}
	}
	return deviceIDs, nil
}
