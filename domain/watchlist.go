package domain

// WatchlistRepository persists the set of devices with a live subscription so
// that subscriptions can be resumed after a restart.
type WatchlistRepository interface {
	// AddWatch records deviceID. Adding an existing device is not an error.
	AddWatch(deviceID string) error
	// RemoveWatch forgets deviceID. Removing a missing device is not an error.
	RemoveWatch(deviceID string) error
	// GetWatchlist returns the watched device ids in the order they were added.
	GetWatchlist() ([]string, error)
}
