package detectbridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/worldsio/detectbridge/domain"
	"go.uber.org/zap"
)

// Devices fetches the device list from the upstream API and caches it.
// When the fetch fails the cached devices are returned together with the
// fetch error so that callers can still show them.
func (bridge *Bridge) Devices(ctx context.Context) ([]*domain.DeviceRecord, error) {
	var err error
	if bridge.Upstream == nil {
		err = ErrNoUpstream
	} else {
		var devices []domain.Device
		devices, err = bridge.fetchDevices(ctx)
		if err == nil {
			records := make([]*domain.DeviceRecord, 0, len(devices))
			for i := range devices {
				records = append(records, domain.NewDeviceRecord(&devices[i]))
			}
			return records, nil
		}
	}

	if bridge.Repo == nil {
		return nil, err
	}
	cached, cacheErr := bridge.Repo.GetDevices()
	if cacheErr != nil {
		return nil, errors.Join(err, fmt.Errorf("getting cached devices : %w", cacheErr))
	}
	return cached, fmt.Errorf("fetching devices, serving cache : %w", err)
}

func (bridge *Bridge) fetchDevices(ctx context.Context) ([]domain.Device, error) {
	devices, err := bridge.Upstream.FetchDevices(ctx)
	if err != nil {
		return nil, err
	}
	if bridge.Repo != nil {
		for i := range devices {
			if err := bridge.Repo.UpsertDevice(domain.NewDeviceRecord(&devices[i])); err != nil {
				bridge.Logger.Warn("caching device", zap.String("device_id", devices[i].ID), zap.Error(err))
			}
		}
	}
	return devices, nil
}
