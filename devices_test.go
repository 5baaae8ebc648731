package detectbridge

import (
	"context"
	"errors"
	"testing"

	"github.com/worldsio/detectbridge/domain"
)

func TestDevices(t *testing.T) {
	t.Run("should return and cache live devices", func(t *testing.T) {
		api := &fakeUpstream{devices: []domain.Device{
			{ID: "cam-1", Name: "Gate", Enabled: true, Site: &domain.Site{ID: "site-1", Name: "HQ"}},
		}}
		bridge, repo := setupBridge(t, WithUpstream(api))

		devices, err := bridge.Devices(context.Background())
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}
		if len(devices) != 1 || devices[0].SiteName != "HQ" {
			t.Fatalf("\nwanted:\ncam-1 at HQ\ngot:\n%+v", devices)
		}

		cached, err := repo.GetDevices()
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}
		if len(cached) != 1 || cached[0].DeviceID != "cam-1" {
			t.Fatalf("\nwanted:\ncached cam-1\ngot:\n%+v", cached)
		}
	})

	t.Run("should fall back to the cache when the fetch fails", func(t *testing.T) {
		fetchErr := errors.New("upstream down")
		api := &fakeUpstream{devicesErr: fetchErr}
		bridge, repo := setupBridge(t, WithUpstream(api))
		if err := repo.UpsertDevice(&domain.DeviceRecord{DeviceID: "cam-9", DeviceName: "Dock"}); err != nil {
			t.Fatalf("UpsertDevice() failed: %v", err)
		}

		devices, err := bridge.Devices(context.Background())
		if !errors.Is(err, fetchErr) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", fetchErr, err)
		}
		if len(devices) != 1 || devices[0].DeviceID != "cam-9" {
			t.Fatalf("\nwanted:\ncached cam-9\ngot:\n%+v", devices)
		}
	})

	t.Run("should serve the cache without an upstream", func(t *testing.T) {
		bridge, _ := setupBridge(t)

		devices, err := bridge.Devices(context.Background())
		if !errors.Is(err, ErrNoUpstream) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", ErrNoUpstream, err)
		}
		if len(devices) != 0 {
			t.Fatalf("\nwanted:\nno devices\ngot:\n%+v", devices)
		}
	})
}
