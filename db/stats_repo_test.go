package db

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/worldsio/detectbridge/domain"
)

func TestStatsRepo_GetDetectionStats(t *testing.T) {
	now := time.Date(2025, 9, 22, 12, 0, 0, 0, time.UTC)

	t.Run("should group counts per device", func(t *testing.T) {
		repo, teardown := setupTestDB(t)
		defer teardown()

		testDetection(t, repo, "cam-1", "track-1", "person", now.Add(-time.Hour))
		testDetection(t, repo, "cam-1", "track-1", "person", now.Add(-30*time.Minute))
		testDetection(t, repo, "cam-1", "track-2", "vehicle", now.Add(-10*time.Minute))
		testDetection(t, repo, "cam-2", "track-3", "person", now.Add(-5*time.Minute))
		testDetection(t, repo, "cam-2", "track-4", "person", now.Add(-48*time.Hour))

		got, err := repo.GetDetectionStats("", now.Add(-24*time.Hour))
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}

		want := []*domain.DetectionStats{
			{TotalDetections: 3, UniqueTracks: 2, UniqueTags: 2, DeviceID: "cam-1", DeviceName: "Camera cam-1"},
			{TotalDetections: 1, UniqueTracks: 1, UniqueTags: 1, DeviceID: "cam-2", DeviceName: "Camera cam-2"},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("stats mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("should return a single row for a device", func(t *testing.T) {
		repo, teardown := setupTestDB(t)
		defer teardown()

		testDetection(t, repo, "cam-1", "track-1", "person", now.Add(-time.Hour))
		testDetection(t, repo, "cam-2", "track-2", "person", now.Add(-time.Hour))

		got, err := repo.GetDetectionStats("cam-1", now.Add(-24*time.Hour))
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}
		want := []*domain.DetectionStats{
			{TotalDetections: 1, UniqueTracks: 1, UniqueTags: 1, DeviceID: "cam-1", DeviceName: "Camera cam-1"},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("stats mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("should return zero counts for a device without detections", func(t *testing.T) {
		repo, teardown := setupTestDB(t)
		defer teardown()

		got, err := repo.GetDetectionStats("cam-9", now)
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}
		want := []*domain.DetectionStats{{DeviceID: "cam-9"}}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("stats mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestStatsRepo_GetDatabaseStats(t *testing.T) {
	t.Run("should return nil bounds for an empty database", func(t *testing.T) {
		repo, teardown := setupTestDB(t)
		defer teardown()

		got, err := repo.GetDatabaseStats()
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}
		if diff := cmp.Diff(&domain.DatabaseStats{}, got); diff != "" {
			t.Fatalf("stats mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("should count rows and report the detection bounds", func(t *testing.T) {
		repo, teardown := setupTestDB(t)
		defer teardown()

		oldest := time.Date(2025, 9, 20, 8, 0, 0, 0, time.UTC)
		latest := time.Date(2025, 9, 22, 8, 0, 0, 0, time.UTC)
		testDetection(t, repo, "cam-1", "track-1", "person", latest)
		testDetection(t, repo, "cam-1", "track-1", "person", oldest)
		if err := repo.UpsertTrack(&domain.TrackRecord{TrackID: "track-1", DeviceID: "cam-1"}); err != nil {
			t.Fatalf("upserting track: %v", err)
		}
		if err := repo.UpsertDevice(&domain.DeviceRecord{DeviceID: "cam-1"}); err != nil {
			t.Fatalf("upserting device: %v", err)
		}
		if err := repo.InsertEvent(&domain.Event{ID: "evt-1", Type: "PersonDetection", CreatedAt: latest}); err != nil {
			t.Fatalf("inserting event: %v", err)
		}

		got, err := repo.GetDatabaseStats()
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}
		want := &domain.DatabaseStats{
			TotalDetections: 2,
			TotalTracks:     1,
			TotalDevices:    1,
			TotalEvents:     1,
			LatestDetection: &latest,
			OldestDetection: &oldest,
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("stats mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestStatsRepo_GetAllTags(t *testing.T) {
	t.Run("should skip empty tags and order by detection count", func(t *testing.T) {
		repo, teardown := setupTestDB(t)
		defer teardown()

		now := time.Date(2025, 9, 22, 12, 0, 0, 0, time.UTC)
		testDetection(t, repo, "cam-1", "track-1", "vehicle", now)
		testDetection(t, repo, "cam-1", "track-2", "person", now)
		testDetection(t, repo, "cam-2", "track-3", "person", now)
		testDetection(t, repo, "cam-2", "track-3", "person", now)
		testDetection(t, repo, "cam-2", "track-4", "", now)

		got, err := repo.GetAllTags()
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}
		want := []*domain.TagStats{
			{Tag: "person", DetectionCount: 3, TrackCount: 2, DeviceCount: 2},
			{Tag: "vehicle", DetectionCount: 1, TrackCount: 1, DeviceCount: 1},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("tags mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("should return an empty list when there are no tags", func(t *testing.T) {
		repo, teardown := setupTestDB(t)
		defer teardown()

		got, err := repo.GetAllTags()
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}
		if got == nil || len(got) != 0 {
			t.Fatalf("\nwanted:\n[]\ngot:\n%v", got)
		}
	})
}

func TestStatsRepo_GetLongestTrackPerTag(t *testing.T) {
	t.Run("should pick the track with most detections and break ties by duration", func(t *testing.T) {
		repo, teardown := setupTestDB(t)
		defer teardown()

		base := time.Date(2025, 9, 22, 12, 0, 0, 0, time.UTC)

		// person: track-1 has three detections, track-2 two.
		testDetection(t, repo, "cam-1", "track-1", "person", base)
		testDetection(t, repo, "cam-1", "track-1", "person", base.Add(10*time.Second))
		testDetection(t, repo, "cam-1", "track-1", "person", base.Add(20*time.Second))
		testDetection(t, repo, "cam-2", "track-2", "person", base)
		testDetection(t, repo, "cam-2", "track-2", "person", base.Add(time.Hour))

		// vehicle: two tracks with two detections each, track-4 lasts longer.
		testDetection(t, repo, "cam-1", "track-3", "vehicle", base)
		testDetection(t, repo, "cam-1", "track-3", "vehicle", base.Add(5*time.Second))
		testDetection(t, repo, "cam-2", "track-4", "vehicle", base)
		testDetection(t, repo, "cam-2", "track-4", "vehicle", base.Add(90*time.Second))

		got, err := repo.GetLongestTrackPerTag()
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}

		want := []*domain.LongestTrack{
			{
				Tag:             "person",
				TrackID:         "track-1",
				DeviceID:        "cam-1",
				DeviceName:      "Camera cam-1",
				DetectionCount:  3,
				FirstDetection:  base,
				LastDetection:   base.Add(20 * time.Second),
				DurationSeconds: 20,
			},
			{
				Tag:             "vehicle",
				TrackID:         "track-4",
				DeviceID:        "cam-2",
				DeviceName:      "Camera cam-2",
				DetectionCount:  2,
				FirstDetection:  base,
				LastDetection:   base.Add(90 * time.Second),
				DurationSeconds: 90,
			},
		}

		roundSeconds := cmp.Transformer("round", func(f float64) float64 {
			return float64(int64(f*1000+0.5)) / 1000
		})
		if diff := cmp.Diff(want, got, roundSeconds); diff != "" {
			t.Fatalf("longest tracks mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("should count a track id per device", func(t *testing.T) {
		repo, teardown := setupTestDB(t)
		defer teardown()

		base := time.Date(2025, 9, 22, 12, 0, 0, 0, time.UTC)

		// track-9 is reported twice by two cameras, track-8 three times by one.
		testDetection(t, repo, "cam-1", "track-9", "bicycle", base)
		testDetection(t, repo, "cam-1", "track-9", "bicycle", base.Add(time.Minute))
		testDetection(t, repo, "cam-2", "track-9", "bicycle", base)
		testDetection(t, repo, "cam-2", "track-9", "bicycle", base.Add(time.Minute))
		testDetection(t, repo, "cam-3", "track-8", "bicycle", base)
		testDetection(t, repo, "cam-3", "track-8", "bicycle", base.Add(time.Second))
		testDetection(t, repo, "cam-3", "track-8", "bicycle", base.Add(2*time.Second))

		got, err := repo.GetLongestTrackPerTag()
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}
		if len(got) != 1 || got[0].TrackID != "track-8" || got[0].DeviceID != "cam-3" || got[0].DetectionCount != 3 {
			t.Fatalf("\nwanted:\ntrack-8 on cam-3 with 3 detections\ngot:\n%+v", got)
		}
	})
}
