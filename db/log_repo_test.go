package db

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/worldsio/detectbridge/domain"
)

func TestLogRepo_GetLogs(t *testing.T) {
	t.Run("should return 0 logs if there are none", func(t *testing.T) {
		repo, teardown := setupTestDB(t)
		defer teardown()

		got, err := repo.GetLogs(100)
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}

		if len(got) != 0 {
			t.Fatalf("\nwanted:\n%d\ngot:\n%d", 0, len(got))
		}
	})

	t.Run("should return the newest logs first", func(t *testing.T) {
		repo, teardown := setupTestDB(t)
		defer teardown()

		fixedTime := time.Date(2025, 10, 20, 12, 0, 0, 0, time.UTC)
		deviceID := "cam-1"

		logs := []*domain.Log{
			{
				ID:        uuid.MustParse("00000000-0000-0000-0000-000000000001"),
				Timestamp: fixedTime,
				Level:     "INFO",
				Message:   "subscription connected",
				Context:   make(map[string]any),
			},
			{
				ID:        uuid.MustParse("00000000-0000-0000-0000-000000000002"),
				Timestamp: fixedTime.Add(time.Second),
				Level:     "ERROR",
				Message:   "subscription dropped",
				Context:   map[string]any{"attempt": float64(2)},
				DeviceID:  &deviceID,
			},
		}

		for _, logEntry := range logs {
			if err := repo.InsertLog(logEntry); err != nil {
				t.Fatalf("inserting log: %v", err)
			}
		}

		got, err := repo.GetLogs(100)
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}

		want := []*domain.Log{logs[1], logs[0]}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("logs mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("should insert a log with nil context", func(t *testing.T) {
		repo, teardown := setupTestDB(t)
		defer teardown()

		logEntry := &domain.Log{
			ID:        uuid.New(),
			Timestamp: time.Now(),
			Level:     "DEBUG",
			Message:   "nil context",
		}
		if err := repo.InsertLog(logEntry); err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}

		got, err := repo.GetLogs(1)
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}
		if len(got) != 1 || got[0].Context == nil || len(got[0].Context) != 0 {
			t.Fatalf("\nwanted:\nempty context\ngot:\n%v", got)
		}
	})
}
