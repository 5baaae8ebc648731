package events

import (
	"fmt"
	"testing"
	"time"
)

func TestDedup_Allow(t *testing.T) {
	now := testNow
	clock := func() time.Time { return now }

	t.Run("should allow a key once per cooldown", func(t *testing.T) {
		dedup := NewDedup(5*time.Minute, clock)

		if !dedup.Allow("track-1") {
			t.Fatalf("\nwanted:\nfirst call allowed\ngot:\nrefused")
		}
		if dedup.Allow("track-1") {
			t.Fatalf("\nwanted:\nsecond call refused\ngot:\nallowed")
		}
		if !dedup.Allow("track-2") {
			t.Fatalf("\nwanted:\nother key allowed\ngot:\nrefused")
		}

		now = now.Add(5 * time.Minute)
		if !dedup.Allow("track-1") {
			t.Fatalf("\nwanted:\nallowed after cooldown\ngot:\nrefused")
		}
	})

	t.Run("should forget a key", func(t *testing.T) {
		dedup := NewDedup(time.Hour, clock)
		dedup.Allow("track-1")
		dedup.Forget("track-1")
		if !dedup.Allow("track-1") {
			t.Fatalf("\nwanted:\nallowed after forget\ngot:\nrefused")
		}
	})

	t.Run("should sweep expired keys", func(t *testing.T) {
		dedup := NewDedup(time.Minute, clock)
		for i := 0; i < sweepThreshold; i++ {
			dedup.Allow(fmt.Sprintf("track-%d", i))
		}

		now = now.Add(time.Minute)
		dedup.Allow("fresh-1")
		dedup.Allow("fresh-2")

		if got := dedup.Len(); got != 2 {
			t.Fatalf("\nwanted:\n2\ngot:\n%d", got)
		}
	})
}
