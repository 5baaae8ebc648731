package events

import (
	"sync"
	"time"
)

// sweepThreshold is the number of remembered keys above which expired keys are removed.
const sweepThreshold = 1024

// Dedup remembers when a key was last allowed and refuses it again until
// the cooldown has elapsed. It is safe for concurrent use.
type Dedup struct {
	mu       sync.Mutex
	cooldown time.Duration
	now      func() time.Time
	seen     map[string]time.Time
}

// NewDedup returns a Dedup with the given cooldown. A nil clock uses time.Now.
func NewDedup(cooldown time.Duration, now func() time.Time) *Dedup {
	if now == nil {
		now = time.Now
	}
	return &Dedup{
		cooldown: cooldown,
		now:      now,
		seen:     make(map[string]time.Time),
	}
}

// Allow reports whether key may fire now and, if so, starts its cooldown.
func (d *Dedup) Allow(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if last, ok := d.seen[key]; ok && now.Sub(last) < d.cooldown {
		return false
	}
	d.seen[key] = now

	if len(d.seen) > sweepThreshold {
		for k, last := range d.seen {
			if now.Sub(last) >= d.cooldown {
				delete(d.seen, k)
			}
		}
	}
	return true
}

// Forget clears the cooldown of key.
func (d *Dedup) Forget(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
}

// Len returns the number of keys currently remembered.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
