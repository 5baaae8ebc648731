package detectbridge

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/worldsio/detectbridge/db"
	"github.com/worldsio/detectbridge/domain"
	"github.com/worldsio/detectbridge/upstream"
)

var testNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func testClock() time.Time {
	return testNow
}

type window struct {
	start, end time.Time
}

// fakeUpstream records every call. Unset hooks return empty results.
type fakeUpstream struct {
	mu sync.Mutex

	devices    []domain.Device
	devicesErr error
	fetchHook  func(ctx context.Context) error

	tracksWindow     window
	detectionsWindow window
	tagQueries       []string
	tagLimit         int

	producers []domain.EventProducerInput
	events    []domain.EventInput
	eventErr  func(input domain.EventInput) error

	subscribeCalls int
	subscribe      func(ctx context.Context, call int, deviceID string, handler upstream.DetectionHandler) error
}

func (f *fakeUpstream) FetchDevices(ctx context.Context) ([]domain.Device, error) {
	if f.fetchHook != nil {
		if err := f.fetchHook(ctx); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.devices, f.devicesErr
}

func (f *fakeUpstream) FetchTracks(ctx context.Context, start, end time.Time) ([]domain.Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracksWindow = window{start, end}
	return []domain.Track{{ID: "track-1", Tag: "person"}}, nil
}

func (f *fakeUpstream) FetchDetectionsByTimeRange(ctx context.Context, start, end time.Time) ([]domain.TrackDetection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detectionsWindow = window{start, end}
	return []domain.TrackDetection{{ID: "det-1"}}, nil
}

func (f *fakeUpstream) FetchDetectionsByTag(ctx context.Context, tag string, first int) ([]domain.TrackDetection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tagQueries = append(f.tagQueries, tag)
	f.tagLimit = first
	return []domain.TrackDetection{{ID: "det-2", Tag: tag}}, nil
}

func (f *fakeUpstream) CreateEventProducer(ctx context.Context, input domain.EventProducerInput) (*domain.EventProducer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.producers = append(f.producers, input)
	return &domain.EventProducer{
		ID:          fmt.Sprintf("producer-%d", len(f.producers)),
		Name:        input.Name,
		Description: input.Description,
		Active:      input.Active,
	}, nil
}

func (f *fakeUpstream) CreateEvent(ctx context.Context, input domain.EventInput) (*domain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.eventErr != nil {
		if err := f.eventErr(input); err != nil {
			return nil, err
		}
	}
	f.events = append(f.events, input)
	return &domain.Event{
		ID:            fmt.Sprintf("event-%d", len(f.events)),
		Type:          input.Type,
		SubType:       input.SubType,
		StartTime:     input.StartTime,
		EndTime:       input.EndTime,
		EventProducer: &domain.EventProducerRef{ID: input.EventProducerID},
	}, nil
}

func (f *fakeUpstream) SubscribeDetections(ctx context.Context, deviceID string, handler upstream.DetectionHandler) error {
	f.mu.Lock()
	f.subscribeCalls++
	call := f.subscribeCalls
	subscribe := f.subscribe
	f.mu.Unlock()

	if subscribe == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	return subscribe(ctx, call, deviceID, handler)
}

func (f *fakeUpstream) createdEvents() []domain.EventInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.EventInput(nil), f.events...)
}

func (f *fakeUpstream) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribeCalls
}

func setupTestRepo(t *testing.T) *db.Repository {
	t.Helper()

	tempFile, err := os.CreateTemp(t.TempDir(), "bridge_*.db")
	if err != nil {
		t.Fatalf("os.CreateTemp() failed: %v", err)
	}
	tempFile.Close()

	repo, err := db.Open(tempFile.Name())
	if err != nil {
		t.Fatalf("db.Open() failed: %v", err)
	}
	return repo
}

// setupBridge returns a bridge over a fresh store. The bridge is closed on cleanup.
func setupBridge(t *testing.T, options ...func(*Bridge) error) (*Bridge, *db.Repository) {
	t.Helper()

	repo := setupTestRepo(t)
	options = append([]func(*Bridge) error{WithRepo(repo), WithClock(testClock)}, options...)
	bridge, err := New(options...)
	if err != nil {
		repo.Close()
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() {
		bridge.Close()
	})
	return bridge, repo
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func testActivity(trackID, tag string) *domain.DetectionActivity {
	return &domain.DetectionActivity{
		Timestamp: "2026-01-02T03:00:00.000Z",
		Track: &domain.Track{
			ID:  trackID,
			Tag: tag,
			Detections: []domain.TrackDetection{
				{ZoneIDs: []string{"zone-a"}, Metadata: []byte(`{"confidence":0.93}`)},
			},
		},
	}
}
