// Package detectbridge connects a detection GraphQL API to a local SQLite
// store and a live dashboard.
//
// A Bridge owns the per-device subscriptions, the single writer that
// persists pushed detections, the background query and mutation jobs and
// the optional automatic event creation.
package detectbridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/worldsio/detectbridge/db"
	"github.com/worldsio/detectbridge/domain"
	"github.com/worldsio/detectbridge/events"
	"github.com/worldsio/detectbridge/upstream"
	"go.uber.org/zap"
)

// writeBuffer is the number of pushed detections queued for the writer
// before subscriptions block.
const writeBuffer = 256

var (
	// ErrNoUpstream is returned by operations that need the upstream API when none is configured.
	ErrNoUpstream = errors.New("no upstream api configured")
	// ErrNoRepository is returned by operations that need the store when none is configured.
	ErrNoRepository = errors.New("no repository configured")
	// ErrClosed is returned by operations on a closed Bridge.
	ErrClosed = errors.New("bridge is closed")
)

// Repository is the store used by the bridge.
type Repository interface {
	domain.DetectionRepository
	domain.TrackRepository
	domain.DeviceRepository
	domain.EventRepository
	domain.LogRepository
	domain.StatsRepository
	domain.WatchlistRepository
	Close() error
}

var _ Repository = (*db.Repository)(nil)

// Upstream is the detection API used by the bridge.
type Upstream interface {
	FetchDevices(ctx context.Context) ([]domain.Device, error)
	FetchTracks(ctx context.Context, start, end time.Time) ([]domain.Track, error)
	FetchDetectionsByTimeRange(ctx context.Context, start, end time.Time) ([]domain.TrackDetection, error)
	FetchDetectionsByTag(ctx context.Context, tag string, first int) ([]domain.TrackDetection, error)
	CreateEventProducer(ctx context.Context, input domain.EventProducerInput) (*domain.EventProducer, error)
	CreateEvent(ctx context.Context, input domain.EventInput) (*domain.Event, error)
	SubscribeDetections(ctx context.Context, deviceID string, handler upstream.DetectionHandler) error
}

var _ Upstream = (*upstream.Client)(nil)

// DetectionHandler is called by the writer for every stored detection.
type DetectionHandler func(deviceID string, detection *domain.Detection, activity *domain.DetectionActivity) error

// StatusHandler is called on every subscription status change. err is set
// for StatusReconnecting and StatusError.
type StatusHandler func(deviceID string, status SubscriptionStatus, err error)

// Bridge orchestrates subscriptions, storage, jobs and event creation.
type Bridge struct {
	Config      *Config            // Bridge configuration (defaults to DefaultConfig)
	Repo        Repository         // Store for detections, tracks, devices, events and logs
	Upstream    Upstream           // Detection API
	Logger      *zap.Logger        // Structured logger (defaults to a no-op logger)
	Classifier  events.Classifier  // Classifier for automatic events (defaults to the tag rules)
	OnDetection DetectionHandler   // Called after each detection is stored
	OnStatus    StatusHandler      // Called on subscription status changes
	Now         func() time.Time   // Clock used for job windows and event stamps

	ctx    context.Context
	cancel context.CancelFunc

	writeCh    chan writeItem
	writerDone chan struct{}

	builder *events.Builder
	dedup   *events.Dedup

	mu     sync.Mutex
	subs   map[string]*subscription
	stale  map[string]int // references taken before a Stop, still to be released
	closed bool

	// watchMu orders watchlist writes with the subscription changes that
	// cause them. It is taken before mu.
	watchMu sync.Mutex

	queries   job
	mutations job

	subWG   sync.WaitGroup
	eventWG sync.WaitGroup
	jobWG   sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// New creates a Bridge, applies options and starts the writer.
// The returned Bridge must be closed with Close.
func New(options ...func(*Bridge) error) (*Bridge, error) {
	bridge := &Bridge{
		subs:  make(map[string]*subscription),
		stale: make(map[string]int),
	}
	err := bridge.WithOptions(options...)
	if err != nil {
		return nil, err
	}

	if bridge.Config == nil {
		bridge.Config = DefaultConfig()
	}
	if bridge.Logger == nil {
		bridge.Logger = zap.NewNop()
	}
	if bridge.Now == nil {
		bridge.Now = time.Now
	}
	if bridge.Classifier == nil {
		bridge.Classifier = events.DefaultClassifier{}
	}
	if bridge.Config.AutoCreateEvents && bridge.Config.EventProducerID == "" {
		return nil, fmt.Errorf("enabling automatic events : %w", ErrMissingProducerID)
	}

	bridge.builder = events.NewBuilder(
		bridge.Config.EventProducerID,
		bridge.Config.EventName,
		events.WithClassifier(bridge.Classifier),
		events.WithClock(bridge.Now),
	)
	bridge.dedup = events.NewDedup(bridge.Config.EventCooldown, bridge.Now)

	bridge.ctx, bridge.cancel = context.WithCancel(context.Background())
	bridge.writeCh = make(chan writeItem, writeBuffer)
	bridge.writerDone = make(chan struct{})
	go bridge.writeLoop()

	return bridge, nil
}

// WithOptions applies a series of configuration functions to the bridge.
func (bridge *Bridge) WithOptions(options ...func(*Bridge) error) error {
	for _, option := range options {
		err := option(bridge)
		if err != nil {
			return fmt.Errorf("applying option on bridge : %w", err)
		}
	}
	return nil
}

// Builder returns the event builder stamping events with the configured producer.
func (bridge *Bridge) Builder() *events.Builder {
	return bridge.builder
}

// Close stops every subscription, waits for the writer to drain the queued
// detections and for pending jobs and events, then closes the repository.
// Persisted watchlist entries are kept so that ResumeWatchlist can restore them.
func (bridge *Bridge) Close() error {
	bridge.closeOnce.Do(func() {
		bridge.mu.Lock()
		bridge.closed = true
		bridge.mu.Unlock()

		bridge.cancel()
		bridge.subWG.Wait()
		bridge.jobWG.Wait()

		close(bridge.writeCh)
		<-bridge.writerDone
		bridge.eventWG.Wait()

		if bridge.Repo != nil {
			if err := bridge.Repo.Close(); err != nil {
				bridge.closeErr = fmt.Errorf("closing repository : %w", err)
			}
		}
	})
	return bridge.closeErr
}

func (bridge *Bridge) requestContext() (context.Context, context.CancelFunc) {
	if bridge.Config.Timeout > 0 {
		return context.WithTimeout(bridge.ctx, bridge.Config.Timeout)
	}
	return context.WithCancel(bridge.ctx)
}
