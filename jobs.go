package detectbridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/worldsio/detectbridge/domain"
	"github.com/worldsio/detectbridge/upstream"
	"go.uber.org/zap"
)

// Query windows, measured back from the time the job starts.
const (
	TracksWindow     = 3 * time.Hour
	DetectionsWindow = 12 * time.Hour
)

// PersonTag is the tag queried by the detections_person query.
const PersonTag = "person"

const defaultProducerName = "Custom Event"

// ErrJobRunning is returned when a job is started while the previous run of the same kind is still running.
var ErrJobRunning = errors.New("job already running")

// JobStatus is the state of a background job.
type JobStatus string

const (
	JobIdle      JobStatus = "idle"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// JobResult is the outcome of the last query or mutation job. Results holds
// the output of every operation that succeeded, keyed by operation name.
// Status is JobFailed when any operation failed.
type JobResult struct {
	Status     JobStatus      `json:"status"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Results    map[string]any `json:"results,omitempty"`
	Error      string         `json:"error,omitempty"`
}

type job struct {
	mu     sync.Mutex
	result JobResult
}

func (j *job) begin(now time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.result.Status == JobRunning {
		return ErrJobRunning
	}
	j.result = JobResult{Status: JobRunning, StartedAt: &now}
	return nil
}

func (j *job) end(now time.Time, results map[string]any, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.result.FinishedAt = &now
	j.result.Results = results
	j.result.Status = JobCompleted
	if err != nil {
		j.result.Status = JobFailed
		j.result.Error = err.Error()
	}
}

func (j *job) snapshot() JobResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	result := j.result
	if result.Status == "" {
		result.Status = JobIdle
	}
	return result
}

// RunQueries clears the previous query results and runs every query in the
// background. It returns ErrJobRunning while a previous run is in progress.
func (bridge *Bridge) RunQueries() error {
	if bridge.Upstream == nil {
		return ErrNoUpstream
	}
	return bridge.runJob(&bridge.queries, bridge.Queries)
}

// QueryResults returns the state of the last query job.
func (bridge *Bridge) QueryResults() JobResult {
	return bridge.queries.snapshot()
}

// RunMutations clears the previous mutation results and runs every mutation
// in the background. It returns ErrJobRunning while a previous run is in progress.
func (bridge *Bridge) RunMutations() error {
	if bridge.Upstream == nil {
		return ErrNoUpstream
	}
	if bridge.Config.EventProducerID == "" {
		return ErrMissingProducerID
	}
	return bridge.runJob(&bridge.mutations, bridge.Mutations)
}

// MutationResults returns the state of the last mutation job.
func (bridge *Bridge) MutationResults() JobResult {
	return bridge.mutations.snapshot()
}

func (bridge *Bridge) runJob(j *job, run func(ctx context.Context) (map[string]any, error)) error {
	bridge.mu.Lock()
	defer bridge.mu.Unlock()
	if bridge.closed {
		return ErrClosed
	}
	if err := j.begin(bridge.Now().UTC()); err != nil {
		return err
	}

	bridge.jobWG.Add(1)
	go func() {
		defer bridge.jobWG.Done()
		results, err := run(bridge.ctx)
		if err != nil {
			bridge.record("WARN", "job finished with errors", "", err)
		}
		j.end(bridge.Now().UTC(), results, err)
	}()
	return nil
}

// Queries runs the device, track and detection queries once. Devices are
// cached in the store. Failed queries are left out of the results and
// reported in the returned error.
func (bridge *Bridge) Queries(ctx context.Context) (map[string]any, error) {
	if bridge.Upstream == nil {
		return nil, ErrNoUpstream
	}
	now := bridge.Now()
	results := make(map[string]any)
	var errs []error

	if devices, err := bridge.fetchDevices(ctx); err != nil {
		errs = append(errs, fmt.Errorf("devices : %w", err))
	} else {
		results["devices"] = devices
	}

	if tracks, err := bridge.Upstream.FetchTracks(ctx, now.Add(-TracksWindow), now); err != nil {
		errs = append(errs, fmt.Errorf("tracks : %w", err))
	} else {
		results["tracks"] = tracks
	}

	if detections, err := bridge.Upstream.FetchDetectionsByTimeRange(ctx, now.Add(-DetectionsWindow), now); err != nil {
		errs = append(errs, fmt.Errorf("detections_time : %w", err))
	} else {
		results["detections_time"] = detections
	}

	if detections, err := bridge.Upstream.FetchDetectionsByTag(ctx, PersonTag, upstream.DefaultTagLimit); err != nil {
		errs = append(errs, fmt.Errorf("detections_person : %w", err))
	} else {
		results["detections_person"] = detections
	}

	return results, errors.Join(errs...)
}

// Mutations creates an event producer and the sample events once. Created
// producers and events are stored. Failed mutations are left out of the
// results and reported in the returned error.
func (bridge *Bridge) Mutations(ctx context.Context) (map[string]any, error) {
	if bridge.Upstream == nil {
		return nil, ErrNoUpstream
	}
	results := make(map[string]any)
	var errs []error

	if producer, err := bridge.createEventProducer(ctx, bridge.producerInput()); err != nil {
		errs = append(errs, fmt.Errorf("event_producer : %w", err))
	} else {
		results["event_producer"] = producer
	}

	samples := []domain.EventInput{
		bridge.builder.DetectionEvent("track_123", "CatchMeIfYouCan", 0.95),
		bridge.builder.DetectionEvent("track_456", "vehicle", 0.87),
		bridge.builder.DetectionEvent("track_789", "bicycle", 0.72),
	}
	created := make([]*domain.Event, 0, len(samples))
	for _, input := range samples {
		event, err := bridge.createEvent(ctx, input)
		if err != nil {
			errs = append(errs, fmt.Errorf("detection_events %s : %w", input.Metadata["trackId"], err))
			continue
		}
		created = append(created, event)
	}
	results["detection_events"] = created

	if event, err := bridge.createEvent(ctx, bridge.builder.HighConfidenceEvent("track_999", 0.9)); err != nil {
		errs = append(errs, fmt.Errorf("high_confidence_event : %w", err))
	} else {
		results["high_confidence_event"] = event
	}

	zoneInput := bridge.builder.ZoneViolationEvent("track_555", []string{"zone_1", "zone_2"}, "entry")
	if event, err := bridge.createEvent(ctx, zoneInput); err != nil {
		errs = append(errs, fmt.Errorf("zone_violation_event : %w", err))
	} else {
		results["zone_violation_event"] = event
	}

	return results, errors.Join(errs...)
}

func (bridge *Bridge) producerInput() domain.EventProducerInput {
	name := bridge.Config.EventName
	if name == "" {
		name = defaultProducerName
	}
	return domain.EventProducerInput{
		Name:        fmt.Sprintf("%s_%s", name, bridge.Now().Format("20060102_150405")),
		Description: "Detection events published by detectbridge",
		Active:      true,
		Metadata: map[string]any{
			"source": "detectbridge",
		},
	}
}

func (bridge *Bridge) createEventProducer(ctx context.Context, input domain.EventProducerInput) (*domain.EventProducer, error) {
	producer, err := bridge.Upstream.CreateEventProducer(ctx, input)
	if err != nil {
		return nil, err
	}
	if producer.CreatedAt.IsZero() {
		producer.CreatedAt = bridge.Now().UTC()
	}
	if bridge.Repo != nil {
		if err := bridge.Repo.InsertEventProducer(producer); err != nil {
			bridge.Logger.Error("storing event producer", zap.String("producer_id", producer.ID), zap.Error(err))
		}
	}
	return producer, nil
}
