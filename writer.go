package detectbridge

import (
	"context"
	"errors"
	"time"

	"github.com/worldsio/detectbridge/domain"
	"github.com/worldsio/detectbridge/events"
	"go.uber.org/zap"
)

// writeItem is a pushed detection waiting for the writer.
type writeItem struct {
	deviceID   string
	activity   *domain.DetectionActivity
	receivedAt time.Time
}

// enqueue hands a pushed detection to the writer. It blocks while the queue
// is full until ctx is done.
func (bridge *Bridge) enqueue(ctx context.Context, deviceID string, activity *domain.DetectionActivity) error {
	item := writeItem{
		deviceID:   deviceID,
		activity:   activity,
		receivedAt: bridge.Now(),
	}
	select {
	case bridge.writeCh <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (bridge *Bridge) writeLoop() {
	defer close(bridge.writerDone)
	for item := range bridge.writeCh {
		bridge.write(item)
	}
}

// write stores the detection and its track, hands it to the detection
// handler and derives an automatic event when enabled.
func (bridge *Bridge) write(item writeItem) {
	detection := domain.NewDetection(item.activity, item.deviceID, item.receivedAt)

	if bridge.Repo != nil {
		if err := bridge.Repo.InsertDetection(detection); err != nil {
			bridge.Logger.Error("storing detection",
				zap.String("device_id", item.deviceID),
				zap.String("track_id", detection.TrackID),
				zap.Error(err))
		}
		if track := item.activity.Track; track != nil && track.ID != "" {
			if err := bridge.Repo.UpsertTrack(domain.NewTrackRecord(track, item.deviceID)); err != nil {
				bridge.Logger.Error("storing track",
					zap.String("device_id", item.deviceID),
					zap.String("track_id", track.ID),
					zap.Error(err))
			}
		}
	}

	if bridge.OnDetection != nil {
		if err := bridge.OnDetection(item.deviceID, detection, item.activity); err != nil {
			bridge.Logger.Warn("detection handler failed", zap.String("device_id", item.deviceID), zap.Error(err))
		}
	}

	if bridge.Config.AutoCreateEvents {
		bridge.autoEvent(detection)
	}
}

// autoEvent creates the event for detection at most once per track per
// cooldown. The mutation runs off the writer goroutine.
func (bridge *Bridge) autoEvent(detection *domain.Detection) {
	if bridge.Upstream == nil || detection.TrackID == "" {
		return
	}
	key := detection.DeviceID + "/" + detection.TrackID
	if !bridge.dedup.Allow(key) {
		return
	}

	input, err := bridge.builder.FromDetection(detection)
	if errors.Is(err, events.ErrSkipped) {
		bridge.Logger.Debug("automatic event skipped", zap.String("track_id", detection.TrackID))
		return
	}
	if err != nil {
		bridge.dedup.Forget(key)
		bridge.record("WARN", "classifying detection "+detection.TrackID, detection.DeviceID, err)
		return
	}

	bridge.eventWG.Add(1)
	go func() {
		defer bridge.eventWG.Done()
		ctx, cancel := bridge.requestContext()
		defer cancel()

		if _, err := bridge.createEvent(ctx, input); err != nil {
			bridge.dedup.Forget(key)
			bridge.record("WARN", "creating automatic event for track "+detection.TrackID, detection.DeviceID, err)
			return
		}
		bridge.Logger.Info("automatic event created",
			zap.String("device_id", detection.DeviceID),
			zap.String("track_id", detection.TrackID),
			zap.String("type", input.Type))
	}()
}

// createEvent creates input upstream and stores the created event.
func (bridge *Bridge) createEvent(ctx context.Context, input domain.EventInput) (*domain.Event, error) {
	event, err := bridge.Upstream.CreateEvent(ctx, input)
	if err != nil {
		return nil, err
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = bridge.Now().UTC()
	}
	if bridge.Repo != nil {
		if err := bridge.Repo.InsertEvent(event); err != nil {
			bridge.Logger.Error("storing event", zap.String("event_id", event.ID), zap.Error(err))
		}
	}
	return event, nil
}
