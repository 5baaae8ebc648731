package detectbridge

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/worldsio/detectbridge/domain"
	"github.com/worldsio/detectbridge/graphql"
	"github.com/worldsio/detectbridge/upstream"
	"go.uber.org/zap"
)

// SubscriptionStatus is the state of a device subscription.
type SubscriptionStatus string

const (
	StatusConnecting   SubscriptionStatus = "connecting"
	StatusConnected    SubscriptionStatus = "connected"
	StatusReconnecting SubscriptionStatus = "reconnecting"
	StatusError        SubscriptionStatus = "error"
	StatusCompleted    SubscriptionStatus = "completed"
	StatusStopped      SubscriptionStatus = "stopped"
)

// initialBackoff is the first reconnect delay. It doubles up to
// Config.ReconnectMaxBackoff and resets once a connection is acknowledged.
const initialBackoff = time.Second

// ErrEmptyDeviceID is returned when a subscription is requested without a device id.
var ErrEmptyDeviceID = errors.New("device id is empty")

// subscription is the live subscription of one device. Every field is guarded by Bridge.mu.
type subscription struct {
	deviceID   string
	refs       int
	pinned     bool // held by ResumeWatchlist until Stop or Close
	running    bool
	cancel     context.CancelFunc
	status     SubscriptionStatus
	lastError  string
	startedAt  time.Time
	reconnects int
}

// SubscriptionInfo describes a device subscription. Refs counts the
// references taken with Acquire; Pinned is set for resumed devices.
type SubscriptionInfo struct {
	DeviceID   string             `json:"device_id"`
	Refs       int                `json:"refs"`
	Pinned     bool               `json:"pinned"`
	Running    bool               `json:"running"`
	Status     SubscriptionStatus `json:"status"`
	LastError  string             `json:"last_error,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	Reconnects int                `json:"reconnects"`
}

// Acquire takes a reference on the subscription of deviceID. The first
// reference starts the subscription and adds the device to the watchlist.
// A subscription that ended on its own is restarted.
func (bridge *Bridge) Acquire(deviceID string) error {
	return bridge.acquire(deviceID, false)
}

func (bridge *Bridge) acquire(deviceID string, pin bool) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return ErrEmptyDeviceID
	}
	if bridge.Upstream == nil {
		return ErrNoUpstream
	}

	bridge.watchMu.Lock()
	defer bridge.watchMu.Unlock()

	bridge.mu.Lock()
	if bridge.closed {
		bridge.mu.Unlock()
		return ErrClosed
	}
	sub, ok := bridge.subs[deviceID]
	if !ok {
		sub = &subscription{deviceID: deviceID}
		bridge.subs[deviceID] = sub
	}
	if pin {
		sub.pinned = true
	} else {
		sub.refs++
	}
	if !sub.running {
		bridge.start(sub)
	}
	bridge.mu.Unlock()

	if !ok && bridge.Repo != nil {
		if err := bridge.Repo.AddWatch(deviceID); err != nil {
			bridge.Logger.Warn("adding device to watchlist", zap.String("device_id", deviceID), zap.Error(err))
		}
	}
	return nil
}

// Release drops a reference taken by Acquire. The last reference stops the
// subscription and removes the device from the watchlist, unless the device
// was resumed from the watchlist. References taken before a Stop are
// released without touching a later subscription of the same device.
// Releasing a device without a subscription is a no-op.
func (bridge *Bridge) Release(deviceID string) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return ErrEmptyDeviceID
	}

	bridge.watchMu.Lock()
	defer bridge.watchMu.Unlock()

	bridge.mu.Lock()
	if stale := bridge.stale[deviceID]; stale > 0 {
		if stale == 1 {
			delete(bridge.stale, deviceID)
		} else {
			bridge.stale[deviceID] = stale - 1
		}
		bridge.mu.Unlock()
		return nil
	}
	sub, ok := bridge.subs[deviceID]
	if !ok || sub.refs == 0 {
		bridge.mu.Unlock()
		return nil
	}
	sub.refs--
	if sub.refs > 0 || sub.pinned {
		bridge.mu.Unlock()
		return nil
	}
	bridge.remove(sub)
	bridge.mu.Unlock()

	return bridge.unwatch(deviceID)
}

// Stop ends the subscription of deviceID regardless of its references and
// removes the device from the watchlist. The references still held are
// expected to be released later and do not count against a subscription
// acquired after Stop.
func (bridge *Bridge) Stop(deviceID string) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return ErrEmptyDeviceID
	}

	bridge.watchMu.Lock()
	defer bridge.watchMu.Unlock()

	bridge.mu.Lock()
	if sub, ok := bridge.subs[deviceID]; ok {
		if sub.refs > 0 {
			bridge.stale[deviceID] += sub.refs
		}
		bridge.remove(sub)
	}
	bridge.mu.Unlock()

	return bridge.unwatch(deviceID)
}

// ResumeWatchlist subscribes to every device persisted in the watchlist.
// A resumed subscription is kept without references until Stop or Close.
func (bridge *Bridge) ResumeWatchlist() ([]string, error) {
	if bridge.Repo == nil {
		return nil, ErrNoRepository
	}
	deviceIDs, err := bridge.Repo.GetWatchlist()
	if err != nil {
		return nil, fmt.Errorf("getting watchlist : %w", err)
	}
	resumed := make([]string, 0, len(deviceIDs))
	for _, deviceID := range deviceIDs {
		if err := bridge.acquire(deviceID, true); err != nil {
			return resumed, fmt.Errorf("resuming subscription for %s : %w", deviceID, err)
		}
		resumed = append(resumed, deviceID)
	}
	return resumed, nil
}

// Subscriptions returns the current subscriptions ordered by device id.
func (bridge *Bridge) Subscriptions() []SubscriptionInfo {
	bridge.mu.Lock()
	defer bridge.mu.Unlock()

	infos := make([]SubscriptionInfo, 0, len(bridge.subs))
	for _, sub := range bridge.subs {
		infos = append(infos, SubscriptionInfo{
			DeviceID:   sub.deviceID,
			Refs:       sub.refs,
			Pinned:     sub.pinned,
			Running:    sub.running,
			Status:     sub.status,
			LastError:  sub.lastError,
			StartedAt:  sub.startedAt,
			Reconnects: sub.reconnects,
		})
	}
	slices.SortFunc(infos, func(a, b SubscriptionInfo) int {
		return strings.Compare(a.DeviceID, b.DeviceID)
	})
	return infos
}

// start launches the subscription goroutine. bridge.mu must be held.
func (bridge *Bridge) start(sub *subscription) {
	ctx, cancel := context.WithCancel(bridge.ctx)
	sub.cancel = cancel
	sub.running = true
	sub.status = StatusConnecting
	sub.lastError = ""
	sub.startedAt = bridge.Now().UTC()

	bridge.subWG.Add(1)
	go bridge.run(ctx, sub)
}

// remove cancels sub and forgets it. bridge.mu must be held.
func (bridge *Bridge) remove(sub *subscription) {
	if sub.cancel != nil {
		sub.cancel()
	}
	if bridge.subs[sub.deviceID] == sub {
		delete(bridge.subs, sub.deviceID)
	}
}

func (bridge *Bridge) unwatch(deviceID string) error {
	if bridge.Repo == nil {
		return nil
	}
	if err := bridge.Repo.RemoveWatch(deviceID); err != nil {
		return fmt.Errorf("removing %s from watchlist : %w", deviceID, err)
	}
	return nil
}

// run keeps the subscription of sub alive until ctx is cancelled or the
// server completes it.
func (bridge *Bridge) run(ctx context.Context, sub *subscription) {
	defer bridge.subWG.Done()

	backoff := initialBackoff
	trace := &graphql.SubscriptionTrace{
		Acknowledged: func(string) {
			backoff = initialBackoff
			bridge.setStatus(sub, StatusConnected, nil)
		},
	}
	traced := graphql.WithSubscriptionTrace(ctx, trace)
	handler := func(activity *domain.DetectionActivity) error {
		return bridge.enqueue(ctx, sub.deviceID, activity)
	}

	for {
		err := bridge.Upstream.SubscribeDetections(traced, sub.deviceID, handler)

		switch {
		case ctx.Err() != nil:
			bridge.finish(sub, StatusStopped, nil)
			return
		case err == nil, errors.Is(err, graphql.ErrSubscriptionComplete):
			bridge.finish(sub, StatusCompleted, nil)
			return
		case errors.Is(err, upstream.ErrNoSubscriber):
			bridge.finish(sub, StatusError, err)
			return
		}

		status := StatusReconnecting
		var subErr *graphql.SubscriptionError
		if errors.As(err, &subErr) {
			status = StatusError
		}
		bridge.setStatus(sub, status, err)
		bridge.Logger.Warn("subscription interrupted",
			zap.String("device_id", sub.deviceID),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			bridge.finish(sub, StatusStopped, nil)
			return
		case <-timer.C:
		}
		backoff = nextBackoff(backoff, bridge.Config.ReconnectMaxBackoff)
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if max > 0 && next > max {
		return max
	}
	return next
}

func (bridge *Bridge) setStatus(sub *subscription, status SubscriptionStatus, err error) {
	bridge.mu.Lock()
	sub.status = status
	if err != nil {
		sub.lastError = err.Error()
		sub.reconnects++
	}
	bridge.mu.Unlock()

	bridge.notify(sub.deviceID, status, err)
}

// finish records the final status of a subscription goroutine.
func (bridge *Bridge) finish(sub *subscription, status SubscriptionStatus, err error) {
	bridge.mu.Lock()
	sub.running = false
	sub.status = status
	if err != nil {
		sub.lastError = err.Error()
	}
	bridge.mu.Unlock()

	bridge.notify(sub.deviceID, status, err)
}

func (bridge *Bridge) notify(deviceID string, status SubscriptionStatus, err error) {
	switch status {
	case StatusReconnecting:
		bridge.record("WARN", "subscription reconnecting", deviceID, err)
	case StatusError:
		bridge.record("ERROR", "subscription failed", deviceID, err)
	case StatusCompleted:
		bridge.record("INFO", "subscription completed", deviceID, err)
	default:
		fields := []zap.Field{zap.String("device_id", deviceID), zap.String("status", string(status))}
		if err != nil {
			fields = append(fields, zap.Error(err))
		}
		bridge.Logger.Info("subscription status", fields...)
	}

	if bridge.OnStatus != nil {
		bridge.OnStatus(deviceID, status, err)
	}
}
