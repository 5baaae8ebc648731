package detectbridge

import (
	"errors"
	"time"

	"github.com/worldsio/detectbridge/events"
	"go.uber.org/zap"
)

// WithConfig sets the bridge configuration.
func WithConfig(cfg *Config) func(*Bridge) error {
	return func(bridge *Bridge) error {
		if cfg == nil {
			return errors.New("config is nil")
		}
		bridge.Config = cfg
		return nil
	}
}

// WithRepo sets the store. The bridge closes it on Close.
func WithRepo(repo Repository) func(*Bridge) error {
	return func(bridge *Bridge) error {
		if repo == nil {
			return errors.New("repository is nil")
		}
		bridge.Repo = repo
		return nil
	}
}

// WithUpstream sets the detection API.
func WithUpstream(api Upstream) func(*Bridge) error {
	return func(bridge *Bridge) error {
		if api == nil {
			return errors.New("upstream is nil")
		}
		bridge.Upstream = api
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) func(*Bridge) error {
	return func(bridge *Bridge) error {
		if logger == nil {
			return errors.New("logger is nil")
		}
		bridge.Logger = logger
		return nil
	}
}

// WithClassifier replaces the tag rules used for automatic events, for
// example with an extensions.Runtime.
func WithClassifier(classifier events.Classifier) func(*Bridge) error {
	return func(bridge *Bridge) error {
		if bridge.Classifier != nil {
			return errors.New("bridge already has a classifier defined")
		}
		bridge.Classifier = classifier
		return nil
	}
}

// WithDetectionHandler takes a handler function that will be executed on each stored detection
func WithDetectionHandler(handler DetectionHandler) func(*Bridge) error {
	return func(bridge *Bridge) error {
		if bridge.OnDetection != nil {
			return errors.New("bridge already has a detection handler defined")
		}
		bridge.OnDetection = handler
		return nil
	}
}

// WithStatusHandler takes a handler function that will be executed on each subscription status change
func WithStatusHandler(handler StatusHandler) func(*Bridge) error {
	return func(bridge *Bridge) error {
		if bridge.OnStatus != nil {
			return errors.New("bridge already has a status handler defined")
		}
		bridge.OnStatus = handler
		return nil
	}
}

// WithClock sets the clock used for job windows and event stamps.
func WithClock(now func() time.Time) func(*Bridge) error {
	return func(bridge *Bridge) error {
		if now == nil {
			return errors.New("clock is nil")
		}
		bridge.Now = now
		return nil
	}
}
