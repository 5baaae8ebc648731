package detectbridge

import (
	"fmt"

	"github.com/worldsio/detectbridge/core"
	"github.com/worldsio/detectbridge/extensions"
	"go.uber.org/zap"
)

// WithRulesScript loads the Lua rules at path as the classifier for
// automatic events. Lines printed or logged by the script are written to
// the bridge log.
func WithRulesScript(path string) func(*Bridge) error {
	return func(bridge *Bridge) error {
		if bridge.Classifier != nil {
			return fmt.Errorf("bridge already has a classifier defined")
		}
		logger := bridge.Logger
		if logger == nil {
			logger = zap.NewNop()
		}

		runtime, err := extensions.NewFromFile(path,
			extensions.WithLogger(logger.Named("rules")),
			extensions.WithLogHook(bridge.ruleLog),
		)
		if err != nil {
			return fmt.Errorf("loading rules script %s : %w", path, err)
		}
		if !runtime.HasClassifier() {
			logger.Warn("rules script defines no classify function, using the tag rules", zap.String("script", path))
		}
		bridge.Classifier = runtime
		return nil
	}
}

// ruleLog stores a line logged by the rules script. The script logger
// already wrote it to zap.
func (bridge *Bridge) ruleLog(level, message string) {
	if bridge.Repo == nil {
		return
	}
	log, err := newLog(bridge, level, message, core.LogWithContext(map[string]any{"source": "lua"}))
	if err != nil {
		return
	}
	if err := bridge.Repo.InsertLog(log); err != nil && bridge.Logger != nil {
		bridge.Logger.Warn("storing rules log", zap.Error(err))
	}
}
