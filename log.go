package detectbridge

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/worldsio/detectbridge/core"
	"github.com/worldsio/detectbridge/domain"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// WriteLog logs message through the bridge logger and stores it in the
// logs table. level is one of DEBUG, INFO, WARN or ERROR in any case.
func (bridge *Bridge) WriteLog(level string, message string, options ...core.LogOption) error {
	log, err := newLog(bridge, level, message, options...)
	if err != nil {
		return err
	}

	fields := make([]zap.Field, 0, len(log.Context)+1)
	if log.DeviceID != nil {
		fields = append(fields, zap.String("device_id", *log.DeviceID))
	}
	for key, value := range log.Context {
		fields = append(fields, zap.Any(key, value))
	}
	if ce := bridge.Logger.Check(logLevels[log.Level], message); ce != nil {
		ce.Write(fields...)
	}

	if bridge.Repo == nil {
		return nil
	}
	if err := bridge.Repo.InsertLog(log); err != nil {
		return fmt.Errorf("storing log : %w", err)
	}
	return nil
}

// record writes an operational entry through WriteLog. err is added to the
// entry context. A failure to store the entry only reaches zap.
func (bridge *Bridge) record(level, message, deviceID string, err error) {
	options := []core.LogOption{core.LogWithDeviceID(deviceID)}
	if err != nil {
		options = append(options, core.LogWithContext(map[string]any{"error": err.Error()}))
	}
	if storeErr := bridge.WriteLog(level, message, options...); storeErr != nil {
		bridge.Logger.Warn("storing operational log", zap.String("message", message), zap.Error(storeErr))
	}
}

var logLevels = map[string]zapcore.Level{
	"DEBUG": zapcore.DebugLevel,
	"INFO":  zapcore.InfoLevel,
	"WARN":  zapcore.WarnLevel,
	"ERROR": zapcore.ErrorLevel,
}

func newLog(bridge *Bridge, level string, message string, options ...core.LogOption) (*domain.Log, error) {
	level = strings.ToUpper(level)
	if _, ok := logLevels[level]; !ok {
		return nil, fmt.Errorf("level should be either: debug, info, warn, error")
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating new uuid : %w", err)
	}
	now := time.Now
	if bridge.Now != nil {
		now = bridge.Now
	}
	log := &domain.Log{
		ID:        id,
		Level:     level,
		Message:   message,
		Timestamp: now().UTC(),
	}
	for _, option := range options {
		err := option(log)
		if err != nil {
			return nil, fmt.Errorf("applying log option : %w", err)
		}
	}
	return log, nil
}

// Logs returns up to limit stored log entries, newest first.
func (bridge *Bridge) Logs(limit int) ([]*domain.Log, error) {
	if bridge.Repo == nil {
		return nil, ErrNoRepository
	}
	return bridge.Repo.GetLogs(limit)
}
