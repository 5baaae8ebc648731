// Package core holds small helpers shared by the bridge packages.
// This file contains option functions for customizing log entries.
package core

import (
	"github.com/worldsio/detectbridge/domain"
)

// LogOption customizes a log entry before it is stored.
type LogOption func(log *domain.Log) error

// LogWithContext is an option to add a context map to a log entry.
func LogWithContext(context map[string]any) LogOption {
	return func(log *domain.Log) error {
		log.Context = context
		return nil
	}
}

// LogWithDeviceID is an option to associate a log entry with a device.
// An empty id leaves the entry unassociated.
func LogWithDeviceID(deviceID string) LogOption {
	return func(log *domain.Log) error {
		if deviceID == "" {
			return nil
		}
		log.DeviceID = &deviceID
		return nil
	}
}
