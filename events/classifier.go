package events

import (
	"fmt"
	"strings"

	"github.com/worldsio/detectbridge/domain"
)

// Priorities attached to event metadata.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Classification types a detection event.
type Classification struct {
	Type        string `json:"type"`
	SubType     string `json:"sub_type"`
	Priority    string `json:"priority"`
	Description string `json:"description"`
	// Skip suppresses the event.
	Skip bool `json:"skip"`
}

// Classifier decides which event a detection produces.
type Classifier interface {
	Classify(detection *domain.Detection) (Classification, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(detection *domain.Detection) (Classification, error)

// Classify implements Classifier.
func (f ClassifierFunc) Classify(detection *domain.Detection) (Classification, error) {
	return f(detection)
}

// DefaultClassifier applies the tag rules: persons raise security alerts,
// vehicles raise traffic alerts and anything else a general alert.
type DefaultClassifier struct{}

// Classify implements Classifier.
func (DefaultClassifier) Classify(detection *domain.Detection) (Classification, error) {
	return ClassifyTag(detection.TrackID, detection.Tag), nil
}

// ClassifyTag returns the default classification of a track with tag.
func ClassifyTag(trackID, tag string) Classification {
	switch strings.ToLower(tag) {
	case "person":
		return Classification{
			Type:        "PersonDetection",
			SubType:     "SecurityAlert",
			Priority:    PriorityHigh,
			Description: fmt.Sprintf("Person detected on track %s", trackID),
		}
	case "vehicle":
		return Classification{
			Type:        "VehicleDetection",
			SubType:     "TrafficAlert",
			Priority:    PriorityMedium,
			Description: fmt.Sprintf("Vehicle detected on track %s", trackID),
		}
	default:
		return Classification{
			Type:        "ObjectDetection",
			SubType:     "GeneralAlert",
			Priority:    PriorityLow,
			Description: fmt.Sprintf("Special object '%s' detected on track %s", tag, trackID),
		}
	}
}
