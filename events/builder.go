package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/worldsio/detectbridge/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Event windows, measured from the time the event is built.
const (
	DetectionWindow      = 5 * time.Minute
	HighConfidenceWindow = 10 * time.Minute
	ZoneViolationWindow  = 15 * time.Minute
)

const (
	detectionAction = "Detection Alert"
	// defaultConfidence is reported when a detection carries no confidence.
	defaultConfidence = "high"
)

// ErrSkipped is returned by FromDetection when the classifier suppressed the event.
var ErrSkipped = errors.New("event skipped by classifier")

// Builder creates event inputs owned by one producer.
type Builder struct {
	producerID string
	detector   string
	classifier Classifier
	now        func() time.Time
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithClassifier sets the classifier used by FromDetection. A nil classifier restores DefaultClassifier.
func WithClassifier(classifier Classifier) BuilderOption {
	return func(b *Builder) {
		if classifier == nil {
			classifier = DefaultClassifier{}
		}
		b.classifier = classifier
	}
}

// WithClock sets the clock used to stamp event windows.
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) {
		b.now = now
	}
}

// NewBuilder returns a Builder for events of producerID reported by detector.
func NewBuilder(producerID, detector string, options ...BuilderOption) *Builder {
	b := &Builder{
		producerID: producerID,
		detector:   detector,
		classifier: DefaultClassifier{},
		now:        time.Now,
	}
	for _, option := range options {
		option(b)
	}
	return b
}

// ProducerID returns the producer owning built events.
func (b *Builder) ProducerID() string {
	return b.producerID
}

func (b *Builder) input(eventType, subType string, window time.Duration, metadata map[string]any) domain.EventInput {
	start := b.now()
	return domain.EventInput{
		EventProducerID: b.producerID,
		Type:            eventType,
		SubType:         subType,
		StartTime:       domain.FormatTimestamp(start),
		EndTime:         domain.FormatTimestamp(start.Add(window)),
		Draft:           false,
		Metadata:        metadata,
	}
}

// DetectionEvent builds the event for a track detected with tag using the
// default tag rules. A zero confidence is reported as "high".
func (b *Builder) DetectionEvent(trackID, tag string, confidence float64) domain.EventInput {
	return b.detectionEvent(trackID, tag, confidence, ClassifyTag(trackID, tag))
}

func (b *Builder) detectionEvent(trackID, tag string, confidence float64, class Classification) domain.EventInput {
	var reported any = defaultConfidence
	if confidence != 0 {
		reported = confidence
	}
	metadata := map[string]any{
		"trackId":     trackID,
		"tag":         tag,
		"detectedAt":  domain.FormatTimestamp(b.now()),
		"confidence":  reported,
		"detector":    b.detector,
		"action":      detectionAction,
		"priority":    class.Priority,
		"description": class.Description,
	}
	return b.input(class.Type, class.SubType, DetectionWindow, metadata)
}

// FromDetection builds the event for a stored detection through the
// classifier. Empty fields of the classification fall back to the default
// tag rules. It returns ErrSkipped when the classifier suppressed the event.
func (b *Builder) FromDetection(detection *domain.Detection) (domain.EventInput, error) {
	class, err := b.classifier.Classify(detection)
	if err != nil {
		return domain.EventInput{}, fmt.Errorf("classifying track %s : %w", detection.TrackID, err)
	}
	if class.Skip {
		return domain.EventInput{}, ErrSkipped
	}

	fallback := ClassifyTag(detection.TrackID, detection.Tag)
	if class.Type == "" {
		class.Type = fallback.Type
	}
	if class.SubType == "" {
		class.SubType = fallback.SubType
	}
	if class.Priority == "" {
		class.Priority = fallback.Priority
	}
	if class.Description == "" {
		class.Description = fallback.Description
	}

	return b.detectionEvent(detection.TrackID, detection.Tag, Confidence(detection), class), nil
}

// HighConfidenceEvent builds the review event for a track detected above threshold.
func (b *Builder) HighConfidenceEvent(trackID string, threshold float64) domain.EventInput {
	metadata := map[string]any{
		"trackId":             trackID,
		"confidenceThreshold": threshold,
		"detector":            b.detector,
		"description":         fmt.Sprintf("High confidence detection (>%s) on track %s", strconv.FormatFloat(threshold, 'g', -1, 64), trackID),
		"priority":            PriorityHigh,
		"requiresReview":      true,
	}
	return b.input("HighConfidenceDetection", "QualityAlert", HighConfidenceWindow, metadata)
}

// ZoneViolationEvent builds the event for a track violating zoneIDs.
// An empty violation defaults to "entry".
func (b *Builder) ZoneViolationEvent(trackID string, zoneIDs []string, violation string) domain.EventInput {
	if violation == "" {
		violation = "entry"
	}
	if zoneIDs == nil {
		zoneIDs = []string{}
	}
	metadata := map[string]any{
		"trackId":                 trackID,
		"zoneIds":                 zoneIDs,
		"violationType":           violation,
		"detector":                b.detector,
		"description":             fmt.Sprintf("Zone %s violation on track %s", violation, trackID),
		"priority":                PriorityHigh,
		"requiresImmediateAction": true,
		"affectedZones":           len(zoneIDs),
	}
	subType := "Zone" + cases.Title(language.Und).String(violation) + "Alert"
	return b.input("ZoneViolation", subType, ZoneViolationWindow, metadata)
}

// Confidence reads the numeric "confidence" entry of the detection metadata,
// or returns zero.
func Confidence(detection *domain.Detection) float64 {
	var metadata map[string]json.RawMessage
	if err := json.Unmarshal(detection.Metadata, &metadata); err != nil {
		return 0
	}
	raw, ok := metadata["confidence"]
	if !ok {
		return 0
	}
	var confidence float64
	if err := json.Unmarshal(raw, &confidence); err == nil {
		return confidence
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(text), 64); err == nil {
			return parsed
		}
	}
	return 0
}
