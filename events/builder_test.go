package events

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/worldsio/detectbridge/domain"
)

var testNow = time.Date(2025, 9, 22, 10, 0, 0, 0, time.UTC)

func newTestBuilder(options ...BuilderOption) *Builder {
	options = append([]BuilderOption{WithClock(func() time.Time { return testNow })}, options...)
	return NewBuilder("producer-1", "bridge", options...)
}

func TestBuilder_DetectionEvent(t *testing.T) {
	tests := []struct {
		name        string
		tag         string
		confidence  float64
		wantType    string
		wantSubType string
		wantMeta    map[string]any
	}{
		{
			name:        "should raise a security alert for persons",
			tag:         "Person",
			confidence:  0.95,
			wantType:    "PersonDetection",
			wantSubType: "SecurityAlert",
			wantMeta: map[string]any{
				"priority":    PriorityHigh,
				"confidence":  0.95,
				"description": "Person detected on track track-1",
			},
		},
		{
			name:        "should raise a traffic alert for vehicles",
			tag:         "vehicle",
			confidence:  0.87,
			wantType:    "VehicleDetection",
			wantSubType: "TrafficAlert",
			wantMeta: map[string]any{
				"priority":    PriorityMedium,
				"confidence":  0.87,
				"description": "Vehicle detected on track track-1",
			},
		},
		{
			name:        "should raise a general alert for other tags",
			tag:         "bicycle",
			wantType:    "ObjectDetection",
			wantSubType: "GeneralAlert",
			wantMeta: map[string]any{
				"priority":    PriorityLow,
				"confidence":  "high",
				"description": "Special object 'bicycle' detected on track track-1",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := newTestBuilder().DetectionEvent("track-1", tt.tag, tt.confidence)

			wantMeta := map[string]any{
				"trackId":    "track-1",
				"tag":        tt.tag,
				"detectedAt": "2025-09-22T10:00:00.000Z",
				"detector":   "bridge",
				"action":     "Detection Alert",
			}
			for k, v := range tt.wantMeta {
				wantMeta[k] = v
			}
			want := domain.EventInput{
				EventProducerID: "producer-1",
				Type:            tt.wantType,
				SubType:         tt.wantSubType,
				StartTime:       "2025-09-22T10:00:00.000Z",
				EndTime:         "2025-09-22T10:05:00.000Z",
				Metadata:        wantMeta,
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("event mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuilder_HighConfidenceEvent(t *testing.T) {
	t.Run("should request a review", func(t *testing.T) {
		got := newTestBuilder().HighConfidenceEvent("track-9", 0.9)

		want := domain.EventInput{
			EventProducerID: "producer-1",
			Type:            "HighConfidenceDetection",
			SubType:         "QualityAlert",
			StartTime:       "2025-09-22T10:00:00.000Z",
			EndTime:         "2025-09-22T10:10:00.000Z",
			Metadata: map[string]any{
				"trackId":             "track-9",
				"confidenceThreshold": 0.9,
				"detector":            "bridge",
				"description":         "High confidence detection (>0.9) on track track-9",
				"priority":            PriorityHigh,
				"requiresReview":      true,
			},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("event mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestBuilder_ZoneViolationEvent(t *testing.T) {
	t.Run("should title the violation in the sub type", func(t *testing.T) {
		got := newTestBuilder().ZoneViolationEvent("track-5", []string{"zone_1", "zone_2"}, "entry")

		want := domain.EventInput{
			EventProducerID: "producer-1",
			Type:            "ZoneViolation",
			SubType:         "ZoneEntryAlert",
			StartTime:       "2025-09-22T10:00:00.000Z",
			EndTime:         "2025-09-22T10:15:00.000Z",
			Metadata: map[string]any{
				"trackId":                 "track-5",
				"zoneIds":                 []string{"zone_1", "zone_2"},
				"violationType":           "entry",
				"detector":                "bridge",
				"description":             "Zone entry violation on track track-5",
				"priority":                PriorityHigh,
				"requiresImmediateAction": true,
				"affectedZones":           2,
			},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("event mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("should default the violation to entry", func(t *testing.T) {
		got := newTestBuilder().ZoneViolationEvent("track-5", nil, "")
		if got.SubType != "ZoneEntryAlert" || got.Metadata["affectedZones"] != 0 {
			t.Fatalf("\nwanted:\nZoneEntryAlert with 0 zones\ngot:\n%v %v", got.SubType, got.Metadata)
		}
	})
}

func TestBuilder_FromDetection(t *testing.T) {
	detection := &domain.Detection{
		TrackID:  "track-1",
		Tag:      "person",
		Metadata: json.RawMessage(`{"confidence": 0.91}`),
	}

	t.Run("should use the default rules", func(t *testing.T) {
		got, err := newTestBuilder().FromDetection(detection)
		if err != nil {
			t.Fatalf("building event: %v", err)
		}
		if got.Type != "PersonDetection" || got.Metadata["confidence"] != 0.91 {
			t.Fatalf("\nwanted:\nPersonDetection at 0.91\ngot:\n%v %v", got.Type, got.Metadata)
		}
	})

	t.Run("should fill blanks of a custom classification", func(t *testing.T) {
		classifier := ClassifierFunc(func(*domain.Detection) (Classification, error) {
			return Classification{Type: "Intrusion", Priority: PriorityLow}, nil
		})

		got, err := newTestBuilder(WithClassifier(classifier)).FromDetection(detection)
		if err != nil {
			t.Fatalf("building event: %v", err)
		}
		if got.Type != "Intrusion" || got.SubType != "SecurityAlert" || got.Metadata["priority"] != PriorityLow {
			t.Fatalf("\nwanted:\nIntrusion/SecurityAlert low\ngot:\n%v/%v %v", got.Type, got.SubType, got.Metadata["priority"])
		}
	})

	t.Run("should report skipped detections", func(t *testing.T) {
		classifier := ClassifierFunc(func(*domain.Detection) (Classification, error) {
			return Classification{Skip: true}, nil
		})

		_, err := newTestBuilder(WithClassifier(classifier)).FromDetection(detection)
		if !errors.Is(err, ErrSkipped) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", ErrSkipped, err)
		}
	})

	t.Run("should wrap classifier errors", func(t *testing.T) {
		boom := errors.New("boom")
		classifier := ClassifierFunc(func(*domain.Detection) (Classification, error) {
			return Classification{}, boom
		})

		_, err := newTestBuilder(WithClassifier(classifier)).FromDetection(detection)
		if !errors.Is(err, boom) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", boom, err)
		}
	})
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		metadata string
		want     float64
	}{
		{`{"confidence": 0.5}`, 0.5},
		{`{"confidence": "0.75"}`, 0.75},
		{`{"confidence": "high"}`, 0},
		{`{}`, 0},
		{``, 0},
	}

	for _, tt := range tests {
		got := Confidence(&domain.Detection{Metadata: json.RawMessage(tt.metadata)})
		if got != tt.want {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", tt.want, got)
		}
	}
}
