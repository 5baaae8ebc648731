// Package events turns detections into upstream event inputs.
//
// A Builder stamps every event with the producer id, the detector name and
// the time window of its kind. Detection events are typed by a Classifier;
// DefaultClassifier applies the built-in tag rules and a script-backed
// classifier can override them per detection. Dedup limits automatically
// created events to one per track per cooldown window.
package events
