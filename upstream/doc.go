// Package upstream implements the detection API operations on top of the
// graphql package: device, track and detection queries, event producer and
// event mutations, and the per-device detectionActivity subscription.
package upstream
