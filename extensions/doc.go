// Package extensions runs Lua rule scripts that classify detections.
// A script runs in a sandboxed state without os, io, load or package access
// and defines a global classify(detection) function whose result overrides
// the default event classification. Script output from print and bridge:log
// is routed to the bridge logger.
package extensions
