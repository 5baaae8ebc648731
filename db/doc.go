// Package db provides the SQLite storage layer of the detection bridge.
// It persists live detections, tracks, cached devices, created events, the
// subscription watchlist and the bridge log, and answers the statistics
// queries served by the dashboard.
//
// This package is responsible for:
// - Establishing the database connection and applying migrations (`db.go`, `migrations/`).
// - Mapping domain structs to rows, using `sql.Null*` and JSON column types (`types.go`).
// - Implementing the repository interfaces declared in the domain package.
//
// Every timestamp is stored as text in domain.TimestampLayout so that SQL
// comparisons and SQLite date functions agree with Go's ordering.
package db
