// Package domain defines the core data structures of the detection bridge.
// It contains the models decoded from the upstream GraphQL API (devices, tracks,
// detection activity), the flattened rows persisted by the storage layer, and
// the repository interfaces that define the contracts for data persistence.
//
// The package has no knowledge of SQL or of the transport used to reach the
// upstream API. Storage and transport packages depend on domain, never the
// other way around.
package domain
