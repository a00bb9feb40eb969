// Package domain contains the core value types of the client: events and
// the heartbeat merge rule, queued delivery requests, stream registrations,
// and the sentinel errors shared across layers.
//
// The package has no dependencies on infrastructure; everything here is a
// plain value with explicit semantics.
package domain
