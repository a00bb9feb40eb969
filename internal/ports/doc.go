// Package ports defines the interfaces that connect the delivery core to
// infrastructure adapters.
//
// The application layer (internal/app) and the public facade depend only on
// these interfaces; concrete implementations live in internal/adapters
// (SQLite queue, REST transport, zerolog).
//
//   - [RequestQueue]: durable FIFO of pending deliveries
//   - [Transport]: JSON requests against the collector API
//   - [Logger]: structured logging abstraction
//   - [HTTPClient]: HTTP request abstraction for dependency injection
package ports
