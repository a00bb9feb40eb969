package ports

import "github.com/pulselabs/pulseclient/internal/domain"

// RequestQueue is a crash-safe FIFO of pending deliveries.
//
// Enqueue persists durably before returning. PeekFront returns the same
// item on repeated calls until Commit permanently removes it; this is the
// at-most-one-in-flight guarantee. A crash between delivery and Commit
// leaves the item recoverable, so consumers must tolerate duplicate
// delivery of the same logical event.
//
// Enqueue may be called from any goroutine concurrently with PeekFront and
// Commit, which are called only by the delivery loop.
type RequestQueue interface {
	Enqueue(req domain.QueuedRequest) error
	PeekFront() (domain.QueuedRequest, bool, error)
	Commit() error
	Size() (int, error)
	Close() error
}
