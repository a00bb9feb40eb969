package domain

import "errors"

// Domain errors returned by the public API and the delivery machinery.
// Check with errors.Is.
var (
	// ErrAlreadyLocked is returned when another live process holds the
	// single-instance lock for the same client name and server.
	ErrAlreadyLocked = errors.New("pulseclient: another instance is already running")

	// ErrIncompatibleFormat is returned when the on-disk queue carries a
	// format version newer than this binary understands.
	ErrIncompatibleFormat = errors.New("pulseclient: incompatible queue format version")

	// ErrNothingInFlight is returned by Commit when no item has been peeked.
	ErrNothingInFlight = errors.New("pulseclient: commit without a peeked item")

	// ErrServerTimeout is returned by WaitForStart when the collector does
	// not come up within the deadline.
	ErrServerTimeout = errors.New("pulseclient: server did not start in time")
)

// Transport failure classes. The delivery loop keys its retry policy off
// these: connectivity failures trigger reconnection with the item preserved,
// bad requests are dropped, server errors are retried in place.
var (
	// ErrConnectivity wraps connection-refused and timeout failures.
	ErrConnectivity = errors.New("pulseclient: server unreachable")

	// ErrBadRequest wraps HTTP 400 responses. A malformed payload can never
	// become valid by resending, so these are never retried.
	ErrBadRequest = errors.New("pulseclient: request rejected")

	// ErrServerError wraps HTTP 5xx responses. The collector may recover,
	// so these are retried after a cooldown.
	ErrServerError = errors.New("pulseclient: server error")
)
