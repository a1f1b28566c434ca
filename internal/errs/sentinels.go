// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict indicates optimistic concurrency failure (expected version mismatch).
	ErrVersionConflict = errors.New("version conflict")

	// ErrValidation marks a malformed or missing input field. Wrap it with details:
	// fmt.Errorf("%w: empty userID", ErrValidation).
	ErrValidation = errors.New("validation")

	// ErrQueueFull is the offline queue backpressure signal.
	ErrQueueFull = errors.New("queue full")

	// ErrDrainInProgress is returned when a queue drain is requested while another one runs.
	ErrDrainInProgress = errors.New("drain in progress")

	// ErrDeviceOwnership indicates an attempt to re-register a device under another user.
	ErrDeviceOwnership = errors.New("device belongs to another user")

	// ErrUnauthorized indicates failed authentication.
	ErrUnauthorized = errors.New("unauthorized")
)
