package session

import "errors"

var (
	// ErrAlreadyActive is returned when creating a session that already has a live handle.
	ErrAlreadyActive = errors.New("session already active")
	// ErrSessionNotConnected is returned when an operation needs a connected session.
	ErrSessionNotConnected = errors.New("session not connected")
	// ErrProviderCreateFailure wraps device provider failures during creation.
	ErrProviderCreateFailure = errors.New("device session creation failed")
	// ErrProviderTransientDisconnect marks a recoverable loss of the device session.
	ErrProviderTransientDisconnect = errors.New("device session disconnected")
	// ErrTimeoutAutoClose marks a device session closed because its QR was never scanned.
	ErrTimeoutAutoClose = errors.New("device session auto-closed")
	// ErrValidationFailure is returned for bad input on send or create.
	ErrValidationFailure = errors.New("validation failed")
	// ErrUnknownSession is returned when no instance record exists for an identity.
	ErrUnknownSession = errors.New("unknown session")
	// ErrShuttingDown is returned by lifecycle operations after Shutdown.
	ErrShuttingDown = errors.New("session manager shutting down")
)
