package cornfield

import "errors"

// Errors returned by Manager.
var (
	// ErrClosed is returned by operations on a closed Manager.
	ErrClosed = errors.New("cornfield: manager is closed")

	// ErrNilDevice is returned when New receives a nil device or queue.
	ErrNilDevice = errors.New("cornfield: nil device or queue")

	// ErrInvalidKind is returned by RegisterKind for an unusable descriptor.
	ErrInvalidKind = errors.New("cornfield: invalid kind descriptor")

	// ErrUnknownKind is returned by Submit for a field whose kind was not
	// registered.
	ErrUnknownKind = errors.New("cornfield: unknown field kind")

	// ErrInvalidConfig is returned by New when the options are inconsistent.
	ErrInvalidConfig = errors.New("cornfield: invalid configuration")
)
