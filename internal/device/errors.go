package device

import "errors"

// Domain errors for the device package.
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when an identifier is not known.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when registering an identifier twice.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInfoMissing is returned when a payload has no info block to derive
	// state from. Derived fields keep their previous values.
	ErrInfoMissing = errors.New("device: info missing from payload")

	// ErrInvalidAttributes is returned for payloads that cannot be stored.
	ErrInvalidAttributes = errors.New("device: invalid attributes")
)
