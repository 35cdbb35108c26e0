package rinnai

import (
	"errors"

	"github.com/nerrad567/rinnai-bridge/internal/cloud"
	"github.com/nerrad567/rinnai-bridge/internal/device"
	"github.com/nerrad567/rinnai-bridge/internal/throttle"
	"github.com/nerrad567/rinnai-bridge/internal/units"
)

// Domain errors for the Rinnai bridge package.
var (
	// ErrEmptyDeviceSet is returned by a poll cycle whose device list was
	// empty. The registry is left untouched.
	ErrEmptyDeviceSet = errors.New("rinnai: no devices returned")

	// ErrDeviceNotFound is returned for commands addressed to an unknown device.
	ErrDeviceNotFound = errors.New("rinnai: device not found")

	// ErrTemperatureControlDisabled is returned for setpoint changes in
	// recirculation-only mode.
	ErrTemperatureControlDisabled = errors.New("rinnai: temperature control disabled")

	// ErrRecirculationUnsupported is returned when enabling recirculation on
	// a device without the capability.
	ErrRecirculationUnsupported = errors.New("rinnai: recirculation not supported")
)

// Failure kinds used as metric tags.
const (
	kindAuth        = "auth"
	kindTransport   = "transport"
	kindMalformed   = "malformed"
	kindEmpty       = "empty"
	kindNetwork     = "network"
	kindRejected    = "rejected"
	kindNotFound    = "not_found"
	kindUnsupported = "unsupported"
	kindInvalid     = "invalid"
	kindStopped     = "stopped"
	kindInternal    = "internal"
)

// errorKind classifies err for metrics.
func errorKind(err error) string {
	switch {
	case errors.Is(err, cloud.ErrAuthentication), errors.Is(err, cloud.ErrNotSignedIn):
		return kindAuth
	case errors.Is(err, cloud.ErrMalformedResponse):
		return kindMalformed
	case errors.Is(err, cloud.ErrTransport):
		return kindTransport
	case errors.Is(err, ErrEmptyDeviceSet):
		return kindEmpty
	case errors.Is(err, cloud.ErrCommandNetwork):
		return kindNetwork
	case errors.Is(err, cloud.ErrCommandRejected):
		return kindRejected
	case errors.Is(err, ErrDeviceNotFound), errors.Is(err, device.ErrDeviceNotFound):
		return kindNotFound
	case errors.Is(err, ErrTemperatureControlDisabled), errors.Is(err, ErrRecirculationUnsupported):
		return kindUnsupported
	case errors.Is(err, units.ErrInvalidArgument):
		return kindInvalid
	case errors.Is(err, throttle.ErrStopped):
		return kindStopped
	default:
		return kindInternal
	}
}

// errorCode maps err to an ack error code.
func errorCode(err error) string {
	switch errorKind(err) {
	case kindAuth:
		return ErrCodeAuthFailed
	case kindNetwork, kindTransport:
		return ErrCodeCloudUnreachable
	case kindRejected:
		return ErrCodeCloudRejected
	case kindNotFound:
		return ErrCodeDeviceNotFound
	case kindUnsupported:
		return ErrCodeUnsupported
	case kindInvalid:
		return ErrCodeInvalidParameters
	case kindStopped:
		return ErrCodeStopping
	default:
		return ErrCodeBridgeError
	}
}
