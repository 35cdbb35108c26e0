package cloud

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthentication is returned when sign-in or token refresh fails, or
	// the cloud rejects a token.
	ErrAuthentication = errors.New("cloud: authentication failed")

	// ErrNotSignedIn is returned by CurrentSession before SignIn succeeded
	// with credentials.
	ErrNotSignedIn = errors.New("cloud: not signed in")

	// ErrMalformedResponse is returned when a device list does not match the
	// expected shape. No part of such a response is used.
	ErrMalformedResponse = errors.New("cloud: malformed response")

	// ErrTransport is returned when a query never produced a usable response.
	ErrTransport = errors.New("cloud: transport failure")

	// ErrCommandTransport is the umbrella for failed state patches.
	ErrCommandTransport = errors.New("cloud: command failed")

	// ErrCommandNetwork is returned when a patch request produced no
	// response. It wraps ErrCommandTransport.
	ErrCommandNetwork = fmt.Errorf("%w: network error", ErrCommandTransport)

	// ErrCommandRejected is returned when the cloud answered a patch with a
	// non-2xx status. It wraps ErrCommandTransport.
	ErrCommandRejected = fmt.Errorf("%w: rejected", ErrCommandTransport)
)
