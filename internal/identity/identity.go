// Package identity derives stable local identifiers for cloud water heaters.
//
// An identifier is a name-based UUID computed from one serial field of the
// device plus a scheme tag. Exactly one scheme is current; older schemes are
// kept so records created under them can be found and migrated away.
package identity

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrUnknownScheme is returned for a scheme outside the known set.
	ErrUnknownScheme = errors.New("identity: unknown scheme")

	// ErrMissingField is returned when the field a scheme hashes is empty.
	ErrMissingField = errors.New("identity: missing identity field")
)

// namespace seeds every identifier. Changing it re-keys every device.
var namespace = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("rinnai-bridge.local"))

// Scheme is a versioned identifier derivation rule.
type Scheme int

const (
	// SchemeDSNV1 hashes the device serial number (dsn). Deprecated.
	SchemeDSNV1 Scheme = iota + 1

	// SchemeSerialV2 hashes the cloud device id. Current.
	SchemeSerialV2
)

// Fields are the device attributes identity schemes draw from.
type Fields struct {
	ID  string
	DSN string
}

// Current returns the scheme new records are keyed under.
func Current() Scheme {
	return SchemeSerialV2
}

// Deprecated returns superseded schemes, newest first.
func Deprecated() []Scheme {
	return []Scheme{SchemeDSNV1}
}

// Tag returns the suffix appended to the hashed field.
func (s Scheme) Tag() string {
	switch s {
	case SchemeDSNV1:
		return "-1"
	case SchemeSerialV2:
		return "-2"
	default:
		return ""
	}
}

// String implements fmt.Stringer.
func (s Scheme) String() string {
	switch s {
	case SchemeDSNV1:
		return "dsn-v1"
	case SchemeSerialV2:
		return "serial-v2"
	default:
		return fmt.Sprintf("scheme(%d)", int(s))
	}
}

func (s Scheme) field(f Fields) (string, error) {
	switch s {
	case SchemeDSNV1:
		return f.DSN, nil
	case SchemeSerialV2:
		return f.ID, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownScheme, s)
	}
}

// Resolve returns the identifier of a device under scheme.
func Resolve(f Fields, s Scheme) (string, error) {
	v, err := s.field(f)
	if err != nil {
		return "", err
	}
	if v == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingField, s)
	}
	return uuid.NewSHA1(namespace, []byte(v+s.Tag())).String(), nil
}

// ResolveDeprecated returns the identifiers of a device under every
// deprecated scheme whose field is present, in Deprecated order.
func ResolveDeprecated(f Fields) []string {
	var ids []string
	for _, s := range Deprecated() {
		id, err := Resolve(f, s)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
