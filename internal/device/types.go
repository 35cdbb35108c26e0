package device

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/rinnai-bridge/internal/identity"
)

// Flag decodes the cloud's booleans, which arrive either as JSON booleans or
// as the strings "true"/"false".
type Flag bool

// UnmarshalJSON implements json.Unmarshaler.
func (f *Flag) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch string(b) {
	case "null", `""`:
		*f = false
		return nil
	case "true", `"true"`:
		*f = true
		return nil
	case "false", `"false"`:
		*f = false
		return nil
	}
	return fmt.Errorf("%w: flag %s", ErrInvalidAttributes, b)
}

// Reading decodes a cloud temperature, which arrives as a number or a
// numeric string. Absent and empty values decode as zero.
type Reading float64

// UnmarshalJSON implements json.Unmarshaler.
func (r *Reading) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if string(b) == "null" {
		*r = 0
		return nil
	}
	s := string(b)
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("%w: reading %s", ErrInvalidAttributes, b)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*r = 0
			return nil
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("%w: reading %s", ErrInvalidAttributes, b)
	}
	*r = Reading(v)
	return nil
}

// Info is the telemetry block of a cloud device.
type Info struct {
	SerialID             string  `json:"serial_id,omitempty"`
	DomesticTemperature  Reading `json:"domestic_temperature"`
	OutletTemperature    Reading `json:"m02_outlet_temperature"`
	DomesticCombustion   Flag    `json:"domestic_combustion"`
	RecirculationCapable Flag    `json:"recirculation_capable"`
}

// Shadow is the desired-state block of a cloud device.
type Shadow struct {
	RecirculationEnabled Flag `json:"recirculation_enabled"`
}

// Attributes is the last payload fetched for a device.
type Attributes struct {
	ID         string  `json:"id"`
	ThingName  string  `json:"thing_name"`
	DSN        string  `json:"dsn,omitempty"`
	DeviceName string  `json:"device_name"`
	Model      string  `json:"model,omitempty"`
	Info       *Info   `json:"info,omitempty"`
	Shadow     *Shadow `json:"shadow,omitempty"`
}

// IdentityFields returns the fields identity schemes hash.
func (a Attributes) IdentityFields() identity.Fields {
	return identity.Fields{ID: a.ID, DSN: a.DSN}
}

// SupportsRecirculation reports the recirculation capability flag.
func (a Attributes) SupportsRecirculation() bool {
	return a.Info != nil && bool(a.Info.RecirculationCapable)
}

// Clone returns a copy sharing no pointers with a.
func (a Attributes) Clone() Attributes {
	c := a
	if a.Info != nil {
		info := *a.Info
		c.Info = &info
	}
	if a.Shadow != nil {
		shadow := *a.Shadow
		c.Shadow = &shadow
	}
	return c
}

// State is a record's position in its lifecycle.
type State string

const (
	// StateRestored records were loaded from persistence and not yet seen
	// in a poll.
	StateRestored State = "restored"

	// StateNew records were discovered this cycle and are being registered.
	StateNew State = "new"

	// StateActive records are matched to a live cloud device.
	StateActive State = "active"

	// StateRemoved records were superseded by a newer identity scheme.
	StateRemoved State = "removed"
)

// Record is the local view of one water heater.
type Record struct {
	ID         string     `json:"id"`
	State      State      `json:"state"`
	Attributes Attributes `json:"attributes"`

	// Derived from Attributes on every refresh. Temperatures are °C.
	TargetTemperature    float64 `json:"target_temperature"`
	OutletTemperature    float64 `json:"outlet_temperature"`
	IsRunning            bool    `json:"is_running"`
	RecirculationEnabled bool    `json:"recirculation_enabled"`

	// SupportsRecirculation is fixed when the record first becomes active.
	SupportsRecirculation bool `json:"supports_recirculation"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Name returns the user-facing device name.
func (r *Record) Name() string {
	if r.Attributes.DeviceName != "" {
		return r.Attributes.DeviceName
	}
	return r.Attributes.ID
}

// DeepCopy returns a copy sharing no pointers with r.
func (r *Record) DeepCopy() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Attributes = r.Attributes.Clone()
	return &c
}
