package rinnai

import (
	"fmt"
	"strconv"
	"time"

	"github.com/nerrad567/rinnai-bridge/internal/device"
	"github.com/nerrad567/rinnai-bridge/internal/units"
)

// BridgeID identifies this bridge in health messages.
const BridgeID = "rinnai"

// Commands accepted on {prefix}/command/{device_id}.
const (
	CommandSetTemperature     = "set_temperature"
	CommandSetRecirculation   = "set_recirculation"
	CommandRefreshMaintenance = "refresh_maintenance"
	CommandPoll               = "poll"
)

// Capabilities advertised in state messages.
const (
	CapabilityTemperature   = "temperature"
	CapabilityRecirculation = "recirculation"
)

// CommandMessage is received on {prefix}/command/{device_id}.
//
//	{"id":"…","command":"set_temperature","parameters":{"temperature":48.5}}
type CommandMessage struct {
	// ID correlates the command with its ack.
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp,omitempty"`

	// DeviceID is taken from the topic when empty.
	DeviceID string `json:"device_id,omitempty"`

	Command string `json:"command"`

	// Parameters:
	//   set_temperature   {"temperature": <°C>}
	//   set_recirculation {"enabled": <bool>}
	Parameters map[string]any `json:"parameters,omitempty"`

	Source string `json:"source,omitempty"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was delivered to the cloud or queued
	// behind a throttle.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"
)

// AckMessage is published on {prefix}/ack/{device_id}.
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Command   string    `json:"command"`
	Status    AckStatus `json:"status"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeDeviceNotFound    = "DEVICE_NOT_FOUND"
	ErrCodeUnsupported       = "UNSUPPORTED"
	ErrCodeAuthFailed        = "AUTH_FAILED"
	ErrCodeCloudUnreachable  = "CLOUD_UNREACHABLE"
	ErrCodeCloudRejected     = "CLOUD_REJECTED"
	ErrCodeStopping          = "BRIDGE_STOPPING"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// NewAckMessage creates a successful acknowledgment.
func NewAckMessage(cmd CommandMessage) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Command:   cmd.Command,
		Status:    AckAccepted,
	}
}

// NewAckError creates a failed acknowledgment.
func NewAckError(cmd CommandMessage, code, message string) AckMessage {
	ack := NewAckMessage(cmd)
	ack.Status = AckFailed
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// StateMessage is published retained on {prefix}/state/{device_id}.
// Temperatures are °C regardless of the configured unit.
type StateMessage struct {
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`

	Name  string `json:"name"`
	Model string `json:"model,omitempty"`

	TargetTemperature float64 `json:"target_temperature"`
	OutletTemperature float64 `json:"outlet_temperature"`
	Running           bool    `json:"running"`
	Recirculation     bool    `json:"recirculation"`

	Capabilities []string `json:"capabilities"`

	SetpointMin  float64 `json:"setpoint_min"`
	SetpointMax  float64 `json:"setpoint_max"`
	SetpointStep float64 `json:"setpoint_step"`

	// DisplayUnit is the unit the user configured ("C" or "F").
	DisplayUnit string `json:"display_unit"`
}

// NewStateMessage builds the state message for rec.
func NewStateMessage(rec device.Record, pref units.Preference) StateMessage {
	minC, maxC := units.SetpointRange(pref)

	caps := make([]string, 0, 2)
	if !pref.RecirculationOnly {
		caps = append(caps, CapabilityTemperature)
	}
	if rec.SupportsRecirculation {
		caps = append(caps, CapabilityRecirculation)
	}

	return StateMessage{
		DeviceID:          rec.ID,
		Timestamp:         time.Now().UTC(),
		Name:              rec.Name(),
		Model:             rec.Attributes.Model,
		TargetTemperature: rec.TargetTemperature,
		OutletTemperature: rec.OutletTemperature,
		Running:           rec.IsRunning,
		Recirculation:     rec.RecirculationEnabled,
		Capabilities:      caps,
		SetpointMin:       minC,
		SetpointMax:       maxC,
		SetpointStep:      units.TargetStepC,
		DisplayUnit:       string(pref.Unit),
	}
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is published retained on {prefix}/health.
type HealthMessage struct {
	Bridge         string       `json:"bridge"`
	Timestamp      time.Time    `json:"timestamp"`
	Status         HealthStatus `json:"status"`
	Version        string       `json:"version"`
	UptimeSeconds  int64        `json:"uptime_seconds"`
	DevicesManaged int          `json:"devices_managed"`
	LastPoll       *time.Time   `json:"last_poll,omitempty"`
	Reason         string       `json:"reason,omitempty"`
}

// floatParam reads a numeric parameter. JSON numbers and numeric strings
// are accepted.
func floatParam(params map[string]any, key string) (float64, error) {
	raw, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing %q", units.ErrInvalidArgument, key)
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", units.ErrInvalidArgument, key)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: %q has type %T", units.ErrInvalidArgument, key, raw)
	}
}

// boolParam reads a boolean parameter.
func boolParam(params map[string]any, key string) (bool, error) {
	raw, ok := params[key]
	if !ok {
		return false, fmt.Errorf("%w: missing %q", units.ErrInvalidArgument, key)
	}
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("%w: %q is not a boolean", units.ErrInvalidArgument, key)
		}
		return b, nil
	default:
		return false, fmt.Errorf("%w: %q has type %T", units.ErrInvalidArgument, key, raw)
	}
}
