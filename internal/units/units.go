package units

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidArgument is returned when a setpoint is not a finite number.
var ErrInvalidArgument = errors.New("units: invalid argument")

// Controller stepping rules (°F) and local display ranges (°C).
const (
	SmallStepF    = 1.0
	BigStepF      = 5.0
	BigStepStartF = 120.0
	TargetStepC   = 0.5
	CurrentMinC   = 0.0
	CurrentMaxC   = 100.0
	CurrentStepC  = 0.5
)

// Unit is the configured display unit.
type Unit string

const (
	Celsius    Unit = "C"
	Fahrenheit Unit = "F"
)

// ParseUnit accepts "C" or "F" (case-insensitive).
func ParseUnit(s string) (Unit, error) {
	switch Unit(strings.ToUpper(strings.TrimSpace(s))) {
	case Celsius:
		return Celsius, nil
	case Fahrenheit:
		return Fahrenheit, nil
	default:
		return "", fmt.Errorf("%w: unknown temperature unit %q", ErrInvalidArgument, s)
	}
}

// Preference is the process-wide unit and setpoint configuration. It is
// built once at startup and passed by value.
type Preference struct {
	Unit Unit

	// Minimum and Maximum bound setpoints, in Unit.
	Minimum float64
	Maximum float64

	// RecirculationDuration is sent verbatim when recirculation is enabled.
	RecirculationDuration int

	// RecirculationOnly hides temperature control.
	RecirculationOnly bool
}

// NewPreference builds a Preference from raw configuration values.
func NewPreference(unit string, minimum, maximum float64) (Preference, error) {
	u, err := ParseUnit(unit)
	if err != nil {
		return Preference{}, err
	}
	if minimum > maximum {
		return Preference{}, fmt.Errorf("%w: minimum %.1f above maximum %.1f", ErrInvalidArgument, minimum, maximum)
	}
	return Preference{Unit: u, Minimum: minimum, Maximum: maximum}, nil
}

// IsFahrenheit reports whether the controller operates in Fahrenheit.
func (p Preference) IsFahrenheit() bool {
	return p.Unit == Fahrenheit
}

// CelsiusToFahrenheit converts °C to °F.
func CelsiusToFahrenheit(c float64) float64 {
	return c*9/5 + 32
}

// FahrenheitToCelsius converts °F to °C.
func FahrenheitToCelsius(f float64) float64 {
	return (f - 32) * 5 / 9
}

// QuantizeSetpoint converts a locally requested setpoint (°C) into the value
// the controller accepts: converted to °F in Fahrenheit mode, stepped to the
// firmware's granularity, then clamped to the configured bounds.
func QuantizeSetpoint(displayCelsius float64, pref Preference) (float64, error) {
	if math.IsNaN(displayCelsius) || math.IsInf(displayCelsius, 0) {
		return 0, fmt.Errorf("%w: setpoint %v", ErrInvalidArgument, displayCelsius)
	}

	v := displayCelsius
	if pref.IsFahrenheit() {
		v = CelsiusToFahrenheit(v)
		if v < BigStepStartF {
			v = roundToStep(v, SmallStepF)
		} else {
			v = roundToStep(v, BigStepF)
		}
	} else {
		v = roundToStep(v, 1)
	}

	v = math.Max(pref.Minimum, v)
	v = math.Min(pref.Maximum, v)
	return v, nil
}

// ControllerToDisplay converts a cloud reading into °C. Zero readings are
// passed through unchanged, matching how the cloud reports absent values.
func ControllerToDisplay(v float64, pref Preference) float64 {
	if pref.IsFahrenheit() && v != 0 {
		return FahrenheitToCelsius(v)
	}
	return v
}

// SetpointToDisplay converts a quantized controller setpoint back to °C.
func SetpointToDisplay(v float64, pref Preference) float64 {
	if pref.IsFahrenheit() {
		return FahrenheitToCelsius(v)
	}
	return v
}

// SetpointRange returns the target temperature slider bounds in °C, widened
// outward to the nearest TargetStepC.
func SetpointRange(pref Preference) (minC, maxC float64) {
	minC, maxC = pref.Minimum, pref.Maximum
	if pref.IsFahrenheit() {
		minC = FahrenheitToCelsius(minC)
		maxC = FahrenheitToCelsius(maxC)
	}
	minC = math.Floor(minC/TargetStepC) * TargetStepC
	maxC = math.Ceil(maxC/TargetStepC) * TargetStepC
	return minC, maxC
}

// roundToStep rounds to the nearest multiple of step, halves upward.
func roundToStep(v, step float64) float64 {
	return math.Floor(v/step+0.5) * step
}
