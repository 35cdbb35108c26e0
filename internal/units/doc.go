// Package units converts temperatures between the Rinnai cloud's native
// representation and the Celsius values exposed locally.
//
// The water heater firmware steps setpoints in whole degrees Fahrenheit below
// 120°F and in 5°F increments from 120°F upward. Setpoints written back to
// the cloud must follow the same stepping or the controller silently moves
// them on write.
//
// # Usage
//
//	pref, _ := units.NewPreference("F", 100, 140)
//	v, err := units.QuantizeSetpoint(50, pref) // 50°C → 120°F
//
// All functions are pure and safe for concurrent use.
package units
