// Package metrics emits bridge counters and gauges to a DogStatsD agent.
//
// A nil *Recorder is valid and discards everything, so callers never need
// to check whether metrics are enabled.
//
// Metric names (before the configured namespace):
//
//	poll.success            counter
//	poll.failure            counter, tagged kind:<auth|transport|malformed|empty|internal>
//	poll.devices            gauge
//	command.sent            counter, tagged command:<name>
//	command.failure         counter, tagged command:<name> and kind:<network|rejected|...>
//	device.target_temperature   gauge °C, tagged device_id and name
//	device.outlet_temperature   gauge °C
//	device.running              gauge 0/1
//	device.recirculation        gauge 0/1
package metrics
