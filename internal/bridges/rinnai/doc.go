// Package rinnai bridges Rinnai Control-R water heaters into the local
// MQTT device model.
//
// The package has three cooperating parts:
//
//   - Engine runs poll cycles. Each cycle gets a session, lists the
//     account's devices and reconciles them into the device registry.
//     All polls go through one global throttle (Poll); Run polls on an
//     interval.
//   - Dispatcher turns local commands into cloud state patches:
//     setpoints (quantized for the controller), recirculation and
//     maintenance-data refreshes. Maintenance refreshes are throttled per
//     device in two tiers chosen by whether the heater is firing.
//   - Bridge exposes devices on MQTT and creates one handler per active
//     device through the registry's handler factory.
//
// # MQTT Topics
//
//	{prefix}/state/{device_id}     retained StateMessage, °C
//	{prefix}/command/{device_id}   CommandMessage
//	{prefix}/ack/{device_id}       AckMessage
//	{prefix}/health                retained HealthMessage, LWT "offline"
//
// Commands:
//
//	set_temperature      {"temperature": 48.5}
//	set_recirculation    {"enabled": true}
//	refresh_maintenance
//	poll
//
// # Failure Handling
//
// A failed poll never changes the registry. A failed command is reported
// in its ack and not retried. A setpoint change updates the local target
// before the cloud confirms it; the next successful poll overwrites it.
package rinnai
