// Package api implements the local HTTP REST API and WebSocket stream.
//
// This package provides:
//   - Read endpoints for devices, registry statistics and bridge health
//   - Setpoint, recirculation and maintenance commands, executed through
//     the same dispatcher as MQTT commands
//   - A manual poll trigger that shares the global poll throttle
//   - A WebSocket hub that pushes device state after every poll and command
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Endpoints
//
//	GET  /api/v1/health
//	GET  /api/v1/stats
//	POST /api/v1/poll
//	GET  /api/v1/devices
//	GET  /api/v1/devices/{id}
//	PUT  /api/v1/devices/{id}/temperature     {"temperature": 48.5}
//	PUT  /api/v1/devices/{id}/recirculation   {"enabled": true}
//	POST /api/v1/devices/{id}/maintenance
//	GET  /api/v1/ws?channels=device.state_changed,device.removed
//
// Temperatures are always °C; the display unit is reported per device.
//
// # Security
//
// The API has no authentication and is meant to listen on a trusted LAN
// or loopback address.
package api
