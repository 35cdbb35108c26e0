// Package logging provides structured logging for the Rinnai bridge.
//
// It wraps log/slog. Records are JSON by default, text on request, and
// always carry service and version fields.
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	engineLog := logger.Component("engine")
//	engineLog.Info("poll complete", "devices", 2)
//
// Never log the cloud password, Cognito tokens, the GraphQL API key or
// broker credentials.
package logging
