// Package config handles loading and validating the Rinnai bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with RINNAI_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - The cloud password, MQTT password and InfluxDB token should be set via
//     environment variables
//   - The config file should have restricted permissions (0600)
//   - Types holding secrets redact them in String and JSON output
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	pref, err := cfg.Preference()
package config
