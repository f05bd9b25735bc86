// Package config loads and validates Rackwise Core configuration.
//
// Configuration is layered: hardcoded defaults, then a YAML file, then
// environment variable overrides (RACKWISE_* plus a few conventional
// aliases like MQTT_URL and PORT). Load returns a fully validated
// Config; an invalid configuration is fatal at startup.
package config
