// Package influxdb provides the optional numeric telemetry sink:
// temperature, humidity and noise readings written as batched points
// alongside the SQLite history store.
package influxdb
