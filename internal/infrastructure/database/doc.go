// Package database provides the SQLite connection for the sensor
// history store: pragmas tuned for a single-writer workload, embedded
// schema migrations, and health checks for the stats surface.
package database
