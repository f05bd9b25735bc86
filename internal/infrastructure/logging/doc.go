// Package logging provides structured logging for Rackwise Core.
//
// It wraps the standard library's log/slog with configuration-driven
// handler selection (JSON or text), level filtering, and default
// service/version attributes attached to every record.
//
// # Usage
//
//	log := logging.New(cfg.Logging, version)
//	log.Info("pipeline started", "workers", 4)
//
//	decodeLog := log.With("component", "decode")
//	decodeLog.Warn("frame truncated", "topic", topic)
//
// Use logging.Default() only during early startup, before the
// configuration file has been loaded.
package logging
