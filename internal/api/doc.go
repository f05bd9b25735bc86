// Package api provides the HTTP REST API and WebSocket server for
// Rackwise Core. It exposes device reads backed by the latest-record
// cache and the SQLite history store, state change logs, aggregated
// runtime stats, and a WebSocket feed carrying every canonical record.
//
// The server follows the same lifecycle pattern as the other
// infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
