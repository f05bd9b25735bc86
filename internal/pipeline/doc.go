// Package pipeline wires the ingest path together: raw MQTT frames are
// decoded, mapped to canonical records, annotated with state changes,
// finalized, then fanned out to the cache, write buffer, WebSocket
// clients, HTTP callbacks, telemetry sink and message relay.
package pipeline
