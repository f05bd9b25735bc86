// Package mqtt wraps paho.mqtt.golang for gateway telemetry ingest and
// relay output.
//
// The client tolerates a failed initial connection: it runs in a
// degraded mode while the transport retries, tracks subscriptions made
// while disconnected, and replays every subscription on reconnect. A
// retained status message plus LWT on rackwise/system/status lets
// downstream consumers observe service liveness.
package mqtt
