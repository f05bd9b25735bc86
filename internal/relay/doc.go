// Package relay rewrites processed records back onto derived MQTT
// topics for downstream consumers. Rules come from configuration as
// {category -> targetTemplate} pairs; self-generated topics are
// suppressed at ingest.
package relay
