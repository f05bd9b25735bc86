package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeTempConfig(t, "{}\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}

	if cfg.WriteBuffer.MaxSize != 1000 {
		t.Errorf("WriteBuffer.MaxSize = %d, want 1000", cfg.WriteBuffer.MaxSize)
	}
	if cfg.WriteBuffer.FlushInterval != 5000 {
		t.Errorf("WriteBuffer.FlushInterval = %d, want 5000", cfg.WriteBuffer.FlushInterval)
	}
	if cfg.Cache.MaxSize != 10000 {
		t.Errorf("Cache.MaxSize = %d, want 10000", cfg.Cache.MaxSize)
	}
	if cfg.Cache.TTL != 3600000 {
		t.Errorf("Cache.TTL = %d, want 3600000", cfg.Cache.TTL)
	}
	if cfg.MQTT.QoS != 1 {
		t.Errorf("MQTT.QoS = %d, want 1", cfg.MQTT.QoS)
	}
	if len(cfg.MQTT.Topics) != 2 {
		t.Errorf("MQTT.Topics = %v, want two default patterns", cfg.MQTT.Topics)
	}
}

func TestLoadFileValues(t *testing.T) {
	path := writeTempConfig(t, `
mqtt:
  url: tcp://broker.example:1883
  topics:
    - FamilyB/#
  qos: 2
write_buffer:
  max_size: 50
  flush_interval: 100
message_relay:
  enabled: true
  topic_prefix: new
  patterns:
    FamilyB: new/${gatewayId}/data
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}

	if cfg.MQTT.URL != "tcp://broker.example:1883" {
		t.Errorf("MQTT.URL = %q", cfg.MQTT.URL)
	}
	if cfg.MQTT.QoS != 2 {
		t.Errorf("MQTT.QoS = %d, want 2", cfg.MQTT.QoS)
	}
	if cfg.WriteBuffer.MaxSize != 50 {
		t.Errorf("WriteBuffer.MaxSize = %d, want 50", cfg.WriteBuffer.MaxSize)
	}
	if got := cfg.Relay.Patterns["FamilyB"]; got != "new/${gatewayId}/data" {
		t.Errorf("Relay.Patterns[FamilyB] = %q", got)
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, "{}\n")

	t.Setenv("MQTT_URL", "tcp://override:1883")
	t.Setenv("PORT", "9090")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}

	if cfg.MQTT.URL != "tcp://override:1883" {
		t.Errorf("MQTT.URL = %q, want env override", cfg.MQTT.URL)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{
			name:    "bad qos",
			mutate:  func(c *Config) { c.MQTT.QoS = 7 },
			wantSub: "mqtt.qos",
		},
		{
			name:    "no topics",
			mutate:  func(c *Config) { c.MQTT.Topics = nil },
			wantSub: "mqtt.topics",
		},
		{
			name:    "relay enabled without patterns",
			mutate:  func(c *Config) { c.Relay.Enabled = true; c.Relay.Patterns = nil },
			wantSub: "message_relay.patterns",
		},
		{
			name:    "zero buffer size",
			mutate:  func(c *Config) { c.WriteBuffer.MaxSize = 0 },
			wantSub: "write_buffer.max_size",
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantSub: "server.port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("Validate() error %q missing %q", err, tt.wantSub)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Load() expected error for missing file")
	}
}
