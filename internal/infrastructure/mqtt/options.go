package mqtt

import (
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/rackwise/rackwise-core/internal/infrastructure/config"
)

// Connection constants.
const (
	// connectTimeout bounds the initial connection attempt. On timeout
	// the client runs degraded while paho keeps retrying.
	connectTimeout = 5 * time.Second

	// publishTimeout bounds waiting for publish and subscribe acks.
	publishTimeout = 5 * time.Second

	// disconnectQuiesce is the drain period on disconnect, in ms.
	disconnectQuiesce = 1000

	// keepAlive is the connection keepalive interval.
	keepAlive = 60 * time.Second

	// maxQoS is the highest supported QoS level.
	maxQoS = 2
)

// SystemStatusTopic carries the service online/offline announcements
// and the LWT.
const SystemStatusTopic = "rackwise/system/status"

// buildClientOptions creates paho options from the mqtt config section:
// broker URL, client ID, credentials, and auto-reconnect with backoff.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(cfg.URL)
	opts.SetClientID(cfg.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)

	return opts
}

// configureLWT sets the Last Will so downstream consumers see an
// offline status if the service dies without a graceful shutdown.
func configureLWT(opts *pahomqtt.ClientOptions, clientID string) {
	willPayload := fmt.Sprintf(
		`{"status":"offline","client_id":"%s","reason":"unexpected_disconnect","timestamp":"%s"}`,
		clientID,
		time.Now().UTC().Format(time.RFC3339),
	)
	opts.SetWill(SystemStatusTopic, willPayload, 1, true)
}

func buildOnlinePayload(clientID string) string {
	return fmt.Sprintf(
		`{"status":"online","client_id":"%s","timestamp":"%s"}`,
		clientID,
		time.Now().UTC().Format(time.RFC3339),
	)
}

func buildOfflinePayload(clientID string) string {
	return fmt.Sprintf(
		`{"status":"offline","client_id":"%s","reason":"graceful_shutdown","timestamp":"%s"}`,
		clientID,
		time.Now().UTC().Format(time.RFC3339),
	)
}
