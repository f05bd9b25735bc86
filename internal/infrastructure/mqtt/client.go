package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/rackwise/rackwise-core/internal/infrastructure/config"
)

// MessageHandler is the callback signature for received messages.
// Handlers run in paho goroutines and should not block for long.
type MessageHandler func(topic string, payload []byte) error

// subscription tracks one registered pattern for replay on reconnect.
type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
	active  bool
}

// Logger is the optional logging interface the client reports through.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
}

// Client wraps paho.mqtt.golang for the gateway ingest and relay paths.
//
// A failed initial connection does not abort the host process: Connect
// returns a degraded client and paho keeps retrying in the background.
// Subscriptions registered while disconnected are tracked and replayed
// once the connection comes up.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	client  pahomqtt.Client
	options *pahomqtt.ClientOptions
	cfg     config.MQTTConfig

	subscriptions map[string]*subscription
	subMu         sync.Mutex

	connected bool
	connMu    sync.RWMutex

	onConnect    func()
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Connect builds the client and attempts the initial connection.
//
// The attempt is bounded by connectTimeout (5 s). On timeout the client
// is returned in degraded mode with connected=false; the underlying
// transport keeps retrying and subscriptions replay when it succeeds.
// Only immediate protocol errors (bad URL, auth rejection) fail hard.
//
// Returns:
//   - *Client: Client ready for use, possibly degraded
//   - error: If the broker rejects the connection outright
func Connect(cfg config.MQTTConfig) (*Client, error) {
	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.ClientID)

	c := &Client{
		cfg:           cfg,
		options:       opts,
		subscriptions: make(map[string]*subscription),
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("initial MQTT connection timed out, running degraded",
				"url", cfg.URL, "timeout", connectTimeout)
		}
		return c, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect handler runs asynchronously; set the state here so
	// IsConnected is true as soon as Connect returns.
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	return c, nil
}

// handleConnect runs on initial connect and every reconnect.
func (c *Client) handleConnect() {
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	c.replaySubscriptions()
	c.publishOnlineStatus()

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	c.subMu.Lock()
	for _, sub := range c.subscriptions {
		sub.active = false
	}
	c.subMu.Unlock()

	if logger := c.getLogger(); logger != nil {
		logger.Warn("MQTT connection lost", "error", err)
	}

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// replaySubscriptions re-subscribes every tracked pattern, including
// those registered while the client was disconnected.
func (c *Client) replaySubscriptions() {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	for _, sub := range c.subscriptions {
		token := c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
		if token.WaitTimeout(publishTimeout) && token.Error() == nil {
			sub.active = true
			continue
		}
		if logger := c.getLogger(); logger != nil {
			logger.Warn("replaying subscription failed", "topic", sub.topic, "error", token.Error())
		}
	}
}

// publishOnlineStatus announces the service on the system status topic.
func (c *Client) publishOnlineStatus() {
	c.client.Publish(SystemStatusTopic, byte(c.cfg.QoS), true, buildOnlinePayload(c.cfg.ClientID))
}

// Close publishes the graceful offline status and disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		token := c.client.Publish(SystemStatusTopic, byte(c.cfg.QoS), true,
			buildOfflinePayload(c.cfg.ClientID))
		token.WaitTimeout(publishTimeout)
	}

	c.client.Disconnect(disconnectQuiesce)

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()
	return nil
}

// HealthCheck reports connection liveness for the health endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

// SetOnConnect registers a callback for connect and reconnect events.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect registers a callback for connection loss.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger attaches a logger for handler errors and connection events.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// wrapHandler adds panic recovery and error logging around a handler.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered",
						"topic", msg.Topic(), "panic", r)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error",
					"topic", msg.Topic(), "error", err)
			}
		}
	}
}
