package mqtt

import (
	"fmt"
)

// Subscribe registers a handler for a topic pattern with standard MQTT
// wildcards: + matches one segment, # matches the remainder.
//
// Subscribing while disconnected is not an error: the pattern is
// tracked, a warning is logged, and the subscription is established
// when the connection comes up.
//
// Returns:
//   - error: nil on success or deferred subscription; ErrInvalidTopic,
//     ErrInvalidQoS, or ErrSubscribeFailed otherwise
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	c.subMu.Lock()
	sub := &subscription{topic: topic, qos: qos, handler: handler}
	c.subscriptions[topic] = sub
	c.subMu.Unlock()

	if !c.IsConnected() {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("subscribing while disconnected, deferred until reconnect",
				"topic", topic)
		}
		return nil
	}

	token := c.client.Subscribe(topic, qos, c.wrapHandler(handler))
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	c.subMu.Lock()
	sub.active = true
	c.subMu.Unlock()
	return nil
}

// Unsubscribe removes a subscription.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}

	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()

	if !c.IsConnected() {
		return nil
	}

	token := c.client.Unsubscribe(topic)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrUnsubscribeFailed, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}
	return nil
}

// SubscriptionCount returns the number of tracked subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return len(c.subscriptions)
}

// HasSubscription reports whether the exact pattern is tracked.
func (c *Client) HasSubscription(topic string) bool {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	_, exists := c.subscriptions[topic]
	return exists
}
