// Package transport defines the messaging contract the bridges depend on.
//
// A transport delivers whole messages on named topics. Delivery is
// at-least-once at best: messages may be duplicated or lost across
// reconnects, so subscribers must apply them idempotently. Handlers run on
// the client library's goroutines and must not block.
package transport

import (
	"context"
	"strings"
)

// Handler receives the payload of one message.
type Handler func(ctx context.Context, data []byte)

// Publisher sends payloads to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, data []byte) error
}

// Subscription is an active subscription.
type Subscription interface {
	Unsubscribe() error
}

// Subscriber registers handlers for a topic.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error)
}

// Transport is a connected publish/subscribe client.
type Transport interface {
	Publisher
	Subscriber
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
	IsHealthy() bool
}

// Kind names a transport implementation in configuration.
type Kind string

const (
	// KindNATS selects natsclient.
	KindNATS Kind = "nats"
	// KindMQTT selects mqttclient.
	KindMQTT Kind = "mqtt"
)

// MQTTTopic converts a dotted topic ("plc.input") to the slash-separated
// form MQTT brokers expect ("plc/input"). Topics that already contain a
// slash are returned unchanged.
func MQTTTopic(topic string) string {
	if strings.Contains(topic, "/") {
		return topic
	}
	return strings.ReplaceAll(topic, ".", "/")
}
