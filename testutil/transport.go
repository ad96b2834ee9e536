package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/c360/semstreams-plc/errors"
	"github.com/c360/semstreams-plc/transport"
)

// FakeTransport is an in-memory transport.Transport. Publish records the
// payload and delivers it synchronously to every subscriber of the topic.
// Thread-safe for concurrent use from multiple goroutines.
type FakeTransport struct {
	mu         sync.RWMutex
	messages   map[string][][]byte
	subs       map[string]map[int]transport.Handler
	nextID     int
	connected  bool
	closed     bool
	publishErr error
	failNext   int
}

var _ transport.Transport = (*FakeTransport)(nil)

// NewFakeTransport returns a connected fake.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		messages:  make(map[string][][]byte),
		subs:      make(map[string]map[int]transport.Handler),
		connected: true,
	}
}

// Connect marks the fake connected.
func (f *FakeTransport) Connect(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("client is closed")
	}
	f.connected = true
	return nil
}

// Close drops all subscriptions.
func (f *FakeTransport) Close(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.connected = false
	f.subs = make(map[string]map[int]transport.Handler)
	return nil
}

// IsHealthy reports whether the fake is connected.
func (f *FakeTransport) IsHealthy() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected
}

// SetConnected simulates losing or regaining the broker. Publishes fail
// with errors.ErrTransportDisconnected while disconnected.
func (f *FakeTransport) SetConnected(up bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = up
}

// FailPublishes makes the next n publishes fail with err.
func (f *FakeTransport) FailPublishes(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = n
	f.publishErr = err
}

// Publish records data and delivers it to subscribers of topic.
func (f *FakeTransport) Publish(ctx context.Context, topic string, data []byte) error {
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return fmt.Errorf("%w: fake transport offline", errors.ErrTransportDisconnected)
	}
	if f.failNext > 0 {
		f.failNext--
		err := f.publishErr
		f.mu.Unlock()
		return err
	}

	payload := append([]byte(nil), data...)
	f.messages[topic] = append(f.messages[topic], payload)

	handlers := make([]transport.Handler, 0, len(f.subs[topic]))
	for _, h := range f.subs[topic] {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()

	// Handlers run outside the lock so they may publish.
	for _, h := range handlers {
		h(ctx, payload)
	}
	return nil
}

type fakeSubscription struct {
	f     *FakeTransport
	topic string
	id    int
}

func (s *fakeSubscription) Unsubscribe() error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	delete(s.f.subs[s.topic], s.id)
	return nil
}

// Subscribe registers handler for topic.
func (f *FakeTransport) Subscribe(ctx context.Context, topic string, handler transport.Handler) (transport.Subscription, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.connected {
		return nil, fmt.Errorf("%w: fake transport offline", errors.ErrTransportDisconnected)
	}
	if f.subs[topic] == nil {
		f.subs[topic] = make(map[int]transport.Handler)
	}
	f.nextID++
	f.subs[topic][f.nextID] = handler
	return &fakeSubscription{f: f, topic: topic, id: f.nextID}, nil
}

// Subscribers returns the number of active subscriptions on topic.
func (f *FakeTransport) Subscribers(topic string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs[topic])
}

// Messages returns a copy of every payload published on topic.
func (f *FakeTransport) Messages(topic string) [][]byte {
	f.mu.RLock()
	defer f.mu.RUnlock()

	msgs := f.messages[topic]
	if msgs == nil {
		return nil
	}
	out := make([][]byte, len(msgs))
	copy(out, msgs)
	return out
}

// MessageCount returns the number of payloads published on topic.
func (f *FakeTransport) MessageCount(topic string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.messages[topic])
}

// Clear forgets every recorded message.
func (f *FakeTransport) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = make(map[string][][]byte)
}

// WaitForMessageCount waits until topic has at least count messages and
// returns the latest.
func WaitForMessageCount(t testing.TB, f *FakeTransport, topic string, count int, timeout time.Duration) []byte {
	t.Helper()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline.C:
			t.Fatalf("timeout waiting for %d messages on %s, got %d", count, topic, f.MessageCount(topic))
			return nil
		case <-ticker.C:
			if msgs := f.Messages(topic); len(msgs) >= count {
				return msgs[len(msgs)-1]
			}
		}
	}
}
