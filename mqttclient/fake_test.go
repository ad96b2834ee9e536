package mqttclient

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type fakeToken struct {
	err  error
	done chan struct{}
}

func newToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeBroker is an in-process mqtt.Client. Publishes are recorded and
// delivered to matching subscriptions.
type fakeBroker struct {
	mu          sync.Mutex
	opts        *mqtt.ClientOptions
	connected   bool
	connectErr  error
	publishErr  error
	subs        map[string]mqtt.MessageHandler
	subscribes  []string
	published   []published
	disconnects int
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{subs: make(map[string]mqtt.MessageHandler)}
}

func (f *fakeBroker) factory(opts *mqtt.ClientOptions) mqtt.Client {
	f.mu.Lock()
	f.opts = opts
	f.mu.Unlock()
	return f
}

func (f *fakeBroker) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeBroker) IsConnectionOpen() bool { return f.IsConnected() }

func (f *fakeBroker) Connect() mqtt.Token {
	f.mu.Lock()
	if f.connectErr != nil {
		err := f.connectErr
		f.mu.Unlock()
		return newToken(err)
	}
	f.connected = true
	onConnect := f.opts.OnConnect
	f.mu.Unlock()

	if onConnect != nil {
		onConnect(f)
	}
	return newToken(nil)
}

func (f *fakeBroker) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnects++
}

func (f *fakeBroker) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	if f.publishErr != nil {
		err := f.publishErr
		f.mu.Unlock()
		return newToken(err)
	}
	data := payload.([]byte)
	f.published = append(f.published, published{topic: topic, qos: qos, retained: retained, payload: data})
	handler := f.subs[topic]
	f.mu.Unlock()

	if handler != nil {
		handler(f, &fakeMessage{topic: topic, payload: data})
	}
	return newToken(nil)
}

func (f *fakeBroker) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[topic] = callback
	f.subscribes = append(f.subscribes, topic)
	return newToken(nil)
}

func (f *fakeBroker) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	for topic, qos := range filters {
		f.Subscribe(topic, qos, callback)
	}
	return newToken(nil)
}

func (f *fakeBroker) Unsubscribe(topics ...string) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, topic := range topics {
		delete(f.subs, topic)
	}
	return newToken(nil)
}

func (f *fakeBroker) AddRoute(topic string, callback mqtt.MessageHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[topic] = callback
}

func (f *fakeBroker) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

// dropAndRestore simulates a broker restart that loses session state.
func (f *fakeBroker) dropAndRestore() {
	f.mu.Lock()
	f.connected = false
	f.subs = make(map[string]mqtt.MessageHandler)
	lost := f.opts.OnConnectionLost
	f.mu.Unlock()

	if lost != nil {
		lost(f, errBrokerGone)
	}

	f.mu.Lock()
	f.connected = true
	onConnect := f.opts.OnConnect
	f.mu.Unlock()
	onConnect(f)
}

func (f *fakeBroker) subscribeCount(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.subscribes {
		if s == topic {
			n++
		}
	}
	return n
}

func (f *fakeBroker) publishedMessages() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.published...)
}
