package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/Jammarkeun/PawfectFinds/core/directory"
	"github.com/Jammarkeun/PawfectFinds/core/model"
)

// mockClient implements pahoClient for tests
type mockClient struct {
	opts       *paho.ClientOptions
	subscribed []struct {
		topic string
		qos   byte
	}
	handlers  map[string]paho.MessageHandler
	published []struct {
		topic   string
		qos     byte
		payload []byte
	}
	publishErrs []error
}

func (m *mockClient) IsConnected() bool { return true }
func (m *mockClient) Connect() paho.Token {
	if m.opts != nil && m.opts.OnConnect != nil {
		m.opts.OnConnect(m)
	}
	return &dummyToken{}
}
func (m *mockClient) Disconnect(uint) {}
func (m *mockClient) Publish(topic string, qos byte, _ bool, payload interface{}) paho.Token {
	m.published = append(m.published, struct {
		topic   string
		qos     byte
		payload []byte
	}{topic, qos, payload.([]byte)})
	if len(m.publishErrs) > 0 {
		err := m.publishErrs[0]
		m.publishErrs = m.publishErrs[1:]
		return &dummyToken{err: err}
	}
	return &dummyToken{}
}
func (m *mockClient) Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token {
	m.subscribed = append(m.subscribed, struct {
		topic string
		qos   byte
	}{topic, qos})
	if m.handlers == nil {
		m.handlers = make(map[string]paho.MessageHandler)
	}
	m.handlers[topic] = callback
	return &dummyToken{}
}
func (m *mockClient) SubscribeMultiple(map[string]byte, paho.MessageHandler) paho.Token {
	return &dummyToken{}
}
func (m *mockClient) Unsubscribe(...string) paho.Token        { return &dummyToken{} }
func (m *mockClient) AddRoute(string, paho.MessageHandler)    {}
func (m *mockClient) OptionsReader() paho.ClientOptionsReader { return paho.ClientOptionsReader{} }
func (m *mockClient) IsConnectionOpen() bool                  { return true }

type dummyToken struct{ err error }

func (d dummyToken) Wait() bool                     { return true }
func (d dummyToken) WaitTimeout(time.Duration) bool { return true }
func (d dummyToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (d dummyToken) Error() error                   { return d.err }

type mockMessage struct{ p []byte }

func (m mockMessage) Duplicate() bool   { return false }
func (m mockMessage) Qos() byte         { return 0 }
func (m mockMessage) Retained() bool    { return false }
func (m mockMessage) Topic() string     { return "" }
func (m mockMessage) MessageID() uint16 { return 0 }
func (m mockMessage) Payload() []byte   { return m.p }
func (m mockMessage) Ack()              {}

type dispCall struct {
	method string
	args   []string
}

type mockDispatcher struct {
	calls    []dispCall
	channels []directory.Channel
}

func (d *mockDispatcher) RiderOnline(_ context.Context, riderID string, ch directory.Channel) error {
	d.calls = append(d.calls, dispCall{"online", []string{riderID, ch.ID()}})
	d.channels = append(d.channels, ch)
	return nil
}

func (d *mockDispatcher) ChannelClosed(_ context.Context, channelID string) {
	d.calls = append(d.calls, dispCall{"closed", []string{channelID}})
}

func (d *mockDispatcher) Accept(_ context.Context, riderID, orderID string) (model.Delivery, error) {
	d.calls = append(d.calls, dispCall{"accept", []string{riderID, orderID}})
	return model.Delivery{}, nil
}

func (d *mockDispatcher) AdvanceStatus(_ context.Context, riderID, deliveryID string, status model.DeliveryStatus, notes string) (model.Delivery, error) {
	d.calls = append(d.calls, dispCall{"status", []string{riderID, deliveryID, string(status), notes}})
	return model.Delivery{}, nil
}

func withMockClient(t *testing.T) *mockClient {
	t.Helper()
	mc := &mockClient{}
	newMQTTClient = func(o *paho.ClientOptions) pahoClient { mc.opts = o; return mc }
	t.Cleanup(func() {
		newMQTTClient = func(opts *paho.ClientOptions) pahoClient { return paho.NewClient(opts) }
	})
	return mc
}

func TestGatewaySubscribesControlTopics(t *testing.T) {
	mc := withMockClient(t)
	disp := &mockDispatcher{}
	cfg := Config{Broker: "tcp://localhost:1883", ClientID: "gw", QoS: map[string]byte{"control": 1}}
	if _, err := NewGateway(cfg, disp); err != nil {
		t.Fatalf("gateway: %v", err)
	}
	if len(mc.subscribed) != 4 {
		t.Fatalf("expected 4 subscriptions, got %d", len(mc.subscribed))
	}
	for _, s := range mc.subscribed {
		if s.qos != 1 {
			t.Fatalf("control qos not applied on %s", s.topic)
		}
	}
}

func TestGatewayOnlineRegistersChannel(t *testing.T) {
	mc := withMockClient(t)
	disp := &mockDispatcher{}
	gw, err := NewGateway(Config{Broker: "tcp://localhost:1883", ClientID: "gw"}, disp)
	if err != nil {
		t.Fatalf("gateway: %v", err)
	}
	_ = gw

	mc.handlers[TopicOnline](nil, mockMessage{[]byte(`{"rider_id":"r1","session_id":"s1"}`)})
	if len(disp.calls) != 1 || disp.calls[0].method != "online" {
		t.Fatalf("unexpected calls: %+v", disp.calls)
	}
	if disp.calls[0].args[1] != "r1/s1" {
		t.Fatalf("unexpected channel id %q", disp.calls[0].args[1])
	}

	// Events addressed to the channel land on the session topic.
	ch := disp.channels[0]
	if err := ch.Send("new_delivery_opportunity", map[string]string{"order_id": "o1"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	last := mc.published[len(mc.published)-1]
	if last.topic != "riders/r1/s1/events" {
		t.Fatalf("unexpected topic %s", last.topic)
	}
	var env Envelope
	if err := json.Unmarshal(last.payload, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Event != "new_delivery_opportunity" {
		t.Fatalf("unexpected event %q", env.Event)
	}
}

func TestGatewayOnlineRejectsIncomplete(t *testing.T) {
	mc := withMockClient(t)
	disp := &mockDispatcher{}
	if _, err := NewGateway(Config{Broker: "tcp://localhost:1883", ClientID: "gw"}, disp); err != nil {
		t.Fatalf("gateway: %v", err)
	}
	mc.handlers[TopicOnline](nil, mockMessage{[]byte(`{"rider_id":"r1"}`)})
	if len(disp.calls) != 0 {
		t.Fatalf("incomplete online message must be dropped")
	}
}

func TestGatewayOfflineClosesChannel(t *testing.T) {
	mc := withMockClient(t)
	disp := &mockDispatcher{}
	if _, err := NewGateway(Config{Broker: "tcp://localhost:1883", ClientID: "gw"}, disp); err != nil {
		t.Fatalf("gateway: %v", err)
	}
	mc.handlers[TopicOffline](nil, mockMessage{[]byte(`{"rider_id":"r1","session_id":"s1"}`)})
	if len(disp.calls) != 1 || disp.calls[0].method != "closed" || disp.calls[0].args[0] != "r1/s1" {
		t.Fatalf("unexpected calls: %+v", disp.calls)
	}
}

func TestGatewayAcceptAndStatus(t *testing.T) {
	mc := withMockClient(t)
	disp := &mockDispatcher{}
	if _, err := NewGateway(Config{Broker: "tcp://localhost:1883", ClientID: "gw"}, disp); err != nil {
		t.Fatalf("gateway: %v", err)
	}
	mc.handlers[TopicAccept](nil, mockMessage{[]byte(`{"rider_id":"r1","order_id":"o1"}`)})
	mc.handlers[TopicStatus](nil, mockMessage{[]byte(`{"rider_id":"r1","delivery_id":"d1","status":"picked_up","notes":"n"}`)})
	if len(disp.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(disp.calls))
	}
	if disp.calls[0].method != "accept" || disp.calls[0].args[1] != "o1" {
		t.Fatalf("unexpected accept call: %+v", disp.calls[0])
	}
	if disp.calls[1].method != "status" || disp.calls[1].args[2] != "picked_up" {
		t.Fatalf("unexpected status call: %+v", disp.calls[1])
	}
}

func TestGatewayPublishRetries(t *testing.T) {
	mc := withMockClient(t)
	mc.publishErrs = []error{fmt.Errorf("net fail"), nil}
	disp := &mockDispatcher{}
	gw, err := NewGateway(Config{Broker: "tcp://localhost:1883", ClientID: "gw", MaxRetries: 1, BackoffMS: 1}, disp)
	if err != nil {
		t.Fatalf("gateway: %v", err)
	}
	if err := gw.PublishRoom("riders", "order_taken", map[string]string{"order_id": "o1"}); err != nil {
		t.Fatalf("publish room: %v", err)
	}
	if len(mc.published) != 2 {
		t.Fatalf("expected retry, got %d publishes", len(mc.published))
	}
	if mc.published[1].topic != "rooms/riders/events" {
		t.Fatalf("unexpected topic %s", mc.published[1].topic)
	}
}

func TestLoadTLSConfigMissingFiles(t *testing.T) {
	cfg := Config{UseTLS: true}
	if _, err := cfg.LoadTLSConfig(); err == nil {
		t.Fatalf("expected error without cert paths")
	}
}

func TestNewClientOptionsAuth(t *testing.T) {
	opts, err := NewClientOptions(Config{Broker: "tcp://localhost:1883", ClientID: "id", Username: "u", Password: "p"})
	if err != nil {
		t.Fatalf("opts: %v", err)
	}
	if opts.Username != "u" || opts.Password != "p" {
		t.Fatalf("auth not set")
	}
}
