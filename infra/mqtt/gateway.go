// Package mqtt is the rider-facing transport. Rider apps announce presence
// and send accept/status intents on shared control topics; the gateway
// answers on per-session event topics and room broadcast topics.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/Jammarkeun/PawfectFinds/core/directory"
	"github.com/Jammarkeun/PawfectFinds/core/model"
	"github.com/Jammarkeun/PawfectFinds/infra/logger"
)

// Control topics published by rider apps.
const (
	TopicOnline  = "riders/online"
	TopicOffline = "riders/offline"
	TopicAccept  = "riders/accept"
	TopicStatus  = "riders/status"
)

// EventTopic names the per-session topic a rider device listens on.
func EventTopic(riderID, sessionID string) string {
	return fmt.Sprintf("riders/%s/%s/events", riderID, sessionID)
}

// RoomTopic names the broadcast topic for a room.
func RoomTopic(room string) string {
	return fmt.Sprintf("rooms/%s/events", room)
}

// Envelope wraps every outbound event.
type Envelope struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// Dispatcher is the coordinator surface the gateway drives. Satisfied by
// *dispatch.Coordinator.
type Dispatcher interface {
	RiderOnline(ctx context.Context, riderID string, ch directory.Channel) error
	ChannelClosed(ctx context.Context, channelID string)
	Accept(ctx context.Context, riderID, orderID string) (model.Delivery, error)
	AdvanceStatus(ctx context.Context, riderID, deliveryID string, status model.DeliveryStatus, notes string) (model.Delivery, error)
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// Gateway bridges rider MQTT traffic and the dispatch coordinator. It also
// implements notify.RoomPublisher over room topics.
type Gateway struct {
	cli  pahoClient
	disp Dispatcher
	log  logger.Logger
	qos  map[string]byte

	mu         sync.Mutex
	maxRetries int
	backoff    time.Duration
}

// NewGateway connects to the broker and subscribes to the rider control
// topics.
func NewGateway(cfg Config, disp Dispatcher) (*Gateway, error) {
	if disp == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	cfg.SetDefaults()
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	log := logger.New("mqtt_gateway")
	gw := &Gateway{
		disp:       disp,
		log:        log,
		qos:        cfg.QoS,
		maxRetries: cfg.MaxRetries,
		backoff:    time.Duration(cfg.BackoffMS) * time.Millisecond,
	}

	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected")
		qos := gw.qosFor("control")
		subs := map[string]paho.MessageHandler{
			TopicOnline:  gw.onOnline,
			TopicOffline: gw.onOffline,
			TopicAccept:  gw.onAccept,
			TopicStatus:  gw.onStatus,
		}
		for topic, handler := range subs {
			if token := c.Subscribe(topic, qos, handler); token.Wait() && token.Error() != nil {
				log.Errorf("subscribe %s error: %v", topic, token.Error())
			}
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}

	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	gw.cli = c
	return gw, nil
}

// NewPublisher connects a publish-only gateway. It subscribes to nothing
// and serves tooling that broadcasts into rooms from outside the service.
func NewPublisher(cfg Config) (*Gateway, error) {
	cfg.SetDefaults()
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	gw := &Gateway{
		log:        logger.New("mqtt_publisher"),
		qos:        cfg.QoS,
		maxRetries: cfg.MaxRetries,
		backoff:    time.Duration(cfg.BackoffMS) * time.Millisecond,
	}
	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	gw.cli = c
	return gw, nil
}

func (g *Gateway) qosFor(kind string) byte {
	if q, ok := g.qos[kind]; ok {
		return q
	}
	return 0
}

func channelID(riderID, sessionID string) string {
	return riderID + "/" + sessionID
}

type presenceMsg struct {
	RiderID   string `json:"rider_id"`
	SessionID string `json:"session_id"`
}

func (g *Gateway) onOnline(_ paho.Client, msg paho.Message) {
	var m presenceMsg
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		g.log.Errorf("failed to decode online message: %v", err)
		return
	}
	if m.RiderID == "" || m.SessionID == "" {
		g.log.Warnf("online message missing rider_id or session_id")
		return
	}
	ch := &riderChannel{gw: g, riderID: m.RiderID, sessionID: m.SessionID}
	if err := g.disp.RiderOnline(context.Background(), m.RiderID, ch); err != nil {
		g.log.Errorf("rider %s online failed: %v", m.RiderID, err)
	}
}

func (g *Gateway) onOffline(_ paho.Client, msg paho.Message) {
	var m presenceMsg
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		g.log.Errorf("failed to decode offline message: %v", err)
		return
	}
	if m.RiderID == "" || m.SessionID == "" {
		return
	}
	g.disp.ChannelClosed(context.Background(), channelID(m.RiderID, m.SessionID))
}

func (g *Gateway) onAccept(_ paho.Client, msg paho.Message) {
	var m struct {
		RiderID string `json:"rider_id"`
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		g.log.Errorf("failed to decode accept message: %v", err)
		return
	}
	// Losing riders are informed over their event channel; the error here
	// is only for operators.
	if _, err := g.disp.Accept(context.Background(), m.RiderID, m.OrderID); err != nil {
		g.log.Debugf("accept by %s for %s rejected: %v", m.RiderID, m.OrderID, err)
	}
}

func (g *Gateway) onStatus(_ paho.Client, msg paho.Message) {
	var m struct {
		RiderID    string `json:"rider_id"`
		DeliveryID string `json:"delivery_id"`
		Status     string `json:"status"`
		Notes      string `json:"notes"`
	}
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		g.log.Errorf("failed to decode status message: %v", err)
		return
	}
	if _, err := g.disp.AdvanceStatus(context.Background(), m.RiderID, m.DeliveryID, model.DeliveryStatus(m.Status), m.Notes); err != nil {
		g.log.Warnf("status update %s -> %s by %s rejected: %v", m.DeliveryID, m.Status, m.RiderID, err)
	}
}

func (g *Gateway) publish(topic string, qos byte, payload []byte) error {
	g.mu.Lock()
	retries, backoff := g.maxRetries, g.backoff
	g.mu.Unlock()
	if retries <= 0 {
		retries = 3
	}
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	var publishErr error
	for attempt := 0; attempt <= retries; attempt++ {
		token := g.cli.Publish(topic, qos, false, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			return nil
		}
		g.log.Errorf("publish attempt %d to %s failed: %v", attempt+1, topic, publishErr)
		time.Sleep(backoff * time.Duration(1<<attempt))
	}
	return publishErr
}

// PublishRoom broadcasts an event on the room's topic.
func (g *Gateway) PublishRoom(room, event string, payload any) error {
	body, err := json.Marshal(Envelope{Event: event, Payload: payload})
	if err != nil {
		return err
	}
	return g.publish(RoomTopic(room), g.qosFor("events"), body)
}

// Disconnect gracefully closes the MQTT connection.
func (g *Gateway) Disconnect() {
	if g.cli != nil && g.cli.IsConnected() {
		g.cli.Disconnect(250)
	}
}

// riderChannel delivers events to one rider device session.
type riderChannel struct {
	gw        *Gateway
	riderID   string
	sessionID string
}

func (c *riderChannel) ID() string {
	return channelID(c.riderID, c.sessionID)
}

func (c *riderChannel) Send(event string, payload any) error {
	body, err := json.Marshal(Envelope{Event: event, Payload: payload})
	if err != nil {
		return err
	}
	return c.gw.publish(EventTopic(c.riderID, c.sessionID), c.gw.qosFor("events"), body)
}
