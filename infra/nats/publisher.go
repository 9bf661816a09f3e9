// Package nats publishes room broadcasts on NATS subjects so seller and
// admin dashboards can subscribe without joining the rider MQTT broker.
package nats

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
)

// SubjectPrefix is prepended to every room subject.
const SubjectPrefix = "pawfect.rooms"

type envelope struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// RoomPublisher implements notify.RoomPublisher over core NATS.
type RoomPublisher struct {
	conn *nats.Conn
}

// NewRoomPublisher connects to the NATS server.
func NewRoomPublisher(url string) (*RoomPublisher, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &RoomPublisher{conn: conn}, nil
}

// PublishRoom sends the event on the room's subject. Room names may contain
// dots; they map directly onto subject tokens.
func (p *RoomPublisher) PublishRoom(room, event string, payload any) error {
	body, err := json.Marshal(envelope{Event: event, Payload: payload})
	if err != nil {
		return err
	}
	return p.conn.Publish(Subject(room), body)
}

// Subject returns the NATS subject for a room.
func Subject(room string) string {
	return SubjectPrefix + "." + strings.ReplaceAll(room, " ", "_")
}

// Close drains the connection.
func (p *RoomPublisher) Close() error {
	p.conn.Close()
	return nil
}
