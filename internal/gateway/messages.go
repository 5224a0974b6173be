package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/parleyhq/parley-relay/internal/room"
)

// EventType names the events of the persistent-connection protocol.
type EventType string

const (
	// Client to server.
	EventJoinRoom EventType = "join-room"
	EventMessage  EventType = "message"

	// Server to client, room-scoped.
	EventUserConnected    EventType = "user-connected"
	EventUserDisconnected EventType = "user-disconnected"
	EventCreateMessage    EventType = "create-message"
	EventError            EventType = "error"
)

// wireEvent is the JSON envelope for every protocol event. Which fields are
// set depends on Type; parseClientEvent enforces that for inbound events.
type wireEvent struct {
	Type EventType `json:"type"`

	RoomID   string `json:"roomId,omitempty"`
	UserID   string `json:"userId,omitempty"`
	UserName string `json:"userName,omitempty"`

	Message *room.Event `json:"message,omitempty"`

	Code   string `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func errorEvent(code, reason string) wireEvent {
	return wireEvent{Type: EventError, Code: code, Reason: reason}
}

func parseClientEvent(data []byte) (wireEvent, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var ev wireEvent
	if err := dec.Decode(&ev); err != nil {
		return wireEvent{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return wireEvent{}, fmt.Errorf("unexpected trailing data")
	}
	if err := ev.validateClient(); err != nil {
		return wireEvent{}, err
	}
	return ev, nil
}

func (ev wireEvent) validateClient() error {
	switch ev.Type {
	case EventJoinRoom:
		if ev.RoomID == "" || ev.UserID == "" || ev.UserName == "" {
			return fmt.Errorf("join-room requires roomId, userId and userName")
		}
		if ev.Message != nil || ev.Code != "" || ev.Reason != "" {
			return fmt.Errorf("join-room has unexpected fields")
		}
	case EventMessage:
		if ev.Message == nil {
			return fmt.Errorf("message event missing message payload")
		}
		if ev.Message.Body == "" {
			return fmt.Errorf("message payload missing body")
		}
		if ev.RoomID != "" || ev.UserID != "" || ev.UserName != "" || ev.Code != "" || ev.Reason != "" {
			return fmt.Errorf("message has unexpected fields")
		}
	default:
		return fmt.Errorf("unexpected client event type %q", ev.Type)
	}
	return nil
}
