// Package gateway relays join/leave/message events among the participants of
// a room over persistent WebSocket connections, mirroring every relayed chat
// event into the room's bounded history.
package gateway

import (
	"log/slog"
	"sync"
	"time"

	"github.com/parleyhq/parley-relay/internal/metrics"
	"github.com/parleyhq/parley-relay/internal/room"
)

// Hub tracks which connections are members of which room and fans events out
// to them.
//
// A single mutex serializes all membership changes and broadcasts, so for any
// room the order of events appended to its history is exactly the order
// broadcast to its members.
type Hub struct {
	log     *slog.Logger
	rooms   *room.Registry
	metrics *metrics.Metrics

	// now is replaceable so tests get deterministic event timestamps.
	now func() time.Time

	mu      sync.Mutex
	members map[string]map[*client]struct{}
}

func NewHub(log *slog.Logger, rooms *room.Registry, m *metrics.Metrics) *Hub {
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Hub{
		log:     log,
		rooms:   rooms,
		metrics: m,
		now:     time.Now,
		members: make(map[string]map[*client]struct{}),
	}
}

// join subscribes c to roomID, announces the new participant to the room's
// other members, and broadcasts + records the synthesized join notice.
func (h *Hub) join(c *client, roomID, userID, userName string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.rooms.Exists(roomID) {
		return room.ErrNotFound
	}

	set := h.members[roomID]
	if set == nil {
		set = make(map[*client]struct{})
		h.members[roomID] = set
	}

	// Presence signal for the media layer: existing members initiate their
	// peer connection toward the new user id. Carries no chat content.
	for member := range set {
		member.enqueue(wireEvent{Type: EventUserConnected, UserID: userID})
	}

	set[c] = struct{}{}
	c.roomID = roomID
	c.userID = userID
	c.userName = userName
	c.joined = true

	notice := room.JoinNotice(userName, h.now())
	for member := range set {
		member.enqueue(wireEvent{Type: EventCreateMessage, Message: &notice})
	}
	if err := h.rooms.Append(roomID, notice); err != nil {
		// Rooms are never deleted, so this only fires on a registry bug.
		h.log.Error("append join notice", "room_id", roomID, "err", err)
	}

	h.metrics.Inc(metrics.RoomJoins)
	h.log.Info("participant joined", "room_id", roomID, "user_id", userID, "conn_id", c.id)
	return nil
}

// message stamps a user chat message and relays it to every member of c's
// room, including c.
func (h *Hub) message(c *client, sender, body string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ev := room.Event{
		Sender:  sender,
		Body:    body,
		Date:    room.Stamp(h.now()),
		Control: room.ControlMessage,
	}
	for member := range h.members[c.roomID] {
		member.enqueue(wireEvent{Type: EventCreateMessage, Message: &ev})
	}
	if err := h.rooms.Append(c.roomID, ev); err != nil {
		h.log.Error("append chat message", "room_id", c.roomID, "err", err)
	}

	h.metrics.Inc(metrics.ChatMessages)
}

// leave unsubscribes c and, if it was in a room, announces the departure and
// broadcasts + records the synthesized leave notice to the remaining members.
func (h *Hub) leave(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !c.joined {
		return
	}

	set := h.members[c.roomID]
	delete(set, c)
	if len(set) == 0 {
		delete(h.members, c.roomID)
		set = nil
	}

	for member := range set {
		member.enqueue(wireEvent{Type: EventUserDisconnected, UserID: c.userID})
	}

	notice := room.LeaveNotice(c.userName, h.now())
	for member := range set {
		member.enqueue(wireEvent{Type: EventCreateMessage, Message: &notice})
	}
	if err := h.rooms.Append(c.roomID, notice); err != nil {
		h.log.Error("append leave notice", "room_id", c.roomID, "err", err)
	}

	h.metrics.Inc(metrics.RoomLeaves)
	h.log.Info("participant left", "room_id", c.roomID, "user_id", c.userID, "conn_id", c.id)
}
