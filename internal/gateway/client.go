package gateway

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parleyhq/parley-relay/internal/metrics"
	"github.com/parleyhq/parley-relay/internal/ratelimit"
	"github.com/parleyhq/parley-relay/internal/room"
)

const writeWait = 10 * time.Second

// client is one participant connection.
//
// Its state machine is Connected (no room) -> InRoom -> Closed. join-room
// transitions to InRoom exactly once; a connection never switches rooms. All
// state transitions run on the connection's read goroutine, so the fields
// below need no locking of their own.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	log  *slog.Logger

	// id is an opaque connection id, distinct from the caller-supplied
	// media-layer user id.
	id string

	limiter *ratelimit.TokenBucket

	// send is drained by writePump; enqueue never blocks the hub on a slow
	// consumer.
	send chan wireEvent

	roomID   string
	userID   string
	userName string
	joined   bool

	leaveOnce sync.Once
}

// enqueue hands ev to the connection's writer without blocking. Events for
// consumers that cannot keep up are dropped and counted.
func (c *client) enqueue(ev wireEvent) {
	select {
	case c.send <- ev:
	default:
		c.hub.metrics.Inc(metrics.DropReasonSlowConsumer)
		c.log.Warn("dropping event for slow consumer", "conn_id", c.id, "type", ev.Type)
	}
}

// leave runs the disconnect cleanup exactly once, whether the connection
// closed cleanly or dropped.
func (c *client) leave() {
	c.leaveOnce.Do(func() {
		c.hub.leave(c)
		close(c.send)
	})
}

// readPump reads client events until the connection dies and dispatches them
// to the hub. A malformed event is answered with an error event and dropped;
// it never takes the connection (or the room) down.
func (c *client) readPump(maxMessageBytes int64, idleTimeout time.Duration) {
	defer func() {
		c.leave()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn("read failed", "conn_id", c.id, "err", err)
			}
			return
		}

		// The rate limit applies after the read so bytes already in the TCP
		// receive buffer are consumed; closing with unread data can turn into
		// an abortive close and hide the close code from the client.
		if !c.limiter.Allow(1) {
			c.hub.metrics.Inc(metrics.DropReasonRateLimited)
			c.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			c.closeWith(websocket.CloseUnsupportedData, "expected text message")
			return
		}

		ev, err := parseClientEvent(data)
		if err != nil {
			c.hub.metrics.Inc(metrics.DropReasonBadMessage)
			c.log.Warn("dropping malformed event", "conn_id", c.id, "err", err)
			c.enqueue(errorEvent("bad_message", err.Error()))
			continue
		}

		switch ev.Type {
		case EventJoinRoom:
			if c.joined {
				// No room-switching transition exists; the connection stays in
				// its current room.
				c.enqueue(errorEvent("already_joined", "connection is already in a room"))
				continue
			}
			if err := c.hub.join(c, ev.RoomID, ev.UserID, ev.UserName); err != nil {
				if errors.Is(err, room.ErrNotFound) {
					c.enqueue(errorEvent("room_not_found", "unknown room id"))
					continue
				}
				c.enqueue(errorEvent("internal_error", err.Error()))
				continue
			}
		case EventMessage:
			if !c.joined {
				c.enqueue(errorEvent("not_in_room", "join a room before sending messages"))
				continue
			}
			sender := ev.Message.Sender
			if sender == "" {
				sender = c.userName
			}
			c.hub.message(c, sender, ev.Message.Body)
		}
	}
}

// writePump serializes all writes to the connection: queued events plus
// keepalive pings.
func (c *client) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) closeWith(code int, reason string) {
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}
