package gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/parleyhq/parley-relay/internal/ratelimit"
)

const (
	defaultMaxMessageBytes   = 64 * 1024
	defaultMessagesPerSecond = 50
	defaultIdleTimeout       = 60 * time.Second
	defaultPingInterval      = 20 * time.Second
	defaultSendBuffer        = 32
)

// Options tunes per-connection hardening. Zero values select conservative
// defaults.
type Options struct {
	MaxMessageBytes   int64
	MessagesPerSecond int
	IdleTimeout       time.Duration
	PingInterval      time.Duration
	SendBuffer        int
}

func (o Options) withDefaults() Options {
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = defaultMaxMessageBytes
	}
	if o.MessagesPerSecond <= 0 {
		o.MessagesPerSecond = defaultMessagesPerSecond
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = defaultIdleTimeout
	}
	if o.PingInterval <= 0 {
		o.PingInterval = defaultPingInterval
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = defaultSendBuffer
	}
	return o
}

// Server upgrades HTTP requests to gateway connections.
type Server struct {
	log      *slog.Logger
	hub      *Hub
	opts     Options
	upgrader websocket.Upgrader
}

func NewServer(log *slog.Logger, hub *Hub, opts Options) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:  log,
		hub:  hub,
		opts: opts.withDefaults(),
		upgrader: websocket.Upgrader{
			// Origin checks are enforced by the outer httpserver origin
			// middleware. For unit tests that dial the handler directly,
			// accept all origins here.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{
		hub:  s.hub,
		conn: conn,
		log:  s.log,
		id:   uuid.NewString(),
		limiter: ratelimit.NewTokenBucket(
			ratelimit.RealClock{},
			int64(s.opts.MessagesPerSecond),
			int64(s.opts.MessagesPerSecond),
		),
		send: make(chan wireEvent, s.opts.SendBuffer),
	}

	go c.writePump(s.opts.PingInterval)
	c.readPump(s.opts.MaxMessageBytes, s.opts.IdleTimeout)
}
