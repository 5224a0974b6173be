package httpserver

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/parleyhq/parley-relay/internal/config"
	"github.com/parleyhq/parley-relay/internal/ice"
	"github.com/parleyhq/parley-relay/internal/metrics"
	"github.com/parleyhq/parley-relay/internal/room"
	"github.com/parleyhq/parley-relay/internal/session"
)

var ErrServerClosed = http.ErrServerClosed

type BuildInfo struct {
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
}

type Server struct {
	log      *slog.Logger
	cfg      config.Config
	build    BuildInfo
	sessions *session.API
	gateway  http.Handler
	metrics  *metrics.Metrics

	ready atomic.Bool

	mux *http.ServeMux
	srv *http.Server
}

func New(cfg config.Config, logger *slog.Logger, build BuildInfo, sessions *session.API, gateway http.Handler, m *metrics.Metrics) *Server {
	s := &Server{
		log:      logger,
		cfg:      cfg,
		build:    build,
		sessions: sessions,
		gateway:  gateway,
		metrics:  m,
		mux:      http.NewServeMux(),
	}

	s.registerRoutes()

	handler := chain(s.mux,
		recoverMiddleware(s.log),
		requestIDMiddleware(),
		requestLoggerMiddleware(s.log),
	)

	s.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		// No global write timeout: /ws upgrades to a long-lived connection.
	}

	return s
}

func (s *Server) Serve(l net.Listener) error {
	s.ready.Store(true)
	s.log.Info("http server serving", "addr", l.Addr().String())
	return s.srv.Serve(l)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	return s.srv.Shutdown(ctx)
}

func (s *Server) Close() error {
	s.ready.Store(false)
	return s.srv.Close()
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	s.mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"ready": true})
	})

	s.mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, s.build)
	})

	s.mux.Handle("GET /metrics", metrics.PrometheusHandler(s.metrics))

	s.mux.HandleFunc("POST /createRoom", s.withOriginPolicy(s.handleCreateRoom))
	s.mux.HandleFunc("POST /joinRoom", s.withOriginPolicy(s.handleJoinRoom))
	s.mux.HandleFunc("GET /room", s.withOriginPolicy(s.handleRoom))

	s.mux.HandleFunc("GET /ws", s.withOriginPolicy(func(w http.ResponseWriter, r *http.Request) {
		s.gateway.ServeHTTP(w, r)
	}))

	// CORS preflight for any path. withOriginPolicy answers it before the
	// inner handler runs.
	s.mux.HandleFunc("OPTIONS /", s.withOriginPolicy(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	// Everything else bounces back to the lobby, matching the frontend's
	// expectation that unknown paths are not errors.
	s.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"service": "parley-relay"})
	})
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	id, err := s.sessions.CreateRoom()
	if err != nil {
		s.log.Error("create room", "err", err)
		WriteJSON(w, http.StatusInternalServerError, map[string]any{
			"status": "error",
			"body":   "could not create room",
		})
		return
	}
	s.metrics.Inc(metrics.RoomsCreated)
	s.log.Info("room created", "room_id", id)
	WriteJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"roomId": id,
	})
}

type joinRoomRequest struct {
	Name   string `json:"name"`
	RoomID string `json:"roomId"`
}

// parseJoinRoom accepts both a JSON body and an HTML form post, since the
// lobby page submits whichever is convenient.
func parseJoinRoom(r *http.Request) (joinRoomRequest, error) {
	contentType := r.Header.Get("Content-Type")
	if mediatype, _, err := mime.ParseMediaType(contentType); err == nil && mediatype == "application/json" {
		var req joinRoomRequest
		if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 4096)).Decode(&req); err != nil {
			return joinRoomRequest{}, err
		}
		return req, nil
	}
	if err := r.ParseForm(); err != nil {
		return joinRoomRequest{}, err
	}
	return joinRoomRequest{
		Name:   r.PostFormValue("name"),
		RoomID: r.PostFormValue("roomId"),
	}, nil
}

func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	req, err := parseJoinRoom(r)
	if err != nil {
		WriteJSON(w, http.StatusBadRequest, map[string]any{
			"status": "error",
			"body":   "malformed request body",
		})
		return
	}

	switch err := s.sessions.ValidateJoin(req.RoomID, req.Name); {
	case errors.Is(err, session.ErrInvalidInput):
		WriteJSON(w, http.StatusBadRequest, map[string]any{
			"status": "error",
			"body":   "name and roomId are required",
		})
		return
	case errors.Is(err, room.ErrNotFound):
		WriteJSON(w, http.StatusOK, map[string]any{
			"status": "error",
			"body":   "room does not exist",
		})
		return
	case err != nil:
		s.log.Error("join room", "err", err)
		WriteJSON(w, http.StatusInternalServerError, map[string]any{
			"status": "error",
			"body":   "internal error",
		})
		return
	}

	query := url.Values{}
	query.Set("name", req.Name)
	query.Set("roomId", req.RoomID)
	WriteJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"body":   "/room/?" + query.Encode(),
	})
}

func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request) {
	roomID := strings.TrimSpace(r.URL.Query().Get("roomId"))
	name := strings.TrimSpace(r.URL.Query().Get("name"))

	entry, err := s.sessions.EnterRoom(r.Context(), roomID, name)
	switch {
	case errors.Is(err, session.ErrInvalidInput):
		WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "name and roomId are required"})
		return
	case errors.Is(err, room.ErrNotFound):
		http.Redirect(w, r, "/", http.StatusFound)
		return
	case errors.Is(err, ice.ErrServiceUnavailable):
		s.log.Error("ice credentials unavailable", "room_id", roomID, "err", err)
		WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "ice credentials unavailable"})
		return
	case err != nil:
		s.log.Error("enter room", "room_id", roomID, "err", err)
		WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
		return
	}

	WriteJSON(w, http.StatusOK, entry)
}

type Middleware func(http.Handler) http.Handler

func chain(handler http.Handler, middlewares ...Middleware) http.Handler {
	h := handler
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

func recoverMiddleware(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic in http handler", "recover", rec, "stack", string(debug.Stack()))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func requestIDMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				var buf [16]byte
				if _, err := rand.Read(buf[:]); err == nil {
					reqID = hex.EncodeToString(buf[:])
				}
			}
			if reqID != "" {
				r.Header.Set("X-Request-ID", reqID)
				w.Header().Set("X-Request-ID", reqID)
			}
			next.ServeHTTP(w, r)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the hijacker for /ws upgrades.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := w.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

func requestLoggerMiddleware(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			next.ServeHTTP(sw, r)

			reqID := r.Header.Get("X-Request-ID")
			logger.Info("http_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_addr", r.RemoteAddr,
				"request_id", reqID,
			)
		})
	}
}

// WriteJSON writes a JSON response body and sets the Content-Type header.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(v)
}
