package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/parleyhq/parley-relay/internal/config"
	"github.com/parleyhq/parley-relay/internal/ice"
	"github.com/parleyhq/parley-relay/internal/metrics"
	"github.com/parleyhq/parley-relay/internal/room"
	"github.com/parleyhq/parley-relay/internal/session"
)

type fakeProvider struct {
	servers []webrtc.ICEServer
	err     error
}

func (p *fakeProvider) Credentials(context.Context) ([]webrtc.ICEServer, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.servers, nil
}

type fixture struct {
	ts       *httptest.Server
	registry *room.Registry
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T, cfg config.Config, provider ice.Provider) *fixture {
	t.Helper()
	if provider == nil {
		provider = &fakeProvider{servers: []webrtc.ICEServer{{URLs: []string{"stun:stun.example:3478"}}}}
	}
	registry := room.NewRegistry(0)
	m := metrics.New()
	sessions := session.New(registry, provider)
	gateway := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv := New(cfg, logger, BuildInfo{Commit: "abc123", BuildTime: "now"}, sessions, gateway, m)
	srv.ready.Store(true)

	ts := httptest.NewServer(srv.srv.Handler)
	t.Cleanup(ts.Close)
	return &fixture{ts: ts, registry: registry, metrics: m}
}

// noRedirectClient keeps 302 responses visible to assertions.
var noRedirectClient = &http.Client{
	CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	},
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func (f *fixture) createRoom(t *testing.T) string {
	t.Helper()
	resp, err := http.Post(f.ts.URL+"/createRoom", "application/json", nil)
	if err != nil {
		t.Fatalf("createRoom: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("createRoom status=%d", resp.StatusCode)
	}
	var body struct {
		Status string `json:"status"`
		RoomID string `json:"roomId"`
	}
	decodeBody(t, resp, &body)
	if body.Status != "success" || body.RoomID == "" {
		t.Fatalf("createRoom body=%+v", body)
	}
	return body.RoomID
}

func TestCreateRoom(t *testing.T) {
	f := newFixture(t, config.Config{}, nil)

	id := f.createRoom(t)
	if !f.registry.Exists(id) {
		t.Fatalf("room %q not in registry", id)
	}
	if got := f.metrics.Get(metrics.RoomsCreated); got != 1 {
		t.Fatalf("rooms_created=%d, want 1", got)
	}
}

func TestJoinRoomJSON(t *testing.T) {
	f := newFixture(t, config.Config{}, nil)
	id := f.createRoom(t)

	resp, err := http.Post(f.ts.URL+"/joinRoom", "application/json",
		strings.NewReader(fmt.Sprintf(`{"name":"alice","roomId":%q}`, id)))
	if err != nil {
		t.Fatalf("joinRoom: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	var body struct {
		Status string `json:"status"`
		Body   string `json:"body"`
	}
	decodeBody(t, resp, &body)
	if body.Status != "success" {
		t.Fatalf("status=%q", body.Status)
	}
	u, err := url.Parse(body.Body)
	if err != nil {
		t.Fatalf("parse redirect target %q: %v", body.Body, err)
	}
	if u.Path != "/room/" {
		t.Fatalf("path=%q, want /room/", u.Path)
	}
	q := u.Query()
	if q.Get("name") != "alice" || q.Get("roomId") != id {
		t.Fatalf("query=%v", q)
	}
}

func TestJoinRoomForm(t *testing.T) {
	f := newFixture(t, config.Config{}, nil)
	id := f.createRoom(t)

	resp, err := http.PostForm(f.ts.URL+"/joinRoom", url.Values{"name": {"bob"}, "roomId": {id}})
	if err != nil {
		t.Fatalf("joinRoom form: %v", err)
	}
	var body struct {
		Status string `json:"status"`
	}
	decodeBody(t, resp, &body)
	if resp.StatusCode != http.StatusOK || body.Status != "success" {
		t.Fatalf("status=%d body status=%q", resp.StatusCode, body.Status)
	}
}

func TestJoinRoomUnknownRoom(t *testing.T) {
	f := newFixture(t, config.Config{}, nil)

	resp, err := http.Post(f.ts.URL+"/joinRoom", "application/json",
		strings.NewReader(`{"name":"alice","roomId":"nope"}`))
	if err != nil {
		t.Fatalf("joinRoom: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want 200 with error body", resp.StatusCode)
	}
	var body struct {
		Status string `json:"status"`
		Body   string `json:"body"`
	}
	decodeBody(t, resp, &body)
	if body.Status != "error" || body.Body == "" {
		t.Fatalf("body=%+v, want error status with message", body)
	}
}

func TestJoinRoomMissingFields(t *testing.T) {
	f := newFixture(t, config.Config{}, nil)
	id := f.createRoom(t)

	cases := []struct {
		name string
		body string
	}{
		{"missing name", fmt.Sprintf(`{"roomId":%q}`, id)},
		{"missing roomId", `{"name":"alice"}`},
		{"blank name", fmt.Sprintf(`{"name":"  ","roomId":%q}`, id)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(f.ts.URL+"/joinRoom", "application/json", strings.NewReader(tc.body))
			if err != nil {
				t.Fatalf("joinRoom: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status=%d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestJoinRoomMalformedJSON(t *testing.T) {
	f := newFixture(t, config.Config{}, nil)

	resp, err := http.Post(f.ts.URL+"/joinRoom", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatalf("joinRoom: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", resp.StatusCode)
	}
}

func TestRoomEntry(t *testing.T) {
	provider := &fakeProvider{servers: []webrtc.ICEServer{
		{URLs: []string{"turn:turn.example:3478"}, Username: "u", Credential: "c"},
	}}
	f := newFixture(t, config.Config{}, provider)
	id := f.createRoom(t)

	resp, err := http.Get(f.ts.URL + "/room?roomId=" + id + "&name=alice")
	if err != nil {
		t.Fatalf("room: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	var entry struct {
		RoomID     string            `json:"roomId"`
		Name       string            `json:"name"`
		ICEServers []json.RawMessage `json:"iceServers"`
		Chats      []room.Event      `json:"chats"`
	}
	decodeBody(t, resp, &entry)
	if entry.RoomID != id || entry.Name != "alice" {
		t.Fatalf("entry=%+v", entry)
	}
	if len(entry.ICEServers) != 1 {
		t.Fatalf("iceServers=%v", entry.ICEServers)
	}
	if len(entry.Chats) != 0 {
		t.Fatalf("chats=%v, want empty for fresh room", entry.Chats)
	}
}

func TestRoomUnknownRedirectsToLobby(t *testing.T) {
	f := newFixture(t, config.Config{}, nil)

	resp, err := noRedirectClient.Get(f.ts.URL + "/room?roomId=nope&name=alice")
	if err != nil {
		t.Fatalf("room: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status=%d, want 302", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/" {
		t.Fatalf("location=%q, want /", loc)
	}
}

func TestRoomMissingParams(t *testing.T) {
	f := newFixture(t, config.Config{}, nil)
	id := f.createRoom(t)

	for _, path := range []string{"/room?roomId=" + id, "/room?name=alice", "/room"} {
		resp, err := http.Get(f.ts.URL + path)
		if err != nil {
			t.Fatalf("room %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status=%d, want 400", path, resp.StatusCode)
		}
	}
}

func TestRoomCredentialFailure(t *testing.T) {
	provider := &fakeProvider{err: fmt.Errorf("%w: upstream 500", ice.ErrServiceUnavailable)}
	f := newFixture(t, config.Config{}, provider)
	id := f.createRoom(t)

	resp, err := http.Get(f.ts.URL + "/room?roomId=" + id + "&name=alice")
	if err != nil {
		t.Fatalf("room: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want 503", resp.StatusCode)
	}
}

func TestHealthAndVersion(t *testing.T) {
	f := newFixture(t, config.Config{}, nil)

	resp, err := http.Get(f.ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status=%d", resp.StatusCode)
	}

	resp, err = http.Get(f.ts.URL + "/version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	var build BuildInfo
	decodeBody(t, resp, &build)
	if build.Commit != "abc123" {
		t.Fatalf("commit=%q", build.Commit)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, config.Config{}, nil)
	f.createRoom(t)

	resp, err := http.Get(f.ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(raw), `rooms_created`) {
		t.Fatalf("exposition missing rooms_created:\n%s", raw)
	}
}

func TestCatchAllRedirect(t *testing.T) {
	f := newFixture(t, config.Config{}, nil)

	resp, err := noRedirectClient.Get(f.ts.URL + "/no/such/page")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status=%d, want 302", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/" {
		t.Fatalf("location=%q, want /", loc)
	}
}

func TestOriginPolicy(t *testing.T) {
	f := newFixture(t, config.Config{AllowedOrigins: []string{"https://app.example"}}, nil)

	req, _ := http.NewRequest(http.MethodPost, f.ts.URL+"/createRoom", nil)
	req.Header.Set("Origin", "https://evil.example")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("disallowed origin: status=%d, want 403", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodPost, f.ts.URL+"/createRoom", nil)
	req.Header.Set("Origin", "https://app.example")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("allowed origin: status=%d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("Access-Control-Allow-Origin=%q", got)
	}
}

func TestOriginPreflight(t *testing.T) {
	f := newFixture(t, config.Config{AllowedOrigins: []string{"https://app.example"}}, nil)

	req, _ := http.NewRequest(http.MethodOptions, f.ts.URL+"/joinRoom", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("preflight status=%d, want 204", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Methods") == "" {
		t.Fatal("preflight missing Access-Control-Allow-Methods")
	}
}

func TestReadyz(t *testing.T) {
	f := newFixture(t, config.Config{}, nil)

	resp, err := http.Get(f.ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("readyz: %v", err)
	}
	var body struct {
		Ready bool `json:"ready"`
	}
	decodeBody(t, resp, &body)
	if resp.StatusCode != http.StatusOK || !body.Ready {
		t.Fatalf("status=%d ready=%v", resp.StatusCode, body.Ready)
	}
}
