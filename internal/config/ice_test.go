package config

import (
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestParseICEServersJSON(t *testing.T) {
	raw := `[
		{"urls": "stun:stun.example:3478"},
		{"urls": ["turn:turn.example:3478", "turns:turn.example:5349"], "username": "u", "credential": "c"}
	]`
	servers, err := ParseICEServersJSON(raw, false)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("got %d servers, want 2", len(servers))
	}
	if len(servers[0].URLs) != 1 || servers[0].URLs[0] != "stun:stun.example:3478" {
		t.Fatalf("servers[0].URLs=%v", servers[0].URLs)
	}
	if servers[1].Username != "u" {
		t.Fatalf("servers[1].Username=%q", servers[1].Username)
	}
	if cred, _ := servers[1].Credential.(string); cred != "c" {
		t.Fatalf("servers[1].Credential=%v", servers[1].Credential)
	}
}

func TestParseICEServersJSON_Invalid(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", "stun:stun.example"},
		{"missing urls", `[{"username": "u"}]`},
		{"empty url entry", `[{"urls": [""]}]`},
		{"bad scheme", `[{"urls": "https://example.com"}]`},
		{"turn without username", `[{"urls": "turn:turn.example", "credential": "c"}]`},
		{"turn without credential", `[{"urls": "turn:turn.example", "username": "u"}]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseICEServersJSON(tc.raw, false); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestParseICEServersJSON_BareTURNAllowedForMinting(t *testing.T) {
	raw := `[{"urls": "turn:turn.example:3478"}]`
	if _, err := ParseICEServersJSON(raw, false); err == nil {
		t.Fatal("expected error without minting")
	}
	servers, err := ParseICEServersJSON(raw, true)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if servers[0].Username != "" || servers[0].Credential != nil {
		t.Fatalf("expected bare entry, got %+v", servers[0])
	}
}

func TestConvenienceEnvServers(t *testing.T) {
	servers, err := parseICEServersFromValues(
		"",
		"stun:a.example:3478, stun:b.example:3478",
		"turn:turn.example:3478",
		"u", "c",
		false,
	)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("got %d servers, want 2", len(servers))
	}
	if len(servers[0].URLs) != 2 {
		t.Fatalf("stun URLs=%v", servers[0].URLs)
	}
	if servers[1].Username != "u" {
		t.Fatalf("turn username=%q", servers[1].Username)
	}
}

func TestConvenienceEnvTURNRequiresCreds(t *testing.T) {
	_, err := parseICEServersFromValues("", "", "turn:turn.example:3478", "", "", false)
	if err == nil {
		t.Fatal("expected error for bare TURN url")
	}
	if !strings.Contains(err.Error(), envTurnURLs) {
		t.Fatalf("error %q does not mention %s", err, envTurnURLs)
	}

	servers, err := parseICEServersFromValues("", "", "turn:turn.example:3478", "", "", true)
	if err != nil {
		t.Fatalf("parse with minting: %v", err)
	}
	if len(servers) != 1 {
		t.Fatalf("got %d servers, want 1", len(servers))
	}
}

func TestJSONTakesPrecedenceOverConvenienceEnv(t *testing.T) {
	servers, err := parseICEServersFromValues(
		`[{"urls": "stun:json.example:3478"}]`,
		"stun:ignored.example:3478",
		"", "", "",
		false,
	)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(servers) != 1 || servers[0].URLs[0] != "stun:json.example:3478" {
		t.Fatalf("servers=%v, want json list only", servers)
	}
}

func TestAnyTURNURL(t *testing.T) {
	if anyTURNURL([]webrtc.ICEServer{{URLs: []string{"stun:stun.example"}}}) {
		t.Fatal("stun-only list should not count as TURN")
	}
	if !anyTURNURL([]webrtc.ICEServer{
		{URLs: []string{"stun:stun.example"}},
		{URLs: []string{"TURNS:turn.example:5349"}},
	}) {
		t.Fatal("turns url not detected")
	}
}

func TestSplitCommaSeparated(t *testing.T) {
	got := splitCommaSeparated(" a, ,b ,, c ")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d]=%q, want %q", i, got[i], want[i])
		}
	}
	if splitCommaSeparated("  ") != nil {
		t.Fatal("blank input should yield nil")
	}
}
