package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

const (
	envICEServersJSON = "PARLEY_ICE_SERVERS_JSON"

	envStunURLs       = "PARLEY_STUN_URLS"
	envTurnURLs       = "PARLEY_TURN_URLS"
	envTurnUsername   = "PARLEY_TURN_USERNAME"
	envTurnCredential = "PARLEY_TURN_CREDENTIAL"
)

// allowMissingTURNCreds is set when TURN REST minting is configured: the
// issuer injects ephemeral credentials, so the static list may carry bare
// TURN urls.
func parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential string, allowMissingTURNCreds bool) ([]webrtc.ICEServer, error) {
	if raw := strings.TrimSpace(iceServersJSON); raw != "" {
		servers, err := ParseICEServersJSON(raw, allowMissingTURNCreds)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envICEServersJSON, err)
		}
		return servers, nil
	}
	return parseICEServersFromConvenienceEnv(stunURLs, turnURLs, turnUsername, turnCredential, allowMissingTURNCreds)
}

type iceServerJSON struct {
	URLs       stringOrStringSlice `json:"urls"`
	Username   string              `json:"username,omitempty"`
	Credential string              `json:"credential,omitempty"`
}

type stringOrStringSlice []string

func (s *stringOrStringSlice) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*s = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// ParseICEServersJSON parses and validates the JSON ICE server list env var.
func ParseICEServersJSON(raw string, allowMissingTURNCreds bool) ([]webrtc.ICEServer, error) {
	var servers []iceServerJSON
	if err := json.Unmarshal([]byte(raw), &servers); err != nil {
		return nil, err
	}

	out := make([]webrtc.ICEServer, 0, len(servers))
	for i, server := range servers {
		urls := make([]string, 0, len(server.URLs))
		for _, url := range server.URLs {
			if url = strings.TrimSpace(url); url != "" {
				urls = append(urls, url)
			}
		}

		entry := webrtc.ICEServer{
			URLs:     urls,
			Username: strings.TrimSpace(server.Username),
		}
		if strings.TrimSpace(server.Credential) != "" {
			entry.Credential = server.Credential
		}

		if err := validateICEServer(entry, allowMissingTURNCreds); err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		out = append(out, entry)
	}
	return out, nil
}

// parseICEServersFromConvenienceEnv builds a server list from the
// comma-separated STUN/TURN convenience env vars.
func parseICEServersFromConvenienceEnv(stunURLs, turnURLs, turnUsername, turnCredential string, allowMissingTURNCreds bool) ([]webrtc.ICEServer, error) {
	var servers []webrtc.ICEServer

	if stunList := splitCommaSeparated(stunURLs); len(stunList) > 0 {
		server := webrtc.ICEServer{URLs: stunList}
		if err := validateICEServer(server, allowMissingTURNCreds); err != nil {
			return nil, fmt.Errorf("%s: %w", envStunURLs, err)
		}
		servers = append(servers, server)
	}

	if turnList := splitCommaSeparated(turnURLs); len(turnList) > 0 {
		server := webrtc.ICEServer{
			URLs:     turnList,
			Username: strings.TrimSpace(turnUsername),
		}
		if cred := strings.TrimSpace(turnCredential); cred != "" {
			server.Credential = cred
		}
		if err := validateICEServer(server, allowMissingTURNCreds); err != nil {
			return nil, fmt.Errorf("%s: %w", envTurnURLs, err)
		}
		servers = append(servers, server)
	}

	return servers, nil
}

func splitCommaSeparated(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func validateICEServer(server webrtc.ICEServer, allowMissingTURNCreds bool) error {
	if len(server.URLs) == 0 {
		return errors.New("missing urls")
	}

	requiresTurnCreds := false
	for _, raw := range server.URLs {
		url := strings.ToLower(strings.TrimSpace(raw))
		switch {
		case url == "":
			return errors.New("urls must not contain empty entries")
		case strings.HasPrefix(url, "turn:"), strings.HasPrefix(url, "turns:"):
			requiresTurnCreds = true
		case strings.HasPrefix(url, "stun:"), strings.HasPrefix(url, "stuns:"):
		default:
			return fmt.Errorf("unsupported url scheme: %q", raw)
		}
	}

	if requiresTurnCreds && !allowMissingTURNCreds {
		if strings.TrimSpace(server.Username) == "" {
			return errors.New("turn urls require username")
		}
		cred, ok := server.Credential.(string)
		if !ok || strings.TrimSpace(cred) == "" {
			return errors.New("turn urls require credential")
		}
	}
	return nil
}

func anyTURNURL(servers []webrtc.ICEServer) bool {
	for _, server := range servers {
		for _, raw := range server.URLs {
			url := strings.ToLower(strings.TrimSpace(raw))
			if strings.HasPrefix(url, "turn:") || strings.HasPrefix(url, "turns:") {
				return true
			}
		}
	}
	return false
}
