package ice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

const defaultRequestTimeout = 5 * time.Second

// HTTPProvider fetches short-lived ICE credentials from a remote token
// service (a Twilio-style POST token endpoint).
//
// Failures are wrapped in ErrServiceUnavailable rather than degraded to an
// empty server list; the caller decides how to surface them.
type HTTPProvider struct {
	// URL is the token endpoint; a POST with no body is issued per call.
	URL string

	// Username/Password are sent as HTTP basic auth when both are set.
	Username string
	Password string

	// Timeout bounds each request. Zero selects a conservative default.
	Timeout time.Duration

	// Client overrides the HTTP client, mainly for tests.
	Client *http.Client
}

// tokenResponse mirrors the relevant part of the token service's payload.
// Services report each server either as a single "url" or a "urls" list.
type tokenResponse struct {
	ICEServers []tokenICEServer `json:"ice_servers"`
}

type tokenICEServer struct {
	URL        string          `json:"url,omitempty"`
	URLs       json.RawMessage `json:"urls,omitempty"`
	Username   string          `json:"username,omitempty"`
	Credential string          `json:"credential,omitempty"`
}

func (p *HTTPProvider) Credentials(ctx context.Context) ([]webrtc.ICEServer, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	if p.Username != "" && p.Password != "" {
		req.SetBasicAuth(p.Username, p.Password)
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: token endpoint returned %s", ErrServiceUnavailable, resp.Status)
	}

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode token response: %v", ErrServiceUnavailable, err)
	}

	servers, err := body.toICEServers()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("%w: token endpoint returned no ice servers", ErrServiceUnavailable)
	}
	return servers, nil
}

func (r tokenResponse) toICEServers() ([]webrtc.ICEServer, error) {
	out := make([]webrtc.ICEServer, 0, len(r.ICEServers))
	for i, server := range r.ICEServers {
		urls, err := server.urlList()
		if err != nil {
			return nil, fmt.Errorf("ice_servers[%d]: %w", i, err)
		}
		if len(urls) == 0 {
			continue
		}

		entry := webrtc.ICEServer{
			URLs:     urls,
			Username: server.Username,
		}
		if server.Credential != "" {
			entry.Credential = server.Credential
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s tokenICEServer) urlList() ([]string, error) {
	var urls []string
	if url := strings.TrimSpace(s.URL); url != "" {
		urls = append(urls, url)
	}

	if len(s.URLs) > 0 {
		var single string
		var many []string
		if err := json.Unmarshal(s.URLs, &single); err == nil {
			many = []string{single}
		} else if err := json.Unmarshal(s.URLs, &many); err != nil {
			return nil, fmt.Errorf("invalid urls field: %w", err)
		}
		for _, url := range many {
			if url = strings.TrimSpace(url); url != "" {
				urls = append(urls, url)
			}
		}
	}
	return urls, nil
}
