// Package ice issues the network-traversal credentials a participant needs
// to establish the peer media connection.
//
// Two providers exist: StaticProvider serves the configured ICE server list
// (optionally minting ephemeral TURN REST credentials per call), and
// HTTPProvider fetches short-lived tokens from a remote credential service.
package ice

import (
	"context"
	"errors"
	"strings"

	"github.com/pion/webrtc/v4"
)

// ErrServiceUnavailable is returned when the upstream credential service
// fails or times out. Callers must surface it; returning empty credentials
// instead would silently degrade peer connectivity with no diagnosis.
var ErrServiceUnavailable = errors.New("ice: credential service unavailable")

// Provider issues ICE servers for a new participant.
type Provider interface {
	Credentials(ctx context.Context) ([]webrtc.ICEServer, error)
}

// StaticProvider serves a fixed ICE server list from configuration.
//
// When a Minter is set, TURN entries get fresh ephemeral credentials on every
// call; STUN entries pass through unchanged.
type StaticProvider struct {
	Servers []webrtc.ICEServer
	Minter  *Minter
}

func (p *StaticProvider) Credentials(ctx context.Context) ([]webrtc.ICEServer, error) {
	if p.Minter == nil {
		out := make([]webrtc.ICEServer, len(p.Servers))
		copy(out, p.Servers)
		return out, nil
	}

	creds, err := p.Minter.MintRandom()
	if err != nil {
		return nil, err
	}

	out := make([]webrtc.ICEServer, len(p.Servers))
	for i, server := range p.Servers {
		out[i] = server
		if hasTURNURL(server) {
			out[i].Username = creds.Username
			out[i].Credential = creds.Credential
		}
	}
	return out, nil
}

func hasTURNURL(server webrtc.ICEServer) bool {
	for _, raw := range server.URLs {
		url := strings.ToLower(strings.TrimSpace(raw))
		if strings.HasPrefix(url, "turn:") || strings.HasPrefix(url, "turns:") {
			return true
		}
	}
	return false
}
