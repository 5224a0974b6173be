// Package session is the boundary layer the HTTP surface calls: room
// creation, join validation, and room entry (ICE credentials plus the
// current chat history snapshot).
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/parleyhq/parley-relay/internal/ice"
	"github.com/parleyhq/parley-relay/internal/room"
)

// ErrInvalidInput is returned when the room id or display name is missing.
//
// It is distinct from room.ErrNotFound on purpose: invalid input is a
// user-correctable form error, while an unknown room usually means a stale
// link and callers redirect to the lobby instead of showing an error.
var ErrInvalidInput = errors.New("session: room id and display name are required")

// API composes the room registry with the ICE credential provider.
type API struct {
	rooms *room.Registry
	ice   ice.Provider
}

func New(rooms *room.Registry, provider ice.Provider) *API {
	return &API{rooms: rooms, ice: provider}
}

// CreateRoom allocates a fresh room and returns its id.
func (a *API) CreateRoom() (string, error) {
	return a.rooms.CreateRoom()
}

// ValidateJoin checks a join request without mutating any room state.
// Whitespace-only values count as missing.
func (a *API) ValidateJoin(roomID, displayName string) error {
	if strings.TrimSpace(roomID) == "" || strings.TrimSpace(displayName) == "" {
		return ErrInvalidInput
	}
	if !a.rooms.Exists(roomID) {
		return room.ErrNotFound
	}
	return nil
}

// Entry is what a participant needs to render the room page and establish
// the peer media path.
type Entry struct {
	RoomID     string             `json:"roomId"`
	Name       string             `json:"name"`
	ICEServers []webrtc.ICEServer `json:"iceServers"`
	History    []room.Event       `json:"chats"`
}

// EnterRoom validates the request, fetches ICE credentials and the room's
// history snapshot, and returns both. A failure of either collaborator is
// propagated; no partial Entry is returned.
func (a *API) EnterRoom(ctx context.Context, roomID, displayName string) (Entry, error) {
	if err := a.ValidateJoin(roomID, displayName); err != nil {
		return Entry{}, err
	}

	servers, err := a.ice.Credentials(ctx)
	if err != nil {
		return Entry{}, fmt.Errorf("fetch ice credentials: %w", err)
	}

	history, err := a.rooms.History(roomID)
	if err != nil {
		return Entry{}, err
	}

	return Entry{
		RoomID:     roomID,
		Name:       displayName,
		ICEServers: servers,
		History:    history,
	}, nil
}
