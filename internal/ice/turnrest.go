package ice

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Minter produces coturn-compatible TURN REST ephemeral credentials.
//
// See https://datatracker.ietf.org/doc/html/draft-uberti-behave-turn-rest.
//
//	username   = <unix_expiry>:<prefix>:<session_id>
//	credential = base64(hmac_sha1(shared_secret, username))
//
// Expiry is computed from the server clock in UTC plus the configured TTL.
type Minter struct {
	secret []byte
	ttl    int64
	prefix string

	now      func() time.Time
	sourceID func() (string, error)
}

type MinterConfig struct {
	SharedSecret string
	TTLSeconds   int64
	Prefix       string

	// Now and SessionIDSource exist for deterministic tests.
	Now             func() time.Time
	SessionIDSource func() (string, error)
}

func NewMinter(cfg MinterConfig) (*Minter, error) {
	if cfg.SharedSecret == "" {
		return nil, errors.New("shared secret is required")
	}
	if cfg.TTLSeconds <= 0 {
		return nil, errors.New("TTLSeconds must be > 0")
	}
	if cfg.Prefix == "" {
		return nil, errors.New("Prefix is required")
	}
	if strings.Contains(cfg.Prefix, ":") {
		return nil, errors.New("Prefix must not contain ':'")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.SessionIDSource == nil {
		cfg.SessionIDSource = randomSessionID
	}
	return &Minter{
		secret:   []byte(cfg.SharedSecret),
		ttl:      cfg.TTLSeconds,
		prefix:   cfg.Prefix,
		now:      cfg.Now,
		sourceID: cfg.SessionIDSource,
	}, nil
}

// Credentials is one minted username/credential pair.
type Credentials struct {
	Username   string
	Credential string
	ExpiryUnix int64
}

func (m *Minter) Mint(sessionID string) (Credentials, error) {
	if sessionID == "" {
		return Credentials{}, errors.New("sessionID is required")
	}
	if strings.Contains(sessionID, ":") {
		return Credentials{}, errors.New("sessionID must not contain ':'")
	}

	expiry := m.now().UTC().Unix() + m.ttl
	username := fmt.Sprintf("%d:%s:%s", expiry, m.prefix, sessionID)

	mac := hmac.New(sha1.New, m.secret)
	_, _ = mac.Write([]byte(username))

	return Credentials{
		Username:   username,
		Credential: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		ExpiryUnix: expiry,
	}, nil
}

func (m *Minter) MintRandom() (Credentials, error) {
	sessionID, err := m.sourceID()
	if err != nil {
		return Credentials{}, err
	}
	return m.Mint(sessionID)
}

func randomSessionID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
