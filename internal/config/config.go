package config

import (
	"encoding/base64"
	"fmt"
	"time"
)

const (
	DefaultRoomEmptyGrace  = 24 * time.Hour
	DefaultPingInterval    = 15 * time.Second
	DefaultActivityTimeout = 2 * time.Hour
	DefaultListenAddr      = ":8000"
)

// Params carries the raw, unvalidated configuration values gathered from
// flags or environment by cmd/server. NewConfig turns them into a Config.
type Params struct {
	ListenAddr                string
	SigningSecretBase64       string
	Audience                  string
	AllowedOrigins            []string
	DefaultEncryptionRequired bool
	CacheAddr                 string
	RoomEmptyGrace            time.Duration
	PingInterval              time.Duration
	ActivityTimeout           time.Duration
	Production                bool
}

type Config struct {
	ListenAddr                string
	SigningSecret             []byte
	Audience                  string
	DevMode                   bool
	AllowedOrigins            []string
	DefaultEncryptionRequired bool
	CacheAddr                 string
	RoomEmptyGrace            time.Duration
	PingInterval              time.Duration
	ActivityTimeout           time.Duration
	Production                bool
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

// NewConfig validates p and fills in defaults. In production a missing
// signing secret is fatal. An empty audience, or an empty secret (only
// possible outside production), puts the token verifier into dev mode;
// this holds in production too. Empty allowed origins
// is not a startup failure even in production: it's a runtime CORS
// policy (deny all cross-origin requests) that app.go's CORS wiring
// already enforces on its own.
func NewConfig(p Params) (*Config, error) {
	if p.ListenAddr == "" {
		p.ListenAddr = DefaultListenAddr
	}

	if p.Production && p.SigningSecretBase64 == "" {
		return nil, fmt.Errorf("signing secret cannot be empty in production")
	}

	var signingSecret []byte
	if p.SigningSecretBase64 != "" {
		var err error
		signingSecret, err = decodeSigningSecret(p.SigningSecretBase64)
		if err != nil {
			return nil, fmt.Errorf("decode signing secret: %w", err)
		}
	}

	devMode := p.Audience == "" || len(signingSecret) == 0

	roomEmptyGrace := p.RoomEmptyGrace
	if roomEmptyGrace == 0 {
		roomEmptyGrace = DefaultRoomEmptyGrace
	}

	pingInterval := p.PingInterval
	if pingInterval == 0 {
		pingInterval = DefaultPingInterval
	}

	activityTimeout := p.ActivityTimeout
	if activityTimeout == 0 {
		activityTimeout = DefaultActivityTimeout
	}

	return &Config{
		ListenAddr:                p.ListenAddr,
		SigningSecret:             signingSecret,
		Audience:                  p.Audience,
		DevMode:                   devMode,
		AllowedOrigins:            p.AllowedOrigins,
		DefaultEncryptionRequired: p.DefaultEncryptionRequired,
		CacheAddr:                 p.CacheAddr,
		RoomEmptyGrace:            roomEmptyGrace,
		PingInterval:              pingInterval,
		ActivityTimeout:           activityTimeout,
		Production:                p.Production,
	}, nil
}
