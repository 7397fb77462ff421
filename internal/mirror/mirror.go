// Package mirror implements the room hub's optional metadata mirror:
// a best-effort write-through cache of durable room metadata so that it
// survives a server restart and is visible across instances. It is never
// authoritative for live connection state.
package mirror

import (
	"context"
	"time"
)

// RoomMeta is the subset of a room record worth mirroring: everything
// needed to hydrate a fresh joiner or answer a preflight/preview lookup.
type RoomMeta struct {
	RoomID             string
	EncryptionRequired bool
	VideoURL           string
	TitleID            string
	InitialTime        float64
	CreatedAt          time.Time
}

// Mirror is the interface the room hub and control plane depend on. All
// implementations must make every call non-blocking or time-bounded; a
// mirror failure is logged by the implementation and never surfaced to
// callers as anything other than "not found" or a passthrough error the
// caller is expected to ignore.
type Mirror interface {
	SaveRoom(ctx context.Context, meta RoomMeta) error
	SaveState(ctx context.Context, roomID, videoURL string, t float64) error
	Load(ctx context.Context, roomID string) (RoomMeta, bool, error)
}

// DefaultTimeout bounds every cache round-trip the control plane makes.
const DefaultTimeout = 5 * time.Second
