package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/watchsync/roomhub/internal/mirror"
	"github.com/watchsync/roomhub/internal/server"
	"github.com/watchsync/roomhub/internal/types"
)

// roomIDPattern bounds the shape of an acceptable room id; ids outside this
// shape are rejected at the control plane before ever reaching the registry.
var roomIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,64}$`)

func (a *App) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Printf("json encode: %v", err)
	}
}

// CreateRoomRequest is the optional body accepted by POST /rooms.
type CreateRoomRequest struct {
	EncryptionRequired *bool    `json:"encryption_required,omitempty"`
	VideoURL           *string  `json:"video_url,omitempty"`
	VideoTime          *float64 `json:"video_time,omitempty"`
}

// RoomResponse is the shared shape returned by create, preflight, and
// preview: the same metadata shape for all three operations.
type RoomResponse struct {
	RoomID             string          `json:"room_id"`
	EncryptionRequired bool            `json:"encryption_required"`
	VideoURL           string          `json:"video_url,omitempty"`
	TitleID            string          `json:"title_id,omitempty"`
	InitialTime        float64         `json:"initial_time,omitempty"`
	MemberCount        int             `json:"member_count"`
	User               *types.Identity `json:"user,omitempty"`
}

func (a *App) roomResponse(room *server.Room, identity types.Identity) RoomResponse {
	videoURL, titleID, initialTime := room.State()
	return RoomResponse{
		RoomID:             room.ID(),
		EncryptionRequired: room.EncryptionRequired(),
		VideoURL:           videoURL,
		TitleID:            titleID,
		InitialTime:        initialTime,
		MemberCount:        room.MemberCount(),
		User:               &identity,
	}
}

// createRoom generates a short opaque id, creates the room via the
// registry (which best-effort mirrors it), and returns
// its metadata alongside the verified caller identity.
func (a *App) createRoom(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req CreateRoomRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			errResp := NewBadRequestError()
			a.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	roomID, err := a.generateRoomID()
	if err != nil {
		a.log.Println("generate room id:", err)
		errResp := NewInternalServerError(err)
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	opts := server.Options{
		EncryptionRequired: req.EncryptionRequired,
		InitialTime:        req.VideoTime,
	}
	if req.VideoURL != nil {
		opts.VideoURL = req.VideoURL
		if titleID := extractTitleID(*req.VideoURL); titleID != "" {
			opts.TitleID = &titleID
		}
	}

	room := a.hub.Ensure(roomID, opts)
	a.writeJson(w, http.StatusCreated, a.roomResponse(room, identity))
}

// joinPreflight confirms a room still exists before a client opens a
// streaming connection. It is read-only: it never attaches anyone.
func (a *App) joinPreflight(w http.ResponseWriter, r *http.Request) {
	a.lookupRoom(w, r)
}

// preview mirrors joinPreflight's shape; it exists as a distinct route so
// a UI can render a "join this room?" prompt without implying membership.
func (a *App) preview(w http.ResponseWriter, r *http.Request) {
	a.lookupRoom(w, r)
}

func (a *App) lookupRoom(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	roomID := r.PathValue("id")
	if !roomIDPattern.MatchString(roomID) {
		errResp := NewNotFoundError()
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room := a.resolveRoom(r.Context(), roomID)
	if room == nil {
		errResp := NewNotFoundError()
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	a.writeJson(w, http.StatusOK, a.roomResponse(room, identity))
}

// resolveRoom checks the live registry first; if the room isn't currently
// held in memory (e.g. this instance restarted), it falls back to the
// metadata mirror within the control plane's cache time budget and
// rehydrates a registry entry from what the mirror last saw. A mirror miss
// or timeout is simply "not found" — it is never
// surfaced as anything more specific.
func (a *App) resolveRoom(ctx context.Context, roomID string) *server.Room {
	if room := a.hub.Lookup(roomID); room != nil {
		return room
	}
	if a.mirror == nil {
		return nil
	}

	cacheCtx, cancel := context.WithTimeout(ctx, mirror.DefaultTimeout)
	defer cancel()

	meta, found, err := a.mirror.Load(cacheCtx, roomID)
	if err != nil {
		a.log.Printf("control plane: mirror load %q: %v", roomID, err)
		return nil
	}
	if !found {
		return nil
	}

	enc := meta.EncryptionRequired
	return a.hub.Ensure(roomID, server.Options{
		EncryptionRequired: &enc,
		VideoURL:           &meta.VideoURL,
		TitleID:            &meta.TitleID,
		InitialTime:        &meta.InitialTime,
	})
}

// health is the liveness probe: a static status and an uptime counter,
// left unauthenticated so load balancers can poll it directly.
func (a *App) health(w http.ResponseWriter, r *http.Request) {
	a.writeJson(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"uptime_secs": time.Since(a.startedAt).Seconds(),
	})
}
