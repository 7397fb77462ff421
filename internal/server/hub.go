package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/watchsync/roomhub/internal/mirror"
	"github.com/watchsync/roomhub/internal/stats"
)

// Options carries the optional room-creation/update fields from the
// control plane or from a sync-state frame. encryption_required is only
// honored on creation; the rest overwrite the room's advertised metadata
// whenever provided.
type Options struct {
	EncryptionRequired *bool
	VideoURL           *string
	TitleID            *string
	InitialTime        *float64
}

// Hub is the single owned room registry: the source of truth for which
// rooms exist and who belongs to them. All mutation goes through its
// methods. A room emptied by leave has exactly one pending deletion timer;
// Ensure cancels any pending timer and arms none, so a room created or
// re-ensured without a member has no timer until a member joins and leaves.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]*Room

	mirror                    mirror.Mirror
	defaultEncryptionRequired bool
	emptyGrace                time.Duration
	stats                     stats.StatsProvider
	log                       *log.Logger
}

func NewHub(m mirror.Mirror, defaultEncryptionRequired bool, emptyGrace time.Duration, sp stats.StatsProvider, logger *log.Logger) *Hub {
	if emptyGrace <= 0 {
		emptyGrace = DefaultRoomEmptyGrace
	}

	return &Hub{
		rooms:                     make(map[string]*Room),
		mirror:                    m,
		defaultEncryptionRequired: defaultEncryptionRequired,
		emptyGrace:                emptyGrace,
		stats:                     sp,
		log:                       logger,
	}
}

// Ensure returns the room identified by roomID, creating it with opts if it
// doesn't exist yet. Any pending deletion timer on the returned room is
// cancelled: the caller is the control plane confirming a room it just
// created or is about to.
func (h *Hub) Ensure(roomID string, opts Options) *Room {
	return h.ensureAndApply(roomID, opts, nil)
}

// EnsureAndJoin is Ensure plus adding joining as a member, both performed
// under the hub lock so a room can never be observed as empty (and so
// deleted by Hub.expire's concurrent empty-grace check) in the window
// between cancelling its deletion timer and the new member actually
// joining. The connection manager must use this instead of a separate
// Ensure followed by a second, unsynchronized member add.
func (h *Hub) EnsureAndJoin(roomID string, opts Options, joining *connHandle) *Room {
	return h.ensureAndApply(roomID, opts, joining)
}

func (h *Hub) ensureAndApply(roomID string, opts Options, joining *connHandle) *Room {
	h.mu.Lock()
	room, ok := h.rooms[roomID]
	if !ok {
		encryptionRequired := h.defaultEncryptionRequired
		if opts.EncryptionRequired != nil {
			encryptionRequired = *opts.EncryptionRequired
		}
		room = newRoom(roomID, encryptionRequired, h, h.log)
		h.rooms[roomID] = room
		if h.stats != nil {
			h.stats.Incr(stats.ActiveRooms)
		}
	}

	room.mu.Lock()
	room.stopDeletionTimerLocked()
	videoURL, titleID, initialTime := room.videoURL, room.titleID, room.initialTime
	if opts.VideoURL != nil {
		videoURL = *opts.VideoURL
	}
	if opts.TitleID != nil {
		titleID = *opts.TitleID
	}
	if opts.InitialTime != nil {
		initialTime = *opts.InitialTime
	}
	room.videoURL, room.titleID, room.initialTime = videoURL, titleID, initialTime
	if joining != nil {
		room.members[joining] = struct{}{}
	}
	room.mu.Unlock()

	// h.mu stays held through the member add above: Hub.expire acquires
	// h.mu before it re-checks emptiness, so it can't slip in between the
	// timer cancellation and the join and delete a room out from under a
	// connection that is about to attach to it.
	h.mu.Unlock()

	if joining != nil {
		room.broadcastPresence()
	}

	if h.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), mirror.DefaultTimeout)
		err := h.mirror.SaveRoom(ctx, mirror.RoomMeta{
			RoomID:             roomID,
			EncryptionRequired: room.encryptionRequired,
			VideoURL:           videoURL,
			TitleID:            titleID,
			InitialTime:        initialTime,
			CreatedAt:          room.createdAt,
		})
		cancel()
		if err != nil {
			h.log.Printf("hub: mirror save room %q: %v", roomID, err)
		}
	}

	return room
}

// Lookup returns the room record for roomID, or nil if it doesn't exist.
// It never creates a room and never consults the mirror: the mirror is
// only a restart-survival aid, not a substitute for live membership.
func (h *Hub) Lookup(roomID string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[roomID]
}

// Drop unconditionally removes a room record from the registry.
func (h *Hub) Drop(roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.rooms[roomID]; !ok {
		return
	}
	delete(h.rooms, roomID)
	if h.stats != nil {
		h.stats.Decr(stats.ActiveRooms)
	}
}

// leave removes c from room and, if that leaves it empty, arms the room's
// deletion timer — both the removal and the emptiness check happen under
// one h.mu-then-room.mu critical section, the same order
// Hub.ensureAndApply and Hub.expire use, so a concurrent join (which could
// cancel a timer this call is about to arm) or expiry (which could delete
// the room this call is about to touch) can't interleave with the
// decision and leave the room's member set and timer out of sync. The
// connection manager calls this on disconnect instead of mutating
// room.members and arming the timer as two separate steps.
func (h *Hub) leave(room *Room, c *connHandle) {
	h.mu.Lock()
	room.mu.Lock()
	delete(room.members, c)
	if len(room.members) == 0 {
		room.armDeletionTimerLocked(h.emptyGrace)
	}
	room.mu.Unlock()
	h.mu.Unlock()

	room.broadcastPresence()
}
