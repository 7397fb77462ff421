package server

import (
	"time"

	"github.com/watchsync/roomhub/internal/stats"
)

// DefaultRoomEmptyGrace is the delay between a room becoming empty and its
// deletion. Clients that reload a tab must find their room intact; clients
// that close the tab for the night should not leak rooms forever.
const DefaultRoomEmptyGrace = 24 * time.Hour

// armDeletionTimer schedules r for deletion after delay. It replaces any
// existing timer, so a room has at most one pending deletion at a time.
func (r *Room) armDeletionTimer(delay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.armDeletionTimerLocked(delay)
}

func (r *Room) armDeletionTimerLocked(delay time.Duration) {
	if r.deletionTimer != nil {
		r.deletionTimer.Stop()
	}

	id := r.id
	hub := r.hub
	r.deletionTimer = time.AfterFunc(delay, func() {
		hub.expire(id)
	})
}

// stopDeletionTimerLocked cancels any pending deletion timer. Callers must
// hold r.mu.
func (r *Room) stopDeletionTimerLocked() {
	if r.deletionTimer != nil {
		r.deletionTimer.Stop()
		r.deletionTimer = nil
	}
}

// expire re-validates that the room is still empty before removing it from
// the registry and broadcasting a deletion notice. A race between the timer
// firing and a new member joining is resolved by lock ordering: both this
// method and Hub.ensureAndApply take h.mu before room.mu, so whichever gets
// there first runs to completion — cancel the timer and add the member, or
// confirm still-empty and delete — before the other can observe the room.
func (h *Hub) expire(roomID string) {
	h.mu.Lock()
	room, ok := h.rooms[roomID]
	if !ok {
		h.mu.Unlock()
		return
	}

	room.mu.Lock()
	empty := len(room.members) == 0
	if !empty {
		room.mu.Unlock()
		h.mu.Unlock()
		return
	}
	room.deletionTimer = nil
	room.mu.Unlock()

	delete(h.rooms, roomID)
	if h.stats != nil {
		h.stats.Decr(stats.ActiveRooms)
	}
	h.mu.Unlock()

	h.log.Printf("room %q expired after empty grace", roomID)
	room.broadcastRoomDeleted()
}
