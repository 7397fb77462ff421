package server

import (
	"log"
	"sync"
	"time"
)

// Room is one room record, exclusively owned by the Hub that created it.
// encryptionRequired is fixed at creation and never mutated again.
type Room struct {
	id                 string
	encryptionRequired bool
	createdAt          time.Time

	mu            sync.RWMutex
	members       map[*connHandle]struct{}
	videoURL      string
	titleID       string
	initialTime   float64
	deletionTimer *time.Timer

	hub *Hub
	log *log.Logger
}

func newRoom(id string, encryptionRequired bool, hub *Hub, logger *log.Logger) *Room {
	return &Room{
		id:                 id,
		encryptionRequired: encryptionRequired,
		createdAt:          time.Now(),
		members:            make(map[*connHandle]struct{}),
		hub:                hub,
		log:                logger,
	}
}

func (r *Room) State() (videoURL, titleID string, initialTime float64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.videoURL, r.titleID, r.initialTime
}

// ID returns the room's opaque id. Immutable for the room's lifetime.
func (r *Room) ID() string { return r.id }

// EncryptionRequired reports the room's fixed encryption policy.
func (r *Room) EncryptionRequired() bool { return r.encryptionRequired }

// MemberCount exposes memberCount to callers outside the package. The
// control plane reports it in a room's create/preflight/preview response.
func (r *Room) MemberCount() int { return r.memberCount() }

// updateSyncState applies a sync-state frame's advertised position. Only
// video_url and initial_time are sync-state's to update; title_id is
// episode-changed's concern.
func (r *Room) updateSyncState(videoURL string, initialTime float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.videoURL = videoURL
	r.initialTime = initialTime
}

// updateEpisode applies an episode-changed frame's new video, and its
// title id when one was carried.
func (r *Room) updateEpisode(videoURL, titleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.videoURL = videoURL
	if titleID != "" {
		r.titleID = titleID
	}
}

func (r *Room) memberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

func (r *Room) snapshotMembers() []*connHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]*connHandle, 0, len(r.members))
	for c := range r.members {
		members = append(members, c)
	}
	return members
}

// broadcastPresence builds the presence envelope
// and sends it to every current member.
func (r *Room) broadcastPresence() {
	r.mu.RLock()
	participants := make([]Participant, 0, len(r.members))
	users := make([]string, 0, len(r.members))
	avatars := make(map[string]string)
	for c := range r.members {
		id := c.identity
		var picture *string
		if id.Picture != "" {
			p := id.Picture
			picture = &p
			avatars[id.Sub] = id.Picture
		}
		participants = append(participants, Participant{ID: id.Sub, Name: id.Name, Picture: picture})
		users = append(users, id.Name)
	}
	encryptionRequired := r.encryptionRequired
	r.mu.RUnlock()

	envelope := PresenceEnvelope{
		Type:               "presence",
		Participants:       participants,
		Users:              users,
		Avatars:            avatars,
		EncryptionRequired: encryptionRequired,
	}
	payload := mustMarshal(envelope)

	for _, c := range r.snapshotMembers() {
		c.enqueue(payload)
	}
}

// broadcastExcept fans payload out to every member other than skip.
func (r *Room) broadcastExcept(skip *connHandle, payload []byte) {
	for _, c := range r.snapshotMembers() {
		if c == skip {
			continue
		}
		c.enqueue(payload)
	}
}

// broadcastAll fans payload out to every member, including the sender.
func (r *Room) broadcastAll(payload []byte) {
	for _, c := range r.snapshotMembers() {
		c.enqueue(payload)
	}
}

// broadcastRoomDeleted notifies any still-connected member (by definition
// there are none, since a deletion timer only fires on an empty room) and
// exists so the Hub's expire path has a single notification point per
// spec's lifecycle scheduler rationale.
func (r *Room) broadcastRoomDeleted() {
	r.broadcastAll(mustMarshal(RoomDeletedNotification{Type: "room-deleted", RoomID: r.id}))
}
