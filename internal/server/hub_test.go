package server

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/watchsync/roomhub/internal/mirror"
	"github.com/watchsync/roomhub/internal/stats"
	"github.com/watchsync/roomhub/internal/testutil"
	"github.com/watchsync/roomhub/internal/types"
)

func boolPtr(b bool) *bool        { return &b }
func strPtr(s string) *string     { return &s }
func floatPtr(f float64) *float64 { return &f }

func Test_Hub_Ensure_CreatesRoom(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Incr", stats.ActiveRooms).Once()
	defer su.AssertExpectations(t)

	h := NewHub(nil, false, time.Hour, su, testutil.TestLogger(t))

	room := h.Ensure("r1", Options{EncryptionRequired: boolPtr(true)})
	assert.NotNil(t, room)
	assert.Equal(t, "r1", room.ID())
	assert.True(t, room.EncryptionRequired())
}

func Test_Hub_Ensure_Idempotent_IgnoresEncryptionOnSecondCall(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Incr", stats.ActiveRooms).Once()
	defer su.AssertExpectations(t)

	h := NewHub(nil, false, time.Hour, su, testutil.TestLogger(t))

	first := h.Ensure("r1", Options{EncryptionRequired: boolPtr(true)})
	second := h.Ensure("r1", Options{EncryptionRequired: boolPtr(false)})

	assert.Same(t, first, second)
	assert.True(t, second.EncryptionRequired(), "encryption_required must stay fixed after creation")
}

func Test_Hub_Ensure_OverwritesOptionalMetadata(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Incr", stats.ActiveRooms).Once()
	defer su.AssertExpectations(t)

	h := NewHub(nil, false, time.Hour, su, testutil.TestLogger(t))

	h.Ensure("r1", Options{})
	room := h.Ensure("r1", Options{
		VideoURL:    strPtr("https://example.com/watch"),
		TitleID:     strPtr("ep-1"),
		InitialTime: floatPtr(42),
	})

	videoURL, titleID, initialTime := room.State()
	assert.Equal(t, "https://example.com/watch", videoURL)
	assert.Equal(t, "ep-1", titleID)
	assert.Equal(t, float64(42), initialTime)
}

func Test_Hub_Ensure_CancelsDeletionTimer(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Incr", stats.ActiveRooms).Once()
	su.On("Decr", stats.ActiveRooms).Maybe()
	defer su.AssertExpectations(t)

	h := NewHub(nil, false, time.Hour, su, testutil.TestLogger(t))

	room := h.Ensure("r1", Options{})
	room.armDeletionTimer(time.Millisecond)

	// re-ensure before the timer fires should cancel it
	h.Ensure("r1", Options{})

	time.Sleep(20 * time.Millisecond)
	assert.NotNil(t, h.Lookup("r1"), "room must survive past the original timer deadline")
}

func Test_Hub_Lookup_Unknown(t *testing.T) {
	h := NewHub(nil, false, time.Hour, nil, testutil.TestLogger(t))
	assert.Nil(t, h.Lookup("missing"))
}

func Test_Hub_Drop(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Incr", stats.ActiveRooms).Once()
	su.On("Decr", stats.ActiveRooms).Once()
	defer su.AssertExpectations(t)

	h := NewHub(nil, false, time.Hour, su, testutil.TestLogger(t))
	h.Ensure("r1", Options{})

	h.Drop("r1")
	assert.Nil(t, h.Lookup("r1"))

	// dropping again is a no-op, not a double-decrement
	h.Drop("r1")
}

// Test_EnsureAndJoin_RacesSafelyWithExpire drives a room's empty-grace
// expiry concurrently with a reconnecting client's join, many times, to
// exercise the interleaving where the timer's callback and the joining
// client's Ensure both contend for the room at the same instant. Win or
// lose that race, the room must end with the joining connection present as
// a member and never silently lost.
func Test_EnsureAndJoin_RacesSafelyWithExpire(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Incr", stats.ActiveRooms)
	su.On("Decr", stats.ActiveRooms)

	for i := 0; i < 200; i++ {
		h := NewHub(nil, false, time.Hour, su, testutil.TestLogger(t))
		h.Ensure("r1", Options{})

		c := newTestConn(t, types.Identity{Sub: "a"})

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.expire("r1")
		}()
		go func() {
			defer wg.Done()
			h.EnsureAndJoin("r1", Options{}, c)
		}()
		wg.Wait()

		room := h.Lookup("r1")
		if assert.NotNil(t, room, "a room must survive a join racing its own empty-grace expiry") {
			assert.Len(t, room.snapshotMembers(), 1, "the joining connection must end up a member of the surviving room")
		}
	}
}

func Test_Hub_leave_LeavesTimerUnarmedWhileMembersRemain(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Incr", stats.ActiveRooms).Once()
	defer su.AssertExpectations(t)

	h := NewHub(nil, false, time.Millisecond, su, testutil.TestLogger(t))

	alice := newTestConn(t, types.Identity{Sub: "a"})
	bob := newTestConn(t, types.Identity{Sub: "b"})
	room := h.EnsureAndJoin("r1", Options{}, alice)
	h.EnsureAndJoin("r1", Options{}, bob)
	<-alice.send // drain the presence from alice's own join
	<-bob.send

	h.leave(room, alice)
	<-bob.send // presence after alice leaves

	time.Sleep(10 * time.Millisecond)
	assert.NotNil(t, h.Lookup("r1"), "a room with a remaining member must not be scheduled for deletion")
}

func Test_Hub_leave_ArmsTimerOnLastMember(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Incr", stats.ActiveRooms).Once()
	su.On("Decr", stats.ActiveRooms).Once()
	defer su.AssertExpectations(t)

	h := NewHub(nil, false, time.Millisecond, su, testutil.TestLogger(t))

	c := newTestConn(t, types.Identity{Sub: "a"})
	room := h.EnsureAndJoin("r1", Options{}, c)
	<-c.send // drain the join presence

	h.leave(room, c)

	assert.Eventually(t, func() bool {
		return h.Lookup("r1") == nil
	}, time.Second, 5*time.Millisecond, "a room left empty by leave must have its deletion timer armed and eventually expire")
}

// Test_Hub_JoinAndLeave_RaceSafely drives a departing member's leave
// concurrently with a different client's join on the same room, many
// times, to exercise the interleaving the connection manager previously
// got wrong: removing a member and arming the empty-grace timer as two
// separate, unsynchronized steps. Regardless of which goroutine's
// critical section runs first, the room must end up with exactly the
// joining connection as a member and no stale deletion timer armed
// against an occupied room.
func Test_Hub_JoinAndLeave_RaceSafely(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Incr", stats.ActiveRooms)
	su.On("Decr", stats.ActiveRooms)

	for i := 0; i < 200; i++ {
		h := NewHub(nil, false, time.Hour, su, testutil.TestLogger(t))
		leaving := newTestConn(t, types.Identity{Sub: "a"})
		joining := newTestConn(t, types.Identity{Sub: "b"})
		room := h.EnsureAndJoin("r1", Options{}, leaving)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.leave(room, leaving)
		}()
		go func() {
			defer wg.Done()
			h.EnsureAndJoin("r1", Options{}, joining)
		}()
		wg.Wait()

		got := h.Lookup("r1")
		if assert.NotNil(t, got, "a room must survive a leave racing a concurrent join") {
			members := got.snapshotMembers()
			if assert.Len(t, members, 1, "exactly the joining connection should remain a member") {
				assert.Same(t, joining, members[0])
			}
		}
	}
}

func Test_Hub_Ensure_WritesToMirror(t *testing.T) {
	m := &mirror.MockMirror{}
	m.On("SaveRoom", mock.Anything, mock.AnythingOfType("mirror.RoomMeta")).Return(nil)
	defer m.AssertExpectations(t)

	su := &stats.MockStatsUpdater{}
	su.On("Incr", stats.ActiveRooms).Once()
	defer su.AssertExpectations(t)

	h := NewHub(m, false, time.Hour, su, testutil.TestLogger(t))
	h.Ensure("r1", Options{VideoURL: strPtr("https://example.com")})
}
