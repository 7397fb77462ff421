package mirror

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisMirror stores each room as a Redis hash, following the redis-tagged
// struct convention used by sibling watch-party services in the wild (e.g.
// a room/member/player hash layout) rather than a serialized blob, so a
// partial update (sync-state touching only url/time) is a single HSET.
type RedisMirror struct {
	client  *redis.Client
	log     *log.Logger
	timeout time.Duration
}

// NewRedisMirror dials addr lazily; go-redis connects on first use, so
// construction never blocks.
func NewRedisMirror(addr string, logger *log.Logger) *RedisMirror {
	return &RedisMirror{
		client: redis.NewClient(&redis.Options{
			Addr: addr,
		}),
		log:     logger,
		timeout: DefaultTimeout,
	}
}

func roomKey(roomID string) string {
	return "room:" + roomID
}

func (m *RedisMirror) SaveRoom(ctx context.Context, meta RoomMeta) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.client.HSet(ctx, roomKey(meta.RoomID), map[string]interface{}{
		"encryption_required": meta.EncryptionRequired,
		"video_url":           meta.VideoURL,
		"title_id":            meta.TitleID,
		"initial_time":        meta.InitialTime,
		"created_at":          meta.CreatedAt.Unix(),
	}).Err()
	if err != nil {
		m.log.Printf("mirror: save room %q: %v", meta.RoomID, err)
		return err
	}

	return nil
}

func (m *RedisMirror) SaveState(ctx context.Context, roomID, videoURL string, t float64) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.client.HSet(ctx, roomKey(roomID), map[string]interface{}{
		"video_url":    videoURL,
		"initial_time": t,
	}).Err()
	if err != nil {
		m.log.Printf("mirror: save state %q: %v", roomID, err)
		return err
	}

	return nil
}

func (m *RedisMirror) Load(ctx context.Context, roomID string) (RoomMeta, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	vals, err := m.client.HGetAll(ctx, roomKey(roomID)).Result()
	if err != nil {
		m.log.Printf("mirror: load %q: %v", roomID, err)
		return RoomMeta{}, false, err
	}
	if len(vals) == 0 {
		return RoomMeta{}, false, nil
	}

	meta := RoomMeta{RoomID: roomID}
	meta.EncryptionRequired = vals["encryption_required"] == "1" || vals["encryption_required"] == "true"
	meta.VideoURL = vals["video_url"]
	meta.TitleID = vals["title_id"]
	if t, err := strconv.ParseFloat(vals["initial_time"], 64); err == nil {
		meta.InitialTime = t
	}
	if ts, err := strconv.ParseInt(vals["created_at"], 10, 64); err == nil {
		meta.CreatedAt = time.Unix(ts, 0)
	}

	return meta, true, nil
}

func (m *RedisMirror) Close() error {
	return m.client.Close()
}

var _ Mirror = (*RedisMirror)(nil)
