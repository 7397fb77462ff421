package mirror

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockMirror is a testify mock satisfying Mirror, following the
// MockStatsUpdater convention used elsewhere in this repo's tests.
type MockMirror struct {
	mock.Mock
}

func (m *MockMirror) SaveRoom(ctx context.Context, meta RoomMeta) error {
	args := m.Called(ctx, meta)
	return args.Error(0)
}

func (m *MockMirror) SaveState(ctx context.Context, roomID, videoURL string, t float64) error {
	args := m.Called(ctx, roomID, videoURL, t)
	return args.Error(0)
}

func (m *MockMirror) Load(ctx context.Context, roomID string) (RoomMeta, bool, error) {
	args := m.Called(ctx, roomID)
	meta, _ := args.Get(0).(RoomMeta)
	return meta, args.Bool(1), args.Error(2)
}

var _ Mirror = (*MockMirror)(nil)
