package match_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"chatmatch-service/internal/config"
	"chatmatch-service/internal/model"
	"chatmatch-service/internal/notify"
	"chatmatch-service/internal/repo"
	"chatmatch-service/internal/repo/repotest"
	"chatmatch-service/internal/service/match"
	"chatmatch-service/internal/service/room"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var t0 = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type notice struct {
	UserID  string
	Event   string
	Payload any
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notice
}

func (n *recordingNotifier) Notify(userID, event string, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice{UserID: userID, Event: event, Payload: payload})
}

func (n *recordingNotifier) For(userID, event string) []notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notice
	for _, nt := range n.notices {
		if nt.UserID == userID && nt.Event == event {
			out = append(out, nt)
		}
	}
	return out
}

func (n *recordingNotifier) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notices)
}

type mockRooms struct {
	mock.Mock
}

func (m *mockRooms) CreateEphemeralRoom(ctx context.Context, memberA, memberB, ownerID string) (string, error) {
	args := m.Called(ctx, memberA, memberB, ownerID)
	return args.String(0), args.Error(1)
}

// hookRooms calls after once the room exists, letting a test change queue
// state in the middle of a pairing.
type hookRooms struct {
	*room.Service
	after func()
}

func (h *hookRooms) CreateEphemeralRoom(ctx context.Context, memberA, memberB, ownerID string) (string, error) {
	id, err := h.Service.CreateEphemeralRoom(ctx, memberA, memberB, ownerID)
	if err == nil && h.after != nil {
		h.after()
	}
	return id, err
}

type fixture struct {
	db       *gorm.DB
	store    *repo.QueueStore
	rooms    *room.Service
	notifier *recordingNotifier
	clock    *fakeClock
	svc      *match.Service
}

type fixtureOption func(*fixture, *match.Config, *room.Creator)

func transactional(on bool) fixtureOption {
	return func(_ *fixture, cfg *match.Config, _ *room.Creator) {
		cfg.Transactional = on
	}
}

func withRooms(fn func(f *fixture) room.Creator) fixtureOption {
	return func(f *fixture, _ *match.Config, creator *room.Creator) {
		*creator = fn(f)
	}
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	db := repotest.NewDB(t)
	f := &fixture{
		db:       db,
		store:    repo.NewQueueStore(db),
		rooms:    room.NewService(db),
		notifier: &recordingNotifier{},
		clock:    &fakeClock{now: t0},
	}
	cfg := match.ConfigFrom(loadMatchConfig(t))
	var creator room.Creator = f.rooms
	for _, opt := range opts {
		opt(f, &cfg, &creator)
	}
	f.svc = match.NewService(f.store, creator, f.notifier, cfg, match.WithClock(f.clock.Now))
	return f
}

func (f *fixture) join(t *testing.T, userID string) *match.StatusResult {
	t.Helper()
	res, err := f.svc.Join(context.Background(), match.JoinRequest{UserID: userID})
	require.NoError(t, err)
	return res
}

func (f *fixture) entry(t *testing.T, userID string) *model.QueueEntry {
	t.Helper()
	entry, err := f.store.GetByUser(context.Background(), userID)
	require.NoError(t, err)
	return entry
}

func loadMatchConfig(t *testing.T) config.MatchConfig {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg.Match
}

func reason(t *testing.T, n notice) string {
	t.Helper()
	payload, ok := n.Payload.(notify.ReasonPayload)
	require.True(t, ok, "payload %T is not a reason", n.Payload)
	return payload.Reason
}
