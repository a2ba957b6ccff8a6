package match_test

import (
	"context"
	"testing"
	"time"

	"chatmatch-service/internal/model"
	"chatmatch-service/internal/repo"
	"chatmatch-service/internal/repo/repotest"
	"chatmatch-service/internal/service/match"
	"chatmatch-service/internal/service/room"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerMatchesAndStops(t *testing.T) {
	ctx := context.Background()
	db := repotest.NewDB(t)
	store := repo.NewQueueStore(db)
	notifier := &recordingNotifier{}

	cfg := match.ConfigFrom(loadMatchConfig(t))
	cfg.HeartbeatSweepInterval = 5 * time.Millisecond
	cfg.StaleSweepInterval = 5 * time.Millisecond
	cfg.MatchSweepInterval = 5 * time.Millisecond
	svc := match.NewService(store, room.NewService(db), notifier, cfg)

	now := time.Now().UTC()
	_, err := store.Enqueue(ctx, "alice", model.Preferences{}, now)
	require.NoError(t, err)
	_, err = store.Enqueue(ctx, "bob", model.Preferences{}, now)
	require.NoError(t, err)

	sched := match.NewScheduler(svc)
	sched.Start(ctx)
	sched.Start(ctx)

	require.Eventually(t, func() bool {
		status, err := svc.Status(ctx, "alice")
		return err == nil && status.Status == match.StatusMatched
	}, 2*time.Second, 10*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		sched.Stop()
		sched.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestSchedulerDisabledLoops(t *testing.T) {
	ctx := context.Background()
	db := repotest.NewDB(t)
	store := repo.NewQueueStore(db)

	cfg := match.ConfigFrom(loadMatchConfig(t))
	cfg.HeartbeatSweepInterval = 0
	cfg.StaleSweepInterval = 0
	cfg.MatchSweepInterval = 0
	svc := match.NewService(store, room.NewService(db), &recordingNotifier{}, cfg)

	_, err := store.Enqueue(ctx, "alice", model.Preferences{}, time.Now().UTC())
	require.NoError(t, err)
	_, err = store.Enqueue(ctx, "bob", model.Preferences{}, time.Now().UTC())
	require.NoError(t, err)

	sched := match.NewScheduler(svc)
	sched.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	sched.Stop()

	status, err := svc.Status(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, match.StatusSearching, status.Status)
}
