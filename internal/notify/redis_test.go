package notify_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"chatmatch-service/internal/notify"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisBus(t *testing.T) (*miniredis.Miniredis, *notify.RedisBus) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, notify.NewRedisBus(rdb)
}

func TestRedisBusPublishesEnvelopeOnUserChannel(t *testing.T) {
	ctx := context.Background()
	_, bus := newRedisBus(t)

	msgs, stop, err := bus.Subscribe(ctx, "alice")
	require.NoError(t, err)
	defer stop()

	err = bus.Publish(ctx, "alice", notify.EventMatchFound, notify.MatchFoundPayload{RoomID: "r1", PartnerID: "bob"})
	require.NoError(t, err)
	// another user's channel must not leak into alice's stream
	require.NoError(t, bus.Publish(ctx, "bob", notify.EventMatchFound, nil))

	select {
	case msg := <-msgs:
		assert.Equal(t, notify.EventMatchFound, msg.Event)
		assert.False(t, msg.SentAt.IsZero())
		var payload notify.MatchFoundPayload
		require.NoError(t, json.Unmarshal(msg.Payload, &payload))
		assert.Equal(t, "r1", payload.RoomID)
		assert.Equal(t, "bob", payload.PartnerID)
	case <-time.After(2 * time.Second):
		t.Fatal("no notification received")
	}

	select {
	case msg := <-msgs:
		t.Fatalf("unexpected message %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRedisBusStopClosesStream(t *testing.T) {
	_, bus := newRedisBus(t)

	msgs, stop, err := bus.Subscribe(context.Background(), "alice")
	require.NoError(t, err)
	stop()

	select {
	case _, ok := <-msgs:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed after stop")
	}
}

func TestRedisBusPublishFailsWhenServerDown(t *testing.T) {
	mr, bus := newRedisBus(t)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, bus.Publish(ctx, "alice", notify.EventSearchCancelled, nil))
}

func TestChannelIsPerUser(t *testing.T) {
	assert.Equal(t, "user:alice", notify.Channel("alice"))
	assert.Equal(t, "chatmatch.user:alice", notify.Subject("alice"))
}
