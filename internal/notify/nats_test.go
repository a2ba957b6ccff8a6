package notify_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"chatmatch-service/internal/notify"

	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newNATSBus(t *testing.T) (*nats.Conn, *notify.NATSBus) {
	t.Helper()
	opts := natsserver.DefaultTestOptions
	opts.Port = -1
	srv := natsserver.RunServer(&opts)
	t.Cleanup(srv.Shutdown)

	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc, notify.NewNATSBus(nc)
}

func TestNATSBusPublishesEnvelopeOnUserSubject(t *testing.T) {
	ctx := context.Background()
	nc, bus := newNATSBus(t)

	raw, err := nc.SubscribeSync(notify.Subject("alice"))
	require.NoError(t, err)
	msgs, stop, err := bus.Subscribe(ctx, "alice")
	require.NoError(t, err)
	defer stop()

	err = bus.Publish(ctx, "alice", notify.EventMatchFound, notify.MatchFoundPayload{RoomID: "r1", PartnerID: "bob"})
	require.NoError(t, err)
	// another user's subject must not leak into alice's stream
	require.NoError(t, bus.Publish(ctx, "bob", notify.EventMatchFound, nil))
	require.NoError(t, nc.Flush())

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

	wire, err := raw.NextMsg(time.Second)
	require.NoError(t, err)
	decoded, err := notify.Decode(wire.Data)
	require.NoError(t, err)
	assert.Equal(t, notify.EventMatchFound, decoded.Event)
}

func TestNATSBusStopClosesStream(t *testing.T) {
	ctx := context.Background()
	nc, bus := newNATSBus(t)

	msgs, stop, err := bus.Subscribe(ctx, "alice")
	require.NoError(t, err)
	stop()

	select {
	case _, ok := <-msgs:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed after stop")
	}

	// publishing after the stream closed must not panic the handler
	require.NoError(t, bus.Publish(ctx, "alice", notify.EventSearchCancelled, nil))
	require.NoError(t, nc.Flush())
}

func TestNATSBusDropsWhenSubscriberIsSlow(t *testing.T) {
	ctx := context.Background()
	nc, bus := newNATSBus(t)

	msgs, stop, err := bus.Subscribe(ctx, "alice")
	require.NoError(t, err)

	for i := 0; i < 40; i++ {
		require.NoError(t, bus.Publish(ctx, "alice", notify.EventSearchTimeout, notify.ReasonPayload{Reason: notify.ReasonHeartbeatLost}))
	}
	require.NoError(t, nc.Flush())
	require.Eventually(t, func() bool { return len(msgs) == cap(msgs) }, 2*time.Second, 10*time.Millisecond)

	stop()
	received := 0
	for range msgs {
		received++
	}
	assert.Equal(t, cap(msgs), received, "the buffer is kept and the overflow dropped")
}

func TestNATSBusPublishFailsAfterClose(t *testing.T) {
	nc, bus := newNATSBus(t)
	nc.Close()

	err := bus.Publish(context.Background(), "alice", notify.EventSearchCancelled, nil)
	assert.ErrorIs(t, err, nats.ErrConnectionClosed)

	_, _, err = bus.Subscribe(context.Background(), "alice")
	assert.Error(t, err)
}
