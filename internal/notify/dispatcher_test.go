package notify_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chatmatch-service/internal/notify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	userID string
	event  string
}

type fakePublisher struct {
	mu      sync.Mutex
	sent    []sent
	failFor string
	block   chan struct{}
}

func (p *fakePublisher) Publish(ctx context.Context, userID, event string, payload any) error {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if userID == p.failFor {
		return errors.New("transport down")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, sent{userID: userID, event: event})
	return nil
}

func (p *fakePublisher) snapshot() []sent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sent(nil), p.sent...)
}

func TestDispatcherIsolatesRecipientFailures(t *testing.T) {
	pub := &fakePublisher{failFor: "bad"}
	d := notify.NewDispatcher(pub, 2, 16, time.Second)

	d.Notify("bad", notify.EventMatchFound, nil)
	d.Notify("good", notify.EventMatchFound, nil)
	d.Close()

	assert.Equal(t, []sent{{userID: "good", event: notify.EventMatchFound}}, pub.snapshot())
}

func TestDispatcherNotifyNeverBlocks(t *testing.T) {
	pub := &fakePublisher{block: make(chan struct{})}
	d := notify.NewDispatcher(pub, 1, 1, time.Second)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			d.Notify("u1", notify.EventSearchTimeout, nil)
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a stalled publisher")
	}

	close(pub.block)
	d.Close()
	assert.NotEmpty(t, pub.snapshot())
	assert.Less(t, len(pub.snapshot()), 10, "overflow should have been dropped")
}

func TestDispatcherDropsAfterClose(t *testing.T) {
	pub := &fakePublisher{}
	d := notify.NewDispatcher(pub, 1, 4, time.Second)
	d.Close()
	d.Close()

	require.NotPanics(t, func() { d.Notify("u1", notify.EventMatchFound, nil) })
	assert.Empty(t, pub.snapshot())
}
