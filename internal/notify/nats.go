package notify

import (
	"context"
	"sync"
	"time"

	"chatmatch-service/pkg/logger"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type NATSBus struct {
	nc  *nats.Conn
	now func() time.Time
}

func NewNATSBus(nc *nats.Conn) *NATSBus {
	return &NATSBus{nc: nc, now: func() time.Time { return time.Now().UTC() }}
}

// Subject is the nats subject for a user channel.
func Subject(userID string) string {
	return "chatmatch." + Channel(userID)
}

func (b *NATSBus) Publish(ctx context.Context, userID, event string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encode(event, payload, b.now())
	if err != nil {
		return err
	}
	return b.nc.Publish(Subject(userID), data)
}

func (b *NATSBus) Subscribe(ctx context.Context, userID string) (<-chan Message, func(), error) {
	var (
		mu     sync.Mutex
		closed bool
		out    = make(chan Message, 16)
	)
	ctx, cancel := context.WithCancel(ctx)

	sub, err := b.nc.Subscribe(Subject(userID), func(raw *nats.Msg) {
		msg, err := Decode(raw.Data)
		if err != nil {
			logger.Log.Warn("drop malformed notification",
				zap.String("subject", raw.Subject),
				zap.Error(err),
			)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case out <- msg:
		default:
			logger.Log.Warn("subscriber too slow, notification dropped",
				zap.String("userID", userID),
				zap.String("event", msg.Event),
			)
		}
	})
	if err != nil {
		cancel()
		return nil, nil, err
	}
	if err := b.nc.Flush(); err != nil {
		logger.Log.Warn("nats flush after subscribe failed", zap.Error(err))
	}

	go func() {
		<-ctx.Done()
		if err := sub.Unsubscribe(); err != nil {
			logger.Log.Warn("nats unsubscribe failed", zap.Error(err))
		}
		mu.Lock()
		closed = true
		close(out)
		mu.Unlock()
	}()
	return out, cancel, nil
}
