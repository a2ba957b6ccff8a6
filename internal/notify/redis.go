package notify

import (
	"context"
	"time"

	"chatmatch-service/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RedisBus struct {
	rdb *redis.Client
	now func() time.Time
}

func NewRedisBus(rdb *redis.Client) *RedisBus {
	return &RedisBus{rdb: rdb, now: func() time.Time { return time.Now().UTC() }}
}

func (b *RedisBus) Publish(ctx context.Context, userID, event string, payload any) error {
	data, err := encode(event, payload, b.now())
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, Channel(userID), data).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, userID string) (<-chan Message, func(), error) {
	pubsub := b.rdb.Subscribe(ctx, Channel(userID))
	// wait for the subscription to be confirmed so no event published
	// after Subscribe returns is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan Message, 16)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-ch:
				if !ok {
					return
				}
				msg, err := Decode([]byte(raw.Payload))
				if err != nil {
					logger.Log.Warn("drop malformed notification",
						zap.String("channel", raw.Channel),
						zap.Error(err),
					)
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, cancel, nil
}
