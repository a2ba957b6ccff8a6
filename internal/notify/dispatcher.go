package notify

import (
	"context"
	"sync"
	"time"

	"chatmatch-service/pkg/logger"

	"go.uber.org/zap"
)

type job struct {
	userID  string
	event   string
	payload any
}

// Dispatcher sends notifications from a fixed worker pool so callers never
// wait on the transport. A failed or dropped notification is logged and
// never affects other recipients.
type Dispatcher struct {
	pub     Publisher
	timeout time.Duration
	jobs    chan job

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(pub Publisher, workers, buffer int, timeout time.Duration) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if buffer < 0 {
		buffer = 0
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	d := &Dispatcher{
		pub:     pub,
		timeout: timeout,
		jobs:    make(chan job, buffer),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
	return d
}

// Notify queues event for userID and returns immediately.
func (d *Dispatcher) Notify(userID, event string, payload any) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		logger.Log.Warn("notification after close dropped",
			zap.String("userID", userID),
			zap.String("event", event),
		)
		return
	}
	select {
	case d.jobs <- job{userID: userID, event: event, payload: payload}:
	default:
		logger.Log.Warn("notification queue full, dropped",
			zap.String("userID", userID),
			zap.String("event", event),
		)
	}
}

// Close stops accepting notifications and waits for queued ones to be sent.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for j := range d.jobs {
		d.send(j)
	}
}

func (d *Dispatcher) send(j job) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error("notification publisher panicked",
				zap.String("userID", j.userID),
				zap.String("event", j.event),
				zap.Any("panic", r),
			)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.pub.Publish(ctx, j.userID, j.event, j.payload); err != nil {
		logger.Log.Warn("notification delivery failed",
			zap.String("userID", j.userID),
			zap.String("event", j.event),
			zap.Error(err),
		)
	}
}
