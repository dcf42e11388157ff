package client

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// notifyQueue runs notification callbacks in arrival order on a goroutine of
// its own. Deliveries never wait on a callback, so a callback may use the
// same client.
type notifyQueue struct {
	logger *zap.Logger

	mu    sync.Mutex
	items []func()
	wake  chan struct{}
}

func newNotifyQueue(logger *zap.Logger) *notifyQueue {
	return &notifyQueue{logger: logger, wake: make(chan struct{}, 1)}
}

func (q *notifyQueue) push(fn func()) {
	q.mu.Lock()
	q.items = append(q.items, fn)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// run drains the queue until ctx ends. Callbacks queued after that are dropped.
func (q *notifyQueue) run(ctx context.Context) {
	for {
		q.mu.Lock()
		items := q.items
		q.items = nil
		q.mu.Unlock()

		for _, fn := range items {
			if ctx.Err() != nil {
				return
			}
			q.invoke(fn)
		}
		if len(items) > 0 {
			continue
		}

		select {
		case <-q.wake:
		case <-ctx.Done():
			return
		}
	}
}

func (q *notifyQueue) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("notification callback panic", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	fn()
}
