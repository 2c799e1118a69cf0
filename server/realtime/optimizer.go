package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/RcityLucas/Prizm-Agent-sub001/internal/errkind"
)

// FlushSink receives a flushed batch envelope for one user. In production
// this is Router.DeliverToUser.
type FlushSink func(ctx context.Context, userID string, env *Envelope)

// Optimizer micro-batches outbound messages per user. A queue flushes when
// it reaches maxBatchSize, when its oldest message reaches batchInterval, or
// immediately for bypass types (typing, presence_change, error).
type Optimizer struct {
	maxBatchSize  int
	batchInterval time.Duration
	truncateLen   int
	sink          FlushSink
	now           func() time.Time

	mu     sync.RWMutex
	queues map[string]*userQueue
}

type userQueue struct {
	mu       sync.Mutex
	messages []*Message
	timer    *time.Timer
}

// NewOptimizer creates an optimizer feeding the given sink.
func NewOptimizer(maxBatchSize int, batchInterval time.Duration, truncateLen int, sink FlushSink) *Optimizer {
	if maxBatchSize <= 0 {
		maxBatchSize = 20
	}
	if batchInterval <= 0 {
		batchInterval = 100 * time.Millisecond
	}
	if truncateLen <= 0 {
		truncateLen = 1000
	}
	return &Optimizer{
		maxBatchSize:  maxBatchSize,
		batchInterval: batchInterval,
		truncateLen:   truncateLen,
		sink:          sink,
		now:           time.Now,
		queues:        make(map[string]*userQueue),
	}
}

// SetClock replaces the time source. Tests only.
func (o *Optimizer) SetClock(now func() time.Time) { o.now = now }

// RegisterUser opens a queue for the user. Idempotent.
func (o *Optimizer) RegisterUser(userID string) {
	o.mu.Lock()
	if _, ok := o.queues[userID]; !ok {
		o.queues[userID] = &userQueue{}
	}
	o.mu.Unlock()
}

// UnregisterUser flushes any queued messages and closes the queue.
func (o *Optimizer) UnregisterUser(ctx context.Context, userID string) {
	o.mu.Lock()
	q, ok := o.queues[userID]
	delete(o.queues, userID)
	o.mu.Unlock()
	if ok {
		o.flush(ctx, userID, q)
	}
}

// IsRegistered reports whether the user has an open queue.
func (o *Optimizer) IsRegistered(userID string) bool {
	o.mu.RLock()
	_, ok := o.queues[userID]
	o.mu.RUnlock()
	return ok
}

// Enqueue queues a message for the user. Bypass types and forceImmediate
// flush the whole queue at once; otherwise the queue flushes on size or age.
// Enqueueing for an unregistered user is an error.
func (o *Optimizer) Enqueue(ctx context.Context, userID string, msg *Message, forceImmediate bool) error {
	o.mu.RLock()
	q, ok := o.queues[userID]
	o.mu.RUnlock()
	if !ok {
		return errors.Wrapf(errkind.ErrInvalidInput, "no outbound queue for user %s", userID)
	}

	if msg.Timestamp == 0 {
		msg.Timestamp = o.now().UnixMilli()
	}

	q.mu.Lock()
	q.messages = append(q.messages, msg)
	size := len(q.messages)
	immediate := forceImmediate || msg.bypassesBatching() || size >= o.maxBatchSize
	if immediate {
		if q.timer != nil {
			q.timer.Stop()
			q.timer = nil
		}
		q.mu.Unlock()
		o.flush(ctx, userID, q)
		return nil
	}
	if q.timer == nil {
		q.timer = time.AfterFunc(o.batchInterval, func() {
			o.flush(context.Background(), userID, q)
		})
	}
	q.mu.Unlock()
	return nil
}

// flush drains the queue, optimizes the payloads and hands one batch
// envelope to the sink. Flushing an empty queue is a no-op.
func (o *Optimizer) flush(ctx context.Context, userID string, q *userQueue) {
	q.mu.Lock()
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	batch := q.messages
	q.messages = nil
	q.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	optimized := make([]*Message, len(batch))
	for i, msg := range batch {
		optimized[i] = o.optimize(msg)
	}
	o.sink(ctx, userID, &Envelope{
		Type:      EventBatch,
		Messages:  optimized,
		Count:     len(optimized),
		Timestamp: o.now().UnixMilli(),
	})
}

// Flush forces an immediate flush of the user's queue.
func (o *Optimizer) Flush(ctx context.Context, userID string) {
	o.mu.RLock()
	q, ok := o.queues[userID]
	o.mu.RUnlock()
	if ok {
		o.flush(ctx, userID, q)
	}
}

// optimize slims one message for the wire: debug fields dropped, oversized
// content truncated with a marker. The limit counts runes, not bytes, so
// multibyte text is never split mid-sequence.
func (o *Optimizer) optimize(msg *Message) *Message {
	out := msg.Clone()
	out.Debug = nil
	if len(out.Content) > o.truncateLen {
		if runes := []rune(out.Content); len(runes) > o.truncateLen {
			out.Content = string(runes[:o.truncateLen])
			out.ContentTruncated = true
		}
	}
	return out
}
