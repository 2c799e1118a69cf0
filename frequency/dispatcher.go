package frequency

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/RcityLucas/Prizm-Agent-sub001/plugin/channels"
	"github.com/RcityLucas/Prizm-Agent-sub001/store"
)

const (
	dispatchQueueCap = 64
	dispatchRing     = 50
	deliverTimeout   = 30 * time.Second
)

// DispatchRecord is one history entry of an attempted delivery.
type DispatchRecord struct {
	Timestamp      int64                `json:"timestamp"`
	ExpressionID   string               `json:"expression_id"`
	ExpressionType store.ExpressionType `json:"expression_type"`
	Channel        string               `json:"channel"`
	Success        bool                 `json:"success"`
}

type dispatchJob struct {
	expr    *Expression
	channel string
}

// Dispatcher queues finished expressions and delivers them through the
// channel registry on a single worker, so producers never block on slow
// channels.
type Dispatcher struct {
	registry *channels.Registry
	queue    chan dispatchJob
	done     chan struct{}

	mu      sync.Mutex
	history []DispatchRecord
	started bool
	closed  bool
	now     func() time.Time
}

// NewDispatcher creates a dispatcher over the registry.
func NewDispatcher(registry *channels.Registry) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		queue:    make(chan dispatchJob, dispatchQueueCap),
		done:     make(chan struct{}),
		now:      time.Now,
	}
}

// SetClock replaces the time source. Tests only.
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.mu.Lock()
	d.now = now
	d.mu.Unlock()
}

// Start launches the delivery worker.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()
	go d.loop()
}

// Close stops accepting work and waits for the worker to exit. Queued jobs
// are drained before the worker stops.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	started := d.started
	close(d.queue)
	d.mu.Unlock()

	if started {
		<-d.done
	}
}

// Dispatch enqueues the expression. channel may be empty; the worker then
// selects one by priority and type. A full queue drops the expression so
// producers never block; the drop is logged and reported.
func (d *Dispatcher) Dispatch(expr *Expression, channel string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}

	// The lock orders this send against Close closing the queue.
	select {
	case d.queue <- dispatchJob{expr: expr, channel: channel}:
		return true
	default:
		slog.Warn("expression queue full, dropping",
			"expression_id", expr.ID, "user_id", expr.UserID)
		return false
	}
}

// History returns a copy of the delivery ring, oldest first.
func (d *Dispatcher) History() []DispatchRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DispatchRecord(nil), d.history...)
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for job := range d.queue {
		d.deliver(job)
	}
}

func (d *Dispatcher) deliver(job dispatchJob) {
	name := job.channel
	if name == "" {
		name = selectChannel(job.expr)
	}
	if !d.registry.Has(name) && name != channels.Main {
		name = channels.Main
	}

	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	err := d.registry.Deliver(ctx, name, &channels.Delivery{
		UserID:        job.expr.UserID,
		SessionID:     job.expr.SessionID,
		Type:          string(job.expr.Type),
		Content:       job.expr.Content,
		PriorityScore: job.expr.PriorityScore,
		Timestamp:     job.expr.CreatedTs,
		Metadata: map[string]any{
			"expression_id":      job.expr.ID,
			"relationship_stage": string(job.expr.Stage),
			"style":              job.expr.Style,
			"is_fallback":        job.expr.IsFallback,
		},
	})
	cancel()
	if err != nil {
		slog.Warn("expression delivery failed",
			"expression_id", job.expr.ID, "channel", name, "error", err)
	}

	d.mu.Lock()
	d.history = append(d.history, DispatchRecord{
		Timestamp:      d.now().UnixMilli(),
		ExpressionID:   job.expr.ID,
		ExpressionType: job.expr.Type,
		Channel:        name,
		Success:        err == nil,
	})
	if len(d.history) > dispatchRing {
		d.history = d.history[len(d.history)-dispatchRing:]
	}
	d.mu.Unlock()
}

// selectChannel routes by priority first, then by type: reminders go to
// the notification channel, ambient types to the secondary one.
func selectChannel(expr *Expression) string {
	if expr.PriorityScore > 0.8 {
		return channels.Main
	}
	switch expr.Type {
	case store.ExpressionReminder:
		return channels.Notification
	case store.ExpressionGreeting, store.ExpressionObservation:
		return channels.Secondary
	default:
		return channels.Main
	}
}
