package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// DeliverFunc hands an envelope to one live transport connection. An error
// means the connection is dead; the router removes the handler so it never
// keeps a disconnected transport alive.
type DeliverFunc func(ctx context.Context, env *Envelope) error

// RegisterHook runs when a user gains a connection, before the spool drains.
// The notifier uses it to send the offline summary first.
type RegisterHook func(ctx context.Context, userID string, deliver DeliverFunc)

type connection struct {
	id      string
	deliver DeliverFunc
}

// userEntry carries one user's connections and spool under its own lock, so
// traffic for one user never contends with another's.
type userEntry struct {
	mu          sync.Mutex
	connections []*connection
	spool       []*Envelope
}

// Router owns the user-to-connections mapping and the offline spool.
type Router struct {
	spoolCap  int
	drainRate rate.Limit
	now       func() time.Time

	mu    sync.RWMutex
	users map[string]*userEntry

	hooksMu sync.RWMutex
	hooks   []RegisterHook
}

// NewRouter creates a router. spoolCap bounds per-user spooled envelopes
// (oldest dropped on overflow); drainPerSecond throttles the reconnect drain.
func NewRouter(spoolCap int, drainPerSecond float64) *Router {
	if spoolCap <= 0 {
		spoolCap = 100
	}
	if drainPerSecond <= 0 {
		drainPerSecond = 20
	}
	return &Router{
		spoolCap:  spoolCap,
		drainRate: rate.Limit(drainPerSecond),
		now:       time.Now,
		users:     make(map[string]*userEntry),
	}
}

// SetClock replaces the time source. Tests only.
func (r *Router) SetClock(now func() time.Time) { r.now = now }

// OnRegister adds a hook invoked on every new connection.
func (r *Router) OnRegister(hook RegisterHook) {
	r.hooksMu.Lock()
	r.hooks = append(r.hooks, hook)
	r.hooksMu.Unlock()
}

func (r *Router) entry(userID string, create bool) *userEntry {
	r.mu.RLock()
	e := r.users[userID]
	r.mu.RUnlock()
	if e != nil || !create {
		return e
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e = r.users[userID]; e == nil {
		e = &userEntry{}
		r.users[userID] = e
	}
	return e
}

// RegisterConnection attaches a live connection for the user, fires the
// register hooks, then drains the spool FIFO through the drain limiter.
// The returned func unregisters exactly this connection.
func (r *Router) RegisterConnection(ctx context.Context, userID string, deliver DeliverFunc) (unregister func()) {
	conn := &connection{id: uuid.NewString(), deliver: deliver}

	e := r.entry(userID, true)
	e.mu.Lock()
	e.connections = append(e.connections, conn)
	spooled := e.spool
	e.spool = nil
	e.mu.Unlock()

	r.hooksMu.RLock()
	hooks := r.hooks
	r.hooksMu.RUnlock()
	for _, hook := range hooks {
		hook(ctx, userID, deliver)
	}

	if len(spooled) > 0 {
		go r.drainSpool(ctx, userID, deliver, spooled)
	}

	return func() { r.UnregisterConnection(userID, conn.id) }
}

func (r *Router) drainSpool(ctx context.Context, userID string, deliver DeliverFunc, spooled []*Envelope) {
	limiter := rate.NewLimiter(r.drainRate, 1)
	for _, env := range spooled {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		if err := deliver(ctx, env); err != nil {
			slog.Warn("spool drain delivery failed", "user_id", userID, "error", err)
			return
		}
	}
	slog.Debug("spool drained", "user_id", userID, "count", len(spooled))
}

// UnregisterConnection removes one connection; the user entry is dropped
// once no connections and no spool remain.
func (r *Router) UnregisterConnection(userID, connID string) {
	e := r.entry(userID, false)
	if e == nil {
		return
	}
	e.mu.Lock()
	kept := e.connections[:0]
	for _, c := range e.connections {
		if c.id != connID {
			kept = append(kept, c)
		}
	}
	e.connections = kept
	empty := len(e.connections) == 0 && len(e.spool) == 0
	e.mu.Unlock()

	if empty {
		r.mu.Lock()
		// Re-check under the table lock; a concurrent register may have
		// repopulated the entry.
		e.mu.Lock()
		if len(e.connections) == 0 && len(e.spool) == 0 {
			delete(r.users, userID)
		}
		e.mu.Unlock()
		r.mu.Unlock()
	}
}

// HasConnection reports whether the user has at least one live connection.
func (r *Router) HasConnection(userID string) bool {
	e := r.entry(userID, false)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.connections) > 0
}

// SpoolLen returns the number of spooled envelopes for the user.
func (r *Router) SpoolLen(userID string) int {
	e := r.entry(userID, false)
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.spool)
}

// DeliverToUser fans the envelope out to every live connection in parallel,
// or spools it when none exist. A failed handler is removed; one recipient's
// failure never fails the caller. Returns true when at least one live
// delivery was attempted, false when the envelope was spooled.
func (r *Router) DeliverToUser(ctx context.Context, userID string, env *Envelope) bool {
	e := r.entry(userID, true)

	e.mu.Lock()
	if len(e.connections) == 0 {
		if len(e.spool) >= r.spoolCap {
			dropped := len(e.spool) - r.spoolCap + 1
			e.spool = append(e.spool[:0], e.spool[dropped:]...)
			slog.Debug("offline spool overflow", "user_id", userID, "dropped", dropped)
		}
		e.spool = append(e.spool, env)
		e.mu.Unlock()
		return false
	}
	conns := append([]*connection(nil), e.connections...)
	e.mu.Unlock()

	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := conn.deliver(ctx, env); err != nil {
				slog.Warn("delivery failed, removing connection",
					"user_id", userID, "conn_id", conn.id, "error", err)
				r.UnregisterConnection(userID, conn.id)
			}
		}()
	}
	wg.Wait()
	return true
}

// RouteMessage delivers the envelope to each recipient. Per recipient the
// order of envelopes across calls is FIFO; no order is promised between
// recipients.
func (r *Router) RouteMessage(ctx context.Context, env *Envelope, recipients []string) {
	for _, userID := range recipients {
		r.DeliverToUser(ctx, userID, env)
	}
}
