package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// StatusListener receives online/offline edges for users a subscriber
// watches. The notifier bridges these onto the fabric as status_changed
// events.
type StatusListener func(subscriberID, targetID string, online bool)

// Presence tracks which users have heartbeated recently. Records are
// ephemeral; nothing here survives a restart.
type Presence struct {
	heartbeatTimeout time.Duration
	monitorInterval  time.Duration
	now              func() time.Time

	mu            sync.RWMutex
	online        map[string]time.Time        // user id -> last heartbeat
	subscriptions map[string]map[string]bool  // target -> set of subscribers

	listener StatusListener

	started  bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewPresence creates a presence service with the given timeouts.
func NewPresence(heartbeatTimeout, monitorInterval time.Duration) *Presence {
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = 30 * time.Second
	}
	if monitorInterval <= 0 {
		monitorInterval = 10 * time.Second
	}
	return &Presence{
		heartbeatTimeout: heartbeatTimeout,
		monitorInterval:  monitorInterval,
		now:              time.Now,
		online:           make(map[string]time.Time),
		subscriptions:    make(map[string]map[string]bool),
		stop:             make(chan struct{}),
		done:             make(chan struct{}),
	}
}

// SetClock replaces the time source. Tests only.
func (p *Presence) SetClock(now func() time.Time) { p.now = now }

// OnStatusChange installs the transition listener. One edge produces exactly
// one call per subscriber.
func (p *Presence) OnStatusChange(listener StatusListener) { p.listener = listener }

// Heartbeat records activity for the user. The offline-to-online edge
// notifies subscribers; repeated heartbeats while online do not.
func (p *Presence) Heartbeat(userID string) {
	p.mu.Lock()
	_, wasOnline := p.online[userID]
	p.online[userID] = p.now()
	subscribers := p.subscribersLocked(userID)
	p.mu.Unlock()

	if !wasOnline {
		p.emit(subscribers, userID, true)
	}
}

// SetOffline removes the user and emits the offline edge. A no-op for users
// already offline.
func (p *Presence) SetOffline(userID string) {
	p.mu.Lock()
	_, wasOnline := p.online[userID]
	delete(p.online, userID)
	subscribers := p.subscribersLocked(userID)
	p.mu.Unlock()

	if wasOnline {
		p.emit(subscribers, userID, false)
	}
}

// IsOnline reports whether the user heartbeated within the timeout.
func (p *Presence) IsOnline(userID string) bool {
	p.mu.RLock()
	last, ok := p.online[userID]
	p.mu.RUnlock()
	return ok && p.now().Sub(last) < p.heartbeatTimeout
}

// OnlineUsers returns the ids of all currently online users.
func (p *Presence) OnlineUsers() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	now := p.now()
	out := make([]string, 0, len(p.online))
	for id, last := range p.online {
		if now.Sub(last) < p.heartbeatTimeout {
			out = append(out, id)
		}
	}
	return out
}

// Subscribe makes subscriber receive status edges for target.
func (p *Presence) Subscribe(subscriberID, targetID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.subscriptions[targetID]
	if !ok {
		set = make(map[string]bool)
		p.subscriptions[targetID] = set
	}
	set[subscriberID] = true
}

// Unsubscribe removes the watch. Unknown pairs are a no-op.
func (p *Presence) Unsubscribe(subscriberID, targetID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set := p.subscriptions[targetID]
	delete(set, subscriberID)
	if len(set) == 0 {
		delete(p.subscriptions, targetID)
	}
}

func (p *Presence) subscribersLocked(targetID string) []string {
	set := p.subscriptions[targetID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

func (p *Presence) emit(subscribers []string, targetID string, online bool) {
	if p.listener == nil {
		return
	}
	for _, subscriber := range subscribers {
		p.listener(subscriber, targetID, online)
	}
}

// Start launches the expiry monitor. Users whose heartbeat is older than the
// timeout transition to offline.
func (p *Presence) Start(ctx context.Context) {
	p.started = true
	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.monitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stop:
				return
			case <-ticker.C:
				p.expire()
			}
		}
	}()
}

func (p *Presence) expire() {
	now := p.now()

	p.mu.Lock()
	var expired []string
	for id, last := range p.online {
		if now.Sub(last) > p.heartbeatTimeout {
			expired = append(expired, id)
		}
	}
	type edge struct {
		target      string
		subscribers []string
	}
	edges := make([]edge, 0, len(expired))
	for _, id := range expired {
		delete(p.online, id)
		edges = append(edges, edge{target: id, subscribers: p.subscribersLocked(id)})
	}
	p.mu.Unlock()

	for _, e := range edges {
		slog.Debug("presence expired", "user_id", e.target)
		p.emit(e.subscribers, e.target, false)
	}
}

// Close stops the monitor; the in-flight sweep completes first.
func (p *Presence) Close() {
	p.stopOnce.Do(func() { close(p.stop) })
	if p.started {
		<-p.done
	}
}
