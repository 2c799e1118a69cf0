// Package channels provides the delivery channel interface for proactive
// expressions and platform notifications, plus the concurrent registry the
// expression dispatcher selects from.
package channels

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// Well-known channel names the dispatcher routes to.
const (
	Main         = "main"
	Notification = "notification"
	Secondary    = "secondary"
)

// Delivery is one outbound proactive payload.
type Delivery struct {
	UserID        string         `json:"user_id"`
	SessionID     string         `json:"session_id,omitempty"`
	Type          string         `json:"type"`
	Content       string         `json:"content"`
	PriorityScore float64        `json:"priority_score"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Timestamp     int64          `json:"timestamp"`
}

// Channel delivers expressions to one destination. Implementations must be
// safe for concurrent use; a returned error marks the delivery failed and
// is recorded by the dispatcher.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, delivery *Delivery) error
}

// ErrNoChannel is returned when a delivery names an unregistered channel.
var ErrNoChannel = errors.New("no such delivery channel")

// Registry is a concurrent name-to-channel map.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]Channel)}
}

// Register adds or replaces a channel under its own name.
func (r *Registry) Register(channel Channel) {
	r.mu.Lock()
	r.channels[channel.Name()] = channel
	r.mu.Unlock()
}

// Unregister removes a channel. Unknown names are a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	delete(r.channels, name)
	r.mu.Unlock()
}

// Get returns the channel or nil.
func (r *Registry) Get(name string) Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channels[name]
}

// Has reports whether a channel is registered under the name.
func (r *Registry) Has(name string) bool {
	return r.Get(name) != nil
}

// Deliver resolves the channel and hands the payload over.
func (r *Registry) Deliver(ctx context.Context, name string, delivery *Delivery) error {
	channel := r.Get(name)
	if channel == nil {
		return errors.Wrap(ErrNoChannel, name)
	}
	return channel.Deliver(ctx, delivery)
}

// FuncChannel adapts a plain function into a Channel.
type FuncChannel struct {
	ChannelName string
	Fn          func(ctx context.Context, delivery *Delivery) error
}

func (f *FuncChannel) Name() string { return f.ChannelName }

func (f *FuncChannel) Deliver(ctx context.Context, delivery *Delivery) error {
	return f.Fn(ctx, delivery)
}
