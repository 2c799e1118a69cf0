package frequency

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/RcityLucas/Prizm-Agent-sub001/ai/llm"
	"github.com/RcityLucas/Prizm-Agent-sub001/internal/errkind"
	"github.com/RcityLucas/Prizm-Agent-sub001/internal/profile"
	"github.com/RcityLucas/Prizm-Agent-sub001/plugin/channels"
	"github.com/RcityLucas/Prizm-Agent-sub001/server/realtime"
	"github.com/RcityLucas/Prizm-Agent-sub001/store"
)

// Integrator owns the per-session contexts and the monitoring loop, and
// wires the five pipeline stages together. It also implements the dialogue
// manager's frequency hook so normal traffic feeds the sampler.
type Integrator struct {
	store      *store.Store
	sampler    *Sampler
	sense      *SenseCore
	planner    *Planner
	generator  *Generator
	registry   *channels.Registry
	dispatcher *Dispatcher

	interval time.Duration

	mu       sync.Mutex
	contexts map[string]*Context
	timers   map[string]*time.Timer
	started  bool
	closed   bool

	done chan struct{}
	now  func() time.Time
}

// NewIntegrator assembles the pipeline from the profile's tunables. The
// notifier, when present, becomes the main delivery channel bridging
// expressions into the realtime fabric; svc may be nil to run entirely on
// fallback content.
func NewIntegrator(st *store.Store, svc llm.Service, notifier *realtime.Notifier, p *profile.Profile) *Integrator {
	sampler := NewSampler()
	registry := channels.NewRegistry()

	integrator := &Integrator{
		store:      st,
		sampler:    sampler,
		sense:      NewSenseCore(sampler, svc, p.ExpressionThreshold, time.Duration(p.ExpressionCooldown)*time.Second),
		planner:    NewPlanner(st),
		generator:  NewGenerator(svc),
		registry:   registry,
		dispatcher: NewDispatcher(registry),
		interval:   time.Duration(p.MonitoringInterval) * time.Second,
		contexts:   make(map[string]*Context),
		timers:     make(map[string]*time.Timer),
		done:       make(chan struct{}),
		now:        time.Now,
	}
	if integrator.interval <= 0 {
		integrator.interval = 60 * time.Second
	}

	if notifier != nil {
		registry.Register(&channels.FuncChannel{
			ChannelName: channels.Main,
			Fn: func(ctx context.Context, delivery *channels.Delivery) error {
				notifier.ProactiveExpression(ctx, delivery.UserID, delivery.SessionID, &store.Expression{
					ID:                metadataString(delivery.Metadata, "expression_id"),
					UserID:            delivery.UserID,
					SessionID:         delivery.SessionID,
					Type:              store.ExpressionType(delivery.Type),
					Content:           delivery.Content,
					PriorityScore:     delivery.PriorityScore,
					RelationshipStage: store.RelationshipStage(metadataString(delivery.Metadata, "relationship_stage")),
				})
				return nil
			},
		})
	}
	return integrator
}

// Channels exposes the registry so callers can add notification and
// secondary channels (webhook, Telegram).
func (in *Integrator) Channels() *channels.Registry { return in.registry }

// Sense exposes the sense core, mainly for inspection endpoints.
func (in *Integrator) Sense() *SenseCore { return in.sense }

// Dispatcher exposes the dispatcher, mainly for inspection endpoints.
func (in *Integrator) Dispatcher() *Dispatcher { return in.dispatcher }

// SetClock replaces the time source across the pipeline. Tests only.
func (in *Integrator) SetClock(now func() time.Time) {
	in.mu.Lock()
	in.now = now
	in.mu.Unlock()
	in.sampler.SetClock(now)
	in.sense.SetClock(now)
	in.dispatcher.SetClock(now)
}

// Start launches the dispatcher worker and the monitoring loop.
func (in *Integrator) Start() {
	in.mu.Lock()
	if in.started || in.closed {
		in.mu.Unlock()
		return
	}
	in.started = true
	in.mu.Unlock()

	in.dispatcher.Start()
	go in.monitorLoop()
}

// Stop shuts the monitoring loop, pending delivery timers and the
// dispatcher down. In-flight work completes first.
func (in *Integrator) Stop() {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return
	}
	in.closed = true
	started := in.started
	timers := in.timers
	in.timers = make(map[string]*time.Timer)
	in.mu.Unlock()

	for _, timer := range timers {
		timer.Stop()
	}
	if started {
		close(in.done)
	}
	in.dispatcher.Close()
}

func (in *Integrator) monitorLoop() {
	ticker := time.NewTicker(in.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			in.tick()
		case <-in.done:
			return
		}
	}
}

// tick triggers an evaluation for every session that has gone quiet for at
// least one full interval.
func (in *Integrator) tick() {
	in.mu.Lock()
	now := in.now()
	var stale []string
	for sessionID, c := range in.contexts {
		if now.Sub(c.UpdatedAt) >= in.interval {
			stale = append(stale, sessionID)
		}
	}
	in.mu.Unlock()

	for _, sessionID := range stale {
		if err := in.TriggerExpression(context.Background(), sessionID); err != nil {
			slog.Warn("monitor trigger failed", "session_id", sessionID, "error", err)
		}
	}
}

// TrackSession registers a session context so the monitor loop sees it.
func (in *Integrator) TrackSession(sessionID, userID string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if _, ok := in.contexts[sessionID]; !ok {
		c := newContext(sessionID, userID)
		c.UpdatedAt = in.now()
		in.contexts[sessionID] = c
	}
}

// UpdateContext applies a patch to a session's context under the lock,
// creating the context if needed.
func (in *Integrator) UpdateContext(sessionID string, patch func(*Context)) {
	in.mu.Lock()
	defer in.mu.Unlock()
	c, ok := in.contexts[sessionID]
	if !ok {
		c = newContext(sessionID, "")
		in.contexts[sessionID] = c
	}
	patch(c)
	c.UpdatedAt = in.now()
}

// RegisterUserActivity records non-message activity (opening the session,
// scrolling, reacting) and bumps the user's interaction count.
func (in *Integrator) RegisterUserActivity(ctx context.Context, sessionID, userID, kind string) {
	in.mu.Lock()
	c, ok := in.contexts[sessionID]
	if !ok {
		c = newContext(sessionID, userID)
		in.contexts[sessionID] = c
	}
	if c.UserID == "" {
		c.UserID = userID
	}
	now := in.now()
	c.LastUserActivity = now
	c.UpdatedAt = now
	in.mu.Unlock()

	if in.store != nil && userID != "" {
		if _, err := in.store.IncrementUserInteraction(ctx, userID, 1); err != nil {
			slog.Warn("interaction bump failed", "user_id", userID, "kind", kind, "error", err)
		}
	}
}

// ProcessUserMessage feeds one user utterance into the session context.
func (in *Integrator) ProcessUserMessage(sessionID, userID, content string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	c, ok := in.contexts[sessionID]
	if !ok {
		c = newContext(sessionID, userID)
		in.contexts[sessionID] = c
	}
	if c.UserID == "" {
		c.UserID = userID
	}
	c.observeUser(content, in.now())
}

// ProcessSystemResponse feeds one AI/system utterance into the context.
func (in *Integrator) ProcessSystemResponse(sessionID, content string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if c, ok := in.contexts[sessionID]; ok {
		c.observeSystem(content, in.now())
	}
}

// AddNotification makes a notification visible to the sampler as an
// external event.
func (in *Integrator) AddNotification(sessionID, content string, highPriority bool) {
	in.addEvent(sessionID, content, highPriority, false)
}

// AddReminder makes a reminder visible to the sampler as an external event.
func (in *Integrator) AddReminder(sessionID, content string, highPriority bool) {
	in.addEvent(sessionID, content, highPriority, true)
}

func (in *Integrator) addEvent(sessionID, content string, highPriority, reminder bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	c, ok := in.contexts[sessionID]
	if !ok {
		c = newContext(sessionID, "")
		in.contexts[sessionID] = c
	}
	event := ExternalEvent{Content: content, HighPriority: highPriority, At: in.now()}
	if reminder {
		c.Reminders = c.addEvent(c.Reminders, event)
	} else {
		c.Notifications = c.addEvent(c.Notifications, event)
	}
	c.UpdatedAt = in.now()
}

// TriggerExpression runs the full chain for one session: evaluate, plan,
// render, persist, dispatch. A negative decision returns nil.
func (in *Integrator) TriggerExpression(ctx context.Context, sessionID string) error {
	in.mu.Lock()
	tracked, ok := in.contexts[sessionID]
	if !ok {
		in.mu.Unlock()
		return fmt.Errorf("session %s has no tracked context: %w", sessionID, errkind.ErrNotFound)
	}
	c := tracked.clone()
	in.mu.Unlock()

	decision, err := in.sense.Evaluate(ctx, c)
	if err != nil {
		return err
	}
	if !decision.ShouldExpress {
		slog.Debug("expression suppressed",
			"session_id", sessionID, "reason", decision.Reason,
			"priority_score", decision.PriorityScore)
		return nil
	}

	expr := &Expression{
		ID:               shortuuid.New(),
		UserID:           c.UserID,
		SessionID:        sessionID,
		Type:             decision.Seed.Type,
		Content:          decision.Seed.Content,
		ContextReference: decision.Seed.ContextReference,
		PriorityScore:    decision.PriorityScore,
		Timing:           decision.Timing,
		IsFallback:       decision.Seed.IsFallback,
		CreatedTs:        decision.Timestamp,
	}

	if err := in.planner.Plan(ctx, expr); err != nil {
		return err
	}
	if err := in.generator.Render(ctx, expr); err != nil {
		return err
	}

	if in.store != nil {
		record := expr.Record()
		record.ID = expr.ID
		if _, err := in.store.CreateExpression(ctx, record); err != nil {
			slog.Warn("expression persist failed", "expression_id", expr.ID, "error", err)
		}
	}

	in.consumeEvents(sessionID)
	in.scheduleDispatch(expr)
	return nil
}

// consumeEvents clears pending external events once an expression fires;
// they have served their purpose as triggers.
func (in *Integrator) consumeEvents(sessionID string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if c, ok := in.contexts[sessionID]; ok {
		c.Notifications = nil
		c.Reminders = nil
		c.UpdatedAt = in.now()
	}
}

// scheduleDispatch enqueues now or after the decided delay.
func (in *Integrator) scheduleDispatch(expr *Expression) {
	if expr.Timing.Mode == TimingImmediate || expr.Timing.Delay <= 0 {
		in.dispatcher.Dispatch(expr, "")
		return
	}

	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return
	}
	in.timers[expr.ID] = time.AfterFunc(time.Duration(expr.Timing.Delay)*time.Second, func() {
		in.mu.Lock()
		delete(in.timers, expr.ID)
		closed := in.closed
		in.mu.Unlock()
		if !closed {
			in.dispatcher.Dispatch(expr, "")
		}
	})
	in.mu.Unlock()
}

// RelationshipStage resolves the user's current stage for turn metadata.
func (in *Integrator) RelationshipStage(ctx context.Context, userID string) store.RelationshipStage {
	if in.store == nil || userID == "" {
		return store.StageStranger
	}
	user, err := in.store.GetUser(ctx, userID)
	if err != nil || user == nil {
		return store.StageStranger
	}
	return user.Stage()
}

// ObserveUserMessage implements the dialogue manager's frequency hook.
func (in *Integrator) ObserveUserMessage(sessionID, userID, content string) {
	in.ProcessUserMessage(sessionID, userID, content)
}

// ObserveSystemResponse implements the dialogue manager's frequency hook.
func (in *Integrator) ObserveSystemResponse(sessionID, content string) {
	in.ProcessSystemResponse(sessionID, content)
}

func metadataString(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	if value, ok := metadata[key].(string); ok {
		return value
	}
	return ""
}
