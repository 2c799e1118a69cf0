package store

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/RcityLucas/Prizm-Agent-sub001/internal/errkind"
	"github.com/RcityLucas/Prizm-Agent-sub001/internal/profile"
	"github.com/RcityLucas/Prizm-Agent-sub001/store/cache"
)

// HealthStatus is the store's self-reported condition.
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusDegraded HealthStatus = "degraded"
)

// Health is returned by (*Store).Health.
type Health struct {
	Status HealthStatus `json:"status"`
	Detail string       `json:"detail,omitempty"`
}

// sessionPage is a cached first page of a user's session list together with
// the limit it was fetched with, so a smaller follow-up read can be served
// from it.
type sessionPage struct {
	limit    int
	sessions []*Session
}

// turnPage is the cached first page of a session's turn list.
type turnPage struct {
	limit int
	turns []*Turn
}

// Store provides validated access to sessions, turns, users, expressions and
// memories. It owns the four TTL cache regions and the degraded-mode driver
// swap; all invariants of the data model are enforced here, not in drivers.
type Store struct {
	profile *profile.Profile

	// driverMu guards the driver pointer only. It is never held across a
	// driver call, so sync entrypoints cannot deadlock async callers.
	driverMu sync.RWMutex
	driver   Driver

	degraded     atomic.Bool
	degradedNote string

	sessionCache      *cache.Region[*Session]
	turnCache         *cache.Region[*Turn]
	userSessionsCache *cache.Region[sessionPage]
	sessionTurnsCache *cache.Region[turnPage]
	sweeper           *cache.Sweeper

	now func() time.Time
}

// New creates a store over the given driver.
func New(driver Driver, p *profile.Profile) *Store {
	ttl := time.Duration(p.CacheTTL) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	sweep := time.Duration(p.CacheSweepInterval) * time.Second
	if sweep <= 0 {
		sweep = time.Minute
	}

	s := &Store{
		profile:           p,
		driver:            driver,
		sessionCache:      cache.NewRegion[*Session]("sessions", ttl),
		turnCache:         cache.NewRegion[*Turn]("turns", ttl),
		userSessionsCache: cache.NewRegion[sessionPage]("user_sessions", ttl),
		sessionTurnsCache: cache.NewRegion[turnPage]("session_turns", ttl),
		now:               time.Now,
	}
	s.sweeper = cache.NewSweeper(sweep,
		s.sessionCache, s.turnCache, s.userSessionsCache, s.sessionTurnsCache)
	return s
}

// Start launches the background cache sweeper.
func (s *Store) Start(ctx context.Context) {
	s.sweeper.Start(ctx)
}

func (s *Store) Close() error {
	s.sweeper.Close()
	return s.currentDriver().Close()
}

func (s *Store) Profile() *profile.Profile { return s.profile }

// SetClock replaces the time source. Tests only.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func (s *Store) nowMs() int64 { return s.now().UnixMilli() }

func (s *Store) currentDriver() Driver {
	s.driverMu.RLock()
	defer s.driverMu.RUnlock()
	return s.driver
}

// MarkDegraded switches the store onto a fallback driver (typically memdb)
// after the configured backend failed at init. A reconnect loop should call
// Recover once the real backend answers again.
func (s *Store) MarkDegraded(fallback Driver, note string) {
	s.driverMu.Lock()
	s.driver = fallback
	s.degradedNote = note
	s.driverMu.Unlock()
	s.degraded.Store(true)
	slog.Warn("store degraded to fallback driver", "detail", note)
}

// Recover swaps the healthy driver back in and clears the degraded flag.
// Entities created while degraded stay behind in the fallback driver; they
// carried an error note from the moment they were created.
func (s *Store) Recover(driver Driver) {
	s.driverMu.Lock()
	s.driver = driver
	s.degradedNote = ""
	s.driverMu.Unlock()
	s.degraded.Store(false)
	s.InvalidateAll()
	slog.Info("store recovered from degraded mode")
}

func (s *Store) IsDegraded() bool { return s.degraded.Load() }

// StartReconnect launches a background loop that redials the real backend
// while the store is degraded. The first successful dial swaps the driver
// back in via Recover and ends the loop; cancelling ctx stops it early.
func (s *Store) StartReconnect(ctx context.Context, interval time.Duration, dial func(context.Context) (Driver, error)) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if !s.degraded.Load() {
				return
			}
			driver, err := dial(ctx)
			if err != nil {
				slog.Debug("backend redial failed", "error", err)
				continue
			}
			s.Recover(driver)
			return
		}
	}()
}

// Health pings the active backend and reports healthy or degraded.
func (s *Store) Health(ctx context.Context) Health {
	if s.degraded.Load() {
		s.driverMu.RLock()
		note := s.degradedNote
		s.driverMu.RUnlock()
		return Health{Status: StatusDegraded, Detail: note}
	}
	if err := s.currentDriver().Ping(ctx); err != nil {
		return Health{Status: StatusDegraded, Detail: err.Error()}
	}
	return Health{Status: StatusHealthy}
}

// InvalidateAll empties every cache region. Admin use.
func (s *Store) InvalidateAll() {
	s.sessionCache.InvalidateAll()
	s.turnCache.InvalidateAll()
	s.userSessionsCache.InvalidateAll()
	s.sessionTurnsCache.InvalidateAll()
}

// InvalidateSession drops the session entity plus its turn-list page.
func (s *Store) InvalidateSession(sessionID string) {
	s.sessionCache.Invalidate(sessionID)
	s.sessionTurnsCache.Invalidate(sessionID)
}

// InvalidateUserSessions drops a user's cached session-list page.
func (s *Store) InvalidateUserSessions(userID string) {
	s.userSessionsCache.Invalidate(userID)
}

// CacheStats reports hit/miss counters per region, for the metrics exporter.
func (s *Store) CacheStats() map[string][2]uint64 {
	out := make(map[string][2]uint64, 4)
	for _, r := range []interface {
		Name() string
		Stats() (uint64, uint64)
	}{s.sessionCache, s.turnCache, s.userSessionsCache, s.sessionTurnsCache} {
		hits, misses := r.Stats()
		out[r.Name()] = [2]uint64{hits, misses}
	}
	return out
}

// CreateSession validates and persists a new session. The id, timestamps and
// default metadata are assigned here; Metadata.Participants must be unique
// with the creator first (an empty list defaults to just the creator).
func (s *Store) CreateSession(ctx context.Context, create *Session) (*Session, error) {
	if create.UserID == "" {
		return nil, errors.Wrap(errkind.ErrInvalidInput, "session creator is required")
	}
	if create.Metadata.DialogueType == "" {
		create.Metadata.DialogueType = DialogueHumanAIPrivate
	}
	create.Metadata.DialogueType = CanonicalDialogueType(string(create.Metadata.DialogueType))
	if len(create.Metadata.Participants) == 0 {
		create.Metadata.Participants = []string{create.UserID}
	}
	participants, err := normalizeParticipants(create.UserID, create.Metadata.Participants)
	if err != nil {
		return nil, err
	}
	create.Metadata.Participants = participants
	if create.Metadata.Status == "" {
		create.Metadata.Status = SessionActive
	}

	if create.ID == "" {
		create.ID = shortuuid.New()
	}
	now := s.nowMs()
	create.CreatedTs = now
	create.UpdatedTs = now
	create.LastActivityTs = now
	s.noteDegradation(&create.Metadata.Extra)

	session, err := s.currentDriver().CreateSession(ctx, create)
	if err != nil {
		return nil, err
	}
	s.sessionCache.Set(session.ID, session)
	for _, p := range session.Metadata.Participants {
		s.userSessionsCache.Invalidate(p)
	}
	return session, nil
}

// normalizeParticipants rejects duplicates and guarantees the creator sits
// at position zero.
func normalizeParticipants(creator string, participants []string) ([]string, error) {
	seen := make(map[string]bool, len(participants))
	for _, p := range participants {
		if p == "" {
			return nil, errors.Wrap(errkind.ErrInvalidInput, "empty participant id")
		}
		if seen[p] {
			return nil, errors.Wrapf(errkind.ErrInvalidInput, "duplicate participant %s", p)
		}
		seen[p] = true
	}
	if !seen[creator] {
		return nil, errors.Wrap(errkind.ErrInvalidInput, "creator must be a participant")
	}
	if participants[0] == creator {
		return participants, nil
	}
	ordered := make([]string, 0, len(participants))
	ordered = append(ordered, creator)
	for _, p := range participants {
		if p != creator {
			ordered = append(ordered, p)
		}
	}
	return ordered, nil
}

// noteDegradation stamps entities created on the fallback driver so callers
// can tell they may not survive a restart.
func (s *Store) noteDegradation(extra *map[string]any) {
	if !s.degraded.Load() {
		return
	}
	if *extra == nil {
		*extra = map[string]any{}
	}
	(*extra)["error"] = "created on in-memory fallback storage"
}

// GetSession returns the session or nil when absent.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, errors.Wrap(errkind.ErrInvalidInput, "session id is required")
	}
	if cached, ok := s.sessionCache.Get(id); ok {
		return cached, nil
	}
	list, err := s.currentDriver().ListSessions(ctx, &FindSession{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	s.sessionCache.Set(id, list[0])
	return list[0], nil
}

// UpdateSession applies a partial update. The dialogue type and creator are
// immutable; a participants patch must keep the creator first. UpdatedTs is
// bumped unless the patch pins it.
func (s *Store) UpdateSession(ctx context.Context, update *UpdateSession) (*Session, error) {
	if update.ID == "" {
		return nil, errors.Wrap(errkind.ErrInvalidInput, "session id is required")
	}
	if update.Participants != nil {
		existing, err := s.GetSession(ctx, update.ID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, nil
		}
		participants, err := normalizeParticipants(existing.UserID, *update.Participants)
		if err != nil {
			return nil, err
		}
		update.Participants = &participants
	}
	if update.UpdatedTs == nil {
		now := s.nowMs()
		update.UpdatedTs = &now
	}

	session, err := s.currentDriver().UpdateSession(ctx, update)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, nil
	}
	s.sessionCache.Invalidate(session.ID)
	for _, p := range session.Metadata.Participants {
		s.userSessionsCache.Invalidate(p)
	}
	return session, nil
}

// ListSessions passes the find through to the driver. No caching: arbitrary
// filters do not have a stable cache key.
func (s *Store) ListSessions(ctx context.Context, find *FindSession) ([]*Session, error) {
	return s.currentDriver().ListSessions(ctx, find)
}

// ListSessionsForUser returns sessions the user participates in, most
// recently updated first. The first page is served from cache when a
// previous read covered it.
func (s *Store) ListSessionsForUser(ctx context.Context, userID string, limit, offset int) ([]*Session, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset == 0 {
		if page, ok := s.userSessionsCache.Get(userID); ok && page.limit >= limit {
			if len(page.sessions) > limit {
				return page.sessions[:limit], nil
			}
			return page.sessions, nil
		}
	}

	sessions, err := s.currentDriver().ListSessions(ctx, &FindSession{
		Participant: &userID,
		Limit:       &limit,
		Offset:      &offset,
	})
	if err != nil {
		return nil, err
	}
	if offset == 0 {
		s.userSessionsCache.Set(userID, sessionPage{limit: limit, sessions: sessions})
	}
	return sessions, nil
}

// CreateTurn validates and persists a turn. The sender's read receipt is
// stamped at write time so invariant 3 holds by construction.
func (s *Store) CreateTurn(ctx context.Context, create *Turn) (*Turn, error) {
	if create.SessionID == "" {
		return nil, errors.Wrap(errkind.ErrInvalidInput, "turn session id is required")
	}
	if create.Role == "" {
		return nil, errors.Wrap(errkind.ErrInvalidInput, "turn role is required")
	}
	session, err := s.GetSession(ctx, create.SessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, errors.Wrapf(errkind.ErrNotFound, "session %s", create.SessionID)
	}

	if create.ID == "" {
		create.ID = shortuuid.New()
	}
	now := s.nowMs()
	create.CreatedTs = now
	if create.Metadata.MessageType == "" {
		create.Metadata.MessageType = MessageText
	}
	if create.Metadata.SenderID != "" {
		if create.Metadata.ReadAt == nil {
			create.Metadata.ReadAt = map[string]int64{}
		}
		if _, ok := create.Metadata.ReadAt[create.Metadata.SenderID]; !ok {
			create.Metadata.ReadAt[create.Metadata.SenderID] = now
		}
	}
	s.noteDegradation(&create.Metadata.Extra)

	turn, err := s.currentDriver().CreateTurn(ctx, create)
	if err != nil {
		return nil, err
	}
	s.turnCache.Set(turn.ID, turn)
	s.sessionTurnsCache.Invalidate(turn.SessionID)
	return turn, nil
}

// GetTurn returns the turn or nil when absent.
func (s *Store) GetTurn(ctx context.Context, id string) (*Turn, error) {
	if id == "" {
		return nil, errors.Wrap(errkind.ErrInvalidInput, "turn id is required")
	}
	if cached, ok := s.turnCache.Get(id); ok {
		return cached, nil
	}
	list, err := s.currentDriver().ListTurns(ctx, &FindTurn{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	s.turnCache.Set(id, list[0])
	return list[0], nil
}

// UpdateTurn applies a read-receipt or extra-metadata patch.
func (s *Store) UpdateTurn(ctx context.Context, update *UpdateTurn) (*Turn, error) {
	if update.ID == "" {
		return nil, errors.Wrap(errkind.ErrInvalidInput, "turn id is required")
	}
	turn, err := s.currentDriver().UpdateTurn(ctx, update)
	if err != nil {
		return nil, err
	}
	if turn == nil {
		return nil, nil
	}
	s.turnCache.Invalidate(turn.ID)
	s.sessionTurnsCache.Invalidate(turn.SessionID)
	return turn, nil
}

// ListTurns returns turns newest-first. The uncursored first page of a plain
// session listing is cache-served.
func (s *Store) ListTurns(ctx context.Context, find *FindTurn) ([]*Turn, error) {
	cacheable := find.SessionID != nil && find.ID == nil && find.BeforeID == nil &&
		find.Role == nil && find.SenderID == nil && find.HumanChat == nil && find.Limit != nil
	if cacheable {
		if page, ok := s.sessionTurnsCache.Get(*find.SessionID); ok && page.limit >= *find.Limit {
			if len(page.turns) > *find.Limit {
				return page.turns[:*find.Limit], nil
			}
			return page.turns, nil
		}
	}

	turns, err := s.currentDriver().ListTurns(ctx, find)
	if err != nil {
		return nil, err
	}
	if cacheable {
		s.sessionTurnsCache.Set(*find.SessionID, turnPage{limit: *find.Limit, turns: turns})
	}
	return turns, nil
}

// CreateExpression persists a proactive utterance for later analysis.
func (s *Store) CreateExpression(ctx context.Context, create *Expression) (*Expression, error) {
	if create.UserID == "" {
		return nil, errors.Wrap(errkind.ErrInvalidInput, "expression user id is required")
	}
	if create.ID == "" {
		create.ID = shortuuid.New()
	}
	if create.CreatedTs == 0 {
		create.CreatedTs = s.nowMs()
	}
	return s.currentDriver().CreateExpression(ctx, create)
}

func (s *Store) ListExpressions(ctx context.Context, find *FindExpression) ([]*Expression, error) {
	return s.currentDriver().ListExpressions(ctx, find)
}

// UpsertUser creates the user or refreshes its mutable fields.
func (s *Store) UpsertUser(ctx context.Context, upsert *User) (*User, error) {
	if upsert.ID == "" {
		return nil, errors.Wrap(errkind.ErrInvalidInput, "user id is required")
	}
	now := s.nowMs()
	if upsert.CreatedTs == 0 {
		upsert.CreatedTs = now
	}
	upsert.UpdatedTs = now
	return s.currentDriver().UpsertUser(ctx, upsert)
}

// GetUser returns the user or nil when absent.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	if id == "" {
		return nil, errors.Wrap(errkind.ErrInvalidInput, "user id is required")
	}
	list, err := s.currentDriver().ListUsers(ctx, &FindUser{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (s *Store) UpdateUser(ctx context.Context, update *UpdateUser) (*User, error) {
	if update.ID == "" {
		return nil, errors.Wrap(errkind.ErrInvalidInput, "user id is required")
	}
	if update.UpdatedTs == nil {
		now := s.nowMs()
		update.UpdatedTs = &now
	}
	return s.currentDriver().UpdateUser(ctx, update)
}

// IncrementUserInteraction moves the monotone interaction counter and
// returns the new value. An unknown user is created on first increment.
func (s *Store) IncrementUserInteraction(ctx context.Context, id string, delta int64) (int64, error) {
	if id == "" {
		return 0, errors.Wrap(errkind.ErrInvalidInput, "user id is required")
	}
	if delta < 0 {
		return 0, errors.Wrap(errkind.ErrInvalidInput, "interaction count never decreases")
	}
	return s.currentDriver().IncrementUserInteraction(ctx, id, delta)
}

// CreateMemory persists a retrievable dialogue fragment.
func (s *Store) CreateMemory(ctx context.Context, create *Memory) (*Memory, error) {
	if create.UserID == "" {
		return nil, errors.Wrap(errkind.ErrInvalidInput, "memory user id is required")
	}
	if create.ID == "" {
		create.ID = shortuuid.New()
	}
	if create.CreatedTs == 0 {
		create.CreatedTs = s.nowMs()
	}
	return s.currentDriver().CreateMemory(ctx, create)
}

// SearchMemories retrieves the top matching memories for a user.
func (s *Store) SearchMemories(ctx context.Context, find *FindMemory) ([]*Memory, error) {
	if find.Limit <= 0 {
		find.Limit = 5
	}
	return s.currentDriver().ListMemories(ctx, find)
}
