package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/RcityLucas/Prizm-Agent-sub001/internal/errkind"
	"github.com/RcityLucas/Prizm-Agent-sub001/server/realtime"
	"github.com/RcityLucas/Prizm-Agent-sub001/store"
)

func (s *Server) registerRoutes(e *echo.Echo) {
	e.GET("/healthz", s.handleHealthz)
	e.GET("/metrics", s.handleMetrics)
	e.POST("/webhooks/telegram", s.handleTelegramWebhook)

	api := e.Group("/api/v1")
	api.POST("/sessions", s.handleCreateSession)
	api.GET("/sessions", s.handleListSessions)
	api.GET("/sessions/:id/messages", s.handleGetMessages)
	api.POST("/sessions/:id/messages", s.handleSendMessage)
	api.POST("/sessions/:id/typing", s.handleTyping)
	api.POST("/sessions/:id/express", s.handleTriggerExpression)
	api.POST("/messages/:id/read", s.handleMarkRead)
	api.GET("/users/:id/unread", s.handleUnreadCounts)
	api.POST("/presence/heartbeat", s.handleHeartbeat)
	api.POST("/reminders", s.handleCreateReminder)
	api.GET("/stream", s.handleStream)
}

// httpError maps the domain sentinels onto HTTP statuses.
func httpError(err error) error {
	var status int
	switch {
	case errors.Is(err, errkind.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, errkind.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, errkind.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errkind.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, errkind.ErrStorageUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, errkind.ErrUpstreamUnavailable):
		status = http.StatusBadGateway
	default:
		status = http.StatusInternalServerError
	}
	return echo.NewHTTPError(status, err.Error())
}

func (s *Server) handleHealthz(c echo.Context) error {
	health := s.Store.Health(c.Request().Context())
	status := http.StatusOK
	if health.Status != store.StatusHealthy {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, health)
}

func (s *Server) handleMetrics(c echo.Context) error {
	// Gauges sampled at scrape time.
	s.metrics.SetCacheStats(s.Store.CacheStats())
	s.metrics.Handler().ServeHTTP(c.Response(), c.Request())
	return nil
}

type createSessionRequest struct {
	UserID       string   `json:"user_id"`
	DialogueType string   `json:"dialogue_type"`
	Title        string   `json:"title"`
	Participants []string `json:"participants"`
}

func (s *Server) handleCreateSession(c echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.UserID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}

	session, err := s.dialogue.CreateSession(c.Request().Context(), req.UserID,
		store.DialogueType(req.DialogueType), req.Title, req.Participants)
	if err != nil {
		return httpError(err)
	}
	s.integrator.TrackSession(session.ID, req.UserID)
	return c.JSON(http.StatusCreated, session)
}

func (s *Server) handleListSessions(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}
	limit := intQueryParam(c, "limit", 20)
	offset := intQueryParam(c, "offset", 0)

	sessions, err := s.chat.ListSessions(c.Request().Context(), userID, limit, offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sessions)
}

func (s *Server) handleGetMessages(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}
	turns, err := s.chat.GetMessages(c.Request().Context(), c.Param("id"), userID,
		intQueryParam(c, "limit", 50), c.QueryParam("before"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, turns)
}

type sendMessageRequest struct {
	UserID      string         `json:"user_id"`
	Content     string         `json:"content"`
	MessageType string         `json:"message_type"`
	Extra       map[string]any `json:"extra"`
}

// handleSendMessage routes by topology: human-only sessions go through the
// chat manager, AI-bearing ones through the dialogue manager.
func (s *Server) handleSendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	ctx := c.Request().Context()
	sessionID := c.Param("id")

	session, err := s.Store.GetSession(ctx, sessionID)
	if err != nil {
		return httpError(err)
	}
	if session == nil {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}

	msgType := store.MessageType(req.MessageType)
	if msgType == "" {
		msgType = store.MessageText
	}

	if session.Metadata.DialogueType.IsHumanOnly() {
		turn, err := s.chat.SendMessage(ctx, sessionID, req.UserID, req.Content, msgType)
		if err != nil {
			return httpError(err)
		}
		s.integrator.ProcessUserMessage(sessionID, req.UserID, req.Content)
		return c.JSON(http.StatusCreated, turn)
	}

	resp, err := s.dialogue.ProcessInput(ctx, sessionID, req.UserID, req.Content, msgType, req.Extra)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

type actorRequest struct {
	UserID string `json:"user_id"`
}

func (s *Server) handleTyping(c echo.Context) error {
	var req actorRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := s.chat.SendTyping(c.Request().Context(), c.Param("id"), req.UserID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) handleTriggerExpression(c echo.Context) error {
	if err := s.integrator.TriggerExpression(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) handleMarkRead(c echo.Context) error {
	var req actorRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	turn, err := s.chat.MarkAsRead(c.Request().Context(), c.Param("id"), req.UserID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, turn)
}

func (s *Server) handleUnreadCounts(c echo.Context) error {
	counts, err := s.chat.UnreadCounts(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, counts)
}

func (s *Server) handleHeartbeat(c echo.Context) error {
	var req actorRequest
	if err := c.Bind(&req); err != nil || req.UserID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}
	s.presence.Heartbeat(req.UserID)
	return c.NoContent(http.StatusNoContent)
}

type createReminderRequest struct {
	UserID       string `json:"user_id"`
	SessionID    string `json:"session_id"`
	Spec         string `json:"spec"`
	Text         string `json:"text"`
	HighPriority bool   `json:"high_priority"`
}

func (s *Server) handleCreateReminder(c echo.Context) error {
	var req createReminderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	entry, err := s.scheduler.Schedule(req.UserID, req.SessionID, req.Spec, req.Text, req.HighPriority)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, entry)
}

// handleStream is the outbound realtime connection: a server-sent event
// stream carrying the user's envelopes. Registering the connection drains
// any spooled messages and offline notifications first.
func (s *Server) handleStream(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	ctx := c.Request().Context()
	var writeMu sync.Mutex

	s.optimizer.RegisterUser(userID)
	unregister := s.router.RegisterConnection(ctx, userID, func(_ context.Context, env *realtime.Envelope) error {
		data, err := json.Marshal(env)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		w.Flush()
		return nil
	})
	defer func() {
		unregister()
		s.optimizer.UnregisterUser(context.WithoutCancel(ctx), userID)
	}()
	s.presence.Heartbeat(userID)

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-keepalive.C:
			s.presence.Heartbeat(userID)
			writeMu.Lock()
			_, err := fmt.Fprint(w, ": keepalive\n\n")
			if err == nil {
				w.Flush()
			}
			writeMu.Unlock()
			if err != nil {
				return nil
			}
		}
	}
}

// handleTelegramWebhook binds the sender's chat id for outbound delivery
// and feeds the text through the dialogue manager, replying in the same
// chat.
func (s *Server) handleTelegramWebhook(c echo.Context) error {
	if s.telegram == nil {
		return echo.NewHTTPError(http.StatusNotFound, "telegram channel not configured")
	}

	var update tgbotapi.Update
	if err := json.NewDecoder(c.Request().Body).Decode(&update); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed update")
	}
	userID := s.telegram.BindFromUpdate(&update)
	if userID == "" || update.Message == nil || update.Message.Text == "" {
		return c.NoContent(http.StatusOK)
	}

	ctx := c.Request().Context()
	sessionID, err := s.telegramSession(c, userID)
	if err != nil {
		return httpError(err)
	}

	resp, err := s.dialogue.ProcessInput(ctx, sessionID, userID, update.Message.Text, store.MessageText, map[string]any{
		"channel": "telegram",
		"chat_id": strconv.FormatInt(update.Message.Chat.ID, 10),
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "response_id": resp.ID})
}

// telegramSession finds or creates the user's dedicated Telegram-backed
// private dialogue session.
func (s *Server) telegramSession(c echo.Context, userID string) (string, error) {
	ctx := c.Request().Context()
	sessions, err := s.chat.ListSessions(ctx, userID, 50, 0)
	if err != nil {
		return "", err
	}
	for _, session := range sessions {
		if session.Metadata.DialogueType == store.DialogueHumanAIPrivate && session.Metadata.Extra["channel"] == "telegram" {
			return session.ID, nil
		}
	}

	session, err := s.Store.CreateSession(ctx, &store.Session{
		UserID: userID,
		Title:  "Telegram",
		Metadata: store.SessionMetadata{
			DialogueType: store.DialogueHumanAIPrivate,
			Extra:        map[string]any{"channel": "telegram"},
		},
	})
	if err != nil {
		return "", err
	}
	s.integrator.TrackSession(session.ID, userID)
	return session.ID, nil
}

func intQueryParam(c echo.Context, name string, fallback int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
