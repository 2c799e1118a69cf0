// Package server assembles the platform: storage, realtime fabric, chat
// and dialogue managers, the frequency pipeline and the HTTP surface.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/RcityLucas/Prizm-Agent-sub001/ai/llm"
	"github.com/RcityLucas/Prizm-Agent-sub001/frequency"
	"github.com/RcityLucas/Prizm-Agent-sub001/internal/profile"
	"github.com/RcityLucas/Prizm-Agent-sub001/plugin/channels"
	"github.com/RcityLucas/Prizm-Agent-sub001/server/chat"
	"github.com/RcityLucas/Prizm-Agent-sub001/server/dialogue"
	"github.com/RcityLucas/Prizm-Agent-sub001/server/metrics"
	"github.com/RcityLucas/Prizm-Agent-sub001/server/realtime"
	"github.com/RcityLucas/Prizm-Agent-sub001/server/service/schedule"
	"github.com/RcityLucas/Prizm-Agent-sub001/store"
)

// Server owns every long-lived component and the echo instance serving the
// HTTP surface.
type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer *echo.Echo

	llm        llm.Service
	router     *realtime.Router
	optimizer  *realtime.Optimizer
	notifier   *realtime.Notifier
	presence   *realtime.Presence
	chat       *chat.Manager
	dialogue   *dialogue.Manager
	integrator *frequency.Integrator
	scheduler  *schedule.Scheduler
	metrics    *metrics.Exporter
	telegram   *channels.Telegram

	presenceCancel context.CancelFunc
}

// NewServer wires the full component graph. The store must already be
// initialized (possibly degraded); LLM init failure downgrades dialogue to
// fallback replies instead of failing startup.
func NewServer(ctx context.Context, p *profile.Profile, st *store.Store) (*Server, error) {
	s := &Server{Profile: p, Store: st}

	s.metrics = metrics.NewExporter(metrics.DefaultConfig())
	store.SetQueryTimingHook(func(name string, elapsed time.Duration) {
		s.metrics.ObserveQuery(name, elapsed.Seconds())
	})

	if p.LLMAPIKey != "" || p.LLMBaseURL != "" {
		svc, err := llm.NewService(llm.ConfigFromProfile(p))
		if err != nil {
			slog.Warn("LLM service unavailable, dialogue falls back to canned replies", "error", err)
		} else {
			s.llm = svc
			slog.Info("LLM service initialized", "provider", p.LLMProvider, "model", p.LLMModel)
		}
	} else {
		slog.Warn("no LLM configured, dialogue falls back to canned replies")
	}

	s.router = realtime.NewRouter(p.OfflineSpoolCap, 20)
	s.optimizer = realtime.NewOptimizer(
		p.MaxBatchSize,
		time.Duration(p.BatchIntervalMs)*time.Millisecond,
		p.ContentTruncateLen,
		func(ctx context.Context, userID string, env *realtime.Envelope) {
			if s.router.DeliverToUser(ctx, userID, env) {
				s.metrics.CountDelivery(env.Type)
			}
		},
	)
	s.notifier = realtime.NewNotifier(st, s.router, s.optimizer, p.OfflineNotificationCap, 20)

	s.presence = realtime.NewPresence(
		time.Duration(p.HeartbeatTimeout)*time.Second,
		time.Duration(p.MonitorInterval)*time.Second,
	)
	s.presence.OnStatusChange(func(subscriberID, targetID string, online bool) {
		s.notifier.StatusChanged(ctx, subscriberID, targetID, online)
	})

	s.chat = chat.NewManager(st, s.notifier)
	s.dialogue = dialogue.NewManager(st, s.llm, s.notifier)

	s.integrator = frequency.NewIntegrator(st, s.llm, s.notifier, p)
	s.dialogue.AttachFrequency(s.integrator)
	s.scheduler = schedule.NewScheduler(s.integrator)

	if p.WebhookURL != "" {
		s.integrator.Channels().Register(channels.NewWebhook(channels.Secondary, p.WebhookURL))
	}
	if p.TelegramBotToken != "" {
		telegram, err := channels.NewTelegram(channels.Notification, p.TelegramBotToken)
		if err != nil {
			slog.Warn("Telegram channel unavailable", "error", err)
		} else {
			s.telegram = telegram
			s.integrator.Channels().Register(telegram)
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI: true, LogStatus: true, LogMethod: true, LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Debug("http request",
				"method", v.Method, "uri", v.URI,
				"status", v.Status, "latency", v.Latency)
			return nil
		},
	}))
	s.echoServer = e
	s.registerRoutes(e)

	return s, nil
}

// Start launches the background loops and the HTTP listener. It blocks
// until the listener stops.
func (s *Server) Start(ctx context.Context) error {
	presenceCtx, cancel := context.WithCancel(ctx)
	s.presenceCancel = cancel
	s.presence.Start(presenceCtx)
	s.integrator.Start()
	s.scheduler.Start()

	addr := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	slog.Info("server listening", "addr", addr, "mode", s.Profile.Mode)
	if err := s.echoServer.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the HTTP listener and every background loop. In-flight
// work finishes first.
func (s *Server) Shutdown(ctx context.Context) {
	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("http shutdown failed", "error", err)
	}

	s.scheduler.Close()
	s.integrator.Stop()
	if s.presenceCancel != nil {
		s.presenceCancel()
	}
	s.presence.Close()
	if err := s.Store.Close(); err != nil {
		slog.Warn("store close failed", "error", err)
	}
	slog.Info("server stopped")
}
