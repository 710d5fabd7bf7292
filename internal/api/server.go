// Package api serves the monitor: a small read-only HTTP surface exposing
// health, rate limiter and session state, Prometheus metrics, and a websocket
// stream that relays snapshots and Deribit subscription notifications.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"deribit-http/internal/config"
	"deribit-http/pkg/types"
)

const snapshotInterval = 2 * time.Second

// NotificationSource is a websocket feed whose notifications the monitor
// relays. *exchange.WSFeed satisfies it.
type NotificationSource interface {
	SubscriptionLister
	Notifications() <-chan types.Notification
}

// Server runs the monitor HTTP server.
type Server struct {
	provider StatusProvider
	feed     NotificationSource
	fullCfg  config.Config
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer wires the routes. feed may be nil; gatherer may be nil to leave
// /metrics unrouted.
func NewServer(
	fullCfg config.Config,
	provider StatusProvider,
	feed NotificationSource,
	gatherer prometheus.Gatherer,
	logger *slog.Logger,
) *Server {
	hub := NewHub(logger)

	var lister SubscriptionLister
	if feed != nil {
		lister = feed
	}
	handlers := NewHandlers(provider, lister, fullCfg, hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handlers.HandleHealth)
	mux.HandleFunc("GET /api/status", handlers.HandleStatus)
	mux.HandleFunc("GET /ws", handlers.HandleWebSocket)
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", fullCfg.Monitor.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		provider: provider,
		feed:     feed,
		fullCfg:  fullCfg,
		hub:      hub,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "monitor-server"),
	}
}

// Handler returns the route multiplexer.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Hub returns the viewer hub.
func (s *Server) Hub() *Hub { return s.hub }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	go s.hub.Run(ctx)
	go s.publishSnapshots(ctx)
	if s.feed != nil {
		go s.relayNotifications(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("monitor server starting", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("monitor server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("stopping monitor server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("monitor shutdown: %w", err)
	}
	return <-errCh
}

// publishSnapshots pushes a status snapshot to viewers on a fixed interval.
func (s *Server) publishSnapshots(ctx context.Context) {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.hub.Count() == 0 {
				continue
			}
			s.hub.Broadcast(NewSnapshotEvent(BuildSnapshot(s.provider, s.handlers.feed, s.fullCfg)))
		}
	}
}

// relayNotifications forwards feed notifications to viewers.
func (s *Server) relayNotifications(ctx context.Context) {
	notifs := s.feed.Notifications()
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notifs:
			if !ok {
				return
			}
			s.hub.Broadcast(NewNotificationEvent(n))
		}
	}
}
