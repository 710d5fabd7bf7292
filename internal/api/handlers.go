package api

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/gorilla/websocket"

	"deribit-http/internal/config"
)

// Handlers holds all HTTP handler dependencies.
type Handlers struct {
	provider StatusProvider
	feed     SubscriptionLister
	cfg      config.Config
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandlers creates the handler set. feed may be nil.
func NewHandlers(provider StatusProvider, feed SubscriptionLister, cfg config.Config, hub *Hub, logger *slog.Logger) *Handlers {
	h := &Handlers{
		provider: provider,
		feed:     feed,
		cfg:      cfg,
		hub:      hub,
		logger:   logger.With("component", "monitor-handlers"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return isOriginAllowed(r.Header.Get("Origin"), cfg.Monitor, r.Host)
		},
	}
	return h
}

// HandleHealth reports liveness plus whether the session currently holds a
// usable token.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":        "ok",
		"authenticated": h.provider.Session().Valid(),
	})
}

// HandleStatus returns the current monitor snapshot.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if !h.allowCORS(w, r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	snapshot := BuildSnapshot(h.provider, h.feed, h.cfg)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		h.logger.Error("failed to encode snapshot", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
}

// HandleWebSocket upgrades the connection and registers a viewer. The first
// message is always a snapshot.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err, "origin", r.Header.Get("Origin"))
		return
	}

	initial, err := json.Marshal(NewSnapshotEvent(BuildSnapshot(h.provider, h.feed, h.cfg)))
	if err != nil {
		h.logger.Error("failed to marshal initial snapshot", "error", err)
		conn.Close()
		return
	}

	h.hub.attach(conn, initial)
}

// allowCORS sets Access-Control-Allow-Origin for permitted cross-origin
// requests and reports whether the request may proceed.
func (h *Handlers) allowCORS(w http.ResponseWriter, r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if !isOriginAllowed(origin, h.cfg.Monitor, r.Host) {
		return false
	}
	if origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	return true
}

// isOriginAllowed decides whether a browser origin may read monitor data.
// Requests without an Origin header (curl, Prometheus) are always allowed.
// With an allowlist configured only exact matches pass; without one,
// loopback origins and the server's own host are accepted.
func isOriginAllowed(origin string, cfg config.MonitorConfig, reqHost string) bool {
	if origin == "" {
		return true
	}
	if len(cfg.AllowedOrigins) > 0 {
		return slices.Contains(cfg.AllowedOrigins, origin)
	}

	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Host, reqHost) {
		return true
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
