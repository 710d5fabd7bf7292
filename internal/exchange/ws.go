// ws.go implements the Deribit JSON-RPC websocket feed for public channels.
//
// The feed subscribes to channels such as "ticker.BTC-PERPETUAL.100ms" or
// "book.ETH-PERPETUAL.100ms" with public/subscribe and forwards every
// "subscription" notification to a buffered channel. The connection asks the
// server for heartbeats (public/set_heartbeat) and answers each
// "test_request" with public/test; a read deadline of three heartbeat
// intervals detects a silent server.
//
// The feed auto-reconnects with exponential backoff (1s → 30s max) and
// re-subscribes to all tracked channels on reconnection. Outbound requests
// take a token from the shared RateLimiter like REST calls do.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"deribit-http/pkg/types"
)

const (
	maxReconnectWait   = 30 * time.Second // cap on exponential backoff
	writeTimeout       = 10 * time.Second // deadline for outgoing messages
	notificationBuffer = 256              // buffer for subscription notifications
	minHeartbeat       = 10 * time.Second // server-side minimum
)

// rpcRequest is an outgoing JSON-RPC call.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// rpcMessage is any incoming frame: a response (ID set) or a notification
// (Method set).
type rpcMessage struct {
	ID     *int64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *APIError       `json:"error"`
}

// WSFeed manages a single websocket connection to the public API.
// It handles connection lifecycle, subscription tracking, heartbeats and
// automatic reconnection with exponential backoff.
type WSFeed struct {
	url       string
	conn      *websocket.Conn
	connMu    sync.Mutex // protects conn writes
	rl        *RateLimiter
	heartbeat time.Duration
	nextID    atomic.Int64

	// Track subscriptions for automatic re-subscribe on reconnect
	subscribedMu sync.RWMutex
	subscribed   map[string]bool

	notifCh chan types.Notification

	logger *slog.Logger
}

// NewWSFeed creates a feed. rl may be nil to skip admission control;
// heartbeat below the server minimum of 10s is raised to it.
func NewWSFeed(wsURL string, rl *RateLimiter, heartbeat time.Duration, logger *slog.Logger) *WSFeed {
	if heartbeat < minHeartbeat {
		heartbeat = minHeartbeat
	}
	return &WSFeed{
		url:        wsURL,
		rl:         rl,
		heartbeat:  heartbeat,
		subscribed: make(map[string]bool),
		notifCh:    make(chan types.Notification, notificationBuffer),
		logger:     logger.With("component", "ws"),
	}
}

// Notifications returns a read-only channel of subscription notifications.
func (f *WSFeed) Notifications() <-chan types.Notification { return f.notifCh }

// Subscribed returns the tracked channels, sorted.
func (f *WSFeed) Subscribed() []string {
	f.subscribedMu.RLock()
	defer f.subscribedMu.RUnlock()
	out := make([]string, 0, len(f.subscribed))
	for ch := range f.subscribed {
		out = append(out, ch)
	}
	slices.Sort(out)
	return out
}

// Run connects and maintains the websocket connection with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *WSFeed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("websocket disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		// Exponential backoff: 1s, 2s, 4s, 8s, ..., 30s max
		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Subscribe tracks channels and subscribes to them now if connected;
// otherwise they are subscribed on the next connect.
func (f *WSFeed) Subscribe(ctx context.Context, channels []string) error {
	f.subscribedMu.Lock()
	for _, ch := range channels {
		f.subscribed[ch] = true
	}
	f.subscribedMu.Unlock()

	if !f.connected() || len(channels) == 0 {
		return nil
	}
	return f.send(ctx, "public/subscribe", map[string]any{"channels": channels})
}

// Unsubscribe stops tracking channels and unsubscribes if connected.
func (f *WSFeed) Unsubscribe(ctx context.Context, channels []string) error {
	f.subscribedMu.Lock()
	for _, ch := range channels {
		delete(f.subscribed, ch)
	}
	f.subscribedMu.Unlock()

	if !f.connected() || len(channels) == 0 {
		return nil
	}
	return f.send(ctx, "public/unsubscribe", map[string]any{"channels": channels})
}

// Close gracefully closes the connection.
func (f *WSFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *WSFeed) connected() bool {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	return f.conn != nil
}

func (f *WSFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	// Unblock ReadMessage when ctx ends.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := f.send(ctx, "public/set_heartbeat", map[string]any{"interval": int(f.heartbeat / time.Second)}); err != nil {
		return fmt.Errorf("set heartbeat: %w", err)
	}
	if channels := f.Subscribed(); len(channels) > 0 {
		if err := f.send(ctx, "public/subscribe", map[string]any{"channels": channels}); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	f.logger.Info("websocket connected", "url", f.url, "channels", len(f.Subscribed()))

	readTimeout := 3 * f.heartbeat
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.dispatchMessage(ctx, msg)
	}
}

func (f *WSFeed) dispatchMessage(ctx context.Context, data []byte) {
	var msg rpcMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		f.logger.Debug("ignoring non-json ws message", "data", string(data))
		return
	}

	switch msg.Method {
	case "subscription":
		var n types.Notification
		if err := json.Unmarshal(msg.Params, &n); err != nil {
			f.logger.Error("unmarshal subscription notification", "error", err)
			return
		}
		select {
		case f.notifCh <- n:
		default:
			f.logger.Warn("notification channel full, dropping event", "channel", n.Channel)
		}

	case "heartbeat":
		var hb struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(msg.Params, &hb); err != nil {
			f.logger.Error("unmarshal heartbeat", "error", err)
			return
		}
		if hb.Type == "test_request" {
			if err := f.send(ctx, "public/test", map[string]any{}); err != nil {
				f.logger.Warn("heartbeat reply failed", "error", err)
			}
		}

	case "":
		if msg.Error != nil {
			f.logger.Warn("ws request failed", "id", msg.ID, "error", msg.Error)
		}

	default:
		f.logger.Debug("unknown ws method", "method", msg.Method)
	}
}

// send issues a JSON-RPC request without waiting for its response.
func (f *WSFeed) send(ctx context.Context, method string, params any) error {
	if f.rl != nil {
		if err := f.rl.WaitForPermission(ctx, Categorize("/"+method)); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}
	return f.writeJSON(rpcRequest{
		JSONRPC: "2.0",
		ID:      f.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
}

func (f *WSFeed) writeJSON(v any) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}
