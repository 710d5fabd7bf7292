// deribit is a command-line probe for the Deribit REST client. It checks
// connectivity, authenticates when credentials are configured, prints a
// market and account summary, and can keep running with a websocket
// subscription feed and a monitor server exposing limiter state and metrics.
//
// Architecture:
//
//	main.go               entry point: loads config, runs the probe, waits for SIGINT/SIGTERM
//	exchange/client.go    REST pipeline: categorize, rate limit, authenticate, send, re-auth once
//	exchange/ratelimit.go per-category token buckets
//	exchange/session.go   shared token state with expiry margin
//	exchange/auth.go      OAuth grants and HMAC request signing
//	exchange/ws.go        websocket subscription feed with heartbeat and auto-reconnect
//	store/store.go        JSON token cache (survives restarts)
//	api/server.go         monitor: /health, /api/status, /metrics, /ws
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"deribit-http/internal/api"
	"deribit-http/internal/config"
	"deribit-http/internal/exchange"
)

func main() {
	instrument := flag.String("instrument", "BTC-PERPETUAL", "instrument to print a ticker for")
	currency := flag.String("currency", "BTC", "currency for the account summary")
	flag.Parse()

	// Load config
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("DERIBIT_CONFIG"); p != "" {
		cfgPath = p
	} else if _, err := os.Stat(cfgPath); err != nil {
		cfgPath = ""
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	if err := run(*cfg, logger, *instrument, *currency); err != nil {
		logger.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger, instrument, currency string) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := exchange.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	client, err := exchange.NewClient(cfg, logger, exchange.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE, order endpoints will not be called")
	}
	logger.Info("deribit client started",
		"api_url", cfg.APIURL(),
		"auth_mode", cfg.Auth.Mode,
		"authenticated_endpoints", cfg.HasCredentials(),
	)

	if cfg.Auth.TokenCacheDir == "" {
		// A cached token is kept for the next run instead.
		defer logout(client, logger)
	}
	if err := probe(ctx, client, cfg, logger, instrument, currency); err != nil {
		return err
	}

	if !cfg.WS.Enabled && !cfg.Monitor.Enabled {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)

	var feed *exchange.WSFeed
	if cfg.WS.Enabled {
		feed = exchange.NewWSFeed(cfg.WSURL(), client.RateLimiter(), cfg.WS.HeartbeatInterval, logger)
		if err := feed.Subscribe(gctx, cfg.WS.Channels); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
		g.Go(func() error { return feed.Run(gctx) })
	}

	if cfg.Monitor.Enabled {
		var source api.NotificationSource
		if feed != nil {
			source = feed
		}
		srv := api.NewServer(cfg, client, source, reg, logger)
		g.Go(func() error { return srv.Run(gctx) })
		logger.Info("monitor started", "url", fmt.Sprintf("http://localhost:%d", cfg.Monitor.Port))
	} else if feed != nil {
		g.Go(func() error { return logNotifications(gctx, feed, logger) })
	}

	err = g.Wait()
	if feed != nil {
		feed.Close()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("received shutdown signal")
	return nil
}

// probe exercises one endpoint per category so the limiter and auth path are
// visible from the first run.
func probe(ctx context.Context, client *exchange.Client, cfg config.Config, logger *slog.Logger, instrument, currency string) error {
	serverTime, err := client.GetServerTime(ctx)
	if err != nil {
		return fmt.Errorf("get server time: %w", err)
	}
	version, err := client.TestConnection(ctx)
	if err != nil {
		return fmt.Errorf("test connection: %w", err)
	}
	logger.Info("connected",
		"server_time", serverTime.Format(time.RFC3339Nano),
		"clock_skew", time.Since(serverTime).Round(time.Millisecond),
		"api_version", version,
	)

	status, err := client.GetStatus(ctx)
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}
	if status.IsLocked() {
		logger.Warn("platform is locked", "indices", status.LockedIndices)
	}

	ticker, err := client.GetTicker(ctx, instrument)
	if err != nil {
		return fmt.Errorf("get ticker: %w", err)
	}
	attrs := []any{"instrument", ticker.InstrumentName, "mark", ticker.MarkPrice, "index", ticker.IndexPrice}
	if mid, ok := ticker.MidPrice(); ok {
		spread, _ := ticker.Spread()
		attrs = append(attrs, "mid", mid, "spread", spread)
	}
	logger.Info("ticker", attrs...)

	if !cfg.HasCredentials() {
		logger.Info("no credentials configured, skipping private endpoints")
		return nil
	}

	if cfg.Auth.Mode == config.AuthModeOAuth {
		tok, err := client.Authenticate(ctx)
		if err != nil {
			return fmt.Errorf("authenticate: %w", err)
		}
		expiresAt, _ := client.Session().ExpiresAt()
		logger.Info("authenticated", "scope", tok.Scope, "expires_at", expiresAt.Format(time.RFC3339))
	}

	summary, err := client.GetAccountSummary(ctx, currency, false)
	if err != nil {
		return fmt.Errorf("get account summary: %w", err)
	}
	logger.Info("account",
		"currency", summary.Currency,
		"equity", summary.Equity,
		"available", summary.AvailableFunds,
		"margin_usage", summary.MarginUsage().StringFixed(4),
	)

	positions, err := client.GetPositions(ctx, currency, "")
	if err != nil {
		return fmt.Errorf("get positions: %w", err)
	}
	for _, p := range positions {
		if p.IsFlat() {
			continue
		}
		logger.Info("position",
			"instrument", p.InstrumentName,
			"direction", p.Direction,
			"size", p.Size,
			"pnl", p.TotalProfitLoss,
		)
	}
	return nil
}

func logNotifications(ctx context.Context, feed *exchange.WSFeed, logger *slog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n := <-feed.Notifications():
			logger.Debug("notification", "channel", n.Channel, "bytes", len(n.Data))
		}
	}
}

func logout(client *exchange.Client, logger *slog.Logger) {
	if !client.Session().IsAuthenticated() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Logout(ctx); err != nil {
		logger.Warn("logout failed", "error", err)
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
