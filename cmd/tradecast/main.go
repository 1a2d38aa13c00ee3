// tradecast fans buy/sell orders out to multiple brokerage targets
// concurrently and reports per-target outcomes.
//
// Usage:
//
//	go run cmd/tradecast/main.go -orders orders.yaml [-config config/tradecast.yaml] [-positions] [-retry]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tradecast/internal/config"
	"tradecast/internal/domain"
	"tradecast/internal/engine"
	"tradecast/internal/journal"
	"tradecast/internal/live"
	"tradecast/internal/session"
	"tradecast/internal/target"
	"tradecast/internal/util"
)

func main() {
	defaultCfg := "config/tradecast.yaml"
	if p := os.Getenv("TRADECAST_CONFIG"); p != "" {
		defaultCfg = p
	}

	cfgPath := flag.String("config", defaultCfg, "path to the configuration YAML file")
	ordersPath := flag.String("orders", "", "path to the orders YAML file (required)")
	envPath := flag.String("env", ".env", "path to the credentials .env file")
	positions := flag.Bool("positions", false, "print per-broker holdings before trading")
	retry := flag.Bool("retry", false, "automatically re-submit timed-out brokers once")
	flag.Parse()

	if *ordersPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := config.LoadEnv(*envPath); err != nil {
		log.Fatalf("failed to load env file: %v", err)
	}

	cfg, err := loadConfig(*cfgPath, defaultCfg)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level)
	slog.SetDefault(logger)

	orders, err := config.LoadOrders(*ordersPath)
	if err != nil {
		log.Fatalf("failed to load orders: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Run-wide progress sinks: console always, websocket when configured.
	report := func(msg string, _ bool) { fmt.Println(msg) }
	var status engine.StatusFunc

	if cfg.Live.Addr != "" {
		hub := live.NewHub(logger)
		go hub.Run(ctx)

		srv := &http.Server{Addr: cfg.Live.Addr, Handler: hub}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("live feed server stopped", "error", err)
			}
		}()
		defer srv.Close()
		logger.Info("live status feed listening", "addr", cfg.Live.Addr)

		console := report
		report = func(msg string, forceRedraw bool) {
			console(msg, forceRedraw)
			hub.Report(msg, forceRedraw)
		}
		status = hub.Status
	}

	names := selectedTargets(orders)
	sessions := buildSessions(cfg, names, logger)
	defer sessions.Shutdown()

	targets := buildTargets(cfg, names)
	limiter := util.NewRateLimiter(config.DefaultRequestsPerSec, cfg.RateTable())
	cache := util.NewResponseCache(64, 5*time.Minute)

	sessions.InitializeSelected(ctx, names)
	logger.Info("sessions ready", "active", sessions.Active())

	if *positions {
		printHoldings(ctx, targets, cache, limiter, cfg.Engine.ExecuteTimeout.Std(), logger)
	}

	eng := engine.New(engine.Options{
		BatchSize:       cfg.Engine.BatchSize,
		ValidateTimeout: cfg.Engine.ValidateTimeout.Std(),
		ExecuteTimeout:  cfg.Engine.ExecuteTimeout.Std(),
		TargetTimeouts:  cfg.ExecuteTimeouts(),
	}, logger)

	result := eng.ProcessOrders(ctx, orders, targets, report, status)
	journalOutcomes(ctx, cfg, orders, result, logger)

	// Partial failure is an expected outcome, not a process failure.
	if *retry && len(result.TimedOutTargets()) > 0 {
		eng.RetryTimedOut(ctx, result, orders, targets, report, status)
	}
}

// loadConfig treats a missing file as "use the defaults" only when the path
// was never overridden; an explicitly named file must exist.
func loadConfig(path, fallback string) (*config.Config, error) {
	if path == fallback {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Load("")
		}
	}
	return config.Load(path)
}

// selectedTargets returns the distinct target names across all orders, in
// first-seen order.
func selectedTargets(orders []domain.Order) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, o := range orders {
		for _, name := range o.Targets {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	return names
}

// buildSessions registers a session acquirer per selected target. A target
// without full credentials acquires as unavailable rather than failing.
func buildSessions(cfg *config.Config, names []string, logger *slog.Logger) *session.Registry {
	sessions := session.NewRegistry(logger)
	sessions.SetRetry(cfg.Session.RetryAttempts, cfg.Session.RetryBaseWait.Std())
	for _, name := range names {
		sessions.Register(name, func(_ context.Context, _ *session.Registry) (*session.Handle, error) {
			if !cfg.HasCredentials(name) {
				return nil, nil
			}
			return &session.Handle{Target: name, AcquiredAt: time.Now()}, nil
		})
	}
	return sessions
}

// buildTargets creates a simulated client per selected target. Targets
// without credentials report unavailable so they tally as skipped.
func buildTargets(cfg *config.Config, names []string) *target.Registry {
	reg := target.NewRegistry()
	for _, name := range names {
		sim := target.NewSimClient(name)
		if !cfg.HasCredentials(name) {
			sim.Outcome = domain.TradeOutcome{Code: domain.OutcomeUnavailable}
		}
		reg.Add(sim)
	}
	return reg
}

func printHoldings(ctx context.Context, targets *target.Registry, cache *util.ResponseCache, limiter *util.RateLimiter, timeout time.Duration, logger *slog.Logger) {
	holdings := target.FetchAllPositions(ctx, targets, cache, limiter, timeout, logger)
	for _, h := range holdings {
		if h.Err != "" {
			fmt.Printf("%s: positions unavailable (%s)\n", h.Target, h.Err)
			continue
		}
		if len(h.Positions) == 0 {
			fmt.Printf("%s: no positions\n", h.Target)
			continue
		}
		for _, p := range h.Positions {
			fmt.Printf("%s: %s x%s @ $%s\n", h.Target, p.Ticker, p.Quantity.String(), p.Price.String())
		}
	}
}

// journalOutcomes persists the run when a journal path is configured.
func journalOutcomes(ctx context.Context, cfg *config.Config, orders []domain.Order, result domain.BatchResult, logger *slog.Logger) {
	if cfg.Journal.Path == "" {
		return
	}
	j, err := journal.Open(cfg.Journal.Path, logger)
	if err != nil {
		logger.Warn("journal unavailable", "error", err)
		return
	}
	defer j.Close()
	if err := j.RecordBatch(ctx, orders, result); err != nil {
		logger.Warn("journal write failed", "error", err)
	}
}
