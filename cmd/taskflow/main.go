// Command taskflow serves the task tracking and time accounting API.
//
// Usage:
//
//	JWT_SECRET=... taskflow                         # serve (default)
//	JWT_SECRET=... taskflow token -user u1 -role employee
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/p-blackswan/taskflow/internal/activity"
	"github.com/p-blackswan/taskflow/internal/api"
	"github.com/p-blackswan/taskflow/internal/authz"
	"github.com/p-blackswan/taskflow/internal/config"
	"github.com/p-blackswan/taskflow/internal/health"
	"github.com/p-blackswan/taskflow/internal/identity"
	"github.com/p-blackswan/taskflow/internal/metrics"
	"github.com/p-blackswan/taskflow/internal/models"
	"github.com/p-blackswan/taskflow/internal/store"
	"github.com/p-blackswan/taskflow/internal/timer"
	"github.com/p-blackswan/taskflow/internal/timesheet"
)

// deadLetterWarnThreshold degrades readiness once this many activity
// entries wait for redelivery.
const deadLetterWarnThreshold = 100

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	// Load config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	if cfg.IsDevelopment() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	log.Logger = logger

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "serve":
		serve(cfg, logger)
	case "token":
		if err := issueToken(cfg, os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (want serve or token)\n", cmd)
		os.Exit(2)
	}
}

// issueToken prints a signed bearer token for local use.
func issueToken(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	user := fs.String("user", "", "user id (token subject)")
	role := fs.String("role", string(models.RoleEmployee), "employee or scrum_master")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" {
		return fmt.Errorf("-user is required")
	}

	resolver, err := identity.NewResolver(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL)
	if err != nil {
		return err
	}
	token, exp, err := resolver.Issue(*user, *role)
	if err != nil {
		return err
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", exp.Format(time.RFC3339))
	return nil
}

func serve(cfg *config.Config, logger zerolog.Logger) {
	logger.Info().
		Str("environment", cfg.Environment).
		Str("addr", cfg.ListenAddr).
		Str("db", cfg.DBPath).
		Str("timer_scope", string(cfg.Scope())).
		Str("timezone", cfg.ReferenceTimezone).
		Str("auth_mode", cfg.AuthMode).
		Bool("tls", cfg.TLSEnabled()).
		Msg("starting taskflow")

	// Context with graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	st, err := store.New(cfg.DBPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()

	m := metrics.New()

	// Authorization table
	table := authz.DefaultTable()
	if cfg.PolicyFile != "" {
		if table, err = authz.LoadTable(cfg.PolicyFile); err != nil {
			logger.Fatal().Err(err).Str("path", cfg.PolicyFile).Msg("failed to load policy file")
		}
		logger.Info().Str("path", cfg.PolicyFile).Msg("authorization policy loaded")
	}
	engine := authz.NewEngine(table)
	engine.OnDecision(func(kind models.ResourceKind, action authz.Action, d authz.Decision) {
		m.RecordDecision(string(kind), string(action), string(d.Effect))
	})

	recorder := activity.NewSQLRecorder(st, m, logger)

	opts := []timer.Option{timer.WithMetrics(m)}
	if cfg.PropagateTaskHours {
		opts = append(opts, timer.WithHoursPropagation(st))
	}
	timers := timer.NewManager(st, st, engine, recorder, cfg.Scope(), logger, opts...)
	sheets := timesheet.NewAggregator(st, st, cfg.Location(), logger)

	var resolver *identity.Resolver
	if cfg.AuthMode == api.AuthModeJWT {
		if resolver, err = identity.NewResolver(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL); err != nil {
			logger.Fatal().Err(err).Msg("failed to init token resolver")
		}
	} else {
		logger.Warn().Msg("AUTH_MODE=none: identity is taken from request headers, do not expose")
	}

	// Health checker
	checker := health.NewChecker(logger)
	checker.Register("db", health.PingCheck(st))
	checker.Register("dead_letters", health.ThresholdCheck(st.CountUnresolvedDeadLetters, deadLetterWarnThreshold))

	server := api.NewServer(serverConfig(cfg, resolver), api.Deps{
		Store:      st,
		Engine:     engine,
		Timers:     timers,
		Timesheets: sheets,
		Activity:   recorder,
		Checker:    checker,
		Metrics:    m,
	}, logger)

	// WaitGroup for in-flight work
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("API server error")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runEvery(ctx, cfg.DeadLetterInterval, func() {
			if _, err := recorder.Redeliver(ctx, 100); err != nil {
				logger.Error().Err(err).Msg("activity redelivery failed")
			}
			refreshGauges(ctx, st, m, logger)
			checker.RunAll(ctx)
		})
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runEvery(ctx, cfg.RetentionInterval, func() {
			res, err := st.RunRetention(ctx, cfg.ActivityRetention)
			if err != nil {
				logger.Error().Err(err).Msg("retention sweep failed")
				return
			}
			if res.Activity > 0 || res.DeadLetters > 0 {
				logger.Info().
					Int64("activity", res.Activity).
					Int64("dead_letters", res.DeadLetters).
					Msg("retention sweep removed rows")
			}
		})
	}()

	// Wait for shutdown signal
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")

	// Cancel context to signal all goroutines
	cancel()

	if err := server.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("API server shutdown error")
	}

	// Wait for in-flight work to complete
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("all goroutines stopped")
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("forced shutdown after timeout")
	}

	logger.Info().Msg("taskflow stopped")
}

// serverConfig maps the loaded configuration onto the API server's.
func serverConfig(cfg *config.Config, resolver *identity.Resolver) api.ServerConfig {
	sc := api.ServerConfig{
		ListenAddr: cfg.ListenAddr,
		AuthConfig: api.AuthConfig{
			Mode:     cfg.AuthMode,
			Resolver: resolver,
		},
		RateLimit: api.RateLimitConfig{
			RPS:   cfg.RateLimitRPS,
			Burst: cfg.RateLimitBurst,
		},
		CORSOrigins: cfg.CORSOrigins,
	}
	if cfg.TLSEnabled() {
		sc.TLSEnabled = true
		sc.TLSCert = cfg.TLSCert
		sc.TLSKey = cfg.TLSKey
	}
	return sc
}

// runEvery calls fn once immediately and then on every tick until ctx ends.
func runEvery(ctx context.Context, interval time.Duration, fn func()) {
	if interval <= 0 {
		return
	}
	fn()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

func refreshGauges(ctx context.Context, st *store.Store, m *metrics.Metrics, logger zerolog.Logger) {
	if n, err := st.CountRunningTimers(ctx); err == nil {
		m.SetTimersRunning(float64(n))
	} else {
		logger.Debug().Err(err).Msg("count running timers")
	}
	if n, err := st.CountUnresolvedDeadLetters(ctx); err == nil {
		m.SetDeadLettersPending(float64(n))
	}
	if size, err := st.DBSizeBytes(); err == nil {
		m.SetDBSize(float64(size))
	}
}
