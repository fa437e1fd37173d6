package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/medflow/platform/internal/adapters/his"
	"github.com/medflow/platform/internal/adapters/monitor"
	"github.com/medflow/platform/internal/advisor"
	"github.com/medflow/platform/internal/audit"
	patientapi "github.com/medflow/platform/internal/patient/api"
	"github.com/medflow/platform/internal/patient/domain"
	"github.com/medflow/platform/internal/patient/infrastructure"
	"github.com/medflow/platform/internal/shared/auth"
	"github.com/medflow/platform/internal/shared/config"
	"github.com/medflow/platform/internal/shared/database"
	"github.com/medflow/platform/internal/shared/events"
	"github.com/medflow/platform/internal/shared/logger"
	"github.com/medflow/platform/internal/shared/metrics"
	secmiddleware "github.com/medflow/platform/internal/shared/middleware"
	"github.com/medflow/platform/internal/workflow"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const maxRequestBody = 1 << 20

// App holds all application dependencies
type App struct {
	Config    *config.Config
	Log       zerolog.Logger
	DB        *database.DB
	Bus       *events.Bus
	Advisor   advisor.Advisor
	Forwarder *audit.Forwarder
	Workflow  *workflow.Service
	HIS       *his.Adapter
	Monitor   *monitor.Adapter
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "platform",
		Short: "Emergency department clinical workflow API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			log := logger.New(cfg.Log.Level, cfg.Server.Env)

			ctx := context.Background()
			db, err := database.New(ctx, cfg.Database)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer db.Close()

			return database.Migrate(ctx, db.Pool, log)
		},
	}
}

func runServer() error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.New(cfg.Log.Level, cfg.Server.Env)
	app := &App{Config: cfg, Log: log}

	// Database is optional; without it patients live in memory
	var repo domain.Repository = infrastructure.NewMemoryRepository()
	if cfg.Database.Enabled {
		db, err := database.New(ctx, cfg.Database)
		if err != nil {
			log.Warn().Err(err).Msg("database not available, running with in-memory storage")
		} else {
			app.DB = db
			defer db.Close()

			if err := database.Migrate(ctx, db.Pool, log); err != nil {
				log.Warn().Err(err).Msg("migration failed")
			}
			repo = infrastructure.NewPostgresRepository(db.Pool)
		}
	}

	var bus events.EventBus = events.NewMemoryBus()
	if cfg.KurrentDB.Enabled {
		kbus, err := events.NewBus(cfg.KurrentDB, log)
		if err != nil {
			log.Warn().Err(err).Msg("KurrentDB not available, running without event streaming")
		} else {
			app.Bus = kbus
			bus = kbus
			defer kbus.Close()
		}
	}

	trail := buildAuditTrail(ctx, app)
	app.Advisor = buildAdvisor(ctx, cfg, log)

	app.Workflow = workflow.NewService(repo, trail, app.Advisor, bus, log)

	if cfg.HIS.Enabled {
		src, err := his.Open(ctx, cfg.HIS)
		if err != nil {
			log.Warn().Err(err).Msg("HIS not available, admission feed disabled")
		} else {
			app.HIS = his.New(cfg.HIS, src, app.Workflow, log)
			if err := app.HIS.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("HIS admission feed failed to start")
				app.HIS = nil
			}
		}
	}

	if cfg.Monitor.Enabled {
		app.Monitor = monitor.New(cfg.Monitor, app.Workflow, log)
		if err := app.Monitor.Start(ctx); err != nil {
			log.Warn().Err(err).Msg("monitor feed failed to start")
			app.Monitor = nil
		}
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      newRouter(app, trail),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan struct{})
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
		app.shutdown(ctx)
		close(done)
	}()

	log.Info().
		Str("env", cfg.Server.Env).
		Int("port", cfg.Server.Port).
		Bool("database", app.DB != nil).
		Bool("kurrentdb", app.Bus != nil).
		Bool("advisor", cfg.Advisor.Enabled).
		Bool("his", app.HIS != nil).
		Bool("monitor", app.Monitor != nil).
		Msg("server starting")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	<-done
	log.Info().Msg("server stopped")
	return nil
}

// buildAuditTrail restores chains from Postgres when available and mirrors
// new events to every enabled sink
func buildAuditTrail(ctx context.Context, app *App) *audit.Trail {
	cfg := app.Config.Audit

	var opts []audit.TrailOption
	var sinks []audit.Sink
	if app.DB != nil {
		pg := audit.NewPostgresSink(app.DB.Pool)
		opts = append(opts, audit.WithLoader(pg))
		if cfg.PostgresEnabled {
			sinks = append(sinks, pg)
		}
	}
	if cfg.KurrentDBEnabled && app.Bus != nil {
		kdb := audit.NewKurrentDBSink(app.Bus.Client())
		sinks = append(sinks, kdb)
		if app.DB == nil {
			opts = append(opts, audit.WithLoader(kdb))
		}
	}

	if len(sinks) > 0 {
		app.Forwarder = audit.NewForwarder(cfg.BufferSize, cfg.RetryAttempts, app.Log, sinks...)
		app.Forwarder.Start(ctx)
		opts = append(opts, audit.WithForwarder(app.Forwarder))
	}
	return audit.NewTrail(opts...)
}

func buildAdvisor(ctx context.Context, cfg *config.Config, log zerolog.Logger) advisor.Advisor {
	if !cfg.Advisor.Enabled {
		log.Info().Msg("advisor disabled, AI assistance degrades to local fallbacks")
		return advisor.Disabled{}
	}

	var cache advisor.Cache = advisor.NewMemoryCache()
	if cfg.Redis.Enabled {
		rdb, err := advisor.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Msg("redis not available, using in-memory advisor cache")
		} else {
			cache = advisor.NewRedisCache(rdb)
		}
	}

	return advisor.NewGuard(advisor.NewClient(cfg.Advisor), cfg.Advisor, cache, log)
}

func newRouter(app *App, trail *audit.Trail) chi.Router {
	cfg := app.Config
	r := chi.NewRouter()

	limiter := secmiddleware.NewIPRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(secmiddleware.RequestLogger(app.Log))
	r.Use(middleware.Recoverer)
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(metrics.Middleware)
	r.Use(corsMiddleware)

	// Health checks (unauthenticated)
	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(app))
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(limiter.Middleware)
		r.Use(secmiddleware.MaxBody(maxRequestBody))
		if cfg.Auth.Enabled {
			r.Use(auth.Middleware(cfg.Auth))
		} else {
			r.Use(auth.DevMiddleware)
		}

		r.Mount("/patients", patientapi.NewHandler(app.Workflow).Routes())
		r.Mount("/audit", audit.NewHandler(trail).Routes())
		r.Mount("/advisor", advisor.NewHandler(app.Advisor).Routes())
	})

	return r
}

// shutdown stops the feeds first so no new work arrives, then drains
// background classification and the audit forwarder
func (a *App) shutdown(ctx context.Context) {
	if a.Monitor != nil {
		a.Monitor.Stop()
	}
	if a.HIS != nil {
		if err := a.HIS.Stop(ctx); err != nil {
			a.Log.Warn().Err(err).Msg("HIS feed stop error")
		}
	}
	a.Workflow.Wait()
	if a.Forwarder != nil {
		a.Forwarder.Close()
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	})
}

func readyHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"server": "ready",
		}
		check := func(name string, configured bool, fn func() error) {
			if !configured {
				checks[name] = "not configured"
				return
			}
			if err := fn(); err != nil {
				checks[name] = "not ready: " + err.Error()
				return
			}
			checks[name] = "ready"
		}

		ctx := r.Context()
		check("database", app.DB != nil, func() error { return app.DB.Health(ctx) })
		check("kurrentdb", app.Bus != nil, func() error { return app.Bus.Health() })
		check("his", app.HIS != nil, func() error { return app.HIS.Health(ctx) })
		check("monitor", app.Monitor != nil, func() error { return app.Monitor.Health() })

		// The advisor is optional; its outage degrades responses but never
		// makes the service unready
		if err := app.Advisor.Health(ctx); err != nil {
			checks["advisor"] = "degraded: " + err.Error()
		} else {
			checks["advisor"] = "ready"
		}

		allReady := true
		for name, status := range checks {
			if name == "advisor" {
				continue
			}
			if status != "ready" && status != "not configured" {
				allReady = false
				break
			}
		}

		status := http.StatusOK
		if !allReady {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"status": map[bool]string{true: "ready", false: "not ready"}[allReady],
			"checks": checks,
		})
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID, X-Clinician-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
