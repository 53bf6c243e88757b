// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/erpops/incident-triage/internal/config"
	"github.com/erpops/incident-triage/internal/enrichment"
	"github.com/erpops/incident-triage/internal/enrichment/openai"
	"github.com/erpops/incident-triage/internal/incidents"
	"github.com/erpops/incident-triage/internal/incidents/kafka"
	incidentspostgres "github.com/erpops/incident-triage/internal/incidents/postgres"
	"github.com/erpops/incident-triage/internal/pkg/ctxlog"
	"github.com/erpops/incident-triage/internal/pkg/httputil"
	"github.com/erpops/incident-triage/internal/pkg/metrics"
	"github.com/erpops/incident-triage/internal/pkg/postgres"
	"github.com/erpops/incident-triage/internal/pkg/ratelimit"
	"github.com/erpops/incident-triage/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// rateLimitWindow is the window RateLimit.RequestsPerMinute applies to.
const rateLimitWindow = time.Minute

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc
	closers       []io.Closer
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	db, err := openDatabase(connectCtx, cfg.Database, postgres.Connect, postgres.Migrate)
	if err != nil {
		return nil, err
	}

	metricsCtx, metricsCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		db:            db,
		metricsCancel: metricsCancel,
	}

	go metrics.CollectDBPoolMetrics(metricsCtx, db, metrics.DefaultDBPoolInterval)

	router, err := app.setupRouter()
	if err != nil {
		app.closeAll()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

type (
	connectFunc func(ctx context.Context, cfg postgres.Config) (*pgxpool.Pool, error)
	migrateFunc func(databaseURL, dir string) error
)

// openDatabase connects with retries and only then applies migrations, so a
// database that is still starting is waited for instead of failing startup.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig, connect connectFunc, migrate migrateFunc) (*pgxpool.Pool, error) {
	db, err := connect(ctx, postgres.Config{
		URL:             cfg.URL,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnectAttempts: cfg.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if cfg.AutoMigrate {
		if err := migrate(cfg.URL, cfg.MigrationsPath); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}
	return db, nil
}

// Run starts the HTTP servers and blocks until the API server stops.
func (a *App) Run() error {
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"service", version.ServiceName,
		"version", version.Version,
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error

	for name, srv := range map[string]*http.Server{"server": a.server, "metrics server": a.metricsServer} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Shutdown(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("shutdown %s: %w", name, err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	errs = append(errs, a.closeAll())
	return errors.Join(errs...)
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// closeAll stops background collection and releases every external client.
func (a *App) closeAll() error {
	a.metricsCancel()

	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.db.Close()
	return errors.Join(errs...)
}

func (a *App) setupRouter() (*chi.Mux, error) {
	r := chi.NewRouter()
	useMiddleware(r, a.config, a.logger)

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)
	r.Get("/api/openapi.yaml", a.openAPIHandler)
	r.Get("/docs", docsHandler)

	submitLimit, err := a.submitRateLimit()
	if err != nil {
		return nil, err
	}

	service := incidents.NewService(
		incidentspostgres.NewRepository(a.db),
		enrichment.NewEnricher(a.externalAnalyzer(), a.config.Enrichment.Timeout),
		a.eventPublisher(),
	)
	handler := incidents.NewHandler(service)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.healthHandler)
		handler.RegisterRoutes(r, submitLimit)
	})

	return r, nil
}

func useMiddleware(r chi.Router, cfg *config.Config, logger *slog.Logger) {
	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(cfg.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	// RealIP before the logger so remote_addr is the client, not the proxy.
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestLoggerMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Server.RequestTimeout))
}

// externalAnalyzer returns the OpenAI classifier, or nil when no key is set.
func (a *App) externalAnalyzer() enrichment.Analyzer {
	cfg := a.config.Enrichment.OpenAI
	classifier := openai.NewClassifier(openai.Config{
		APIKey:            cfg.APIKey,
		Model:             cfg.Model,
		BaseURL:           cfg.BaseURL,
		Timeout:           a.config.Enrichment.Timeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
	})
	if !classifier.Enabled() {
		a.logger.Info("openai enrichment disabled, using rule-based enrichment only")
		return nil
	}

	a.logger.Info("openai enrichment enabled", "model", cfg.Model)
	return classifier
}

// eventPublisher returns the Kafka producer, or nil when no brokers are set.
func (a *App) eventPublisher() incidents.EventPublisher {
	producer := kafka.NewProducer(kafka.Config{
		Brokers: a.config.Kafka.Brokers,
		Topic:   a.config.Kafka.Topic,
	})
	if !producer.Enabled() {
		a.logger.Info("incident event publishing disabled")
		return nil
	}

	a.closers = append(a.closers, producer)
	a.logger.Info("publishing incident events", "brokers", a.config.Kafka.Brokers, "topic", a.config.Kafka.Topic)
	return producer
}

// submitRateLimit builds the middleware limiting incident submissions per
// client IP. It is shared through Redis when configured.
func (a *App) submitRateLimit() (func(http.Handler) http.Handler, error) {
	cfg := a.config.RateLimit
	if !cfg.Enabled {
		return nil, nil
	}

	var limiter httputil.Limiter
	if a.config.Redis.URL != "" {
		redisLimiter, err := ratelimit.NewRedisLimiter(a.config.Redis.URL, cfg.RequestsPerMinute, rateLimitWindow)
		if err != nil {
			return nil, fmt.Errorf("create redis rate limiter: %w", err)
		}
		a.closers = append(a.closers, redisLimiter)
		limiter = redisLimiter
		a.logger.Info("submission rate limit enabled", "store", "redis", "per_minute", cfg.RequestsPerMinute)
	} else {
		limiter = ratelimit.NewLocalLimiter(cfg.RequestsPerMinute, rateLimitWindow)
		a.logger.Info("submission rate limit enabled", "store", "memory", "per_minute", cfg.RequestsPerMinute)
	}

	return httputil.RateLimitMiddleware(limiter, httputil.ClientIP), nil
}

func (a *App) healthHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": version.ServiceName,
	})
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, version.Info())
}

func (a *App) openAPIHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/x-yaml")
	http.ServeFile(w, r, "api/openapi/openapi.yaml")
}

func docsHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = w.Write([]byte(`<!DOCTYPE html>
<html>
<head>
    <title>ERP Incident Triage API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
        SwaggerUIBundle({
            url: "/api/openapi.yaml",
            dom_id: '#swagger-ui',
            presets: [SwaggerUIBundle.presets.apis, SwaggerUIBundle.SwaggerUIStandalonePreset],
            layout: "BaseLayout"
        });
    </script>
</body>
</html>`))
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
