//go:build integration

package integration

import (
	"context"
	"log"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/erpops/incident-triage/internal/app"
	"github.com/erpops/incident-triage/internal/config"
	"github.com/erpops/incident-triage/internal/testutil"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	testServer    *httptest.Server
	testValidator *testutil.OpenAPIValidator
	testDB        *pgxpool.Pool
	redisURL      string
)

// Paths relative to the tests/integration directory.
const (
	openAPISpecPath = "../../api/openapi/openapi.yaml"
	migrationsPath  = "../../migrations"
)

// newTestClient creates a client that checks traffic against the API document.
func newTestClient(t *testing.T) *testutil.Client {
	t.Helper()
	return testutil.NewClient(testServer.URL, testValidator).For(t)
}

func TestMain(m *testing.M) {
	ctx := context.Background()

	pgContainer, err := testutil.NewPostgresContainer(ctx)
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	redisContainer, err := testutil.NewRedisContainer(ctx)
	if err != nil {
		log.Fatalf("start redis: %v", err)
	}
	defer func() {
		if err := redisContainer.Terminate(ctx); err != nil {
			log.Printf("terminate redis: %v", err)
		}
	}()
	redisURL = redisContainer.URL

	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = "0"
	cfg.Server.MetricsPort = "0"
	cfg.Database.URL = pgContainer.ConnectionString
	cfg.Database.MaxOpenConns = 5
	cfg.Database.MaxIdleConns = 2
	cfg.Database.ConnectTimeout = 30 * time.Second
	cfg.Database.ConnectAttempts = 3
	cfg.Database.MigrationsPath = migrationsPath
	cfg.Log.Level = "error"
	cfg.Log.Format = "text"
	cfg.CORS.AllowedOrigins = []string{"http://localhost:4200"}
	cfg.Redis.URL = redisURL
	// High enough that only the dedicated rate limit test hits it.
	cfg.RateLimit.RequestsPerMinute = 10000

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid test config: %v", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("create app: %v", err)
	}

	testDB, err = pgxpool.New(ctx, pgContainer.ConnectionString)
	if err != nil {
		log.Fatalf("create test db pool: %v", err)
	}

	testServer = httptest.NewServer(application.Router())

	testValidator, err = testutil.LoadOpenAPIValidator(openAPISpecPath)
	if err != nil {
		log.Fatalf("load openapi validator: %v", err)
	}

	code := m.Run()

	testServer.Close()
	testDB.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown app: %v", err)
	}

	os.Exit(code)
}
