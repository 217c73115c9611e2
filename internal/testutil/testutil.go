// Package testutil provides Postgres and Redis fixtures for integration tests.
// Tests skip when the backing service is unreachable unless TEST_REQUIRE_DB,
// TEST_REQUIRE_REDIS or TEST_REQUIRE_INFRA is set.
package testutil

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	// Registers the "pgx" database/sql driver.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/bizmarket/analysis-pipeline/internal/migrate"
)

// TestingTB is the subset of testing.TB the fixtures need.
type TestingTB interface {
	Helper()
	Skip(args ...any)
	Skipf(format string, args ...any)
	Fatal(args ...any)
	Fatalf(format string, args ...any)
	Logf(format string, args ...any)
}

// TestDBConfig holds connection settings for the test database.
type TestDBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// DefaultTestDBConfig reads TEST_DB_* with defaults for the local compose
// test profile, which publishes Postgres on 55432.
func DefaultTestDBConfig() TestDBConfig {
	return TestDBConfig{
		Host:     getEnvOrDefault("TEST_DB_HOST", "localhost"),
		Port:     getEnvOrDefault("TEST_DB_PORT", "55432"),
		User:     getEnvOrDefault("TEST_DB_USER", "analysis"),
		Password: getEnvOrDefault("TEST_DB_PASSWORD", "analysis"),
		DBName:   getEnvOrDefault("TEST_DB_NAME", "analysis"),
	}
}

// DSN renders the config as a postgres URL. searchPath is optional.
func (c TestDBConfig) DSN(searchPath string) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, c.Port),
		Path:   "/" + c.DBName,
	}
	q := url.Values{}
	q.Set("sslmode", getEnvOrDefault("DB_SSL_MODE", "disable"))
	if searchPath != "" {
		q.Set("search_path", searchPath)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

var (
	dbProbeOnce sync.Once
	dbProbeErr  error
)

// SkipIfNoTestDB skips t when the test database cannot be reached. The check
// runs once per test binary.
func SkipIfNoTestDB(t TestingTB) {
	t.Helper()
	dbProbeOnce.Do(func() {
		db, err := sql.Open("pgx", DefaultTestDBConfig().DSN(""))
		if err != nil {
			dbProbeErr = err
			return
		}
		defer db.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		dbProbeErr = db.PingContext(ctx)
	})
	if dbProbeErr == nil {
		return
	}
	if requireDB() {
		t.Fatal("test database not available:", dbProbeErr)
	}
	t.Skip("test database not available:", dbProbeErr)
}

// WithAutoDB runs fn against a migrated database. With TEST_DB_EPHEMERAL set,
// each call gets its own schema, dropped afterwards; otherwise the shared test
// database is cleaned before and after fn.
func WithAutoDB(t TestingTB, fn func(*sql.DB)) {
	t.Helper()
	SkipIfNoTestDB(t)

	if envBool("TEST_DB_EPHEMERAL") {
		db, drop := openEphemeralSchema(t)
		defer drop()
		fn(db)
		return
	}

	db := SetupTestDB(t)
	defer func() {
		CleanupTestDB(t, db)
		if err := db.Close(); err != nil {
			t.Logf("warning: close test db: %v", err)
		}
	}()
	fn(db)
}

// SetupTestDB opens the shared test database, applies migrations and clears
// every analysis table. The caller closes the handle.
func SetupTestDB(t TestingTB) *sql.DB {
	t.Helper()
	SkipIfNoTestDB(t)

	db, err := sql.Open("pgx", DefaultTestDBConfig().DSN(""))
	if err != nil {
		t.Fatal("open test database:", err)
	}
	migrateOrFatal(t, db)
	CleanupTestDB(t, db)
	return db
}

// cleanupTables is in delete order; listing children cascade from listings.
var cleanupTables = []string{
	"analysis_jobs",
	"usage_violations",
	"usage_daily",
	"usage_monthly",
	"user_subscriptions",
	"listings",
}

// CleanupTestDB deletes every row the pipeline writes.
func CleanupTestDB(t TestingTB, db *sql.DB) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, table := range cleanupTables {
		if _, err := db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("clean up table %s: %v", table, err)
		}
	}
}

func migrateOrFatal(t TestingTB, db *sql.DB) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := migrate.Run(ctx, db); err != nil {
		if cerr := db.Close(); cerr != nil {
			t.Logf("warning: close test db: %v", cerr)
		}
		t.Fatal("run migrations:", err)
	}
}

// openEphemeralSchema creates a random schema, points search_path at it and
// migrates it. drop closes the handle and removes the schema.
func openEphemeralSchema(t TestingTB) (*sql.DB, func()) {
	t.Helper()
	cfg := DefaultTestDBConfig()

	admin, err := sql.Open("pgx", cfg.DSN(""))
	if err != nil {
		t.Fatal("open admin db:", err)
	}
	schema := schemaName()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := admin.ExecContext(ctx, "CREATE SCHEMA "+schema); err != nil {
		_ = admin.Close()
		t.Fatalf("create schema %s: %v", schema, err)
	}
	t.Logf("using ephemeral schema %s", schema)

	db, err := sql.Open("pgx", cfg.DSN(schema+",public"))
	if err != nil {
		_ = admin.Close()
		t.Fatal("open schema db:", err)
	}
	db.SetMaxOpenConns(10)

	drop := func() {
		if err := db.Close(); err != nil {
			t.Logf("warning: close schema db: %v", err)
		}
		dctx, dcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer dcancel()
		if _, err := admin.ExecContext(dctx, "DROP SCHEMA IF EXISTS "+schema+" CASCADE"); err != nil {
			t.Logf("warning: drop schema %s: %v", schema, err)
		}
		if err := admin.Close(); err != nil {
			t.Logf("warning: close admin db: %v", err)
		}
	}

	mctx, mcancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer mcancel()
	if err := migrate.Run(mctx, db); err != nil {
		drop()
		t.Fatal("migrate ephemeral schema:", err)
	}
	return db, drop
}

func schemaName() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("t_%d", time.Now().UnixNano())
	}
	return "t_" + hex.EncodeToString(b)
}

// JobStateInfo is a compact view of an analysis_jobs row.
type JobStateInfo struct {
	ID           string
	ListingID    string
	AnalysisType string
	Status       string
	Progress     int
	CurrentStep  string
	ErrorMessage *string
	CompletedAt  *time.Time
}

// InspectJobStates returns every analysis job in creation order.
func InspectJobStates(t TestingTB, db *sql.DB) []JobStateInfo {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rows, err := db.QueryContext(ctx, `
		SELECT id, listing_id, analysis_type, status, progress, current_step, error_message, completed_at
		FROM analysis_jobs
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		t.Fatalf("query job states: %v", err)
	}
	defer rows.Close()

	var jobs []JobStateInfo
	for rows.Next() {
		var j JobStateInfo
		if err := rows.Scan(&j.ID, &j.ListingID, &j.AnalysisType, &j.Status,
			&j.Progress, &j.CurrentStep, &j.ErrorMessage, &j.CompletedAt); err != nil {
			t.Fatalf("scan job state: %v", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("iterate job states: %v", err)
	}
	return jobs
}

// InsertListing seeds a minimal listing row the worker can load.
func InsertListing(t TestingTB, db *sql.DB, id, title string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx,
		`INSERT INTO listings (id, title, industry, city, state, asking_price)
		 VALUES ($1, $2, 'Food & Beverage', 'Austin', 'TX', 450000)
		 ON CONFLICT (id) DO NOTHING`, id, title); err != nil {
		t.Fatalf("insert listing %s: %v", id, err)
	}
}

// ConcurrentTestRunner starts functions together and collects their errors.
type ConcurrentTestRunner struct {
	t TestingTB
}

// NewConcurrentTestRunner creates a ConcurrentTestRunner. db is accepted for
// call-site symmetry with the other fixtures and is not used.
func NewConcurrentTestRunner(t TestingTB, _ *sql.DB) *ConcurrentTestRunner {
	return &ConcurrentTestRunner{t: t}
}

// RunConcurrent releases every fn at once and returns their errors in argument order.
func (r *ConcurrentTestRunner) RunConcurrent(fns ...func() error) []error {
	r.t.Helper()
	errs := make([]error, len(fns))
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i, fn := range fns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			errs[i] = fn()
		}()
	}
	close(start)
	wg.Wait()
	return errs
}

// AssertNoErrors fails the test on the first non-nil error.
func (r *ConcurrentTestRunner) AssertNoErrors(errs []error) {
	r.t.Helper()
	for i, err := range errs {
		if err != nil {
			r.t.Fatalf("concurrent call %d failed: %v", i, err)
		}
	}
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "y":
		return true
	default:
		return false
	}
}

func requireDB() bool    { return envBool("TEST_REQUIRE_DB") || envBool("TEST_REQUIRE_INFRA") }
func requireRedis() bool { return envBool("TEST_REQUIRE_REDIS") || envBool("TEST_REQUIRE_INFRA") }
