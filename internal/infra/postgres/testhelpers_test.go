package postgres

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	testcontainers "github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"searchstats/internal/domain/searchquery"
)

// setupPostgres connects to a PostgreSQL database for testing.
// Uses TEST_POSTGRES_URL when set, otherwise starts a throwaway container.
// Tests are skipped when neither is available.
func setupPostgres(t *testing.T) (*pgxpool.Pool, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()
	connStr := os.Getenv("TEST_POSTGRES_URL")
	terminate := func() {}
	if connStr == "" {
		container, err := tcpostgres.RunContainer(ctx,
			testcontainers.WithImage("postgres:16"),
			tcpostgres.WithDatabase("test"),
			tcpostgres.WithUsername("test"),
			tcpostgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
		if err != nil {
			t.Skipf("skipping postgres integration test: %v", err)
		}
		terminate = func() { _ = container.Terminate(context.Background()) }

		connStr, err = container.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		terminate()
		t.Skipf("failed to connect to test database: %v", err)
	}

	// Verify connection with retries (container might still be starting)
	for i := 0; i < 30; i++ {
		if err = pool.Ping(ctx); err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if err != nil {
		pool.Close()
		terminate()
		t.Skipf("failed to ping test database after retries: %v", err)
	}

	if err := applyTestMigrations(ctx, pool); err != nil {
		pool.Close()
		terminate()
		t.Fatalf("failed to apply migrations: %v", err)
	}
	cleanupTables(t, pool)

	return pool, func() {
		pool.Close()
		terminate()
	}
}

// applyTestMigrations runs the up migrations from the repository migrations directory.
func applyTestMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	var count int
	err := pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM information_schema.tables
		WHERE table_schema = 'public' AND table_name = 'daily_totals'
	`).Scan(&count)
	if err == nil && count > 0 {
		return nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	migrationsDir := filepath.Join(cwd, "migrations")
	for i := 0; i < 5; i++ {
		if _, err := os.Stat(migrationsDir); err == nil {
			break
		}
		cwd = filepath.Dir(cwd)
		migrationsDir = filepath.Join(cwd, "migrations")
	}

	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no migrations found in %s", migrationsDir)
	}
	for _, file := range files {
		if err := executeSQLFile(ctx, pool, file); err != nil {
			return err
		}
	}
	return nil
}

// executeSQLFile reads and executes a SQL file.
func executeSQLFile(ctx context.Context, pool *pgxpool.Pool, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	for _, stmt := range splitStatements(string(content)) {
		if stmt == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("exec %s: %w", path, err)
		}
	}
	return nil
}

// splitStatements splits SQL content into individual statements.
func splitStatements(sql string) []string {
	lines := strings.Split(sql, "\n")
	var builder strings.Builder
	var statements []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		builder.WriteString(line)
		if strings.HasSuffix(line, ";") {
			stmt := strings.TrimSuffix(builder.String(), ";")
			statements = append(statements, strings.TrimSpace(stmt))
			builder.Reset()
		} else {
			builder.WriteString("\n")
		}
	}

	if residual := strings.TrimSpace(builder.String()); residual != "" {
		statements = append(statements, residual)
	}
	return statements
}

// cleanupTables removes all data from test tables.
func cleanupTables(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	ctx := context.Background()
	for _, table := range []string{"daily_totals", "search_query_daily_stats", "search_queries"} {
		_, err := pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table))
		require.NoError(t, err, "failed to cleanup table %s", table)
	}
}

// createQueries persists the given values and returns them with ids.
func createQueries(t *testing.T, repo *SearchQueryRepository, values ...string) []*searchquery.SearchQuery {
	t.Helper()

	queries := make([]*searchquery.SearchQuery, 0, len(values))
	for _, v := range values {
		q, err := searchquery.New(v)
		require.NoError(t, err)
		queries = append(queries, q)
	}
	require.NoError(t, repo.BulkCreate(context.Background(), queries))
	return queries
}

func testDay(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
