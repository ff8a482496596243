package integration

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/caregap/internal/platform/db"
)

// testDB holds the shared database infrastructure for integration tests.
type testDB struct {
	Pool          *pgxpool.Pool
	ConnStr       string
	MigrationsDir string
}

// globalDB is the package-level test database, initialized once in TestMain.
var globalDB *testDB

func TestMain(m *testing.M) {
	if _, ok := externalDatabase(); !ok {
		if _, err := exec.LookPath("docker"); err != nil {
			fmt.Fprintf(os.Stderr, "docker not found and %s unset, skipping integration tests\n", testDatabaseEnv)
			os.Exit(0)
		}
	}

	ctx := context.Background()
	tdb, cleanup, err := setupPostgres(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to setup postgres: %v\n", err)
		os.Exit(1)
	}

	globalDB = tdb
	code := m.Run()
	cleanup()
	os.Exit(code)
}

func setupPostgres(ctx context.Context) (*testDB, func(), error) {
	connStr, ok := externalDatabase()
	cleanup := func() {}
	if !ok {
		var err error
		connStr, cleanup, err = startSubmissionLogDB(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("start postgres container: %w", err)
		}
	}

	pool, err := connectWhenReady(ctx, connStr)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	return &testDB{
		Pool:          pool,
		ConnStr:       connStr,
		MigrationsDir: findMigrationsDir(),
	}, func() {
		pool.Close()
		cleanup()
	}, nil
}

// findMigrationsDir locates the migrations directory relative to this test file.
func findMigrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// uniqueSchema generates a schema name for test isolation.
func uniqueSchema(prefix string) string {
	short := strings.ReplaceAll(uuid.New().String()[:8], "-", "")
	return fmt.Sprintf("%s_%s", prefix, short)
}

// createSchema creates a fresh schema, migrates it and drops it when the test
// ends.
func createSchema(t *testing.T, ctx context.Context, schema string) *db.Migrator {
	t.Helper()
	if _, err := globalDB.Pool.Exec(ctx, "CREATE SCHEMA "+pgx.Identifier{schema}.Sanitize()); err != nil {
		t.Fatalf("create schema %s: %v", schema, err)
	}
	t.Cleanup(func() {
		if _, err := globalDB.Pool.Exec(context.Background(), "DROP SCHEMA IF EXISTS "+pgx.Identifier{schema}.Sanitize()+" CASCADE"); err != nil {
			t.Logf("warning: failed to drop schema %s: %v", schema, err)
		}
	})

	m := db.NewMigrator(globalDB.Pool, globalDB.MigrationsDir, schema)
	if _, err := m.Up(ctx); err != nil {
		t.Fatalf("migrate schema %s: %v", schema, err)
	}
	return m
}

// inSchema runs fn in a transaction whose search_path is schema. Repositories
// pick the transaction up from the context.
func inSchema(ctx context.Context, schema string, fn func(ctx context.Context) error) error {
	return db.InTx(ctx, globalDB.Pool, func(ctx context.Context) error {
		tx := db.TxFromContext(ctx)
		if _, err := tx.Exec(ctx, "SET LOCAL search_path TO "+pgx.Identifier{schema}.Sanitize()); err != nil {
			return fmt.Errorf("set search_path: %w", err)
		}
		return fn(ctx)
	})
}
