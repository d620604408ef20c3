package postgres_test

import (
	"os"
	"testing"

	"github.com/stashkeep/stashkeep/internal/store"
	_ "github.com/stashkeep/stashkeep/internal/store/postgres"
	"github.com/stashkeep/stashkeep/internal/store/testutil"
)

// Requires a reachable PostgreSQL instance; set STASHKEEP_TEST_PG_DSN to run.
func TestPostgresDriver(t *testing.T) {
	dsn := os.Getenv("STASHKEEP_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("STASHKEEP_TEST_PG_DSN not set")
	}

	cfg := &store.DriverConfig{
		Driver:  "postgres",
		Options: map[string]any{"dsn": dsn},
	}
	testutil.RunDriverTests(t, "postgres", cfg)
}

func TestPostgresDriverRequiresDSN(t *testing.T) {
	_, err := store.New(&store.DriverConfig{Driver: "postgres"})
	if err == nil {
		t.Fatal("expected error for missing dsn")
	}
}
