package sqlite_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stashkeep/stashkeep/internal/store"
	_ "github.com/stashkeep/stashkeep/internal/store/sqlite"
	"github.com/stashkeep/stashkeep/internal/store/testutil"
)

func TestSQLiteDriver(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "stashkeep-test-sqlite-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tempDir)

	cfg := &store.DriverConfig{
		Driver:  "sqlite",
		DataDir: tempDir,
	}

	testutil.RunDriverTests(t, "sqlite", cfg)

	// Verify database file was created
	if _, err := os.Stat(filepath.Join(tempDir, "stashkeep.db")); os.IsNotExist(err) {
		t.Error("stashkeep.db not created")
	}
}

func TestSQLiteDriverFilenameOption(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "stashkeep-test-sqlite-opt-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tempDir)

	cfg := &store.DriverConfig{
		Driver:  "sqlite",
		DataDir: tempDir,
		Options: map[string]any{"filename": "custom.db"},
	}

	driver, err := store.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := driver.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	driver.Close()

	if _, err := os.Stat(filepath.Join(tempDir, "custom.db")); os.IsNotExist(err) {
		t.Error("custom.db not created")
	}
}

func TestSQLiteDriverSurvivesRestart(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "stashkeep-test-sqlite-restart-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tempDir)

	ctx := context.Background()
	cfg := &store.DriverConfig{
		Driver:  "sqlite",
		DataDir: tempDir,
	}

	driver, err := store.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := driver.Init(ctx); err != nil {
		t.Fatal(err)
	}

	col := testutil.TestCollection(9001, "persistent")
	if err := driver.CreateCollection(ctx, col); err != nil {
		t.Fatal(err)
	}
	if err := driver.AddItem(ctx, testutil.TestItem(col.ID, "file-persist")); err != nil {
		t.Fatal(err)
	}
	driver.Close()

	// Reload driver - data should survive
	driver2, err := store.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := driver2.Init(ctx); err != nil {
		t.Fatal(err)
	}
	defer driver2.Close()

	got, err := driver2.GetCollection(ctx, col.ID)
	if err != nil {
		t.Fatalf("collection not found after restart: %v", err)
	}
	if got.Name != "persistent" {
		t.Errorf("data corruption: expected %q, got %q", "persistent", got.Name)
	}
	count, err := driver2.CountItems(ctx, col.ID)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected 1 item after restart, got %d", count)
	}
}
