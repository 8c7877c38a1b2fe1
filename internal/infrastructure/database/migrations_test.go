package database

import (
	"context"
	"embed"
	"testing"
)

//go:embed testdata/*.sql
var testMigrationsFS embed.FS

// useTestMigrations points the package-level migration source at the
// testdata fixtures for the duration of one test.
func useTestMigrations(t *testing.T) {
	t.Helper()
	origFS, origDir := MigrationsFS, MigrationsDir
	t.Cleanup(func() {
		MigrationsFS = origFS
		MigrationsDir = origDir
	})
	MigrationsFS = testMigrationsFS
	MigrationsDir = "testdata"
}

func countApplied(t *testing.T, db *DB) int {
	t.Helper()
	var n int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM schema_migrations").Scan(&n)
	if err != nil {
		t.Fatalf("counting applied migrations: %v", err)
	}
	return n
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&n)
	if err != nil {
		t.Fatalf("checking table %s: %v", name, err)
	}
	return n == 1
}

func TestMigrate(t *testing.T) {
	useTestMigrations(t)
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	if !tableExists(t, db, "zone_verdicts") {
		t.Error("zone_verdicts table not created")
	}
	if got := countApplied(t, db); got != 1 {
		t.Errorf("applied migrations = %d, want 1", got)
	}

	// A second run finds nothing pending and changes nothing.
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	if got := countApplied(t, db); got != 1 {
		t.Errorf("applied migrations after rerun = %d, want 1", got)
	}
}

func TestMigrateDown(t *testing.T) {
	useTestMigrations(t)
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}

	if tableExists(t, db, "zone_verdicts") {
		t.Error("zone_verdicts table survived the rollback")
	}
	if got := countApplied(t, db); got != 0 {
		t.Errorf("applied migrations after rollback = %d, want 0", got)
	}

	// Rolling back an empty schema is a no-op, not an error.
	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() on empty schema error = %v", err)
	}
}

func TestMigrate_NoEmbeddedMigrations(t *testing.T) {
	origFS, origDir := MigrationsFS, MigrationsDir
	t.Cleanup(func() {
		MigrationsFS = origFS
		MigrationsDir = origDir
	})
	MigrationsFS = embed.FS{}
	MigrationsDir = "."

	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() with no migrations error = %v", err)
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantName    string
		wantUp      bool
		wantOk      bool
	}{
		{
			filename:    "20260801_000000_capability_results.up.sql",
			wantVersion: "20260801_000000",
			wantName:    "capability_results",
			wantUp:      true,
			wantOk:      true,
		},
		{
			filename:    "20260801_000000_capability_results.down.sql",
			wantVersion: "20260801_000000",
			wantName:    "capability_results",
			wantOk:      true,
		},
		{filename: "readme.txt"},
		{filename: "20260801_000000_capability_results.sql"},
		{filename: "orphan.up.sql"},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, up, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOk {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOk)
			}
			if !ok {
				return
			}
			if version != tt.wantVersion {
				t.Errorf("version = %q, want %q", version, tt.wantVersion)
			}
			if name != tt.wantName {
				t.Errorf("name = %q, want %q", name, tt.wantName)
			}
			if up != tt.wantUp {
				t.Errorf("up = %v, want %v", up, tt.wantUp)
			}
		})
	}
}
