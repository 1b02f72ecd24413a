package database

import (
	"testing"
	"testing/fstest"

	"github.com/safar/storefront/migrations"
)

func TestMigrationFilesOrder(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_b.up.sql":   {Data: []byte("SELECT 2")},
		"0001_a.up.sql":   {Data: []byte("SELECT 1")},
		"0001_a.down.sql": {Data: []byte("SELECT -1")},
		"0002_b.down.sql": {Data: []byte("SELECT -2")},
		"README.md":       {Data: []byte("ignored")},
	}

	up, err := MigrationFiles(fsys, Up)
	if err != nil {
		t.Fatalf("MigrationFiles up: %v", err)
	}
	if len(up) != 2 || up[0] != "0001_a.up.sql" || up[1] != "0002_b.up.sql" {
		t.Errorf("Unexpected up order: %v", up)
	}

	down, err := MigrationFiles(fsys, Down)
	if err != nil {
		t.Fatalf("MigrationFiles down: %v", err)
	}
	if len(down) != 2 || down[0] != "0002_b.down.sql" || down[1] != "0001_a.down.sql" {
		t.Errorf("Unexpected down order: %v", down)
	}
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	up, err := MigrationFiles(migrations.FS, Up)
	if err != nil {
		t.Fatalf("MigrationFiles up: %v", err)
	}
	down, err := MigrationFiles(migrations.FS, Down)
	if err != nil {
		t.Fatalf("MigrationFiles down: %v", err)
	}

	if len(up) == 0 {
		t.Fatal("Expected embedded migrations")
	}
	if len(up) != len(down) {
		t.Errorf("Expected every up migration to have a down migration, got %d up and %d down", len(up), len(down))
	}
}

func TestParseDirection(t *testing.T) {
	if d, err := ParseDirection("UP"); err != nil || d != Up {
		t.Errorf("ParseDirection(UP) = %q, %v", d, err)
	}
	if _, err := ParseDirection("sideways"); err == nil {
		t.Error("Expected error for unknown direction")
	}
}
