package database

import (
	"strings"
	"testing"
)

// TestMigrationsOrdered tests that embedded migrations are returned in version order
func TestMigrationsOrdered(t *testing.T) {
	migrations, err := Migrations()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if len(migrations) < 2 {
		t.Fatalf("Expected at least 2 migrations, got %d", len(migrations))
	}

	for i := 1; i < len(migrations); i++ {
		if migrations[i-1].Version >= migrations[i].Version {
			t.Errorf("Expected %s before %s", migrations[i-1].Version, migrations[i].Version)
		}
	}

	if !strings.Contains(migrations[0].SQL, "CREATE TABLE IF NOT EXISTS patients") {
		t.Error("Expected first migration to create the patients table")
	}
}
