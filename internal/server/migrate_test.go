package server

import (
	"fmt"
	"testing"

	"github.com/golang-migrate/migrate/v4"
)

func TestMigrateRequiresDSN(t *testing.T) {
	if err := Migrate("file://migrations", "", "up", 0); err == nil {
		t.Fatal("expected error for empty dsn")
	}
}

func TestIgnoreNoChange(t *testing.T) {
	if err := ignoreNoChange(migrate.ErrNoChange); err != nil {
		t.Fatalf("ErrNoChange should be swallowed, got %v", err)
	}
	wrapped := fmt.Errorf("run up: %w", migrate.ErrNoChange)
	if err := ignoreNoChange(wrapped); err != nil {
		t.Fatalf("wrapped ErrNoChange should be swallowed, got %v", err)
	}
	if err := ignoreNoChange(nil); err != nil {
		t.Fatalf("nil should stay nil, got %v", err)
	}
	boom := fmt.Errorf("dirty database")
	if err := ignoreNoChange(boom); err != boom {
		t.Fatalf("real errors must pass through, got %v", err)
	}
}
