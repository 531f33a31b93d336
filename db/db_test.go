package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := Open(filepath.Join(t.TempDir(), "meow_counts.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	if err := Migrate(context.Background(), database); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return database
}

func TestMigrateIdempotent(t *testing.T) {
	database := openTestDB(t)
	// A second run must not error; every statement is IF NOT EXISTS.
	if err := Migrate(context.Background(), database); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestOAuthTokenRoundTrip(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	expiry := time.Now().Add(4 * time.Hour).UTC().Truncate(time.Second)
	if err := UpsertOAuthToken(ctx, database, "twitch", "access-1", "refresh-1", expiry, "chat:read"); err != nil {
		t.Fatalf("UpsertOAuthToken: %v", err)
	}

	access, refresh, gotExpiry, scope, err := GetOAuthToken(ctx, database, "twitch")
	if err != nil {
		t.Fatalf("GetOAuthToken: %v", err)
	}
	if access != "access-1" || refresh != "refresh-1" || scope != "chat:read" {
		t.Fatalf("got %q/%q/%q", access, refresh, scope)
	}
	if !gotExpiry.Equal(expiry) {
		t.Fatalf("expiry = %v, want %v", gotExpiry, expiry)
	}

	// Upsert overwrites the existing row.
	if err := UpsertOAuthToken(ctx, database, "twitch", "access-2", "refresh-2", expiry, "chat:read chat:edit"); err != nil {
		t.Fatalf("second UpsertOAuthToken: %v", err)
	}
	access, refresh, _, scope, err = GetOAuthToken(ctx, database, "twitch")
	if err != nil {
		t.Fatalf("GetOAuthToken: %v", err)
	}
	if access != "access-2" || refresh != "refresh-2" || scope != "chat:read chat:edit" {
		t.Fatalf("after upsert got %q/%q/%q", access, refresh, scope)
	}
}

func TestGetOAuthTokenMissingProvider(t *testing.T) {
	database := openTestDB(t)

	access, refresh, expiry, scope, err := GetOAuthToken(context.Background(), database, "nosuch")
	if err != nil {
		t.Fatalf("GetOAuthToken: %v", err)
	}
	if access != "" || refresh != "" || scope != "" || !expiry.IsZero() {
		t.Fatalf("missing provider returned %q/%q/%v/%q", access, refresh, expiry, scope)
	}
}
