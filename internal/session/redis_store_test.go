package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"slate/api/internal/store"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	rs, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	return rs, s
}

func TestSaveAndLookupRefreshSession(t *testing.T) {
	rs, s := setupTestRedis(t)
	defer rs.Close()
	defer s.Close()

	ctx := context.Background()
	member := store.Member{ID: "mem-1", Name: "Ada", Role: "producer"}

	if err := rs.SaveRefreshSession(ctx, "hash-1", member, time.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	got, err := rs.LookupRefreshSession(ctx, "hash-1")
	if err != nil {
		t.Fatalf("LookupRefreshSession failed: %v", err)
	}
	if got.ID != member.ID {
		t.Errorf("expected member ID %s, got %s", member.ID, got.ID)
	}
	if got.Name != "Ada" || got.Role != "producer" {
		t.Errorf("unexpected member: %+v", got)
	}
}

func TestLookupExpiredSession(t *testing.T) {
	rs, s := setupTestRedis(t)
	defer rs.Close()
	defer s.Close()

	ctx := context.Background()
	member := store.Member{ID: "mem-2", Name: "Bao", Role: "artist"}

	if err := rs.SaveRefreshSession(ctx, "hash-exp", member, time.Now().Add(time.Millisecond)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	s.FastForward(2 * time.Millisecond)

	if _, err := rs.LookupRefreshSession(ctx, "hash-exp"); err == nil {
		t.Error("expected error for expired token, got nil")
	}
}

func TestLookupNonExistentSession(t *testing.T) {
	rs, s := setupTestRedis(t)
	defer rs.Close()
	defer s.Close()

	if _, err := rs.LookupRefreshSession(context.Background(), "missing"); err == nil {
		t.Error("expected error for missing token, got nil")
	}
}

func TestRevokeRefreshSession(t *testing.T) {
	rs, s := setupTestRedis(t)
	defer rs.Close()
	defer s.Close()

	ctx := context.Background()
	member := store.Member{ID: "mem-3", Name: "Cy", Role: "viewer"}

	if err := rs.SaveRefreshSession(ctx, "hash-rev", member, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	if err := rs.RevokeRefreshSession(ctx, "hash-rev"); err != nil {
		t.Fatalf("RevokeRefreshSession failed: %v", err)
	}
	if _, err := rs.LookupRefreshSession(ctx, "hash-rev"); err == nil {
		t.Error("expected error after revoke, got nil")
	}
}

func TestRevokeNonExistentSession(t *testing.T) {
	rs, s := setupTestRedis(t)
	defer rs.Close()
	defer s.Close()

	if err := rs.RevokeRefreshSession(context.Background(), "missing"); err != nil {
		t.Errorf("revoking missing token should not error: %v", err)
	}
}

func TestDefaultRoleOnLookup(t *testing.T) {
	rs, s := setupTestRedis(t)
	defer rs.Close()
	defer s.Close()

	ctx := context.Background()
	member := store.Member{ID: "mem-4", Name: "Dee"}

	if err := rs.SaveRefreshSession(ctx, "hash-role", member, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	got, err := rs.LookupRefreshSession(ctx, "hash-role")
	if err != nil {
		t.Fatalf("LookupRefreshSession failed: %v", err)
	}
	if got.Role != "viewer" {
		t.Errorf("expected default role viewer, got %q", got.Role)
	}
}
