package store

import (
	"context"
	"testing"
	"time"
)

func TestMemoryTokenRevokerExpires(t *testing.T) {
	r := NewMemoryTokenRevoker()
	ctx := context.Background()
	if err := r.Revoke(ctx, "jti-1", time.Minute); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := r.Revoke(ctx, "jti-2", time.Nanosecond); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	time.Sleep(2 * time.Millisecond)

	if ok, _ := r.IsRevoked(ctx, "jti-1"); !ok {
		t.Fatal("jti-1 should be revoked")
	}
	if ok, _ := r.IsRevoked(ctx, "jti-2"); ok {
		t.Fatal("jti-2 should have expired")
	}
	if ok, _ := r.IsRevoked(ctx, "unknown"); ok {
		t.Fatal("unknown id should not be revoked")
	}
}
