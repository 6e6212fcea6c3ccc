package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryTTL(t *testing.T) {
	t.Parallel()
	now := time.Now()
	c := NewMemory(0)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	_ = c.Set(ctx, "42:P", "NA1_101", time.Minute)
	if v, ok, _ := c.Get(ctx, "42:P"); !ok || v != "NA1_101" {
		t.Fatalf("Get = (%q, %v), want NA1_101", v, ok)
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := c.Get(ctx, "42:P"); ok {
		t.Fatal("expected expired entry to miss")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry not removed, len=%d", c.Len())
	}
}

func TestMemoryZeroTTLNeverExpires(t *testing.T) {
	t.Parallel()
	now := time.Now()
	c := NewMemory(0)
	c.now = func() time.Time { return now }
	_ = c.Set(context.Background(), "k", "v", 0)
	now = now.Add(1000 * time.Hour)
	if _, ok, _ := c.Get(context.Background(), "k"); !ok {
		t.Fatal("entry without ttl should not expire")
	}
}

func TestMemoryBoundedEntries(t *testing.T) {
	t.Parallel()
	c := NewMemory(3)
	ctx := context.Background()
	for i, k := range []string{"a", "b", "c", "d", "e"} {
		_ = c.Set(ctx, k, "v", time.Duration(i+1)*time.Hour)
	}
	if c.Len() != 3 {
		t.Fatalf("len = %d, want 3", c.Len())
	}
	if _, ok, _ := c.Get(ctx, "e"); !ok {
		t.Fatal("newest entry should survive pruning")
	}
	if _, ok, _ := c.Get(ctx, "a"); ok {
		t.Fatal("entry closest to expiry should be pruned first")
	}
}
