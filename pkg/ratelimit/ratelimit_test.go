package ratelimit

import (
	"context"
	"testing"
)

func TestLocalStore_AllowWithinBurst(t *testing.T) {
	s := NewLocalStore()
	ctx := context.Background()
	policy := Policy{RPM: 60, Burst: 3}

	for i := 0; i < 3; i++ {
		ok, err := s.Allow(ctx, "worker-1", policy, 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !ok {
			t.Fatalf("expected request %d within burst to be allowed", i)
		}
	}
}

func TestLocalStore_DeniesBeyondBurst(t *testing.T) {
	s := NewLocalStore()
	ctx := context.Background()
	policy := Policy{RPM: 60, Burst: 1}

	ok, err := s.Allow(ctx, "worker-2", policy, 1)
	if err != nil || !ok {
		t.Fatalf("expected first request allowed, got ok=%v err=%v", ok, err)
	}
	ok, err = s.Allow(ctx, "worker-2", policy, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected second immediate request to exceed burst of 1 and be denied")
	}
}

func TestLocalStore_KeysAreIndependent(t *testing.T) {
	s := NewLocalStore()
	ctx := context.Background()
	policy := Policy{RPM: 60, Burst: 1}

	if ok, _ := s.Allow(ctx, "a", policy, 1); !ok {
		t.Fatal("expected key a to be allowed")
	}
	if ok, _ := s.Allow(ctx, "b", policy, 1); !ok {
		t.Fatal("expected independent key b to be allowed regardless of key a's state")
	}
}

func TestLocalStore_ZeroRPMDefaultsToMinimumRate(t *testing.T) {
	s := NewLocalStore()
	ctx := context.Background()
	policy := Policy{RPM: 0, Burst: 0}

	ok, err := s.Allow(ctx, "worker-3", policy, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected a zero-valued policy to still allow at least one request")
	}
}
