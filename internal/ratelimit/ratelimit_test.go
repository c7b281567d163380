package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiterAllowsBurstUpToRate(t *testing.T) {
	l := New(5)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// A fresh bucket holds one second's worth of tokens.
	for i := 0; i < 5; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
}

func TestLimiterBlocksWhenExhausted(t *testing.T) {
	l := New(1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("first wait: %v", err)
	}

	// Bucket is empty now; a cancelled context must surface instead of spinning.
	shortCtx, shortCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer shortCancel()
	if err := l.Wait(shortCtx); err == nil {
		t.Fatal("expected context error on exhausted bucket")
	}
}

func TestLimiterDefaultsInvalidRate(t *testing.T) {
	l := New(-3)
	if l.rate != 1.0 {
		t.Errorf("got rate %.1f, want 1.0", l.rate)
	}
}

func TestSemaphoreCapsConcurrency(t *testing.T) {
	s := NewSemaphore(2)
	ctx := context.Background()

	if err := s.Acquire(ctx); err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	if err := s.Acquire(ctx); err != nil {
		t.Fatalf("acquire 2: %v", err)
	}

	shortCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.Acquire(shortCtx); err == nil {
		t.Fatal("expected third acquire to block")
	}

	s.Release()
	if err := s.Acquire(ctx); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestSemaphoreDefaultsInvalidSize(t *testing.T) {
	s := NewSemaphore(0)
	if cap(s.slots) != 1 {
		t.Errorf("got %d slots, want 1", cap(s.slots))
	}
}
