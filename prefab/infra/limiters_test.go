package infra

import (
	"context"
	"testing"
	"time"

	"prefab-loader/prefab/domain"
)

func TestLimiterStore_GetSameKeyReturnsSameLimiter(t *testing.T) {
	s := NewLimiterStore(10, 1)

	l1 := s.Get(domain.Key("cdn.example"))
	l2 := s.Get(domain.Key("cdn.example"))
	if l1 != l2 {
		t.Fatalf("expected same limiter pointer for same key")
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", s.Len())
	}
}

func TestLimiterStore_LowBurstRejectsSecondImmediateAllow(t *testing.T) {
	s := NewLimiterStore(0.02, 1)

	lim := s.Get(domain.Key("k"))
	if !lim.Allow() {
		t.Fatalf("expected first Allow to be true")
	}
	if lim.Allow() {
		t.Fatalf("expected second immediate Allow to be false (burst=1)")
	}
}

func TestLimiterStore_WaitFailsWhenDeadlineTooShort(t *testing.T) {
	s := NewLimiterStore(0.02, 1)
	lim := s.Get(domain.Key("k"))
	if err := lim.Wait(context.Background()); err != nil {
		t.Fatalf("expected first Wait to pass, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := lim.Wait(ctx); err == nil {
		t.Fatalf("expected second Wait to fail before the next token")
	}
}

func TestLimiterStore_CleanupRemovesIdleEntries(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := NewLimiterStore(10, 1, WithIdleTTL(time.Minute), WithCleanupEvery(0), withClock(func() time.Time { return now }))

	before := s.Get(domain.Key("idle"))
	s.Get(domain.Key("busy"))

	now = now.Add(45 * time.Second)
	s.Get(domain.Key("busy"))
	now = now.Add(30 * time.Second)

	if n := s.Cleanup(); n != 1 {
		t.Fatalf("expected 1 idle bucket removed, got %d", n)
	}
	if s.Len() != 1 {
		t.Fatalf("expected busy bucket to survive, got %d entries", s.Len())
	}
	if after := s.Get(domain.Key("idle")); before == after {
		t.Fatalf("expected limiter to be recreated after cleanup")
	}
}

func TestLimiterStore_KeyRateOverridesDefault(t *testing.T) {
	opts, err := ParseKeyRates(" cdn.example=5:3 , slow.example=0.5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := NewLimiterStore(1, 1, opts...)

	if r := s.RateFor("cdn.example"); r.RPS != 5 || r.Burst != 3 {
		t.Fatalf("unexpected cdn rate %+v", r)
	}
	if r := s.RateFor("slow.example"); r.RPS != 0.5 || r.Burst != 1 {
		t.Fatalf("unexpected slow rate %+v", r)
	}
	if r := s.RateFor("other"); r.RPS != 1 || r.Burst != 1 {
		t.Fatalf("expected default rate, got %+v", r)
	}

	lim := s.Get("cdn.example")
	for i := 0; i < 3; i++ {
		if !lim.Allow() {
			t.Fatalf("expected burst of 3, failed at %d", i)
		}
	}
}

func TestParseKeyRates_Errors(t *testing.T) {
	for _, in := range []string{"nohost", "=1", "h=abc", "h=0", "h=1:x", "h=1:0"} {
		if _, err := ParseKeyRates(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestLimiterStore_DelayDoesNotConsume(t *testing.T) {
	s := NewLimiterStore(0.5, 1)

	if d := s.Delay("k"); d != 0 {
		t.Fatalf("expected no delay with a full bucket, got %s", d)
	}
	lim := s.Get("k")
	if !lim.Allow() {
		t.Fatalf("expected Delay to leave the token in place")
	}
	if d := s.Delay("k"); d <= time.Second || d > 2*time.Second {
		t.Fatalf("expected ~2s until next token, got %s", d)
	}
}

func TestSlotPool_LimitsConcurrentHolders(t *testing.T) {
	p := NewSlotPool(1)

	release, ok := p.Acquire(context.Background())
	if !ok {
		t.Fatalf("expected first acquire to succeed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, ok := p.Acquire(ctx); ok {
		t.Fatalf("expected second acquire to time out")
	}

	release()
	release2, ok := p.Acquire(context.Background())
	if !ok {
		t.Fatalf("expected acquire after release to succeed")
	}
	release2()

	if NewSlotPool(0) != nil {
		t.Fatalf("expected unlimited pool to be nil")
	}
}
