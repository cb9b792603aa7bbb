package models

import (
	"testing"
	"time"
)

func TestPositionDTE(t *testing.T) {
	now := time.Date(2026, 8, 10, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		name       string
		expiration time.Time
		want       int
	}{
		{"same day", time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC), 0},
		{"tomorrow", time.Date(2026, 8, 11, 0, 0, 0, 0, time.UTC), 1},
		{"ten days out", time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC), 10},
		{"past clamps to zero", time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Position{Expiration: tt.expiration}
			if got := p.DTE(now); got != tt.want {
				t.Errorf("DTE() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPositionIsPastDue(t *testing.T) {
	now := time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC)

	p := Position{Expiration: time.Date(2026, 8, 9, 0, 0, 0, 0, time.UTC)}
	if !p.IsPastDue(now) {
		t.Error("yesterday's expiration should be past due")
	}

	p.Expiration = time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
	if p.IsPastDue(now) {
		t.Error("expiration today is not past due yet")
	}
}

func TestOptionKeyFormat(t *testing.T) {
	exp := time.Date(2026, 9, 18, 0, 0, 0, 0, time.UTC)
	got := OptionKey("vale3", 63.5, SideCall, exp)
	want := "VALE3_63.50_CALL_2026-09-18"
	if got != want {
		t.Errorf("OptionKey() = %q, want %q", got, want)
	}
}

func TestQuotePriceFallbackOrder(t *testing.T) {
	f := func(v float64) *float64 { return &v }

	q := Quote{Last: f(10), Bid: f(9), Ask: f(11)}
	if v, ok := q.Price(); !ok || v != 10 {
		t.Errorf("last should win: got %v %v", v, ok)
	}

	q = Quote{Bid: f(9), Ask: f(11)}
	if v, ok := q.Price(); !ok || v != 10 {
		t.Errorf("mid fallback: got %v %v", v, ok)
	}

	q = Quote{Bid: f(9)}
	if v, ok := q.Price(); !ok || v != 9 {
		t.Errorf("bid-only fallback: got %v %v", v, ok)
	}

	q = Quote{}
	if _, ok := q.Price(); ok {
		t.Error("empty quote should have no price")
	}
}

func TestOptionQuoteMidAndSpread(t *testing.T) {
	f := func(v float64) *float64 { return &v }

	oq := OptionQuote{Bid: f(1.0), Ask: f(1.2)}
	mid, ok := oq.Mid()
	if !ok || mid < 1.099 || mid > 1.101 {
		t.Errorf("Mid() = %v %v", mid, ok)
	}
	spread := oq.Spread()
	want := 0.2 / 1.1
	if spread < want-1e-9 || spread > want+1e-9 {
		t.Errorf("Spread() = %v, want %v", spread, want)
	}

	oq = OptionQuote{Last: f(0.9)}
	if mid, ok := oq.Mid(); !ok || mid != 0.9 {
		t.Errorf("Mid() last fallback = %v %v", mid, ok)
	}
	if oq.Spread() != 0 {
		t.Error("Spread() without bid/ask should be 0")
	}
}

func TestCommandStatusTerminal(t *testing.T) {
	terminal := []CommandStatus{CommandFilled, CommandRejected, CommandCancelled}
	open := []CommandStatus{CommandPending, CommandDispatched, CommandPartial, CommandUnknown}

	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range open {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
