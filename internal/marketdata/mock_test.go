package marketdata

import (
	"context"
	"testing"
	"time"

	"github.com/rollwatch/rollwatch/internal/models"
)

func fixedMock(ts time.Time) *MockProvider {
	m := NewMockProvider()
	m.now = func() time.Time { return ts }
	return m
}

func TestMockQuoteDeterministic(t *testing.T) {
	ts := time.Date(2026, 8, 10, 14, 0, 0, 0, time.UTC)
	m := fixedMock(ts)

	ctx := context.Background()
	a, err := m.GetQuote(ctx, "vale3")
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	b, err := m.GetQuote(ctx, "VALE3")
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}

	if a.Symbol != "VALE3" {
		t.Errorf("symbol = %q, want uppercased", a.Symbol)
	}
	pa, _ := a.Price()
	pb, _ := b.Price()
	if pa != pb {
		t.Errorf("same symbol, same clock: %v != %v", pa, pb)
	}
	if pa < 10 || pa >= 112 {
		t.Errorf("price %v outside anchor band", pa)
	}
	if *a.Bid >= *a.Ask {
		t.Error("bid must be below ask")
	}
	if a.Source != models.SourceFallback {
		t.Errorf("source = %q, want %q", a.Source, models.SourceFallback)
	}

	other, _ := m.GetQuote(ctx, "PETR4")
	po, _ := other.Price()
	if po == pa {
		t.Error("distinct symbols should anchor at distinct prices")
	}
}

func TestMockOptionChainBracketsSpot(t *testing.T) {
	ts := time.Date(2026, 8, 10, 14, 0, 0, 0, time.UTC)
	m := fixedMock(ts)
	exp := time.Date(2026, 9, 18, 0, 0, 0, 0, time.UTC)

	chain, err := m.GetOptionChain(context.Background(), "VALE3", exp)
	if err != nil {
		t.Fatalf("GetOptionChain: %v", err)
	}
	if len(chain) == 0 {
		t.Fatal("empty chain")
	}

	quote, _ := m.GetQuote(context.Background(), "VALE3")
	spot, _ := quote.Price()
	for _, oq := range chain {
		if oq.Strike < spot*0.85-1 || oq.Strike > spot*1.15+1 {
			t.Errorf("strike %v outside ±15%% of spot %v", oq.Strike, spot)
		}
		if !oq.Expiration.Equal(exp) {
			t.Errorf("expiration %v, want %v", oq.Expiration, exp)
		}
	}
}

func TestMockOptionQuotePriced(t *testing.T) {
	ts := time.Date(2026, 8, 10, 14, 0, 0, 0, time.UTC)
	m := fixedMock(ts)
	exp := ts.AddDate(0, 1, 0)

	quote, _ := m.GetQuote(context.Background(), "VALE3")
	spot, _ := quote.Price()

	// Near-ATM call should carry meaningful premium with bid < last < ask.
	oq, err := m.GetOptionQuote(context.Background(), "VALE3", spot, models.SideCall, exp)
	if err != nil {
		t.Fatalf("GetOptionQuote: %v", err)
	}
	if *oq.Last <= 0 {
		t.Errorf("ATM premium = %v, want > 0", *oq.Last)
	}
	if !(*oq.Bid < *oq.Last && *oq.Last < *oq.Ask) {
		t.Errorf("want bid < last < ask, got %v %v %v", *oq.Bid, *oq.Last, *oq.Ask)
	}

	g, err := m.GetGreeks(context.Background(), "VALE3", spot, models.SidePut, exp)
	if err != nil {
		t.Fatalf("GetGreeks: %v", err)
	}
	if g.Delta >= 0 {
		t.Errorf("put delta = %v, want negative", g.Delta)
	}
}
