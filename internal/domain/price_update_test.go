package domain

import (
	"testing"
	"time"
)

func TestValidateAcceptsWellFormedUpdate(t *testing.T) {
	now := time.Now().UTC()
	u := PriceUpdate{
		Symbol:    "BTC/USD",
		Price:     45000,
		Timestamp: now,
		Source:    "binance",
	}
	if err := u.Validate(now, 5*time.Minute); err != nil {
		t.Fatalf("expected valid update, got %v", err)
	}
}

func TestValidateRejectsBadRecords(t *testing.T) {
	now := time.Now().UTC()
	neg := -1.0

	cases := []struct {
		name string
		u    PriceUpdate
	}{
		{"bad symbol", PriceUpdate{Symbol: "BTCUSD", Price: 1, Timestamp: now}},
		{"lowercase symbol", PriceUpdate{Symbol: "btc/usd", Price: 1, Timestamp: now}},
		{"zero price", PriceUpdate{Symbol: "BTC/USD", Price: 0, Timestamp: now}},
		{"negative price", PriceUpdate{Symbol: "BTC/USD", Price: -5, Timestamp: now}},
		{"negative volume", PriceUpdate{Symbol: "BTC/USD", Price: 1, Volume: &neg, Timestamp: now}},
		{"far future", PriceUpdate{Symbol: "BTC/USD", Price: 1, Timestamp: now.Add(time.Hour)}},
		{"far past", PriceUpdate{Symbol: "BTC/USD", Price: 1, Timestamp: now.Add(-time.Hour)}},
		{"zero timestamp", PriceUpdate{Symbol: "BTC/USD", Price: 1}},
	}
	for _, tc := range cases {
		if err := tc.u.Validate(now, 5*time.Minute); err == nil {
			t.Errorf("%s: expected error, got nil", tc.name)
		}
	}
}

func TestTopicRoundTrip(t *testing.T) {
	topic := Topic("BTC/USD")
	if topic != "price_updates:BTC/USD" {
		t.Fatalf("unexpected topic: %s", topic)
	}
	symbol, ok := SymbolFromTopic(topic)
	if !ok || symbol != "BTC/USD" {
		t.Fatalf("expected BTC/USD, got %q ok=%v", symbol, ok)
	}
	if _, ok := SymbolFromTopic("other:BTC/USD"); ok {
		t.Error("foreign topic should not parse")
	}
}
