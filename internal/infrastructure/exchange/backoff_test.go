package exchange

import (
	"testing"
	"time"
)

func TestBackoffDelayDoublesAndCaps(t *testing.T) {
	base := time.Second
	max := 10 * time.Second

	want := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		10 * time.Second, 10 * time.Second,
	}
	for i, expected := range want {
		if got := backoffDelay(i+1, base, max); got != expected {
			t.Errorf("attempt %d: expected %v, got %v", i+1, expected, got)
		}
	}
}

func TestBackoffDelayHugeAttemptStaysAtMax(t *testing.T) {
	if got := backoffDelay(1000, time.Second, 30*time.Second); got != 30*time.Second {
		t.Fatalf("expected cap, got %v", got)
	}
}

func TestPairFromConcat(t *testing.T) {
	cases := map[string]string{
		"BTCUSDT":  "BTC/USDT",
		"ethusdt":  "ETH/USDT",
		"SOLUSD":   "SOL/USD",
		"BTC/USDT": "BTC/USDT",
		"WEIRD":    "WEIRD",
	}
	for in, want := range cases {
		if got := PairFromConcat(in); got != want {
			t.Errorf("PairFromConcat(%q): expected %q, got %q", in, want, got)
		}
	}
	if got := ConcatFromPair("BTC/USDT"); got != "BTCUSDT" {
		t.Errorf("ConcatFromPair: got %q", got)
	}
}
