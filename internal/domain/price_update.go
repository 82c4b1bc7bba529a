package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// symbolRe matches the canonical BASE/QUOTE pair shape, e.g. "BTC/USD".
var symbolRe = regexp.MustCompile(`^[A-Z0-9]{2,10}/[A-Z0-9]{2,10}$`)

var (
	ErrBadSymbol    = errors.New("symbol does not match BASE/QUOTE")
	ErrBadPrice     = errors.New("price must be positive")
	ErrBadTimestamp = errors.New("timestamp outside accepted window")
)

// PriceUpdate is the canonical update shape produced by a connector for every
// parsed upstream message. Immutable after creation.
type PriceUpdate struct {
	Symbol     string         `json:"symbol"`
	Price      float64        `json:"price"`
	Volume     *float64       `json:"volume,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Source     string         `json:"source"`
	ProducerID string         `json:"producer_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ValidSymbol reports whether s has the BASE/QUOTE shape.
func ValidSymbol(s string) bool {
	return symbolRe.MatchString(s)
}

// NormalizePair upper-cases and trims a BASE/QUOTE pair.
func NormalizePair(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Validate checks the update against the canonical invariants. maxSkew bounds
// how far the timestamp may drift from now in either direction; zero disables
// the timestamp check.
func (u PriceUpdate) Validate(now time.Time, maxSkew time.Duration) error {
	if !ValidSymbol(u.Symbol) {
		return fmt.Errorf("%w: %q", ErrBadSymbol, u.Symbol)
	}
	if u.Price <= 0 {
		return fmt.Errorf("%w: %v", ErrBadPrice, u.Price)
	}
	if u.Volume != nil && *u.Volume < 0 {
		return fmt.Errorf("volume must be >= 0, got %v", *u.Volume)
	}
	if u.Timestamp.IsZero() {
		return fmt.Errorf("%w: zero timestamp", ErrBadTimestamp)
	}
	if maxSkew > 0 {
		if u.Timestamp.After(now.Add(maxSkew)) || u.Timestamp.Before(now.Add(-maxSkew)) {
			return fmt.Errorf("%w: %s", ErrBadTimestamp, u.Timestamp.Format(time.RFC3339))
		}
	}
	return nil
}

// Topic returns the fan-out bus topic carrying updates for symbol.
func Topic(symbol string) string {
	return "price_updates:" + symbol
}

// SymbolFromTopic is the inverse of Topic; ok is false for foreign topics.
func SymbolFromTopic(topic string) (string, bool) {
	const prefix = "price_updates:"
	if !strings.HasPrefix(topic, prefix) {
		return "", false
	}
	return topic[len(prefix):], true
}
