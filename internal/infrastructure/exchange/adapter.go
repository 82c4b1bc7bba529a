package exchange

import "quotewire/internal/domain"

// Adapter is the per-exchange capability set: a subscribe payload for the
// open connection, message parsing into the canonical update shape, and
// symbol normalization into BASE/QUOTE.
type Adapter interface {
	Name() string

	// SubscribeMessage returns the frame sent right after the socket opens.
	// A nil payload means the exchange needs no explicit subscription.
	SubscribeMessage(symbols []string) ([]byte, error)

	// ParseMessage parses one inbound frame. A nil update with a nil error
	// means the frame is valid but carries no price (acks, pongs, status).
	ParseMessage(raw []byte) (*domain.PriceUpdate, error)

	// NormalizeSymbol converts the exchange's native pair notation into the
	// canonical BASE/QUOTE form, e.g. "BTCUSDT" -> "BTC/USDT".
	NormalizeSymbol(raw string) string
}
