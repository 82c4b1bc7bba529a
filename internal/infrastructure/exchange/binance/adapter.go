package binance

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"quotewire/internal/domain"
	"quotewire/internal/infrastructure/exchange"
)

const Name = "binance"

// Adapter speaks the Binance miniTicker stream.
type Adapter struct{}

func New() *Adapter { return &Adapter{} }

func (a *Adapter) Name() string { return Name }

type subscribeReq struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

// SubscribeMessage builds a SUBSCRIBE frame for the miniTicker stream of
// every symbol.
func (a *Adapter) SubscribeMessage(symbols []string) ([]byte, error) {
	params := make([]string, 0, len(symbols))
	for _, s := range symbols {
		native := strings.ToLower(exchange.ConcatFromPair(s))
		if native == "" {
			continue
		}
		params = append(params, native+"@miniTicker")
	}
	if len(params) == 0 {
		return nil, fmt.Errorf("binance: no valid symbols to subscribe")
	}
	return json.Marshal(subscribeReq{Method: "SUBSCRIBE", Params: params, ID: 1})
}

type miniTicker struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Close     string `json:"c"`
	Volume    string `json:"v"`
}

type combined struct {
	Stream string     `json:"stream"`
	Data   miniTicker `json:"data"`
	// present on subscription acks
	ID     *int            `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// ParseMessage handles both the combined-stream wrapper and the bare
// miniTicker event. Acks yield a nil update.
func (a *Adapter) ParseMessage(raw []byte) (*domain.PriceUpdate, error) {
	var msg combined
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("binance: unmarshal: %w", err)
	}
	if msg.ID != nil {
		return nil, nil
	}

	tick := msg.Data
	if msg.Stream == "" && tick.Symbol == "" {
		// bare event form
		if err := json.Unmarshal(raw, &tick); err != nil {
			return nil, fmt.Errorf("binance: unmarshal event: %w", err)
		}
	}
	if tick.Symbol == "" || tick.Close == "" {
		return nil, nil
	}

	price, err := strconv.ParseFloat(tick.Close, 64)
	if err != nil {
		return nil, fmt.Errorf("binance: price %q: %w", tick.Close, err)
	}

	u := &domain.PriceUpdate{
		Symbol: a.NormalizeSymbol(tick.Symbol),
		Price:  price,
		Source: Name,
	}
	if v, err := strconv.ParseFloat(tick.Volume, 64); err == nil && tick.Volume != "" {
		u.Volume = &v
	}
	if tick.EventTime > 0 {
		u.Timestamp = time.UnixMilli(tick.EventTime).UTC()
	} else {
		u.Timestamp = time.Now().UTC()
	}
	return u, nil
}

func (a *Adapter) NormalizeSymbol(raw string) string {
	return exchange.PairFromConcat(raw)
}

var _ exchange.Adapter = (*Adapter)(nil)
