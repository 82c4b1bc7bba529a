package bybit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"quotewire/internal/domain"
	"quotewire/internal/infrastructure/exchange"
)

const Name = "bybit"

// Adapter speaks the Bybit v5 tickers stream.
type Adapter struct{}

func New() *Adapter { return &Adapter{} }

func (a *Adapter) Name() string { return Name }

type subscribeReq struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

func (a *Adapter) SubscribeMessage(symbols []string) ([]byte, error) {
	args := make([]string, 0, len(symbols))
	for _, s := range symbols {
		native := exchange.ConcatFromPair(s)
		if native == "" {
			continue
		}
		args = append(args, "tickers."+native)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("bybit: no valid symbols to subscribe")
	}
	return json.Marshal(subscribeReq{Op: "subscribe", Args: args})
}

type tickerItem struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
	Volume24h string `json:"volume24h"`
}

// tickerData accepts both the array and single-object forms Bybit emits.
type tickerData []tickerItem

func (d *tickerData) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*d = nil
		return nil
	}
	switch b[0] {
	case '[':
		var arr []tickerItem
		if err := json.Unmarshal(b, &arr); err != nil {
			return err
		}
		*d = arr
		return nil
	case '{':
		var one tickerItem
		if err := json.Unmarshal(b, &one); err != nil {
			return err
		}
		*d = tickerData{one}
		return nil
	default:
		return fmt.Errorf("unexpected bybit data json: %s", string(b))
	}
}

type tickerMsg struct {
	Topic   string     `json:"topic"`
	Type    string     `json:"type"`
	Ts      int64      `json:"ts"`
	Data    tickerData `json:"data"`
	Success *bool      `json:"success,omitempty"`
	RetMsg  string     `json:"ret_msg,omitempty"`
}

// ParseMessage yields the first priced ticker in the frame; operation acks
// and empty deltas yield nil.
func (a *Adapter) ParseMessage(raw []byte) (*domain.PriceUpdate, error) {
	var msg tickerMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("bybit: unmarshal: %w", err)
	}
	if msg.Success != nil {
		if !*msg.Success {
			return nil, fmt.Errorf("bybit: op rejected: %s", msg.RetMsg)
		}
		return nil, nil
	}

	for _, item := range msg.Data {
		if item.Symbol == "" || item.LastPrice == "" {
			continue
		}
		price, err := strconv.ParseFloat(item.LastPrice, 64)
		if err != nil {
			return nil, fmt.Errorf("bybit: price %q: %w", item.LastPrice, err)
		}
		u := &domain.PriceUpdate{
			Symbol: a.NormalizeSymbol(item.Symbol),
			Price:  price,
			Source: Name,
		}
		if v, err := strconv.ParseFloat(item.Volume24h, 64); err == nil && item.Volume24h != "" {
			u.Volume = &v
		}
		if msg.Ts > 0 {
			u.Timestamp = time.UnixMilli(msg.Ts).UTC()
		} else {
			u.Timestamp = time.Now().UTC()
		}
		return u, nil
	}
	return nil, nil
}

func (a *Adapter) NormalizeSymbol(raw string) string {
	return exchange.PairFromConcat(raw)
}

var _ exchange.Adapter = (*Adapter)(nil)
