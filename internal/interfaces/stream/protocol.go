package stream

import (
	"encoding/json"
	"time"
)

const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// Request is the client->server subscription control message.
type Request struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// envelope is every server->client message.
type envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
	Message   string          `json:"message,omitempty"`
	Symbols   []string        `json:"symbols,omitempty"`
}

func priceUpdateMsg(payload []byte) []byte {
	b, _ := json.Marshal(envelope{Type: "price_update", Data: payload})
	return b
}

func heartbeatMsg(now time.Time) []byte {
	b, _ := json.Marshal(envelope{Type: "heartbeat", Timestamp: &now})
	return b
}

func ackMsg(action string, symbols []string) []byte {
	b, _ := json.Marshal(envelope{Type: "ack", Message: action, Symbols: symbols})
	return b
}

func errorMsg(msg string) []byte {
	b, _ := json.Marshal(envelope{Type: "error", Message: msg})
	return b
}
