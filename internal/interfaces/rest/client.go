package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"quotewire/internal/application/port"
	"quotewire/internal/domain"
)

// Client posts batches to a remote ingestion gateway; it is the HTTP-side
// Flusher for accumulators running outside the gateway process.
type Client struct {
	baseURL string
	key     string
	http    *http.Client
}

func NewClient(baseURL, key string) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		key:     key,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Flush(ctx context.Context, b domain.Batch) (domain.IngestionResult, error) {
	req := ingestRequest{
		ProducerID: b.ProducerID,
		Feeds:      make([]feedRecord, 0, len(b.Updates)),
	}
	for _, u := range b.Updates {
		req.Feeds = append(req.Feeds, feedRecord{
			Symbol:    u.Symbol,
			Price:     u.Price,
			Volume:    u.Volume,
			Timestamp: u.Timestamp,
			Source:    u.Source,
			Metadata:  u.Metadata,
		})
	}
	body, err := json.Marshal(req)
	if err != nil {
		return domain.IngestionResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/internal/ingest", bytes.NewReader(body))
	if err != nil {
		return domain.IngestionResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.key)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return domain.IngestionResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		var er errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&er)
		return domain.IngestionResult{}, fmt.Errorf("ingest rejected: status %d: %s", resp.StatusCode, er.Error)
	}

	var result domain.IngestionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return domain.IngestionResult{}, err
	}
	return result, nil
}

var _ port.Flusher = (*Client)(nil)
