package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"quotewire/internal/application/ingest"
	"quotewire/internal/application/port"
	"quotewire/internal/domain"
)

type feedRecord struct {
	Symbol    string         `json:"symbol"`
	Price     float64        `json:"price"`
	Volume    *float64       `json:"volume,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type ingestRequest struct {
	ProducerID string       `json:"producer_id,omitempty"`
	Feeds      []feedRecord `json:"feeds"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler is the authenticated HTTP boundary of the ingestion pipeline.
type Handler struct {
	svc     *ingest.Service
	keys    *Keyring
	limiter port.RateLimiter
}

func NewHandler(svc *ingest.Service, keys *Keyring, limiter port.RateLimiter) *Handler {
	return &Handler{svc: svc, keys: keys, limiter: limiter}
}

// Routes registers every endpoint on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /internal/ingest", h.handleIngest)
	mux.HandleFunc("GET /prices/latest", h.handleLatest)
	mux.HandleFunc("GET /prices/history", h.handleHistory)
	mux.HandleFunc("GET /health", h.handleHealth)
}

// handleIngest enforces auth, key class, and the rate limit, in that order,
// before any validation or side effect runs.
func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	key, class, err := h.keys.Authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if class != KeyClassInternal {
		writeError(w, http.StatusForbidden, "internal key class required")
		return
	}

	allowed, err := h.limiter.Allow(r.Context(), key)
	if err != nil {
		log.Warn().Err(err).Msg("rate limiter unavailable, letting request through")
	} else if !allowed {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload: "+err.Error())
		return
	}

	b := domain.Batch{
		CreatedAt:  time.Now().UTC(),
		ProducerID: req.ProducerID,
		Updates:    make([]domain.PriceUpdate, 0, len(req.Feeds)),
	}
	for _, f := range req.Feeds {
		b.Updates = append(b.Updates, domain.PriceUpdate{
			Symbol:    f.Symbol,
			Price:     f.Price,
			Volume:    f.Volume,
			Timestamp: f.Timestamp,
			Source:    f.Source,
			Metadata:  f.Metadata,
		})
	}

	result, err := h.svc.Ingest(r.Context(), b)
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrBatchTooLarge), errors.Is(err, ingest.ErrEmptyBatch):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			log.Error().Err(err).Msg("ingest failed")
			writeError(w, http.StatusInternalServerError, "ingest failed")
		}
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) handleLatest(w http.ResponseWriter, r *http.Request) {
	if !h.authorizeRead(w, r) {
		return
	}
	symbol := r.URL.Query().Get("symbol")
	if !domain.ValidSymbol(domain.NormalizePair(symbol)) {
		writeError(w, http.StatusBadRequest, "symbol must be BASE/QUOTE")
		return
	}

	price, err := h.svc.Latest(r.Context(), symbol)
	if err != nil {
		if errors.Is(err, port.ErrCacheMiss) {
			writeError(w, http.StatusNotFound, "no price for symbol")
			return
		}
		log.Error().Err(err).Str("symbol", symbol).Msg("latest lookup failed")
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, price)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !h.authorizeRead(w, r) {
		return
	}
	q := r.URL.Query()
	symbol := q.Get("symbol")
	if !domain.ValidSymbol(domain.NormalizePair(symbol)) {
		writeError(w, http.StatusBadRequest, "symbol must be BASE/QUOTE")
		return
	}

	to := time.Now().UTC()
	from := to.Add(-time.Hour)
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "from must be RFC3339")
			return
		}
		from = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "to must be RFC3339")
			return
		}
		to = t
	}

	rows, err := h.svc.History(r.Context(), symbol, from, to)
	if err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("history query failed")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbol": domain.NormalizePair(symbol), "updates": rows})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// authorizeRead admits both key classes; reads are not producer-only.
func (h *Handler) authorizeRead(w http.ResponseWriter, r *http.Request) bool {
	_, class, err := h.keys.Authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return false
	}
	if class == KeyClassNone {
		writeError(w, http.StatusForbidden, "key has no read access")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
