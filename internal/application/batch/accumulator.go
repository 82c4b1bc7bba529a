package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"quotewire/internal/application/port"
	"quotewire/internal/domain"
)

// FlushError reports a batch dropped after exhausting flush retries. The
// drop is an explicit result, not just a log line, so operators can build
// alerting and dead-letter handling on top of it.
type FlushError struct {
	ProducerID string
	Dropped    int
	Err        error
}

func (e *FlushError) Error() string {
	return fmt.Sprintf("flush failed for producer %s, dropped %d updates: %v", e.ProducerID, e.Dropped, e.Err)
}

func (e *FlushError) Unwrap() error { return e.Err }

// Options tunes one accumulator instance.
type Options struct {
	MaxSize       int
	FlushInterval time.Duration
	MaxRetries    int
	BackoffBase   time.Duration
	BackoffMax    time.Duration

	// OnError receives the FlushError for every dropped batch.
	OnError func(error)
}

func (o *Options) applyDefaults() {
	if o.MaxSize <= 0 {
		o.MaxSize = 100
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 10 * time.Second
	}
}

// Accumulator buffers canonical updates for one producer and flushes them on
// a size-or-time trigger. The pending list and timer handle are private to
// the instance; Add and Flush are safe to call concurrently.
type Accumulator struct {
	producerID string
	flusher    port.Flusher
	opts       Options

	mu        sync.Mutex
	pending   []domain.PriceUpdate
	createdAt time.Time
	timer     *time.Timer
}

// NewAccumulator builds an accumulator flushing through flusher under
// producerID.
func NewAccumulator(producerID string, flusher port.Flusher, opts Options) *Accumulator {
	opts.applyDefaults()
	return &Accumulator{
		producerID: producerID,
		flusher:    flusher,
		opts:       opts,
	}
}

// Add appends one update, preserving arrival order. The first add after an
// empty state arms the flush timer; reaching MaxSize forces an immediate
// flush.
func (a *Accumulator) Add(ctx context.Context, u domain.PriceUpdate) {
	a.mu.Lock()
	if len(a.pending) == 0 {
		a.createdAt = time.Now().UTC()
		a.armTimerLocked()
	}
	a.pending = append(a.pending, u)
	full := len(a.pending) >= a.opts.MaxSize
	var b domain.Batch
	if full {
		b = a.takeLocked()
	}
	a.mu.Unlock()

	if full {
		a.deliver(ctx, b)
	}
}

// Flush sends whatever is pending. A flush on an empty accumulator is a
// no-op with no network call.
func (a *Accumulator) Flush(ctx context.Context) error {
	a.mu.Lock()
	if len(a.pending) == 0 {
		a.mu.Unlock()
		return nil
	}
	b := a.takeLocked()
	a.mu.Unlock()
	return a.deliver(ctx, b)
}

// Len reports the number of buffered updates.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// takeLocked removes and returns the pending batch; caller holds the lock.
func (a *Accumulator) takeLocked() domain.Batch {
	b := domain.Batch{
		Updates:    a.pending,
		CreatedAt:  a.createdAt,
		ProducerID: a.producerID,
	}
	a.pending = nil
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	return b
}

// armTimerLocked schedules the timed flush on its own context: the producer
// context that triggered the first Add may be cancelled by the time the timer
// fires, and a cancelled context would abort the retry backoff and drop a
// batch the final shutdown flush could still deliver.
func (a *Accumulator) armTimerLocked() {
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.opts.FlushInterval, func() {
		if err := a.Flush(context.Background()); err != nil {
			log.Error().Str("producer", a.producerID).Err(err).Msg("timed flush failed")
		}
	})
}

// deliver pushes one batch downstream, retrying with capped exponential
// backoff. After MaxRetries the batch is dropped and the loss surfaced as a
// FlushError.
func (a *Accumulator) deliver(ctx context.Context, b domain.Batch) error {
	var lastErr error
	for attempt := 1; attempt <= a.opts.MaxRetries; attempt++ {
		res, err := a.flusher.Flush(ctx, b)
		if err == nil {
			log.Debug().Str("producer", b.ProducerID).
				Int("ingested", res.Ingested).
				Int("failed", res.Failed).
				Msg("batch flushed")
			return nil
		}
		lastErr = err

		if attempt == a.opts.MaxRetries {
			break
		}
		delay := backoffDelay(attempt, a.opts.BackoffBase, a.opts.BackoffMax)
		log.Warn().Str("producer", b.ProducerID).Err(err).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("batch flush failed, retrying")

		if !sleepCtx(ctx, delay) {
			lastErr = ctx.Err()
			break
		}
	}

	ferr := &FlushError{ProducerID: b.ProducerID, Dropped: len(b.Updates), Err: lastErr}
	log.Error().Str("producer", b.ProducerID).
		Int("dropped_updates", ferr.Dropped).
		Err(lastErr).
		Msg("batch dropped after exhausting retries")
	if a.opts.OnError != nil {
		a.opts.OnError(ferr)
	}
	return ferr
}

// sleepCtx waits d or until ctx is cancelled; it reports whether the full
// delay elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// backoffDelay returns min(base * 2^(attempt-1), max) for attempt >= 1.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 32 {
		attempt = 32
	}
	d := base << uint(attempt-1)
	if d <= 0 || d > max {
		return max
	}
	return d
}
