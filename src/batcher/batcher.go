// Package batcher buffers accepted telemetry in memory and writes it to the
// store in batches, flushing on size or on a timer. A persistently failing
// store is survived by retrying whole batches a bounded number of times and
// then dropping them, so broker responsiveness is never held hostage by the
// database.
package batcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sandrolain/tenant-broker/src/store"
)

// Writer is the persistence surface the batcher needs. Satisfied by
// store.TelemetryStore.
type Writer interface {
	InsertBatch(ctx context.Context, records []store.TelemetryRecord) error
}

// ErrStopped is returned by Submit after Stop.
var ErrStopped = errors.New("batcher stopped")

// ErrInvalidTenant is returned by Submit for records without a positive
// tenant id.
var ErrInvalidTenant = errors.New("invalid tenant id")

// Defaults for Options zero values.
const (
	DefaultMaxBufferSize = 100
	DefaultFlushInterval = 2000 * time.Millisecond
	DefaultMaxRetries    = 3
)

// Options configures a Batcher. Zero values take the defaults above.
type Options struct {
	// MaxBufferSize is the buffer length that triggers a synchronous flush
	// on Submit.
	MaxBufferSize int

	// FlushInterval is the period of the background flush timer.
	FlushInterval time.Duration

	// MaxRetries is the number of insert attempts for a batch before it is
	// dropped.
	MaxRetries int
}

// Batcher aggregates telemetry records and persists them in batches. It is
// safe for concurrent submitters; one mutex guards the buffer, the
// single-flight flag, the retry counter and the running flag.
type Batcher struct {
	writer Writer
	log    *slog.Logger

	maxBufferSize int
	flushInterval time.Duration
	maxRetries    int

	mu       sync.Mutex
	cond     *sync.Cond
	buf      []store.TelemetryRecord
	inFlight bool
	retries  int
	running  bool

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a Batcher and starts its periodic flush timer.
func New(writer Writer, opts Options) *Batcher {
	if opts.MaxBufferSize <= 0 {
		opts.MaxBufferSize = DefaultMaxBufferSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}

	b := &Batcher{
		writer:        writer,
		log:           slog.Default().With("context", "Batcher"),
		maxBufferSize: opts.MaxBufferSize,
		flushInterval: opts.FlushInterval,
		maxRetries:    opts.MaxRetries,
		running:       true,
		done:          make(chan struct{}),
	}
	b.cond = sync.NewCond(&b.mu)

	b.wg.Add(1)
	go b.schedule()

	return b
}

func (b *Batcher) schedule() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := b.Flush(context.Background()); err != nil {
				b.log.Warn("scheduled flush failed", "error", err)
			}
		case <-b.done:
			return
		}
	}
}

// Submit appends a record to the buffer. When the buffer reaches
// MaxBufferSize and no flush is in progress, the flush runs synchronously
// with respect to the caller. Store failures are handled inside Flush and
// never propagate to submitters.
func (b *Batcher) Submit(ctx context.Context, rec store.TelemetryRecord) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return ErrStopped
	}
	if rec.TenantID <= 0 {
		b.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrInvalidTenant, rec.TenantID)
	}

	b.buf = append(b.buf, rec)
	trigger := len(b.buf) >= b.maxBufferSize && !b.inFlight
	b.mu.Unlock()

	if trigger {
		if err := b.Flush(ctx); err != nil {
			b.log.Warn("size-triggered flush failed", "error", err)
		}
	}
	return nil
}

// Flush persists the buffered records. It is idempotent and single-flight:
// a concurrent call while a batch is in flight returns immediately, and the
// buffer swap lets submitters keep appending during the store write.
//
// On failure the batch is prepended back in front of records that arrived
// during the attempt, so order within the batch is preserved but later
// arrivals end up persisted after the retried batch. After MaxRetries
// consecutive failures the batch is dropped and logged; this bounds memory
// growth under a persistently failing store.
func (b *Batcher) Flush(ctx context.Context) error {
	b.mu.Lock()
	if b.inFlight || len(b.buf) == 0 {
		b.mu.Unlock()
		return nil
	}
	b.inFlight = true
	batch := b.buf
	b.buf = nil
	b.mu.Unlock()

	err := b.writer.InsertBatch(ctx, batch)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.inFlight = false
	b.cond.Broadcast()

	if err == nil {
		b.retries = 0
		b.log.Debug("telemetry batch persisted", "count", len(batch))
		return nil
	}

	b.retries++
	if b.retries < b.maxRetries {
		b.buf = append(batch, b.buf...)
		b.log.Warn("telemetry batch insert failed, will retry",
			"count", len(batch), "attempt", b.retries, "error", err)
		return fmt.Errorf("telemetry batch insert failed: %w", err)
	}

	b.log.Error("dropping telemetry batch after repeated insert failures",
		"dropped", len(batch), "attempts", b.retries, "error", err)
	b.retries = 0
	return fmt.Errorf("telemetry batch dropped after %d attempts: %w", b.maxRetries, err)
}

// Len returns the current buffer length.
func (b *Batcher) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// Stop cancels the periodic timer, waits for any flush still in flight and
// drains the buffer with one final flush. Submissions after Stop fail with
// ErrStopped. If the final flush fails the usual retry/drop accounting
// applies; Stop does not wait for a later retry.
func (b *Batcher) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	b.mu.Unlock()

	close(b.done)
	b.wg.Wait()

	// A size-triggered flush from a submitter may still be running. Its
	// outcome, including a failed batch prepended back to the buffer, must
	// land before the final drain or those records leave with no flush left
	// to pick them up.
	b.mu.Lock()
	for b.inFlight {
		b.cond.Wait()
	}
	b.mu.Unlock()

	return b.Flush(ctx)
}
