// Package telemetry queues impressions and engagement signals and delivers
// them at-least-once. The remote sink deduplicates.
package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/vroomapp/vroom/services/feed-engine/internal/domain"
	"github.com/vroomapp/vroom/services/feed-engine/internal/metrics"
)

// ErrPermanent marks a sink failure that retrying cannot fix (e.g. schema
// rejection). Events failing permanently are dropped immediately.
var ErrPermanent = errors.New("permanent telemetry failure")

// Sink delivers batches to the remote collector.
type Sink interface {
	SendImpressions(ctx context.Context, imps []domain.Impression) error
	SendEngagements(ctx context.Context, sigs []domain.EngagementSignal) error
}

type eventKind int

const (
	kindImpression eventKind = iota
	kindEngagement
)

type event struct {
	kind       eventKind
	impression domain.Impression
	engagement domain.EngagementSignal
	attempts   int
}

type Options struct {
	FlushInterval time.Duration // default 2s
	SoftCap       int           // immediate flush threshold, default 32
	MaxAttempts   int           // drop after this many failed flushes, default 5
	MaxBackoff    time.Duration // cap for the retry delay, default 30s
}

func (o *Options) defaults() {
	if o.FlushInterval <= 0 {
		o.FlushInterval = 2 * time.Second
	}
	if o.SoftCap <= 0 {
		o.SoftCap = 32
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
}

// Batcher owns the pending event queue. Events move Queued -> InFlight ->
// Acked | Failed; failed events requeue at the head with a bumped attempt
// counter until MaxAttempts, then are dropped and logged.
type Batcher struct {
	mu    sync.Mutex
	queue []event
	sink  Sink
	opts  Options

	failStreak int

	wake   chan struct{}
	done   chan struct{}
	closed bool
}

func NewBatcher(sink Sink, opts Options) *Batcher {
	opts.defaults()
	return &Batcher{
		sink: sink,
		opts: opts,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Start runs the time-based flush loop until ctx is cancelled or Close is
// called.
func (b *Batcher) Start(ctx context.Context) {
	go b.loop(ctx)
}

func (b *Batcher) loop(ctx context.Context) {
	ticker := time.NewTicker(b.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case <-ticker.C:
		case <-b.wake:
		}

		if b.pending() == 0 {
			continue
		}
		if err := b.flushOnce(ctx); err != nil {
			metrics.TelemetryFlushFailures.Inc()
			delay := b.backoffDelay()
			zlog.Warn().Err(err).Dur("retry_in", delay).Msg("telemetry flush failed")
			select {
			case <-ctx.Done():
				return
			case <-b.done:
				return
			case <-time.After(delay):
			}
			b.signal()
		}
	}
}

func (b *Batcher) RecordImpression(imp domain.Impression) {
	b.enqueue(event{kind: kindImpression, impression: imp})
}

func (b *Batcher) RecordEngagement(sig domain.EngagementSignal) {
	b.enqueue(event{kind: kindEngagement, engagement: sig})
}

func (b *Batcher) enqueue(e event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	hardCap := b.opts.SoftCap * 4
	if len(b.queue) >= hardCap {
		b.evictLocked()
	}
	b.queue = append(b.queue, e)
	over := len(b.queue) >= b.opts.SoftCap
	b.mu.Unlock()

	if over {
		b.signal()
	}
}

// evictLocked drops the oldest engagement signal, falling back to the
// oldest impression, so viewability analytics survive backpressure longest.
func (b *Batcher) evictLocked() {
	for i, e := range b.queue {
		if e.kind == kindEngagement {
			b.queue = append(b.queue[:i], b.queue[i+1:]...)
			metrics.TelemetryDropped.WithLabelValues("engagement", "overflow").Inc()
			return
		}
	}
	if len(b.queue) > 0 {
		b.queue = b.queue[1:]
		metrics.TelemetryDropped.WithLabelValues("impression", "overflow").Inc()
	}
}

func (b *Batcher) pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

func (b *Batcher) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Flush drains the queue synchronously, bounded by ctx. Used on shutdown
// and by tests.
func (b *Batcher) Flush(ctx context.Context) error {
	for {
		if b.pending() == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.flushOnce(ctx); err != nil {
			if b.pending() == 0 {
				return nil
			}
			// Keep draining: events above MaxAttempts fall out on their
			// own, and the deadline bounds the loop.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(10 * time.Millisecond):
			}
		}
	}
}

// Close stops the loop and drains with a deadline.
func (b *Batcher) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()
	close(b.done)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.Flush(ctx)
}

func (b *Batcher) flushOnce(ctx context.Context) error {
	b.mu.Lock()
	if len(b.queue) == 0 {
		b.mu.Unlock()
		return nil
	}
	batch := b.queue
	b.queue = nil
	b.mu.Unlock()

	var imps []domain.Impression
	var sigs []domain.EngagementSignal
	for _, e := range batch {
		switch e.kind {
		case kindImpression:
			imps = append(imps, e.impression)
		case kindEngagement:
			sigs = append(sigs, e.engagement)
		}
	}

	var impErr, sigErr error
	if len(imps) > 0 {
		impErr = b.sink.SendImpressions(ctx, imps)
	}
	if len(sigs) > 0 {
		sigErr = b.sink.SendEngagements(ctx, sigs)
	}

	if impErr == nil && sigErr == nil {
		b.mu.Lock()
		b.failStreak = 0
		b.mu.Unlock()
		return nil
	}

	// Requeue failed events at the head, preserving order, unless the
	// failure is permanent or attempts ran out. Permanence is judged per
	// kind: the two sends can fail in different ways within one flush.
	var requeue []event
	for _, e := range batch {
		failErr := impErr
		if e.kind == kindEngagement {
			failErr = sigErr
		}
		if failErr == nil {
			continue
		}
		e.attempts++
		if errors.Is(failErr, ErrPermanent) || e.attempts >= b.opts.MaxAttempts {
			b.drop(e)
			continue
		}
		requeue = append(requeue, e)
	}

	b.mu.Lock()
	b.failStreak++
	b.queue = append(requeue, b.queue...)
	b.mu.Unlock()

	if impErr != nil {
		return impErr
	}
	return sigErr
}

func (b *Batcher) drop(e event) {
	kind := "impression"
	if e.kind == kindEngagement {
		kind = "engagement"
	}
	metrics.TelemetryDropped.WithLabelValues(kind, "attempts_exhausted").Inc()
	zlog.Warn().
		Str("code", string(domain.CodeTelemetryDropped)).
		Str("kind", kind).
		Int("attempts", e.attempts).
		Msg("telemetry event dropped")
}

func (b *Batcher) backoffDelay() time.Duration {
	b.mu.Lock()
	streak := b.failStreak
	b.mu.Unlock()

	d := time.Second
	for i := 1; i < streak; i++ {
		d *= 2
		if d >= b.opts.MaxBackoff {
			return b.opts.MaxBackoff
		}
	}
	if d > b.opts.MaxBackoff {
		d = b.opts.MaxBackoff
	}
	return d
}
