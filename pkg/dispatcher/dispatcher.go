package dispatcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrymomot/flagkit/pkg/event"
	"github.com/dmitrymomot/flagkit/pkg/retry"
)

// Default dispatcher tuning.
const (
	DefaultBatchSize     = 10
	DefaultFlushInterval = 60 * time.Second
	DefaultMaxQueueSize  = 10000

	minConfigurableQueueSize = 100
	defaultSendTimeout       = 10 * time.Second
)

// Dispatcher drains a Store of queued events, batching and sending them
// with retry. Enqueueing and flushing are safe to call concurrently; flush
// cycles themselves are serialized.
type Dispatcher struct {
	store      Store
	httpClient *http.Client
	strategy   retry.Strategy
	reach      *Reachability
	log        *slog.Logger
	metrics    *metrics

	batchSize     int
	maxQueueSize  int
	flushInterval time.Duration

	flushMu sync.Mutex

	timerMu sync.Mutex
	stop    chan struct{}
	done    chan struct{}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithBatchSize sets how many queued events one flush cycle pops at a time.
func WithBatchSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.batchSize = n
		}
	}
}

// WithMaxQueueSize caps the queue; enqueueing beyond it fails with
// ErrQueueFull. Values below the minimum fall back to the default.
func WithMaxQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > minConfigurableQueueSize {
			d.maxQueueSize = n
		}
	}
}

// WithFlushInterval sets the periodic flush timer. A zero interval flushes
// on every enqueue instead of batching on a timer.
func WithFlushInterval(interval time.Duration) Option {
	return func(d *Dispatcher) {
		d.flushInterval = interval
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		if client != nil {
			d.httpClient = client
		}
	}
}

// WithRetryStrategy overrides the per-batch retry policy.
func WithRetryStrategy(strategy retry.Strategy) Option {
	return func(d *Dispatcher) {
		d.strategy = strategy
	}
}

// WithReachability replaces the default reachability tracker.
func WithReachability(r *Reachability) Option {
	return func(d *Dispatcher) {
		if r != nil {
			d.reach = r
		}
	}
}

// WithLogger sets the dispatcher's logger.
func WithLogger(log *slog.Logger) Option {
	return func(d *Dispatcher) {
		if log != nil {
			d.log = log
		}
	}
}

// WithMetrics registers dispatch counters with the given registerer.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(d *Dispatcher) {
		if reg != nil {
			d.metrics = newMetrics(reg)
		}
	}
}

// New creates a dispatcher over the given queue store.
func New(store Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:         store,
		httpClient:    &http.Client{Timeout: defaultSendTimeout},
		strategy:      retry.NewStrategy(),
		reach:         NewReachability(),
		log:           slog.Default(),
		batchSize:     DefaultBatchSize,
		maxQueueSize:  DefaultMaxQueueSize,
		flushInterval: DefaultFlushInterval,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.maxQueueSize < d.batchSize {
		d.log.Error("maxQueueSize cannot be smaller than batchSize", "maxQueueSize", d.maxQueueSize, "batchSize", d.batchSize)
		d.maxQueueSize = d.batchSize
	}
	return d
}

// DispatchEvent appends an event to the queue and triggers a flush when a
// full batch is pending; otherwise the periodic timer picks it up.
func (d *Dispatcher) DispatchEvent(ctx context.Context, e event.EventForDispatch) error {
	count, err := d.store.Count(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDispatchFailed, err)
	}
	if count >= d.maxQueueSize {
		d.metrics.addDropped(1)
		return ErrQueueFull
	}

	if err := d.store.Save(ctx, e); err != nil {
		return fmt.Errorf("%w: %w", ErrDispatchFailed, err)
	}
	d.metrics.addQueued(1)

	if count+1 >= d.batchSize || d.flushInterval <= 0 {
		go d.Flush(context.WithoutCancel(ctx))
	}
	return nil
}

// Flush drains the queue synchronously: pop a batch, merge, send with
// retry, remove on success. On retry exhaustion queued events stay put and
// the cycle stops; the next timer tick or enqueue tries again. A 4xx
// response instead removes the batch: the endpoint will never accept it.
func (d *Dispatcher) Flush(ctx context.Context) {
	d.flushMu.Lock()
	defer d.flushMu.Unlock()

	for {
		if d.reach.ShouldBlockNetworkAccess() {
			d.metrics.incFlushesBlocked()
			d.log.Info("network unreachable, skipping event flush")
			return
		}

		items, err := d.store.GetFirstItems(ctx, d.batchSize)
		if err != nil {
			d.log.Error("failed to read event queue", "error", err)
			return
		}
		if len(items) == 0 {
			return
		}

		consumed, batched := event.Merge(items)
		if consumed == 0 {
			return
		}
		if batched == nil {
			// Malformed lead item; drop it and keep going.
			d.log.Error("discarding malformed queued event")
			if err := d.store.RemoveFirstItems(ctx, 1); err != nil {
				d.log.Error("failed to remove malformed event", "error", err)
				return
			}
			d.metrics.addDropped(1)
			continue
		}

		if err := d.sendWithRetry(ctx, *batched); err != nil {
			if errors.Is(err, ErrEventRejected) {
				// The endpoint answered, so the network is fine; the payload
				// is permanently refused. Drop it rather than letting it
				// block the head of the queue.
				d.reach.RecordSuccess()
				d.log.Error("event batch rejected by endpoint, dropping", "error", err, "events", consumed)
				if err := d.store.RemoveFirstItems(ctx, consumed); err != nil {
					d.log.Error("failed to remove rejected events", "error", err)
					return
				}
				d.metrics.addDropped(consumed)
				continue
			}
			d.reach.RecordFailure()
			d.metrics.incSendFailures()
			d.log.Error("event batch delivery failed, leaving events queued", "error", err, "events", consumed)
			return
		}
		d.reach.RecordSuccess()

		if err := d.store.RemoveFirstItems(ctx, consumed); err != nil {
			d.log.Error("failed to remove sent events", "error", err)
			return
		}
		d.metrics.addSent(consumed)
		d.log.Debug("event batch delivered", "events", consumed)
	}
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, e event.EventForDispatch) error {
	var lastErr error
	for attempt := 0; d.strategy.ShouldRetry(attempt); attempt++ {
		if delay := d.strategy.Delay(attempt); delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := d.send(ctx, e); err != nil {
			if errors.Is(err, ErrEventRejected) {
				return err
			}
			d.log.Warn("event send attempt failed", "attempt", attempt, "error", err)
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("%w: %w", ErrDispatchFailed, lastErr)
}

func (d *Dispatcher) send(ctx context.Context, e event.EventForDispatch) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewReader(e.Body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return fmt.Errorf("%w: http status %d", ErrEventRejected, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("http status %d", resp.StatusCode)
	}
	return nil
}

// Start launches the periodic flush timer. It returns immediately; Stop
// ends the timer and runs one final flush.
func (d *Dispatcher) Start(ctx context.Context) {
	d.timerMu.Lock()
	defer d.timerMu.Unlock()
	if d.stop != nil || d.flushInterval <= 0 {
		return
	}
	d.stop = make(chan struct{})
	d.done = make(chan struct{})

	go func(stop, done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(d.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if count, err := d.store.Count(ctx); err == nil && count > 0 {
					d.Flush(ctx)
				}
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
		}
	}(d.stop, d.done)
}

// Stop halts the flush timer and flushes any remaining events.
func (d *Dispatcher) Stop(ctx context.Context) {
	d.timerMu.Lock()
	if d.stop != nil {
		close(d.stop)
		<-d.done
		d.stop = nil
		d.done = nil
	}
	d.timerMu.Unlock()

	d.Flush(ctx)
}
