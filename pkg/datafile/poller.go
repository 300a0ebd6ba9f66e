package datafile

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// UpdateFunc receives freshly downloaded datafile bytes.
type UpdateFunc func(data []byte)

// Poller periodically re-downloads a datafile and notifies a callback when
// the content changes. Requests carry If-Modified-Since; a 304 response is
// served from the local cache. The next poll is scheduled interval minus
// the time the request took, so slow downloads do not accumulate drift.
type Poller struct {
	url      string
	interval time.Duration
	client   *http.Client
	log      *slog.Logger
	onUpdate UpdateFunc

	mu           sync.Mutex
	lastModified string
	cached       []byte
	cancel       context.CancelFunc
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithHTTPClient sets a custom HTTP client, useful for testing.
func WithHTTPClient(client *http.Client) PollerOption {
	return func(p *Poller) {
		if client != nil {
			p.client = client
		}
	}
}

// WithLogger sets the poller's logger.
func WithLogger(log *slog.Logger) PollerOption {
	return func(p *Poller) {
		if log != nil {
			p.log = log
		}
	}
}

// NewPoller creates a poller for the given datafile URL. onUpdate is called
// with the downloaded bytes after every successful fetch that returns new
// content.
func NewPoller(url string, interval time.Duration, onUpdate UpdateFunc, opts ...PollerOption) *Poller {
	p := &Poller{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: 30 * time.Second},
		log:      slog.Default(),
		onUpdate: onUpdate,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Fetch downloads the datafile once. A 304 Not Modified response returns
// the cached bytes; 304 without a cached copy is an error.
func (p *Poller) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDatafileDownloadFailed, err)
	}

	p.mu.Lock()
	if p.lastModified != "" {
		req.Header.Set("If-Modified-Since", p.lastModified)
	}
	p.mu.Unlock()

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDatafileDownloadFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		p.mu.Lock()
		cached := p.cached
		p.mu.Unlock()
		if cached == nil {
			return nil, ErrNoCachedDatafile
		}
		return cached, nil

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDatafileDownloadFailed, err)
		}
		p.mu.Lock()
		p.cached = body
		if lm := resp.Header.Get("Last-Modified"); lm != "" {
			p.lastModified = lm
		}
		p.mu.Unlock()
		return body, nil

	default:
		return nil, fmt.Errorf("%w: status %d", ErrDatafileDownloadFailed, resp.StatusCode)
	}
}

// Start begins periodic polling until Stop is called or the context is
// canceled. The first poll fires after one interval; call Fetch directly
// for an immediate initial download.
func (p *Poller) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		cancel()
		return
	}
	p.cancel = cancel
	p.mu.Unlock()

	go p.run(ctx)
}

// Stop halts periodic polling.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (p *Poller) run(ctx context.Context) {
	wait := p.interval
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		start := time.Now()
		data, err := p.Fetch(ctx)
		if err != nil {
			p.log.Error("datafile poll failed", "url", p.url, "error", err)
		} else if p.onUpdate != nil {
			p.onUpdate(data)
		}

		// Schedule the next poll at a fixed cadence regardless of how long
		// the download took.
		wait = p.interval - time.Since(start)
		if wait < 0 {
			wait = 0
		}
	}
}
