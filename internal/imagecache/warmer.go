package imagecache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/wookieewrath/OnMyWay/internal/observability"
)

const defaultMaxBytes = 5 << 20

type entry struct {
	body []byte
	ts   time.Time
}

// Warmer downloads images ahead of use and keeps them for ttl.
type Warmer struct {
	client   *http.Client
	ttl      time.Duration
	maxBytes int64
	logger   *slog.Logger

	mu       sync.RWMutex
	store    map[string]entry
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

func NewWarmer(ttl time.Duration, logger *slog.Logger) *Warmer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Warmer{
		client:   &http.Client{Timeout: 10 * time.Second},
		ttl:      ttl,
		maxBytes: defaultMaxBytes,
		logger:   logger,
		store:    make(map[string]entry),
		inflight: make(map[string]struct{}),
	}
}

// Prefetch starts a background download of url and returns immediately.
// Failures are logged and otherwise ignored.
func (w *Warmer) Prefetch(url string) {
	if url == "" {
		return
	}
	if _, ok := w.Get(url); ok {
		observability.ImagePrefetchTotal.WithLabelValues("cached").Inc()
		return
	}
	w.mu.Lock()
	if _, busy := w.inflight[url]; busy {
		w.mu.Unlock()
		return
	}
	w.inflight[url] = struct{}{}
	w.wg.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.wg.Done()
		body, err := w.fetch(url)
		w.mu.Lock()
		delete(w.inflight, url)
		if err == nil {
			w.store[url] = entry{body: body, ts: time.Now()}
		}
		w.mu.Unlock()
		if err != nil {
			observability.ImagePrefetchTotal.WithLabelValues("error").Inc()
			w.logger.Debug("image prefetch failed", "url", url, "error", err)
			return
		}
		observability.ImagePrefetchTotal.WithLabelValues("fetched").Inc()
	}()
}

func (w *Warmer) fetch(url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), w.client.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, w.maxBytes))
}

// Get returns the cached image for url if present and not expired.
func (w *Warmer) Get(url string) ([]byte, bool) {
	w.mu.RLock()
	e, ok := w.store[url]
	w.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Since(e.ts) > w.ttl {
		w.mu.Lock()
		delete(w.store, url)
		w.mu.Unlock()
		return nil, false
	}
	return e.body, true
}

// Wait blocks until every started prefetch has finished.
func (w *Warmer) Wait() { w.wg.Wait() }
