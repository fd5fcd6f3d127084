// Package prices keeps a periodically refreshed snapshot of token prices
// so checkout flows can quote without a service round trip on every page
// view.
package prices

import (
	"context"
	"sync"
	"time"

	"github.com/Yogabuild/pybara-ic-protocol/logger"
	"github.com/Yogabuild/pybara-ic-protocol/types"
)

// Source yields the current USD price per supported token.
type Source interface {
	TokenPrices(ctx context.Context) ([]types.TokenPrice, error)
}

// Cache holds the latest price snapshot and refreshes it on an interval.
// A failed refresh keeps the previous snapshot; readers always see the
// last good data.
type Cache struct {
	source   Source
	interval time.Duration
	log      logger.Logger

	mu      sync.RWMutex
	prices  map[string]float64
	asOf    time.Time
	started bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewCache builds a cache over source. interval is how often Start
// refreshes; it must be positive for Start to loop.
func NewCache(source Source, interval time.Duration, log logger.Logger) *Cache {
	if log == nil {
		log = logger.NoopLogger{}
	}
	return &Cache{
		source:   source,
		interval: interval,
		log:      log,
		prices:   make(map[string]float64),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start primes the cache once and then refreshes in the background until
// Stop is called. A priming failure is logged, not returned; the first
// successful tick fills the cache. Calling Start twice is a no-op.
func (c *Cache) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	if err := c.Refresh(ctx); err != nil {
		c.log.Warn("initial price refresh failed", logger.Fields{"error": err.Error()})
	}
	go c.loop(ctx)
}

func (c *Cache) loop(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				c.log.Warn("price refresh failed", logger.Fields{"error": err.Error()})
			}
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop halts the refresh loop and waits for it to exit. Safe to call more
// than once and safe on a cache that was never started.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})

	c.mu.RLock()
	started := c.started
	c.mu.RUnlock()
	if started {
		<-c.done
	}
}

// Refresh pulls a fresh snapshot from the source and swaps it in whole.
func (c *Cache) Refresh(ctx context.Context) error {
	prices, err := c.source.TokenPrices(ctx)
	if err != nil {
		return err
	}

	next := make(map[string]float64, len(prices))
	for _, p := range prices {
		next[p.Token] = p.Price
	}

	c.mu.Lock()
	c.prices = next
	c.asOf = time.Now()
	c.mu.Unlock()

	c.log.Debug("price snapshot refreshed", logger.Fields{"tokens": len(next)})
	return nil
}

// Price returns the cached USD price for token and whether the snapshot
// has one.
func (c *Cache) Price(token string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	price, ok := c.prices[token]
	return price, ok
}

// All returns a copy of the current snapshot.
func (c *Cache) All() []types.TokenPrice {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]types.TokenPrice, 0, len(c.prices))
	for token, price := range c.prices {
		out = append(out, types.TokenPrice{Token: token, Price: price})
	}
	return out
}

// AsOf reports when the snapshot was last refreshed, zero before the
// first success.
func (c *Cache) AsOf() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.asOf
}
