package exchange

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"futures-signal-engine/internal/model"

	"golang.org/x/sync/singleflight"
)

// FilterCache serves GetSymbolFilters from memory for ttl. A ttl of zero
// disables caching: every call reaches the exchange, which is the default
// so live filter changes are picked up on the next cycle.
type FilterCache struct {
	model.Exchange

	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu      sync.Mutex
	entries map[string]cachedFilters
}

type cachedFilters struct {
	filters   model.SymbolFilters
	fetchedAt time.Time
}

// NewFilterCache decorates inner with a filter cache.
func NewFilterCache(inner model.Exchange, ttl time.Duration) *FilterCache {
	return &FilterCache{
		Exchange: inner,
		ttl:      ttl,
		now:      time.Now,
		entries:  make(map[string]cachedFilters),
	}
}

func (c *FilterCache) GetSymbolFilters(ctx context.Context, symbol string) (model.SymbolFilters, error) {
	if c.ttl <= 0 {
		return c.Exchange.GetSymbolFilters(ctx, symbol)
	}

	c.mu.Lock()
	e, ok := c.entries[symbol]
	c.mu.Unlock()
	if ok && c.now().Sub(e.fetchedAt) < c.ttl {
		return e.filters, nil
	}

	v, err, _ := c.group.Do(symbol, func() (any, error) {
		f, err := c.Exchange.GetSymbolFilters(ctx, symbol)
		if err != nil {
			return model.SymbolFilters{}, err
		}
		c.mu.Lock()
		c.entries[symbol] = cachedFilters{filters: f, fetchedAt: c.now()}
		c.mu.Unlock()
		return f, nil
	})
	if err != nil {
		return model.SymbolFilters{}, err
	}
	return v.(model.SymbolFilters), nil
}

// InvalidateFilters drops the cached entry so the next call refetches.
func (c *FilterCache) InvalidateFilters(symbol string) {
	c.mu.Lock()
	_, had := c.entries[symbol]
	delete(c.entries, symbol)
	c.mu.Unlock()
	if had {
		slog.Info("symbol filters invalidated", "symbol", symbol)
	}
}
