package cache

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ordersys/pipeline/internal/domain"
)

type repo interface {
	Get(ctx context.Context, orderID string) (*domain.Order, error)
	RecentOrderIDs(ctx context.Context, limit int) ([]string, error)
}

// Cache is a bounded LRU in front of single-order lookups.
type Cache struct {
	size int
	lru  *lru.Cache[string, domain.Order]
}

func New(size int) (*Cache, error) {
	if size < 1 {
		size = 1
	}
	c, err := lru.New[string, domain.Order](size)
	if err != nil {
		return nil, err
	}
	return &Cache{size: size, lru: c}, nil
}

// Warm preloads the most recent orders. Errors are ignored: a cold cache is
// a valid state and boot must not fail on it.
func (c *Cache) Warm(ctx context.Context, repo repo) {
	ids, err := repo.RecentOrderIDs(ctx, c.size)
	if err != nil {
		return
	}
	for _, id := range ids {
		if o, err := repo.Get(ctx, id); err == nil {
			c.Set(o)
		}
	}
}

func (c *Cache) Get(orderID string) (*domain.Order, bool) {
	o, ok := c.lru.Get(orderID)
	if !ok {
		return nil, false
	}
	return &o, true
}

func (c *Cache) Set(o *domain.Order) {
	c.lru.Add(o.OrderID, *o)
}
