// Package cache keeps public catalog reads in Redis. Entries are grouped
// under a generation number; bumping it drops every cached read at once.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	jsoniter "github.com/json-iterator/go"
	"github.com/talkincode/keyshop/internal/domain"
	"github.com/talkincode/keyshop/internal/notify"
	"github.com/talkincode/keyshop/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultPrefix = "keyshop:catalog"

// CatalogReader is the uncached public catalog.
type CatalogReader interface {
	Categories(ctx context.Context) ([]domain.Category, error)
	Products(ctx context.Context, filter repository.ProductFilter) ([]domain.Product, int64, error)
	Product(ctx context.Context, id int64) (*domain.Product, error)
}

type productPage struct {
	Items []domain.Product `json:"items"`
	Total int64            `json:"total"`
}

// CatalogCache is a read-through CatalogReader. Concurrent misses for the
// same key share one load. Redis failures fall back to the wrapped reader.
type CatalogCache struct {
	next   CatalogReader
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	group  singleflight.Group
}

var _ CatalogReader = (*CatalogCache)(nil)

func NewCatalogCache(next CatalogReader, rdb *redis.Client, ttl time.Duration) *CatalogCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CatalogCache{next: next, rdb: rdb, ttl: ttl, prefix: defaultPrefix}
}

// NewRedisClient opens the client used by the cache and checks it answers.
func NewRedisClient(ctx context.Context, addr, passwd string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: passwd, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis %s: %w", addr, err)
	}
	return rdb, nil
}

func (c *CatalogCache) genKey() string {
	return c.prefix + ":gen"
}

func (c *CatalogCache) generation(ctx context.Context) (int64, error) {
	gen, err := c.rdb.Get(ctx, c.genKey()).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return gen, err
}

// Invalidate drops every cached catalog read.
func (c *CatalogCache) Invalidate(ctx context.Context) error {
	return c.rdb.Incr(ctx, c.genKey()).Err()
}

// Attach invalidates the cache whenever the catalog or stock changes.
func (c *CatalogCache) Attach(bus *notify.Bus) error {
	invalidate := func(reason string) {
		if err := c.Invalidate(context.Background()); err != nil {
			zap.L().Warn("catalog cache invalidation failed", zap.String("reason", reason), zap.Error(err))
		}
	}
	if err := bus.OnCatalogChanged(func(notify.CatalogChangedEvent) { invalidate("catalog") }); err != nil {
		return err
	}
	if err := bus.OnOrderPlaced(func(notify.OrderPlacedEvent) { invalidate("order") }); err != nil {
		return err
	}
	return bus.OnOrderStatusChanged(func(ev notify.OrderStatusChangedEvent) {
		if ev.To.IsTerminal() {
			invalidate("restock")
		}
	})
}

func (c *CatalogCache) cached(ctx context.Context, name string, out interface{}, load func() (interface{}, error)) error {
	gen, err := c.generation(ctx)
	if err != nil {
		zap.L().Warn("catalog cache unavailable", zap.Error(err))
		return c.direct(load, out)
	}
	key := c.prefix + ":" + strconv.FormatInt(gen, 10) + ":" + name

	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err == nil {
		if json.Unmarshal(raw, out) == nil {
			return nil
		}
	} else if err != redis.Nil {
		zap.L().Warn("catalog cache read failed", zap.String("key", key), zap.Error(err))
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		val, err := load()
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
			zap.L().Warn("catalog cache write failed", zap.String("key", key), zap.Error(err))
		}
		return data, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(v.([]byte), out)
}

func (c *CatalogCache) direct(load func() (interface{}, error), out interface{}) error {
	val, err := load()
	if err != nil {
		return err
	}
	data, err := json.Marshal(val)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (c *CatalogCache) Categories(ctx context.Context) ([]domain.Category, error) {
	var rows []domain.Category
	err := c.cached(ctx, "categories", &rows, func() (interface{}, error) {
		return c.next.Categories(ctx)
	})
	return rows, err
}

func (c *CatalogCache) Products(ctx context.Context, filter repository.ProductFilter) ([]domain.Product, int64, error) {
	name := fmt.Sprintf("products:%s:%d:%s:%s:%d:%d",
		filter.Query, filter.CategoryID, filter.Sort, filter.Order, filter.Page, filter.PageSize)
	var page productPage
	err := c.cached(ctx, name, &page, func() (interface{}, error) {
		rows, total, err := c.next.Products(ctx, filter)
		if err != nil {
			return nil, err
		}
		return productPage{Items: rows, Total: total}, nil
	})
	return page.Items, page.Total, err
}

func (c *CatalogCache) Product(ctx context.Context, id int64) (*domain.Product, error) {
	var p domain.Product
	err := c.cached(ctx, "product:"+strconv.FormatInt(id, 10), &p, func() (interface{}, error) {
		return c.next.Product(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}
