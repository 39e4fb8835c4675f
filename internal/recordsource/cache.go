package recordsource

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/winstory-service/internal/winstory"
	"github.com/Adithya-Monish-Kumar-K/winstory-service/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/winstory-service/pkg/redis"
)

const keyPrefix = "winstory:record:"

type cachedField struct {
	Value string `json:"value"`
	Valid bool   `json:"valid"`
}

// Cache is a read-through Redis cache in front of a Loader. Concurrent misses
// for one record share a single load. Redis failures degrade to the loader.
type Cache struct {
	client  *redis.Client
	loader  Loader
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger

	// genMu orders cache writes against invalidations. A load only writes
	// back if no Invalidate or Purge ran since it started.
	genMu sync.Mutex
	epoch uint64
	gens  map[string]uint64
}

type generation struct {
	epoch, gen uint64
}

// NewCache wraps loader. A nil client disables caching; m may be nil.
func NewCache(client *redis.Client, loader Loader, ttl time.Duration, m *metrics.Metrics) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{
		client:  client,
		loader:  loader,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "record-cache"),
		gens:    make(map[string]uint64),
	}
}

func cacheKey(recordID string) string {
	return keyPrefix + recordID
}

// Load implements Loader.
func (c *Cache) Load(ctx context.Context, recordID string) (*winstory.Record, error) {
	return c.GetOrLoad(ctx, recordID)
}

// GetOrLoad returns the cached record, loading and caching it on a miss.
// Load errors are not cached.
func (c *Cache) GetOrLoad(ctx context.Context, recordID string) (*winstory.Record, error) {
	if c.client == nil {
		return c.loader.Load(ctx, recordID)
	}

	if rec, ok := c.get(ctx, recordID); ok {
		c.hit()
		return rec, nil
	}
	c.miss()

	v, err, shared := c.group.Do(recordID, func() (any, error) {
		started := c.generation(recordID)
		rec, err := c.loader.Load(ctx, recordID)
		if err != nil {
			return nil, err
		}
		c.setIfCurrent(ctx, rec, started)
		return rec, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug("record load shared", "record_id", recordID)
	}
	return v.(*winstory.Record), nil
}

// Invalidate drops the cached copy of one record.
func (c *Cache) Invalidate(ctx context.Context, recordID string) error {
	if c.client == nil {
		return nil
	}
	c.group.Forget(recordID)
	c.genMu.Lock()
	c.gens[recordID]++
	c.genMu.Unlock()
	if err := c.client.Del(ctx, cacheKey(recordID)); err != nil {
		return fmt.Errorf("invalidating record %s: %w", recordID, err)
	}
	return nil
}

// Purge drops every cached record and returns how many were removed.
func (c *Cache) Purge(ctx context.Context) (int64, error) {
	if c.client == nil {
		return 0, nil
	}
	c.genMu.Lock()
	c.epoch++
	c.genMu.Unlock()
	return c.client.FlushByPattern(ctx, keyPrefix+"*")
}

func (c *Cache) get(ctx context.Context, recordID string) (*winstory.Record, bool) {
	data, err := c.client.Get(ctx, cacheKey(recordID))
	if err != nil {
		if !redis.IsNilError(err) {
			c.logger.Warn("cache read failed", "record_id", recordID, "error", err)
		}
		return nil, false
	}
	var fields map[string]cachedField
	if err := json.Unmarshal([]byte(data), &fields); err != nil {
		c.logger.Warn("discarding corrupt cache entry", "record_id", recordID, "error", err)
		return nil, false
	}
	rec := &winstory.Record{ID: recordID, Fields: make(map[string]winstory.RawPayload, len(fields))}
	for name, f := range fields {
		rec.Fields[name] = winstory.RawPayload{Value: f.Value, Valid: f.Valid}
	}
	return rec, true
}

func (c *Cache) generation(recordID string) generation {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	return generation{epoch: c.epoch, gen: c.gens[recordID]}
}

// setIfCurrent writes rec unless the record was invalidated after started was
// taken. The check and the write share genMu so an Invalidate cannot slip
// between them.
func (c *Cache) setIfCurrent(ctx context.Context, rec *winstory.Record, started generation) {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	if (generation{epoch: c.epoch, gen: c.gens[rec.ID]}) != started {
		c.logger.Debug("skipping write of invalidated load", "record_id", rec.ID)
		return
	}
	c.set(ctx, rec)
}

func (c *Cache) set(ctx context.Context, rec *winstory.Record) {
	fields := make(map[string]cachedField, len(rec.Fields))
	for name, p := range rec.Fields {
		fields[name] = cachedField{Value: p.Value, Valid: p.Valid}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(rec.ID), data, c.ttl); err != nil {
		c.logger.Warn("cache write failed", "record_id", rec.ID, "error", err)
	}
}

func (c *Cache) hit() {
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
}

func (c *Cache) miss() {
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}
