// Package modelcache keeps loaded models resident across requests.
//
// Models are loaded on first use, concurrent loads of the same key share one
// load, and the least recently used model is evicted (and closed, when it
// implements io.Closer) once the cache is full. Failed loads are not cached.
package modelcache

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"
)

// Key identifies a model by runtime kind ("asr", "mt") and model id.
type Key struct {
	Kind string
	ID   string
}

func (k Key) String() string { return k.Kind + "/" + k.ID }

// LoadFunc loads the model for a key.
type LoadFunc[V any] func(ctx context.Context) (V, error)

type Cache[V any] struct {
	entries *lru.Cache[Key, V]
	group   singleflight.Group
	log     *slog.Logger

	loads     metric.Int64Counter
	evictions metric.Int64Counter
}

func New[V any](size int, log *slog.Logger) (*Cache[V], error) {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c := &Cache[V]{log: log.With(slog.String("component", "model-cache"))}
	entries, err := lru.NewWithEvict[Key, V](size, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("create model cache: %w", err)
	}
	c.entries = entries

	meter := otel.Meter("github.com/loqalabs/loqa-s2s/modelcache")
	if c.loads, err = meter.Int64Counter("loqa.s2s.model.loads", metric.WithDescription("Models loaded into the cache")); err != nil {
		c.log.Warn("failed to create load counter", slog.String("error", err.Error()))
	}
	if c.evictions, err = meter.Int64Counter("loqa.s2s.model.evictions", metric.WithDescription("Models evicted from the cache")); err != nil {
		c.log.Warn("failed to create eviction counter", slog.String("error", err.Error()))
	}
	return c, nil
}

// Get returns the cached model for key, loading it with load on a miss.
//
// A shared load runs detached from any single caller's cancellation; a caller
// whose ctx ends while waiting gets ctx.Err() and the load carries on for the
// rest.
func (c *Cache[V]) Get(ctx context.Context, key Key, load LoadFunc[V]) (V, error) {
	var zero V
	if v, ok := c.entries.Get(key); ok {
		return v, nil
	}
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key.String(), func() (any, error) {
		if v, ok := c.entries.Get(key); ok {
			return v, nil
		}
		v, err := load(loadCtx)
		if err != nil {
			return v, err
		}
		c.entries.Add(key, v)
		if c.loads != nil {
			c.loads.Add(loadCtx, 1, metric.WithAttributes(attribute.String("kind", key.Kind)))
		}
		c.log.Info("model loaded", slog.String("kind", key.Kind), slog.String("model", key.ID))
		return v, nil
	})
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

// Len reports how many models are resident.
func (c *Cache[V]) Len() int { return c.entries.Len() }

// Purge evicts every model, closing those that implement io.Closer.
func (c *Cache[V]) Purge() { c.entries.Purge() }

func (c *Cache[V]) onEvict(key Key, value V) {
	if c.evictions != nil {
		c.evictions.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", key.Kind)))
	}
	if closer, ok := any(value).(io.Closer); ok {
		if err := closer.Close(); err != nil {
			c.log.Warn("failed to close evicted model", slog.String("model", key.String()), slog.String("error", err.Error()))
		}
	}
	c.log.Debug("model evicted", slog.String("kind", key.Kind), slog.String("model", key.ID))
}
