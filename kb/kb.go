// Package kb holds the process-wide knowledge of model schemas: each model
// type is loaded from the schema provider at most once and remembered,
// including definitive failures.
package kb

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/framebridge/internal/logging"
	"github.com/signalsfoundry/framebridge/model"
	"golang.org/x/sync/singleflight"
)

// ErrSchemaUnavailable indicates the provider could not resolve a model type.
var ErrSchemaUnavailable = errors.New("model schema unavailable")

// SchemaProvider turns a model type name into its kinematic schema. It may be
// expensive; SchemaCache guarantees it is called at most once per type.
type SchemaProvider interface {
	LoadModelSchema(ctx context.Context, modelType string) (*model.ModelSchema, error)
}

// SchemaProviderFunc adapts a function to SchemaProvider.
type SchemaProviderFunc func(ctx context.Context, modelType string) (*model.ModelSchema, error)

// LoadModelSchema implements SchemaProvider.
func (f SchemaProviderFunc) LoadModelSchema(ctx context.Context, modelType string) (*model.ModelSchema, error) {
	return f(ctx, modelType)
}

// SchemaMetricsRecorder receives cache lookups and provider loads.
type SchemaMetricsRecorder interface {
	RecordSchemaLookup(hit bool)
	RecordSchemaLoad(ok bool, took time.Duration)
}

// SchemaCache memoises provider results per model type. Entries are never
// evicted; a nil entry records a failed load that must not be retried.
type SchemaCache struct {
	mu      sync.RWMutex
	entries map[string]*model.ModelSchema

	group    singleflight.Group
	provider SchemaProvider

	log     logging.Logger
	metrics SchemaMetricsRecorder

	hits   int64
	misses int64
	loads  int64
}

// SchemaCacheOption customises SchemaCache construction.
type SchemaCacheOption func(*SchemaCache)

// WithLogger sets the logger for load outcomes.
func WithLogger(l logging.Logger) SchemaCacheOption {
	return func(c *SchemaCache) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetricsRecorder attaches a recorder for lookup and load metrics.
func WithMetricsRecorder(m SchemaMetricsRecorder) SchemaCacheOption {
	return func(c *SchemaCache) {
		c.metrics = m
	}
}

// NewSchemaCache constructs an empty cache in front of provider.
func NewSchemaCache(provider SchemaProvider, opts ...SchemaCacheOption) *SchemaCache {
	c := &SchemaCache{
		entries:  make(map[string]*model.ModelSchema),
		provider: provider,
		log:      logging.Noop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the schema of modelType, loading it on first request.
// Concurrent first requests for the same type share a single load, which
// is detached from the cancellation of whichever caller started it. A
// caller whose ctx ends first gets no schema, and the load still completes
// and is cached. The boolean is false when the type has no schema.
func (c *SchemaCache) Get(ctx context.Context, modelType string) (*model.ModelSchema, bool) {
	if schema, known := c.lookup(modelType); known {
		c.recordLookup(true)
		return schema, schema != nil
	}
	if ctx.Err() != nil {
		return nil, false
	}
	c.recordLookup(false)

	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(modelType, func() (any, error) {
		if schema, known := c.lookup(modelType); known {
			return schema, nil
		}
		return c.load(loadCtx, modelType)
	})
	select {
	case <-ctx.Done():
		return nil, false
	case res := <-ch:
		schema, _ := res.Val.(*model.ModelSchema)
		return schema, schema != nil
	}
}

// Known returns the model types with a cached outcome, sorted, split into
// those that loaded and those that failed.
func (c *SchemaCache) Known() (loaded, failed []string) {
	c.mu.RLock()
	for name, schema := range c.entries {
		if schema != nil {
			loaded = append(loaded, name)
		} else {
			failed = append(failed, name)
		}
	}
	c.mu.RUnlock()
	sort.Strings(loaded)
	sort.Strings(failed)
	return loaded, failed
}

// Stats returns lookup hits and misses and the number of provider loads.
func (c *SchemaCache) Stats() (hits, misses, loads int64) {
	c.mu.RLock()
	hits, misses, loads = c.hits, c.misses, c.loads
	c.mu.RUnlock()
	return
}

func (c *SchemaCache) lookup(modelType string) (*model.ModelSchema, bool) {
	c.mu.RLock()
	schema, known := c.entries[modelType]
	c.mu.RUnlock()
	return schema, known
}

func (c *SchemaCache) load(ctx context.Context, modelType string) (*model.ModelSchema, error) {
	if c.provider == nil {
		c.store(modelType, nil)
		return nil, nil
	}

	start := time.Now()
	schema, err := c.provider.LoadModelSchema(ctx, modelType)
	took := time.Since(start)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// provider gave up on its own deadline; the type may still load later
		return nil, err
	}
	if err == nil && schema == nil {
		err = ErrSchemaUnavailable
	}
	if err != nil {
		schema = nil
	}
	c.store(modelType, schema)

	if c.metrics != nil {
		c.metrics.RecordSchemaLoad(schema != nil, took)
	}
	if schema != nil {
		c.log.Info(ctx, "loaded model schema",
			logging.String("model", modelType),
			logging.Int("links", len(schema.Links)),
			logging.Int("joints", len(schema.Joints)),
			logging.Duration("took", took),
		)
	} else {
		c.log.Info(ctx, "unable to load model schema",
			logging.String("model", modelType),
			logging.Err(err),
		)
	}
	return schema, nil
}

func (c *SchemaCache) store(modelType string, schema *model.ModelSchema) {
	c.mu.Lock()
	c.entries[modelType] = schema
	c.loads++
	c.mu.Unlock()
}

func (c *SchemaCache) recordLookup(hit bool) {
	c.mu.Lock()
	if hit {
		c.hits++
	} else {
		c.misses++
	}
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.RecordSchemaLookup(hit)
	}
}
