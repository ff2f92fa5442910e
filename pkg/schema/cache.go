package schema

import (
	"context"
	"sync"

	"github.com/ajitpratap0/rsloader/pkg/errors"
	"go.uber.org/zap"
)

// Introspector reads the live shape of a table from the warehouse. A table
// that does not exist is reported with Exists set to false, not as an error.
type Introspector interface {
	DescribeTable(ctx context.Context, ref TableRef) (*TableSchema, error)
}

// EvolveFunc applies delta to the live table. It runs while the table's lock
// is held. It may set PrimaryKey and Exists on live to reflect what it
// created; on success the cache stores live with delta folded in.
type EvolveFunc func(ctx context.Context, live *TableSchema, delta Delta) error

// Cache is the loader's view of target tables. Each table has its own lock,
// so evolution of one table never waits on another, while concurrent flushes
// into the same table apply their deltas one at a time.
type Cache struct {
	introspector Introspector
	enabled      bool
	logger       *zap.Logger

	mu     sync.Mutex
	tables map[TableRef]*cacheEntry
}

type cacheEntry struct {
	mu     sync.Mutex
	schema *TableSchema
	loaded bool
}

// NewCache creates a cache. With enabled false every Evolve re-reads the live
// table before diffing.
func NewCache(introspector Introspector, enabled bool, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		introspector: introspector,
		enabled:      enabled,
		logger:       logger,
		tables:       make(map[TableRef]*cacheEntry),
	}
}

func (c *Cache) entry(ref TableRef) *cacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.tables[ref]
	if !ok {
		e = &cacheEntry{schema: &TableSchema{Ref: ref}}
		c.tables[ref] = e
	}
	return e
}

// Describe returns a copy of the cached table shape and whether the cache has
// loaded it from the warehouse.
func (c *Cache) Describe(ref TableRef) (*TableSchema, bool) {
	e := c.entry(ref)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.schema.Clone(), e.loaded
}

// Merge folds observed columns into the cached shape without touching the
// warehouse and returns what changed.
func (c *Cache) Merge(ref TableRef, observed []Column) Delta {
	e := c.entry(ref)
	e.mu.Lock()
	defer e.mu.Unlock()
	delta := Diff(e.schema.Columns, observed)
	e.schema.Columns = Apply(e.schema.Columns, delta)
	return delta
}

// Refresh re-reads the table from the warehouse.
func (c *Cache) Refresh(ctx context.Context, ref TableRef) error {
	e := c.entry(ref)
	e.mu.Lock()
	defer e.mu.Unlock()
	return c.refreshLocked(ctx, ref, e)
}

func (c *Cache) refreshLocked(ctx context.Context, ref TableRef, e *cacheEntry) error {
	live, err := c.introspector.DescribeTable(ctx, ref)
	if err != nil {
		e.loaded = false
		return errors.Wrap(err, errors.ErrorTypeMigration, "describe table").WithTable(ref.String())
	}
	if live == nil {
		live = &TableSchema{Ref: ref}
	}
	live.Ref = ref
	e.schema = live
	e.loaded = true
	c.logger.Debug("table description refreshed",
		zap.String("table", ref.String()),
		zap.Bool("exists", live.Exists),
		zap.Int("columns", len(live.Columns)))
	return nil
}

// Invalidate forces the next Evolve of ref to re-read the warehouse.
func (c *Cache) Invalidate(ref TableRef) {
	e := c.entry(ref)
	e.mu.Lock()
	e.loaded = false
	e.mu.Unlock()
}

// Evolve makes ref cover observed. Under the table's lock it refreshes the
// cached shape when needed, diffs observed against it and calls apply with
// the delta, even when the delta is empty so apply can check constraints on
// the live table. A failed apply invalidates the entry, since the table may
// have been partially altered.
func (c *Cache) Evolve(ctx context.Context, ref TableRef, observed []Column, apply EvolveFunc) (Delta, error) {
	e := c.entry(ref)
	e.mu.Lock()
	defer e.mu.Unlock()

	if !c.enabled || !e.loaded {
		if err := c.refreshLocked(ctx, ref, e); err != nil {
			return Delta{}, err
		}
	}

	delta := Diff(e.schema.Columns, observed)
	live := e.schema.Clone()
	if err := apply(ctx, live, delta); err != nil {
		e.loaded = false
		return Delta{}, err
	}

	live.Columns = Apply(live.Columns, delta)
	if !delta.Empty() {
		live.Exists = true
	}
	e.schema = live
	return delta, nil
}
