package schema

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIntrospector struct {
	mu     sync.Mutex
	tables map[TableRef]*TableSchema
	calls  int
}

func (f *fakeIntrospector) DescribeTable(_ context.Context, ref TableRef) (*TableSchema, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if s, ok := f.tables[ref]; ok {
		return s.Clone(), nil
	}
	return &TableSchema{Ref: ref}, nil
}

var orders = TableRef{Schema: "public", Name: "orders"}

func TestCacheEvolveCreatesThenAlters(t *testing.T) {
	intro := &fakeIntrospector{tables: map[TableRef]*TableSchema{}}
	cache := NewCache(intro, true, nil)
	ctx := context.Background()

	var sawExists []bool
	apply := func(_ context.Context, live *TableSchema, delta Delta) error {
		sawExists = append(sawExists, live.Exists)
		if !live.Exists {
			live.PrimaryKey = []string{"id"}
		}
		return nil
	}

	delta, err := cache.Evolve(ctx, orders, []Column{{Name: "id", Type: TypeInteger}}, apply)
	require.NoError(t, err)
	assert.Len(t, delta.Added, 1)

	delta, err = cache.Evolve(ctx, orders, []Column{{Name: "id", Type: TypeInteger}, {Name: "note", Type: TypeString, Length: 10000}}, apply)
	require.NoError(t, err)
	assert.Equal(t, []string{"note"}, delta.Names())

	assert.Equal(t, []bool{false, true}, sawExists)
	assert.Equal(t, 1, intro.calls, "enabled cache reads the warehouse once")

	described, loaded := cache.Describe(orders)
	assert.True(t, loaded)
	assert.Equal(t, []string{"id"}, described.PrimaryKey)
	assert.Len(t, described.Columns, 2)
}

func TestCacheDisabledRefreshesEveryTime(t *testing.T) {
	intro := &fakeIntrospector{tables: map[TableRef]*TableSchema{}}
	cache := NewCache(intro, false, nil)

	noop := func(context.Context, *TableSchema, Delta) error { return nil }
	for i := 0; i < 3; i++ {
		_, err := cache.Evolve(context.Background(), orders, nil, noop)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, intro.calls)
}

func TestCacheFailedApplyInvalidates(t *testing.T) {
	intro := &fakeIntrospector{tables: map[TableRef]*TableSchema{}}
	cache := NewCache(intro, true, nil)

	_, err := cache.Evolve(context.Background(), orders, []Column{{Name: "id", Type: TypeInteger}},
		func(context.Context, *TableSchema, Delta) error { return fmt.Errorf("boom") })
	require.Error(t, err)

	_, loaded := cache.Describe(orders)
	assert.False(t, loaded)

	_, err = cache.Evolve(context.Background(), orders, []Column{{Name: "id", Type: TypeInteger}},
		func(context.Context, *TableSchema, Delta) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 2, intro.calls)
}

func TestCacheSerializesPerTable(t *testing.T) {
	intro := &fakeIntrospector{tables: map[TableRef]*TableSchema{}}
	cache := NewCache(intro, true, nil)

	var active, maxActive int32
	apply := func(context.Context, *TableSchema, Delta) error {
		n := atomic.AddInt32(&active, 1)
		for {
			m := atomic.LoadInt32(&maxActive)
			if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			col := Column{Name: fmt.Sprintf("c%d", i), Type: TypeInteger}
			_, err := cache.Evolve(context.Background(), orders, []Column{col}, apply)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive)
	described, _ := cache.Describe(orders)
	assert.Len(t, described.Columns, 8, "no delta may be lost between concurrent evolutions")
}

func TestCacheMerge(t *testing.T) {
	cache := NewCache(&fakeIntrospector{}, true, nil)
	delta := cache.Merge(orders, []Column{{Name: "id", Type: TypeInteger}})
	assert.Len(t, delta.Added, 1)
	assert.True(t, cache.Merge(orders, []Column{{Name: "id", Type: TypeInteger}}).Empty())
}
