package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ajitpratap0/rsloader/internal/protocol"
	"github.com/ajitpratap0/rsloader/pkg/config"
	"github.com/ajitpratap0/rsloader/pkg/errors"
	"github.com/ajitpratap0/rsloader/pkg/models"
	"github.com/ajitpratap0/rsloader/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ordersSchemaLine = `{"type":"SCHEMA","stream":"orders","key_properties":["id"],"schema":{"properties":{"id":{"type":"integer"},"amt":{"type":["null","integer"]},"created_at":{"type":["null","string"],"format":"date-time"}}}}`

type routerFixture struct {
	router *Router
	steps  *fakeSteps
	sink   *recordingSink
}

func newRouterFixture(cfg RouterConfig, steps *fakeSteps) *routerFixture {
	sink := &recordingSink{}
	coord := NewCoordinator(steps, NewAckTracker(sink, nil), 2, nil)
	targets := NewTargets(config.TargetConfig{DefaultSchema: "public"})
	r := NewRouter(cfg, targets.Resolve, coord, nil)
	r.now = func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC) }
	return &routerFixture{router: r, steps: steps, sink: sink}
}

func (f *routerFixture) run(lines ...string) error {
	reader := protocol.NewReader(strings.NewReader(strings.Join(lines, "\n") + "\n"))
	return f.router.Run(context.Background(), reader)
}

func TestRouterFlushesAndAcknowledges(t *testing.T) {
	f := newRouterFixture(RouterConfig{Buffer: BufferConfig{RowThreshold: 2}, PrimaryKeyRequired: true}, newFakeSteps(0))

	err := f.run(
		ordersSchemaLine,
		`{"type":"RECORD","stream":"orders","record":{"id":1,"amt":10}}`,
		`{"type":"RECORD","stream":"orders","record":{"id":2,"amt":20}}`,
		`{"type":"STATE","value":{"bookmark":1}}`,
		`{"type":"RECORD","stream":"orders","record":{"id":1,"amt":15}}`,
		`{"type":"STATE","value":{"bookmark":2}}`,
		`{"type":"ACTIVATE_VERSION","stream":"orders","version":3}`,
	)
	require.NoError(t, err)

	assert.Equal(t, []string{`{"bookmark":1}`, `{"bookmark":2}`}, f.sink.emitted())
	assert.Equal(t, []string{"orders#1", "orders#2"}, f.steps.order)
	assert.Equal(t, 3, f.steps.rows())

	buf, ok := f.router.Buffer("orders")
	require.True(t, ok)
	assert.Equal(t, schema.TableRef{Schema: "public", Name: "orders"}, buf.Table())
	assert.Equal(t, 0, buf.Len())
}

func TestRouterRecordBeforeSchema(t *testing.T) {
	f := newRouterFixture(RouterConfig{}, newFakeSteps(0))

	err := f.run(`{"type":"RECORD","stream":"orders","record":{"id":1}}`)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeProtocol))
}

func TestRouterRequiresPrimaryKey(t *testing.T) {
	f := newRouterFixture(RouterConfig{PrimaryKeyRequired: true}, newFakeSteps(0))

	err := f.run(`{"type":"SCHEMA","stream":"events","key_properties":[],"schema":{"properties":{"id":{"type":"integer"}}}}`)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	f = newRouterFixture(RouterConfig{}, newFakeSteps(0))
	require.NoError(t, f.run(
		`{"type":"SCHEMA","stream":"events","key_properties":[],"schema":{"properties":{"id":{"type":"integer"}}}}`,
		`{"type":"RECORD","stream":"events","record":{"id":1}}`,
	))
	assert.Equal(t, 1, f.steps.rows())
}

func TestRouterRejectsUnknownKeyColumn(t *testing.T) {
	f := newRouterFixture(RouterConfig{}, newFakeSteps(0))

	err := f.run(`{"type":"SCHEMA","stream":"orders","key_properties":["order_id"],"schema":{"properties":{"id":{"type":"integer"}}}}`)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestRouterConvertsValues(t *testing.T) {
	f := newRouterFixture(RouterConfig{FlatteningMaxLevel: 1}, newFakeSteps(0))

	err := f.run(
		`{"type":"SCHEMA","stream":"orders","key_properties":["id"],"schema":{"properties":{"id":{"type":"integer"},"created_at":{"type":"string","format":"date-time"},"address":{"type":"object","properties":{"city":{"type":"string"}}}}}}`,
		`{"type":"RECORD","stream":"orders","record":{"ID":1,"created_at":"2024-01-02T03:04:05Z","address":{"city":"Oslo"}}}`,
		`{"type":"RECORD","stream":"orders","record":{"id":2,"created_at":"not a time"}}`,
	)
	require.NoError(t, err)
	require.Len(t, f.steps.loaded, 1)
	snap := f.steps.loaded[0]

	first := snap.Records[0]
	assert.Equal(t, int64(1), first.Get("id").Int())
	assert.Equal(t, models.KindTimestamp, first.Get("created_at").Kind())
	assert.Equal(t, "Oslo", first.Get("address__city").Str())

	second := snap.Records[1]
	assert.Equal(t, models.KindString, second.Get("created_at").Kind())
	assert.Equal(t, []string{"created_at"}, snap.Delta.Names(), "an unparseable timestamp widens the column")
}

func TestRouterValidatesRecords(t *testing.T) {
	f := newRouterFixture(RouterConfig{ValidateRecords: true}, newFakeSteps(0))

	err := f.run(
		ordersSchemaLine,
		`{"type":"RECORD","stream":"orders","record":{"id":1,"amt":"ten"}}`,
	)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	assert.Empty(t, f.steps.loaded)
}

func TestRouterMetadataColumns(t *testing.T) {
	f := newRouterFixture(RouterConfig{MetadataColumns: true}, newFakeSteps(0))

	err := f.run(
		ordersSchemaLine,
		`{"type":"RECORD","stream":"orders","time_extracted":"2024-05-01T00:00:00Z","record":{"id":1,"amt":10}}`,
		`{"type":"RECORD","stream":"orders","record":{"id":2,"_sdc_deleted_at":"2024-05-02T00:00:00Z"}}`,
	)
	require.NoError(t, err)
	require.Len(t, f.steps.loaded, 1)
	snap := f.steps.loaded[0]

	names := make([]string, 0, len(snap.Columns))
	for _, c := range snap.Columns {
		names = append(names, c.Name)
	}
	assert.Subset(t, names, []string{ExtractedAtColumn, BatchedAtColumn, DeletedAtColumn})

	live := snap.Records[0]
	assert.True(t, live.Get(ExtractedAtColumn).Timestamp().Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, live.Get(BatchedAtColumn).Timestamp().Equal(time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)))
	assert.True(t, live.Get(DeletedAtColumn).IsNull())
	assert.False(t, live.Deleted)

	deleted := snap.Records[1]
	assert.True(t, deleted.Get(ExtractedAtColumn).IsNull())
	assert.Equal(t, "2024-05-02T00:00:00Z", deleted.Get(DeletedAtColumn).Str())
	assert.True(t, deleted.Deleted)
}

func TestRouterFlushAllStreams(t *testing.T) {
	f := newRouterFixture(RouterConfig{Buffer: BufferConfig{RowThreshold: 2}, FlushAllStreams: true}, newFakeSteps(0))

	err := f.run(
		ordersSchemaLine,
		`{"type":"SCHEMA","stream":"users","key_properties":["id"],"schema":{"properties":{"id":{"type":"integer"}}}}`,
		`{"type":"RECORD","stream":"users","record":{"id":1}}`,
		`{"type":"RECORD","stream":"orders","record":{"id":1}}`,
		`{"type":"RECORD","stream":"orders","record":{"id":2}}`,
		`{"type":"STATE","value":"s1"}`,
	)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"users#1", "orders#1"}, f.steps.order)
	assert.Equal(t, []string{`"s1"`}, f.sink.emitted())
}

func TestRouterSchemaRedeclarationFlushesStream(t *testing.T) {
	f := newRouterFixture(RouterConfig{}, newFakeSteps(0))

	err := f.run(
		ordersSchemaLine,
		`{"type":"RECORD","stream":"orders","record":{"id":1,"amt":10}}`,
		`{"type":"SCHEMA","stream":"orders","key_properties":["id"],"schema":{"properties":{"id":{"type":"integer"},"amt":{"type":"integer"},"note":{"type":"string"}}}}`,
		`{"type":"RECORD","stream":"orders","record":{"id":2,"note":"hi"}}`,
	)
	require.NoError(t, err)
	require.Len(t, f.steps.loaded, 2)
	assert.Equal(t, 1, f.steps.loaded[0].Rows())
	assert.Equal(t, []string{"note"}, f.steps.loaded[1].Delta.Names())
}

func TestRouterStopsAfterFlushFailure(t *testing.T) {
	steps := newFakeSteps(0)
	steps.failLoad["orders"] = true
	f := newRouterFixture(RouterConfig{Buffer: BufferConfig{RowThreshold: 1}}, steps)

	err := f.run(
		ordersSchemaLine,
		`{"type":"RECORD","stream":"orders","record":{"id":1}}`,
		`{"type":"STATE","value":"s1"}`,
		`{"type":"RECORD","stream":"orders","record":{"id":2}}`,
		`{"type":"RECORD","stream":"orders","record":{"id":3}}`,
		`{"type":"STATE","value":"s2"}`,
	)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeLoad))
	assert.Empty(t, f.sink.emitted())
}

func TestRouterStopsWhenCancelled(t *testing.T) {
	f := newRouterFixture(RouterConfig{Buffer: BufferConfig{RowThreshold: 10}, PrimaryKeyRequired: true}, newFakeSteps(0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reader := protocol.NewReader(strings.NewReader(ordersSchemaLine + "\n" +
		`{"type":"RECORD","stream":"orders","record":{"id":1,"amt":10}}` + "\n"))
	err := f.router.Run(ctx, reader)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.steps.order)
}

func TestRouterEndOfInputFlushesWithCancelledContext(t *testing.T) {
	f := newRouterFixture(RouterConfig{Buffer: BufferConfig{RowThreshold: 10}, PrimaryKeyRequired: true}, newFakeSteps(0))
	require.NoError(t, f.run(
		ordersSchemaLine,
		`{"type":"RECORD","stream":"orders","record":{"id":1,"amt":10}}`,
	))
	require.NoError(t, f.run(`{"type":"RECORD","stream":"orders","record":{"id":2,"amt":20}}`))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	buf, ok := f.router.Buffer("orders")
	require.True(t, ok)
	require.NoError(t, buf.Append(models.Record{Values: map[string]models.Value{"id": models.Int(3), "amt": models.Int(30)}}))

	require.NoError(t, f.router.Run(ctx, protocol.NewReader(strings.NewReader(""))))
	assert.Equal(t, 3, f.steps.rows())
	assert.Equal(t, 0, buf.Len())
}
