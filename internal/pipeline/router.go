package pipeline

import (
	"context"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/ajitpratap0/rsloader/internal/protocol"
	"github.com/ajitpratap0/rsloader/internal/warehouse"
	"github.com/ajitpratap0/rsloader/pkg/errors"
	"github.com/ajitpratap0/rsloader/pkg/metrics"
	"github.com/ajitpratap0/rsloader/pkg/models"
	"github.com/ajitpratap0/rsloader/pkg/schema"
	"go.uber.org/zap"
)

// Metadata columns added to every record when enabled.
const (
	ExtractedAtColumn = "_sdc_extracted_at"
	BatchedAtColumn   = "_sdc_batched_at"
	DeletedAtColumn   = warehouse.DeletedAtColumn
)

// RouterConfig controls how events become buffered records.
type RouterConfig struct {
	Buffer BufferConfig
	// FlushAllStreams flushes every stream when one reaches a threshold
	FlushAllStreams    bool
	PrimaryKeyRequired bool
	ValidateRecords    bool
	MetadataColumns    bool
	FlatteningMaxLevel int
}

// TableResolver maps a stream id to its target table.
type TableResolver func(stream string) (schema.TableRef, error)

// Router consumes events in arrival order on a single goroutine, appends
// records to stream buffers and triggers flushes and checkpoints.
type Router struct {
	cfg     RouterConfig
	resolve TableResolver
	coord   *Coordinator
	logger  *zap.Logger
	now     func() time.Time

	buffers  map[string]*StreamBuffer
	order    []string
	position string
}

// NewRouter creates a router.
func NewRouter(cfg RouterConfig, resolve TableResolver, coord *Coordinator, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		cfg:     cfg,
		resolve: resolve,
		coord:   coord,
		logger:  logger,
		now:     time.Now,
		buffers: make(map[string]*StreamBuffer),
	}
}

// Run reads events until the end of input or the first failure. At the end
// of input the remaining buffers are flushed; after a failure only the
// in-flight flushes are awaited. Cancelling ctx stops the run at the next
// event like a failure does. Either way every checkpoint that became
// satisfied has been emitted when Run returns.
func (r *Router) Run(ctx context.Context, reader *protocol.Reader) error {
	for {
		ev, err := reader.Next()
		if err == io.EOF {
			return r.coord.Close(ctx, r.Buffers(), true)
		}
		if err == nil && ctx.Err() != nil {
			err = errors.Wrap(ctx.Err(), errors.ErrorTypeInternal, "run interrupted")
		}
		if err == nil {
			err = r.Handle(ctx, ev)
		}
		if err == nil {
			err = r.coord.Err()
		}
		if err != nil {
			if closeErr := r.coord.Close(ctx, r.Buffers(), false); closeErr != nil {
				r.logger.Debug("flush failure while stopping", zap.Error(closeErr))
			}
			return err
		}
	}
}

// Handle processes one event.
func (r *Router) Handle(ctx context.Context, ev protocol.Event) error {
	switch e := ev.(type) {
	case protocol.SchemaEvent:
		return r.handleSchema(ctx, e)
	case protocol.RecordEvent:
		return r.handleRecord(ctx, e)
	case protocol.CheckpointRequest:
		r.position = string(e.Position)
		return r.coord.Checkpoint(ctx, r.position, r.Buffers())
	case protocol.ActivateVersion:
		r.logger.Debug("ACTIVATE_VERSION message ignored",
			zap.String("stream", e.Stream),
			zap.Int64("version", e.Version))
		return nil
	default:
		return errors.Newf(errors.ErrorTypeProtocol, "unsupported event %T", ev)
	}
}

// Buffers returns the stream buffers in the order streams were declared.
func (r *Router) Buffers() []*StreamBuffer {
	out := make([]*StreamBuffer, 0, len(r.order))
	for _, s := range r.order {
		out = append(out, r.buffers[s])
	}
	return out
}

// Buffer returns the buffer of stream.
func (r *Router) Buffer(stream string) (*StreamBuffer, bool) {
	b, ok := r.buffers[stream]
	return b, ok
}

func (r *Router) handleSchema(ctx context.Context, e protocol.SchemaEvent) error {
	if r.cfg.PrimaryKeyRequired && len(e.KeyProperties) == 0 {
		return errors.New(errors.ErrorTypeValidation, "primary key is required but the stream declares none").
			WithStream(e.Stream)
	}

	columns, err := schema.ColumnsFromJSONSchema(e.Schema, r.cfg.FlatteningMaxLevel)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "invalid stream schema").WithStream(e.Stream)
	}
	if r.cfg.MetadataColumns {
		columns = append(columns, metadataColumns()...)
	}
	for _, k := range e.KeyProperties {
		if !hasColumn(columns, k) {
			return errors.Newf(errors.ErrorTypeValidation, "primary key column %q is not in the schema", k).
				WithStream(e.Stream)
		}
	}

	if buf, ok := r.buffers[e.Stream]; ok {
		// The schema may have changed: what was buffered under the old
		// declaration is flushed first.
		if buf.Len() > 0 {
			if _, err := r.coord.Flush(ctx, buf); err != nil {
				return err
			}
		}
		return buf.Redeclare(columns, e.KeyProperties)
	}

	table, err := r.resolve(e.Stream)
	if err != nil {
		return err
	}
	r.buffers[e.Stream] = NewStreamBuffer(e.Stream, table, columns, e.KeyProperties, r.cfg.Buffer)
	r.order = append(r.order, e.Stream)
	r.logger.Info("stream declared",
		zap.String("stream", e.Stream),
		zap.String("table", table.String()),
		zap.Strings("key_properties", e.KeyProperties),
		zap.Int("columns", len(columns)))
	return nil
}

func (r *Router) handleRecord(ctx context.Context, e protocol.RecordEvent) error {
	buf, ok := r.buffers[e.Stream]
	if !ok {
		return errors.Newf(errors.ErrorTypeProtocol, "a record for stream %s was encountered before a corresponding schema", e.Stream).
			WithStream(e.Stream).
			WithDetail("line", e.Line())
	}

	rec, err := r.convert(buf, e)
	if err != nil {
		return err
	}
	if err := buf.Append(rec); err != nil {
		return err
	}
	metrics.RecordsBuffered.WithLabelValues(e.Stream).Inc()

	if !buf.ShouldFlush(false) {
		return nil
	}
	if r.cfg.FlushAllStreams {
		return r.coord.FlushAll(ctx, r.Buffers())
	}
	_, err = r.coord.Flush(ctx, buf)
	return err
}

// convert turns a decoded record into typed values. Keys are lowercased and
// nested objects flattened the way the schema was; declared date-time
// columns parse their strings as timestamps.
func (r *Router) convert(buf *StreamBuffer, e protocol.RecordEvent) (models.Record, error) {
	flat := schema.FlattenRecord(e.Record, r.cfg.FlatteningMaxLevel)
	rec := models.NewRecord(len(flat) + 3)
	rec.Position = r.position

	names := make([]string, 0, len(flat))
	for k := range flat {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, k := range names {
		name := strings.ToLower(k)
		v, err := models.FromJSON(flat[k])
		if err != nil {
			return rec, errors.Wrap(err, errors.ErrorTypeValidation, "invalid value").
				WithStream(e.Stream).
				WithDetail("column", name)
		}
		declared, known := buf.Column(name)
		if known && declared.Type == schema.TypeTimestamp {
			v = models.AsTimestamp(v)
		}
		if r.cfg.ValidateRecords && known && !conforms(declared, v) {
			return rec, errors.Newf(errors.ErrorTypeValidation, "record does not pass schema validation: %s is %s, declared %s",
				name, v.Kind(), declared.SQLType()).
				WithStream(e.Stream).
				WithDetail("line", e.Line())
		}
		rec.Values[name] = v
	}

	if r.cfg.MetadataColumns {
		if e.TimeExtracted.IsZero() {
			rec.Values[ExtractedAtColumn] = models.Null()
		} else {
			rec.Values[ExtractedAtColumn] = models.Timestamp(e.TimeExtracted)
		}
		rec.Values[BatchedAtColumn] = models.Timestamp(r.now())

		deleted := rec.Get(DeletedAtColumn)
		if !deleted.IsNull() && deleted.Kind() != models.KindString {
			deleted = models.String(deleted.Text())
		}
		rec.Values[DeletedAtColumn] = deleted
		rec.Deleted = !deleted.IsNull()
	}
	return rec, nil
}

// conforms reports whether v is of the declared column's kind. Lengths are
// not checked; longer strings widen the column instead.
func conforms(declared schema.Column, v models.Value) bool {
	obs, ok := schema.Observe(declared.Name, v)
	if !ok {
		return true
	}
	return schema.Widen(declared, obs).Type == declared.Type
}

func metadataColumns() []schema.Column {
	return []schema.Column{
		{Name: ExtractedAtColumn, Type: schema.TypeTimestamp},
		{Name: BatchedAtColumn, Type: schema.TypeTimestamp},
		{Name: DeletedAtColumn, Type: schema.TypeString, Length: schema.DefaultVarcharLength},
	}
}

func hasColumn(columns []schema.Column, name string) bool {
	for _, c := range columns {
		if c.Name == name {
			return true
		}
	}
	return false
}
