package stage

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/rsloader/pkg/errors"
	"github.com/ajitpratap0/rsloader/pkg/models"
	"github.com/ajitpratap0/rsloader/pkg/pool"
	"github.com/ajitpratap0/rsloader/pkg/schema"
	"github.com/ajitpratap0/rsloader/pkg/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SequenceColumn is the leading column of merge-mode stage files. It carries
// each row's arrival index within the batch so the load can keep the latest
// row per key.
const SequenceColumn = "__rs_seq"

// maxParallelUploads bounds concurrent part uploads of one artifact.
const maxParallelUploads = 4

// Request is one batch to stage.
type Request struct {
	Stream       string
	Table        schema.TableRef
	Seq          uint64
	Columns      []schema.Column
	Records      []models.Record
	WithSequence bool
}

// Artifact describes uploaded stage parts. All parts share Prefix, so a
// warehouse that loads by prefix picks up exactly this batch.
type Artifact struct {
	Prefix      string
	Keys        []string
	URL         string
	Columns     []string
	Rows        int
	Bytes       int64
	Compression Compression
}

// HasSequence reports whether the parts lead with SequenceColumn.
func (a *Artifact) HasSequence() bool {
	return len(a.Columns) > 0 && a.Columns[0] == SequenceColumn
}

// WriterConfig configures a Writer.
type WriterConfig struct {
	// KeyPrefix is prepended to every object key.
	KeyPrefix   string
	Compression Compression
	// Slices splits each batch into this many parts so the warehouse can
	// load them in parallel.
	Slices int
}

// Writer encodes batches and uploads them.
type Writer struct {
	store  storage.ObjectStore
	cfg    WriterConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewWriter creates a stage writer.
func NewWriter(store storage.ObjectStore, cfg WriterConfig, logger *zap.Logger) *Writer {
	if cfg.Slices <= 0 {
		cfg.Slices = 1
	}
	if cfg.Compression == "" {
		cfg.Compression = CompressionNone
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{store: store, cfg: cfg, logger: logger, now: time.Now}
}

// Store returns the object store parts are written to.
func (w *Writer) Store() storage.ObjectStore {
	return w.store
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9_.]+`)

func (w *Writer) prefix(req Request) string {
	stream := unsafeKeyChars.ReplaceAllString(req.Stream, "_")
	return fmt.Sprintf("%srsloader_%s_%d_%s_%s.csv%s",
		w.cfg.KeyPrefix, stream, req.Seq,
		w.now().UTC().Format("20060102T150405"),
		strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		w.cfg.Compression.Extension())
}

// Write encodes req.Records in arrival order and uploads them as one or more
// parts. A failed upload removes any parts already written.
func (w *Writer) Write(ctx context.Context, req Request) (*Artifact, error) {
	if len(req.Records) == 0 {
		return nil, errors.New(errors.ErrorTypeInternal, "empty stage request").WithStream(req.Stream)
	}

	art := &Artifact{
		Prefix:      w.prefix(req),
		Rows:        len(req.Records),
		Compression: w.cfg.Compression,
	}
	if req.WithSequence {
		art.Columns = append(art.Columns, SequenceColumn)
	}
	for _, c := range req.Columns {
		art.Columns = append(art.Columns, c.Name)
	}
	art.URL = w.store.URL(art.Prefix)

	parts := split(len(req.Records), w.cfg.Slices)
	art.Keys = make([]string, len(parts))
	sizes := make([]int64, len(parts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelUploads)
	for p, bounds := range parts {
		p, bounds := p, bounds
		key := art.Prefix + "." + strconv.Itoa(p+1)
		art.Keys[p] = key
		g.Go(func() error {
			raw := encodeBuffers.Get()
			defer encodeBuffers.Put(raw)

			*raw = w.encode(*raw, req, bounds[0], bounds[1])
			body, err := compress(w.cfg.Compression, *raw)
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeUpload, "compress stage part")
			}
			if _, err := w.store.Put(gctx, key, body, map[string]string{
				"stream": req.Stream,
				"rows":   strconv.Itoa(bounds[1] - bounds[0]),
			}); err != nil {
				return err
			}
			sizes[p] = int64(len(body))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		w.cleanup(context.WithoutCancel(ctx), art.Keys)
		return nil, errors.Wrap(err, errors.ErrorTypeUpload, "failed to upload stage file").
			WithStream(req.Stream).
			WithTable(req.Table.String()).
			WithRows(len(req.Records))
	}

	for _, n := range sizes {
		art.Bytes += n
	}

	w.logger.Debug("stage file written",
		zap.String("stream", req.Stream),
		zap.String("prefix", art.Prefix),
		zap.Int("parts", len(art.Keys)),
		zap.Int("rows", art.Rows),
		zap.Int64("bytes", art.Bytes))
	return art, nil
}

// encodeBuffers holds the uncompressed text of parts being uploaded.
var encodeBuffers = pool.New(
	func() *[]byte { b := make([]byte, 0, 256*1024); return &b },
	func(b *[]byte) { *b = (*b)[:0] },
)

// encode appends records [from, to) of req to buf.
func (w *Writer) encode(buf []byte, req Request, from, to int) []byte {
	width := len(req.Columns)
	if req.WithSequence {
		width++
	}
	values := make([]models.Value, width)
	for i := from; i < to; i++ {
		rec := req.Records[i]
		j := 0
		if req.WithSequence {
			values[0] = models.Int(int64(i))
			j = 1
		}
		for _, c := range req.Columns {
			values[j] = rec.Get(c.Name)
			j++
		}
		buf = AppendRow(buf, values)
	}
	return buf
}

// Remove deletes every part of a.
func (w *Writer) Remove(ctx context.Context, a *Artifact) error {
	var firstErr error
	for _, key := range a.Keys {
		if err := w.store.Delete(ctx, key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (w *Writer) cleanup(ctx context.Context, keys []string) {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := w.store.Delete(ctx, key); err != nil {
			w.logger.Warn("failed to remove stage part", zap.String("key", key), zap.Error(err))
		}
	}
}

// split divides n rows into at most slices contiguous [from, to) ranges.
func split(n, slices int) [][2]int {
	if slices > n {
		slices = n
	}
	if slices < 1 {
		slices = 1
	}
	out := make([][2]int, 0, slices)
	size, rem := n/slices, n%slices
	from := 0
	for i := 0; i < slices; i++ {
		to := from + size
		if i < rem {
			to++
		}
		out = append(out, [2]int{from, to})
		from = to
	}
	return out
}
