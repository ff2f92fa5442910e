package warehouse

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ajitpratap0/rsloader/internal/stage"
	"github.com/ajitpratap0/rsloader/pkg/errors"
	"github.com/ajitpratap0/rsloader/pkg/schema"
	"go.uber.org/zap"
)

// LoadRequest is one staged batch to load.
type LoadRequest struct {
	Stream   string
	Table    schema.TableRef
	Seq      uint64
	Artifact *stage.Artifact
	// Columns are the staged data columns, in file order, without the
	// sequence column.
	Columns     []schema.Column
	PrimaryKeys []string
	HardDelete  bool
	SkipUpdates bool
}

// LoadResult counts what a committed load did.
type LoadResult struct {
	Staged   int64
	Deleted  int64
	Inserted int64
	Duration time.Duration
}

// Loader runs load transactions.
type Loader struct {
	wh      Warehouse
	logger  *zap.Logger
	staging atomic.Uint64
}

// NewLoader creates a loader.
func NewLoader(wh Warehouse, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{wh: wh, logger: logger}
}

// Load commits the batch in one transaction. Keyed batches are merged: the
// latest row per key replaces any existing row. Unkeyed batches are
// appended. With HardDelete, rows flagged deleted are removed instead.
func (l *Loader) Load(ctx context.Context, req LoadRequest) (LoadResult, error) {
	start := time.Now()
	if req.Artifact == nil {
		return LoadResult{}, l.fail(fmt.Errorf("no stage artifact"), req, "nothing to load")
	}

	conn, err := l.wh.Acquire(ctx)
	if err != nil {
		return LoadResult{}, l.fail(err, req, "acquire connection")
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return LoadResult{}, l.fail(err, req, "begin transaction")
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
				l.logger.Warn("rollback failed", zap.String("table", req.Table.String()), zap.Error(rbErr))
			}
		}
	}()

	hardDelete := req.HardDelete && hasColumn(req.Columns, DeletedAtColumn)

	var res LoadResult
	if len(req.PrimaryKeys) > 0 && req.Artifact.HasSequence() {
		res, err = l.merge(ctx, tx, req, hardDelete)
	} else {
		res, err = l.appendBatch(ctx, tx, req, hardDelete)
	}
	if err != nil {
		return LoadResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return LoadResult{}, l.fail(err, req, "commit")
	}
	committed = true
	res.Duration = time.Since(start)

	l.logger.Info("batch loaded",
		zap.String("stream", req.Stream),
		zap.String("table", req.Table.String()),
		zap.Uint64("seq", req.Seq),
		zap.Int64("staged", res.Staged),
		zap.Int64("inserted", res.Inserted),
		zap.Int64("deleted", res.Deleted),
		zap.Duration("duration", res.Duration))
	return res, nil
}

func (l *Loader) merge(ctx context.Context, tx Tx, req LoadRequest, hardDelete bool) (LoadResult, error) {
	var res LoadResult
	staging := l.stagingName(req)

	if _, err := tx.Exec(ctx, createTableSQL(q(staging), stagingColumns(req.Columns), nil, true)); err != nil {
		return res, l.fail(err, req, "create staging table")
	}

	n, err := tx.CopyFrom(ctx, q(staging), req.Artifact)
	if err != nil {
		return res, l.fail(err, req, "copy into staging table")
	}
	res.Staged = n

	if !req.SkipUpdates {
		if res.Deleted, err = tx.Exec(ctx, deleteMatchingSQL(req.Table, staging, req.PrimaryKeys)); err != nil {
			return res, l.fail(err, req, "delete replaced rows")
		}
	}

	if res.Inserted, err = tx.Exec(ctx, insertLatestSQL(req.Table, staging, req.Columns, req.PrimaryKeys, hardDelete, req.SkipUpdates)); err != nil {
		return res, l.fail(err, req, "insert latest rows")
	}

	if _, err := tx.Exec(ctx, dropTableSQL(q(staging))); err != nil {
		return res, l.fail(err, req, "drop staging table")
	}
	return res, nil
}

func (l *Loader) appendBatch(ctx context.Context, tx Tx, req LoadRequest, hardDelete bool) (LoadResult, error) {
	var res LoadResult
	n, err := tx.CopyFrom(ctx, req.Table.Quoted(), req.Artifact)
	if err != nil {
		return res, l.fail(err, req, "copy into target table")
	}
	res.Staged, res.Inserted = n, n

	if hardDelete {
		if res.Deleted, err = tx.Exec(ctx, deleteFlaggedSQL(req.Table)); err != nil {
			return res, l.fail(err, req, "delete flagged rows")
		}
	}
	return res, nil
}

// stagingName is unique per load so concurrent loads of one table never
// share a staging table.
func (l *Loader) stagingName(req LoadRequest) string {
	name := req.Table.Name
	if len(name) > 80 {
		name = name[:80]
	}
	return fmt.Sprintf("stg_%s_%d_%d", name, req.Seq, l.staging.Add(1))
}

func (l *Loader) fail(err error, req LoadRequest, msg string) *errors.Error {
	rows := 0
	if req.Artifact != nil {
		rows = req.Artifact.Rows
	}
	return errors.Wrap(err, errors.ErrorTypeLoad, msg).
		WithStream(req.Stream).
		WithTable(req.Table.String()).
		WithRows(rows)
}
