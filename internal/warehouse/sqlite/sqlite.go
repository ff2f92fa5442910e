// Package sqlite implements the warehouse on an embedded SQLite database.
// Stage parts are read back from a local object store and inserted inside
// the load transaction. Only the "main" schema is available.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ajitpratap0/rsloader/internal/stage"
	"github.com/ajitpratap0/rsloader/internal/warehouse"
	"github.com/ajitpratap0/rsloader/pkg/errors"
	"github.com/ajitpratap0/rsloader/pkg/schema"
	"github.com/ajitpratap0/rsloader/pkg/storage"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// MainSchema is the only schema SQLite tables can live in.
const MainSchema = "main"

// Warehouse is a SQLite database file.
type Warehouse struct {
	db     *sql.DB
	parts  storage.Opener
	logger *zap.Logger
}

// Open opens (or creates) the database at path. parts reads stage files
// back during COPY.
func Open(ctx context.Context, path string, parts storage.Opener, logger *zap.Logger) (*Warehouse, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "create database directory")
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "open sqlite")
	}
	// SQLite has a single writer; one connection avoids SQLITE_BUSY between
	// concurrent loads.
	db.SetMaxOpenConns(1)

	w := &Warehouse{db: db, parts: parts, logger: logger}
	if err := w.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

// DB exposes the database for inspection.
func (w *Warehouse) DB() *sql.DB {
	return w.db
}

// Capabilities implements warehouse.Warehouse. SQLite does not enforce
// varchar lengths, so widening a varchar needs no DDL.
func (w *Warehouse) Capabilities() warehouse.Capabilities {
	return warehouse.Capabilities{}
}

// Ping checks the database is usable.
func (w *Warehouse) Ping(ctx context.Context) error {
	if err := w.db.PingContext(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "sqlite health check failed")
	}
	return nil
}

// Close closes the database.
func (w *Warehouse) Close() {
	if err := w.db.Close(); err != nil {
		w.logger.Warn("failed to close sqlite", zap.Error(err))
	}
}

// DescribeTable reads columns and primary key through PRAGMA table_info.
func (w *Warehouse) DescribeTable(ctx context.Context, ref schema.TableRef) (*schema.TableSchema, error) {
	if ref.Schema != MainSchema {
		return nil, errors.Newf(errors.ErrorTypeConfig, "sqlite tables must live in schema %q", MainSchema).WithTable(ref.String())
	}

	rows, err := w.db.QueryContext(ctx, fmt.Sprintf("PRAGMA %s.table_info(%s)", schema.QuoteIdent(ref.Schema), schema.QuoteIdent(ref.Name)))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to describe table").WithTable(ref.String())
	}
	defer rows.Close()

	out := &schema.TableSchema{Ref: ref}
	keys := map[int]string{}
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, typ        string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to scan table info").WithTable(ref.String())
		}
		out.Columns = append(out.Columns, schema.ColumnFromSQL(name, typ, 0))
		if pk > 0 {
			keys[pk] = strings.ToLower(name)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to read table info").WithTable(ref.String())
	}

	out.Exists = len(out.Columns) > 0
	for i := 1; i <= len(keys); i++ {
		out.PrimaryKey = append(out.PrimaryKey, keys[i])
	}
	return out, nil
}

// Acquire takes the database connection.
func (w *Warehouse) Acquire(ctx context.Context) (warehouse.Conn, error) {
	c, err := w.db.Conn(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to acquire sqlite connection")
	}
	return &conn{w: w, c: c}, nil
}

type conn struct {
	w *Warehouse
	c *sql.Conn
}

func (c *conn) Exec(ctx context.Context, stmt string) (int64, error) {
	res, err := c.c.ExecContext(ctx, stmt)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (c *conn) Begin(ctx context.Context) (warehouse.Tx, error) {
	tx, err := c.c.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &txn{w: c.w, tx: tx}, nil
}

func (c *conn) Release() {
	_ = c.c.Close()
}

type txn struct {
	w  *Warehouse
	tx *sql.Tx
}

func (t *txn) Exec(ctx context.Context, stmt string) (int64, error) {
	res, err := t.tx.ExecContext(ctx, stmt)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CopyFrom decodes every stage part and inserts its rows into table.
func (t *txn) CopyFrom(ctx context.Context, table string, art *stage.Artifact) (int64, error) {
	if t.w.parts == nil {
		return 0, errors.New(errors.ErrorTypeConfig, "sqlite warehouse needs a readable stage store")
	}

	cols := make([]string, len(art.Columns))
	marks := make([]string, len(art.Columns))
	for i, c := range art.Columns {
		cols[i] = schema.QuoteIdent(c)
		marks[i] = "?"
	}
	stmt, err := t.tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(marks, ", ")))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var n int64
	for _, key := range art.Keys {
		rows, err := t.readPart(ctx, key, art.Compression)
		if err != nil {
			return n, err
		}
		args := make([]interface{}, len(art.Columns))
		for _, row := range rows {
			if len(row) != len(art.Columns) {
				return n, fmt.Errorf("stage part %s: row has %d fields, want %d", key, len(row), len(art.Columns))
			}
			for i, field := range row {
				if field == nil {
					args[i] = nil
				} else {
					args[i] = *field
				}
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

func (t *txn) readPart(ctx context.Context, key string, c stage.Compression) ([][]*string, error) {
	rc, err := t.w.parts.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	dec, err := stage.OpenReader(c, rc)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	return stage.DecodeRows(dec)
}

func (t *txn) Commit(context.Context) error   { return t.tx.Commit() }
func (t *txn) Rollback(context.Context) error { return t.tx.Rollback() }
