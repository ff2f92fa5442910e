// Package redshift implements the warehouse on Amazon Redshift over pgx.
// Batches are loaded with COPY from the S3 prefix shared by a stage
// artifact's parts.
package redshift

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/rsloader/internal/stage"
	"github.com/ajitpratap0/rsloader/internal/warehouse"
	"github.com/ajitpratap0/rsloader/pkg/errors"
	"github.com/ajitpratap0/rsloader/pkg/schema"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DefaultCopyOptions are appended to every COPY unless overridden.
const DefaultCopyOptions = "TIMEFORMAT 'auto' COMPUPDATE OFF STATUPDATE OFF"

// CredentialsFunc resolves the AWS keys COPY authenticates with when no IAM
// role is configured.
type CredentialsFunc func(ctx context.Context) (aws.Credentials, error)

// Config configures the Redshift connection and COPY behaviour.
type Config struct {
	Host           string
	Port           int
	User           string
	Password       string
	DBName         string
	SSLMode        string
	ConnectTimeout time.Duration
	MaxConns       int32

	IAMRole     string
	Credentials CredentialsFunc
	CopyOptions string
}

func (c Config) dsn() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   c.Host + ":" + strconv.Itoa(c.Port),
		Path:   "/" + c.DBName,
	}
	q := u.Query()
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Warehouse is a pooled Redshift connection.
type Warehouse struct {
	cfg    Config
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Open connects to Redshift and verifies the connection.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Warehouse, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Port == 0 {
		cfg.Port = 5439
	}
	if cfg.CopyOptions == "" {
		cfg.CopyOptions = DefaultCopyOptions
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.dsn())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse Redshift connection settings")
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	// Redshift does not support every extended-protocol feature pgx caches.
	poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create Redshift connection pool")
	}

	w := &Warehouse{cfg: cfg, pool: pool, logger: logger}
	if err := w.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("connected to Redshift",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.DBName),
		zap.Int32("max_connections", poolCfg.MaxConns))
	return w, nil
}

// Capabilities implements warehouse.Warehouse.
func (w *Warehouse) Capabilities() warehouse.Capabilities {
	return warehouse.Capabilities{Schemas: true, Grants: true, AlterColumnType: true}
}

// Ping runs a trivial query.
func (w *Warehouse) Ping(ctx context.Context) error {
	var one int
	if err := w.pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "Redshift health check failed")
	}
	return nil
}

// Close closes the pool.
func (w *Warehouse) Close() {
	w.pool.Close()
}

const describeColumnsSQL = `
	SELECT column_name, data_type, character_maximum_length
	FROM information_schema.columns
	WHERE table_schema = $1 AND table_name = $2
	ORDER BY ordinal_position`

const describePrimaryKeySQL = `
	SELECT kcu.column_name
	FROM information_schema.table_constraints tc
	JOIN information_schema.key_column_usage kcu
	  ON tc.constraint_name = kcu.constraint_name
	 AND tc.table_schema = kcu.table_schema
	 AND tc.table_name = kcu.table_name
	WHERE tc.constraint_type = 'PRIMARY KEY'
	  AND tc.table_schema = $1 AND tc.table_name = $2
	ORDER BY kcu.ordinal_position`

// DescribeTable reads the live columns and primary key of ref.
func (w *Warehouse) DescribeTable(ctx context.Context, ref schema.TableRef) (*schema.TableSchema, error) {
	out := &schema.TableSchema{Ref: ref}

	rows, err := w.pool.Query(ctx, describeColumnsSQL, ref.Schema, ref.Name)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to query table columns").WithTable(ref.String())
	}
	for rows.Next() {
		var (
			name, dataType string
			length         sql.NullInt64
		)
		if err := rows.Scan(&name, &dataType, &length); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to scan table column").WithTable(ref.String())
		}
		out.Columns = append(out.Columns, schema.ColumnFromSQL(name, dataType, int(length.Int64)))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to read table columns").WithTable(ref.String())
	}
	out.Exists = len(out.Columns) > 0
	if !out.Exists {
		return out, nil
	}

	pkRows, err := w.pool.Query(ctx, describePrimaryKeySQL, ref.Schema, ref.Name)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to query primary key").WithTable(ref.String())
	}
	keys, err := pgx.CollectRows(pkRows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to read primary key").WithTable(ref.String())
	}
	for _, k := range keys {
		out.PrimaryKey = append(out.PrimaryKey, strings.ToLower(k))
	}
	return out, nil
}

// Acquire takes a session from the pool.
func (w *Warehouse) Acquire(ctx context.Context) (warehouse.Conn, error) {
	c, err := w.pool.Acquire(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to acquire Redshift connection")
	}
	return &conn{w: w, c: c}, nil
}

type conn struct {
	w *Warehouse
	c *pgxpool.Conn
}

func (c *conn) Exec(ctx context.Context, stmt string) (int64, error) {
	tag, err := c.c.Exec(ctx, stmt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (c *conn) Begin(ctx context.Context) (warehouse.Tx, error) {
	tx, err := c.c.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &txn{w: c.w, tx: tx}, nil
}

func (c *conn) Release() {
	c.c.Release()
}

type txn struct {
	w  *Warehouse
	tx pgx.Tx
}

func (t *txn) Exec(ctx context.Context, stmt string) (int64, error) {
	tag, err := t.tx.Exec(ctx, stmt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CopyFrom loads every part under the artifact's prefix with one COPY.
func (t *txn) CopyFrom(ctx context.Context, table string, art *stage.Artifact) (int64, error) {
	auth, err := t.w.copyAuth(ctx)
	if err != nil {
		return 0, err
	}
	stmt := copySQL(table, art, auth, t.w.cfg.CopyOptions)
	t.w.logger.Debug("running COPY", zap.String("table", table), zap.String("from", art.URL))

	tag, err := t.tx.Exec(ctx, stmt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *txn) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *txn) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

func (w *Warehouse) copyAuth(ctx context.Context) (string, error) {
	if w.cfg.IAMRole != "" {
		return "IAM_ROLE " + literal(w.cfg.IAMRole), nil
	}
	if w.cfg.Credentials == nil {
		return "", errors.New(errors.ErrorTypeConfig, "COPY needs an IAM role or AWS credentials")
	}
	creds, err := w.cfg.Credentials(ctx)
	if err != nil {
		return "", err
	}
	return credentialsClause(creds), nil
}

func credentialsClause(creds aws.Credentials) string {
	auth := fmt.Sprintf("ACCESS_KEY_ID %s SECRET_ACCESS_KEY %s", literal(creds.AccessKeyID), literal(creds.SecretAccessKey))
	if creds.SessionToken != "" {
		auth += " SESSION_TOKEN " + literal(creds.SessionToken)
	}
	return auth
}

func copySQL(table string, art *stage.Artifact, auth, options string) string {
	cols := make([]string, len(art.Columns))
	for i, c := range art.Columns {
		cols[i] = schema.QuoteIdent(c)
	}

	parts := []string{
		fmt.Sprintf("COPY %s (%s) FROM %s", table, strings.Join(cols, ", "), literal(art.URL)),
		auth,
		`FORMAT AS CSV NULL AS '\\N'`,
	}
	if opt := art.Compression.CopyOption(); opt != "" {
		parts = append(parts, opt)
	}
	if options != "" {
		parts = append(parts, options)
	}
	return strings.Join(parts, " ")
}

func literal(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
