package warehouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ajitpratap0/rsloader/pkg/errors"
	"github.com/ajitpratap0/rsloader/pkg/schema"
	"go.uber.org/zap"
)

// MigratorConfig configures a Migrator.
type MigratorConfig struct {
	// PrimaryKeyRequired rejects merging a keyed stream into an existing
	// table that declares no primary key.
	PrimaryKeyRequired bool

	// Grantees returns who receives access to tables created in a schema.
	Grantees func(schemaName string) Grantees
}

// MigrateRequest describes the columns a flush needs.
type MigrateRequest struct {
	Stream      string
	Table       schema.TableRef
	Columns     []schema.Column
	PrimaryKeys []string
}

// Migrator makes target tables cover the columns of each flush. DDL runs
// statement by statement outside any load transaction, under the schema
// cache's per-table lock.
type Migrator struct {
	wh     Warehouse
	cache  *schema.Cache
	cfg    MigratorConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewMigrator creates a migrator.
func NewMigrator(wh Warehouse, cache *schema.Cache, cfg MigratorConfig, logger *zap.Logger) *Migrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Grantees == nil {
		cfg.Grantees = func(string) Grantees { return Grantees{} }
	}
	return &Migrator{wh: wh, cache: cache, cfg: cfg, logger: logger, now: time.Now}
}

// Migrate creates or alters req.Table so it covers req.Columns and returns
// the applied delta.
func (m *Migrator) Migrate(ctx context.Context, req MigrateRequest) (schema.Delta, error) {
	if len(req.Columns) == 0 {
		return schema.Delta{}, errors.New(errors.ErrorTypeValidation, "no columns to migrate").
			WithStream(req.Stream).WithTable(req.Table.String())
	}
	return m.cache.Evolve(ctx, req.Table, req.Columns, func(ctx context.Context, live *schema.TableSchema, delta schema.Delta) error {
		return m.apply(ctx, req, live, delta)
	})
}

func (m *Migrator) apply(ctx context.Context, req MigrateRequest, live *schema.TableSchema, delta schema.Delta) error {
	if live.Exists && m.cfg.PrimaryKeyRequired && len(req.PrimaryKeys) > 0 && len(live.PrimaryKey) == 0 {
		return errors.New(errors.ErrorTypeMigration, "target table has no primary key but the stream declares one").
			WithStream(req.Stream).
			WithTable(req.Table.String()).
			WithDetail("key_properties", req.PrimaryKeys)
	}
	if delta.Empty() {
		return nil
	}

	conn, err := m.wh.Acquire(ctx)
	if err != nil {
		return m.fail(err, req, "acquire connection")
	}
	defer conn.Release()

	if !live.Exists {
		if err := m.create(ctx, conn, req, delta.Added); err != nil {
			return err
		}
		live.Exists = true
		live.PrimaryKey = append([]string(nil), req.PrimaryKeys...)
		return nil
	}

	caps := m.wh.Capabilities()
	for _, c := range delta.Added {
		if err := m.exec(ctx, conn, req, addColumnSQL(req.Table, c)); err != nil {
			return err
		}
		m.logger.Info("column added",
			zap.String("table", req.Table.String()),
			zap.String("column", c.Name),
			zap.String("type", c.SQLType()))
	}

	for _, w := range delta.Widened {
		cur, _ := live.Column(w.Name)
		if cur.Type == schema.TypeString && w.Type == schema.TypeString {
			if !caps.AlterColumnType {
				continue
			}
			if err := m.exec(ctx, conn, req, alterVarcharSQL(req.Table, w)); err != nil {
				return err
			}
			m.logger.Info("column widened",
				zap.String("table", req.Table.String()),
				zap.String("column", w.Name),
				zap.String("type", w.SQLType()))
			continue
		}

		// The type changes category: keep the old data under a versioned
		// name and re-add the column with the widened type.
		versioned := versionedName(live, w.Name, m.now())
		if err := m.exec(ctx, conn, req, renameColumnSQL(req.Table, w.Name, versioned)); err != nil {
			return err
		}
		live.Columns = append(live.Columns, schema.Column{Name: versioned, Type: cur.Type, Length: cur.Length})
		if err := m.exec(ctx, conn, req, addColumnSQL(req.Table, w)); err != nil {
			return err
		}
		m.logger.Warn("column versioned after type change",
			zap.String("table", req.Table.String()),
			zap.String("column", w.Name),
			zap.String("versioned_as", versioned),
			zap.String("from", cur.SQLType()),
			zap.String("to", w.SQLType()))
	}
	return nil
}

// versionedName names the column that keeps name's data after a type change.
// It is unique among live's columns, so repeated changes never collide.
func versionedName(live *schema.TableSchema, name string, at time.Time) string {
	base := name + "_" + at.UTC().Format("20060102_150405")
	versioned := base
	for i := 2; ; i++ {
		if _, taken := live.Column(versioned); !taken {
			return versioned
		}
		versioned = fmt.Sprintf("%s_%d", base, i)
	}
}

func (m *Migrator) create(ctx context.Context, conn Conn, req MigrateRequest, columns []schema.Column) error {
	caps := m.wh.Capabilities()
	grantees := m.cfg.Grantees(req.Table.Schema)

	if caps.Schemas {
		if err := m.exec(ctx, conn, req, createSchemaSQL(req.Table.Schema)); err != nil {
			return err
		}
		if caps.Grants {
			for _, stmt := range grantUsageSQL(req.Table.Schema, grantees) {
				if err := m.exec(ctx, conn, req, stmt); err != nil {
					return err
				}
			}
		}
	}

	if err := m.exec(ctx, conn, req, createTableSQL(req.Table.Quoted(), columns, req.PrimaryKeys, false)); err != nil {
		return err
	}

	if caps.Grants {
		for _, stmt := range grantSelectSQL(req.Table, grantees) {
			if err := m.exec(ctx, conn, req, stmt); err != nil {
				return err
			}
		}
	}

	m.logger.Info("table created",
		zap.String("stream", req.Stream),
		zap.String("table", req.Table.String()),
		zap.Int("columns", len(columns)),
		zap.Strings("primary_key", req.PrimaryKeys))
	return nil
}

func (m *Migrator) exec(ctx context.Context, conn Conn, req MigrateRequest, stmt string) error {
	m.logger.Debug("running DDL", zap.String("table", req.Table.String()), zap.String("sql", stmt))
	if _, err := conn.Exec(ctx, stmt); err != nil {
		return m.fail(err, req, "DDL failed").WithDetail("sql", stmt)
	}
	return nil
}

func (m *Migrator) fail(err error, req MigrateRequest, msg string) *errors.Error {
	return errors.Wrap(err, errors.ErrorTypeMigration, msg).
		WithStream(req.Stream).
		WithTable(req.Table.String())
}
