// Package warehouse evolves target tables and loads staged batches into them.
//
// The Migrator applies schema deltas outside of any load transaction; the
// Loader runs each batch in a single transaction that either commits every
// row or none. Both work against the Warehouse interface, implemented for
// Redshift (redshift package) and SQLite (sqlite package).
package warehouse

import (
	"context"

	"github.com/ajitpratap0/rsloader/internal/stage"
	"github.com/ajitpratap0/rsloader/pkg/schema"
)

// Capabilities describes dialect differences the migrator must respect.
type Capabilities struct {
	// Schemas is true when CREATE SCHEMA is supported.
	Schemas bool
	// Grants is true when GRANT statements are supported.
	Grants bool
	// AlterColumnType is true when varchar columns can be widened in place.
	AlterColumnType bool
}

// Warehouse is a pooled connection to the target database.
type Warehouse interface {
	schema.Introspector

	Acquire(ctx context.Context) (Conn, error)
	Capabilities() Capabilities
	Ping(ctx context.Context) error
	Close()
}

// Conn is a single session. Statements run through Exec autocommit.
type Conn interface {
	Exec(ctx context.Context, sql string) (int64, error)
	Begin(ctx context.Context) (Tx, error)
	Release()
}

// Tx is a load transaction.
type Tx interface {
	Exec(ctx context.Context, sql string) (int64, error)

	// CopyFrom bulk loads every part of art into table, an already quoted
	// identifier, using art.Columns as the column list.
	CopyFrom(ctx context.Context, table string, art *stage.Artifact) (int64, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Grantees receive SELECT on created tables and USAGE on created schemas.
type Grantees struct {
	Users  []string `mapstructure:"users" yaml:"users,omitempty" json:"users,omitempty"`
	Groups []string `mapstructure:"groups" yaml:"groups,omitempty" json:"groups,omitempty"`
}

// Empty reports whether there is nobody to grant to.
func (g Grantees) Empty() bool {
	return len(g.Users) == 0 && len(g.Groups) == 0
}
