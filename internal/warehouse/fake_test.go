package warehouse

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ajitpratap0/rsloader/internal/stage"
	"github.com/ajitpratap0/rsloader/pkg/schema"
)

// recordingWarehouse records every statement and fails those containing
// failOn.
type recordingWarehouse struct {
	mu     sync.Mutex
	caps   Capabilities
	tables map[schema.TableRef]*schema.TableSchema
	stmts  []string
	failOn string
}

func newRecordingWarehouse(caps Capabilities) *recordingWarehouse {
	return &recordingWarehouse{caps: caps, tables: map[schema.TableRef]*schema.TableSchema{}}
}

func (r *recordingWarehouse) DescribeTable(_ context.Context, ref schema.TableRef) (*schema.TableSchema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tables[ref]; ok {
		return t.Clone(), nil
	}
	return &schema.TableSchema{Ref: ref}, nil
}

func (r *recordingWarehouse) Acquire(context.Context) (Conn, error) { return &recordingConn{r: r}, nil }
func (r *recordingWarehouse) Capabilities() Capabilities            { return r.caps }
func (r *recordingWarehouse) Ping(context.Context) error            { return nil }
func (r *recordingWarehouse) Close()                                {}

func (r *recordingWarehouse) exec(stmt string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stmts = append(r.stmts, stmt)
	if r.failOn != "" && strings.Contains(stmt, r.failOn) {
		return 0, fmt.Errorf("statement rejected: %s", stmt)
	}
	return 1, nil
}

func (r *recordingWarehouse) statements() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.stmts...)
}

type recordingConn struct{ r *recordingWarehouse }

func (c *recordingConn) Exec(_ context.Context, stmt string) (int64, error) { return c.r.exec(stmt) }
func (c *recordingConn) Begin(context.Context) (Tx, error)                  { return &recordingTx{r: c.r}, nil }
func (c *recordingConn) Release()                                           {}

type recordingTx struct{ r *recordingWarehouse }

func (t *recordingTx) Exec(_ context.Context, stmt string) (int64, error) { return t.r.exec(stmt) }
func (t *recordingTx) CopyFrom(_ context.Context, table string, art *stage.Artifact) (int64, error) {
	if _, err := t.r.exec("COPY " + table); err != nil {
		return 0, err
	}
	return int64(art.Rows), nil
}
func (t *recordingTx) Commit(context.Context) error {
	_, err := t.r.exec("COMMIT")
	return err
}
func (t *recordingTx) Rollback(context.Context) error {
	_, err := t.r.exec("ROLLBACK")
	return err
}
