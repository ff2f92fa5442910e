// Package pipeline buffers records per stream and flushes them to the
// warehouse through a bounded pool of workers, acknowledging checkpoints only
// once every flush they depend on has committed.
package pipeline

import (
	"fmt"

	"github.com/ajitpratap0/rsloader/pkg/models"
	"github.com/ajitpratap0/rsloader/pkg/schema"
)

// TaskState is the lifecycle of one flush task. States only move forward:
// PENDING, STAGING, MIGRATING, LOADING, then COMMITTED, or FAILED from any
// non-terminal state.
type TaskState int32

const (
	StatePending TaskState = iota
	StateStaging
	StateMigrating
	StateLoading
	StateCommitted
	StateFailed
)

var taskStateNames = [...]string{"PENDING", "STAGING", "MIGRATING", "LOADING", "COMMITTED", "FAILED"}

func (s TaskState) String() string {
	if int(s) < len(taskStateNames) {
		return taskStateNames[s]
	}
	return fmt.Sprintf("TaskState(%d)", s)
}

// Terminal reports whether no further transition is possible.
func (s TaskState) Terminal() bool {
	return s == StateCommitted || s == StateFailed
}

// StreamState is a point-in-time view of a stream buffer.
type StreamState struct {
	Stream      string
	Table       schema.TableRef
	Columns     []schema.Column
	PrimaryKeys []string
	Rows        int
	Bytes       int64
	// Position is the last checkpoint position seen before the newest
	// buffered record.
	Position string
	FlushSeq uint64
}

// Snapshot is what a drain moves out of a buffer. It is never modified
// after the drain.
type Snapshot struct {
	Stream  string
	Table   schema.TableRef
	Seq     uint64
	Columns []schema.Column
	// Delta lists the columns added or widened since the previous drain.
	Delta       schema.Delta
	PrimaryKeys []string
	Records     []models.Record
	Bytes       int64
}

// Rows returns the number of records in the snapshot.
func (s *Snapshot) Rows() int {
	return len(s.Records)
}
