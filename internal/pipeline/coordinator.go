package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ajitpratap0/rsloader/internal/stage"
	"github.com/ajitpratap0/rsloader/pkg/metrics"
	"github.com/ajitpratap0/rsloader/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// FlushSteps performs the work of one flush. The coordinator calls Stage,
// Migrate and Load in that order, then Cleanup once a stage artifact exists,
// whether or not the later steps succeeded.
type FlushSteps interface {
	Stage(ctx context.Context, snap *Snapshot) (*stage.Artifact, error)
	Migrate(ctx context.Context, snap *Snapshot) error
	Load(ctx context.Context, snap *Snapshot, art *stage.Artifact) error
	Cleanup(ctx context.Context, art *stage.Artifact)
}

// FlushTask is one drained snapshot moving through the flush steps.
type FlushTask struct {
	Snapshot *Snapshot

	state atomic.Int32
	done  chan struct{}
	err   error
}

func newFlushTask(snap *Snapshot) *FlushTask {
	return &FlushTask{Snapshot: snap, done: make(chan struct{})}
}

// Stream returns the task's stream.
func (t *FlushTask) Stream() string { return t.Snapshot.Stream }

// Seq returns the task's flush sequence within its stream.
func (t *FlushTask) Seq() uint64 { return t.Snapshot.Seq }

// State returns the current state.
func (t *FlushTask) State() TaskState { return TaskState(t.state.Load()) }

// Done is closed once the task is COMMITTED or FAILED.
func (t *FlushTask) Done() <-chan struct{} { return t.done }

// Err returns the failure of a FAILED task. Valid after Done is closed.
func (t *FlushTask) Err() error { return t.err }

func (t *FlushTask) advance(s TaskState) {
	t.state.Store(int32(s))
}

// Coordinator runs flush tasks on a bounded pool. A stream has at most one
// task in flight: the next flush of a stream waits for the previous one to
// finish before the buffer is drained.
type Coordinator struct {
	steps  FlushSteps
	ack    *AckTracker
	logger *zap.Logger

	group errgroup.Group

	mu       sync.Mutex
	last     map[string]*FlushTask
	firstErr error
	failed   atomic.Bool

	active    atomic.Int32
	maxActive atomic.Int32
}

// NewCoordinator creates a coordinator running at most parallelism tasks at
// once.
func NewCoordinator(steps FlushSteps, ack *AckTracker, parallelism int, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if parallelism < 1 {
		parallelism = 1
	}
	c := &Coordinator{
		steps:  steps,
		ack:    ack,
		logger: logger,
		last:   make(map[string]*FlushTask),
	}
	c.group.SetLimit(parallelism)
	return c
}

// Flush drains buf into a new task and schedules it. It first waits for the
// stream's previous task, then blocks while the pool is full. Neither wait
// is cut short by ctx: scheduled flushes are awaited, never abandoned. It
// returns nil when the buffer is empty, and the run's failure once one has
// happened.
func (c *Coordinator) Flush(ctx context.Context, buf *StreamBuffer) (*FlushTask, error) {
	if err := c.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	prev := c.last[buf.Stream()]
	c.mu.Unlock()
	if prev != nil {
		// prev runs detached from any caller context, so it always finishes.
		<-prev.Done()
		if err := c.Err(); err != nil {
			return nil, err
		}
	}

	snap := buf.Drain()
	if snap == nil {
		return nil, nil
	}
	task := newFlushTask(snap)

	c.mu.Lock()
	c.last[snap.Stream] = task
	c.mu.Unlock()

	c.logger.Debug("flush scheduled",
		zap.String("stream", snap.Stream),
		zap.Uint64("seq", snap.Seq),
		zap.Int("rows", snap.Rows()))

	// Flushes are awaited, never aborted, once scheduled.
	runCtx := context.WithoutCancel(ctx)
	c.group.Go(func() error {
		c.run(runCtx, task)
		return nil
	})
	return task, nil
}

// FlushAll flushes every buffer that holds records.
func (c *Coordinator) FlushAll(ctx context.Context, buffers []*StreamBuffer) error {
	for _, buf := range buffers {
		if buf.Len() == 0 {
			continue
		}
		if _, err := c.Flush(ctx, buf); err != nil {
			return err
		}
	}
	return nil
}

// Checkpoint registers position. It is released once every stream's
// in-flight flush has committed, and for streams with buffered records, once
// the flush that will carry those records has committed too.
func (c *Coordinator) Checkpoint(ctx context.Context, position string, buffers []*StreamBuffer) error {
	requires := make(map[string]uint64)

	c.mu.Lock()
	for stream, task := range c.last {
		if task.State() != StateCommitted {
			requires[stream] = task.Seq()
		}
	}
	c.mu.Unlock()

	for _, buf := range buffers {
		if buf.Len() > 0 {
			requires[buf.Stream()] = buf.FlushSeq() + 1
		}
	}

	if err := c.ack.Add(ctx, &AckMarker{Position: position, Requires: requires}); err != nil {
		c.fail(err)
		return err
	}
	return nil
}

// Wait blocks until every scheduled task is terminal.
func (c *Coordinator) Wait() error {
	_ = c.group.Wait()
	return c.Err()
}

// Close waits for in-flight tasks. When flushRemaining is set and nothing has
// failed, buffers still holding records are flushed and awaited too. It
// returns the first failure of the run.
func (c *Coordinator) Close(ctx context.Context, buffers []*StreamBuffer, flushRemaining bool) error {
	if err := c.Wait(); err != nil {
		return err
	}
	if !flushRemaining {
		return nil
	}
	if err := c.FlushAll(ctx, buffers); err != nil {
		_ = c.Wait()
		return err
	}
	return c.Wait()
}

// Err returns the first failure, if any.
func (c *Coordinator) Err() error {
	if !c.failed.Load() {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.firstErr
}

// MaxActive returns the highest number of tasks seen past PENDING at once.
func (c *Coordinator) MaxActive() int {
	return int(c.maxActive.Load())
}

func (c *Coordinator) fail(err error) {
	c.mu.Lock()
	if c.firstErr == nil {
		c.firstErr = err
	}
	c.mu.Unlock()
	c.failed.Store(true)
}

func (c *Coordinator) run(ctx context.Context, task *FlushTask) {
	n := c.active.Add(1)
	for {
		m := c.maxActive.Load()
		if n <= m || c.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	metrics.ActiveFlushes.Inc()
	defer func() {
		c.active.Add(-1)
		metrics.ActiveFlushes.Dec()
		close(task.done)
	}()

	snap := task.Snapshot
	logger := c.logger.With(
		zap.String("stream", snap.Stream),
		zap.String("table", snap.Table.String()),
		zap.Uint64("seq", snap.Seq))
	start := time.Now()

	ctx, span := observability.StartSpan(ctx, "flush",
		attribute.String("stream", snap.Stream),
		attribute.String("table", snap.Table.String()),
		attribute.Int64("seq", int64(snap.Seq)),
		attribute.Int("rows", snap.Rows()))

	err := c.execute(ctx, task)
	if err == nil {
		task.advance(StateCommitted)
		metrics.Flushes.WithLabelValues(snap.Stream, "committed").Inc()
		logger.Info("flush committed",
			zap.Int("rows", snap.Rows()),
			zap.Duration("duration", time.Since(start)))
		if ackErr := c.ack.Commit(ctx, snap.Stream, snap.Seq); ackErr != nil {
			c.fail(ackErr)
			err = ackErr
		}
		span.End(err)
		return
	}

	task.err = err
	task.advance(StateFailed)
	c.fail(err)
	metrics.Flushes.WithLabelValues(snap.Stream, "failed").Inc()
	logger.Error("flush failed", zap.Int("rows", snap.Rows()), zap.Error(err))
	span.End(err)
}

func (c *Coordinator) execute(ctx context.Context, task *FlushTask) error {
	snap := task.Snapshot

	task.advance(StateStaging)
	var art *stage.Artifact
	err := step(ctx, "stage", func(ctx context.Context) (err error) {
		art, err = c.steps.Stage(ctx, snap)
		return err
	})
	if err != nil {
		return err
	}

	task.advance(StateMigrating)
	if err := step(ctx, "migrate", func(ctx context.Context) error {
		return c.steps.Migrate(ctx, snap)
	}); err != nil {
		c.steps.Cleanup(ctx, art)
		return err
	}

	task.advance(StateLoading)
	if err := step(ctx, "load", func(ctx context.Context) error {
		return c.steps.Load(ctx, snap, art)
	}); err != nil {
		c.steps.Cleanup(ctx, art)
		return err
	}

	c.steps.Cleanup(ctx, art)
	return nil
}

func step(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	timer := metrics.NewTimer(name)
	err := observability.Trace(ctx, "flush."+name, fn)
	metrics.ObserveStep(name, timer.Stop())
	return err
}
