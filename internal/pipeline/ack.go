package pipeline

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/ajitpratap0/rsloader/pkg/errors"
	"github.com/ajitpratap0/rsloader/pkg/metrics"
	"go.uber.org/zap"
)

// AckSink receives released checkpoint positions, in release order.
type AckSink interface {
	Emit(ctx context.Context, position string) error
}

// StateEmitter writes each released position as one line, the way a Singer
// target reports state.
type StateEmitter struct {
	mu     sync.Mutex
	w      io.Writer
	logger *zap.Logger
}

// NewStateEmitter creates an emitter writing to w.
func NewStateEmitter(w io.Writer, logger *zap.Logger) *StateEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateEmitter{w: w, logger: logger}
}

// Emit implements AckSink.
func (e *StateEmitter) Emit(_ context.Context, position string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	line := append(bytes.TrimSpace([]byte(position)), '\n')
	if _, err := e.w.Write(line); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to emit state")
	}
	if f, ok := e.w.(interface{ Sync() error }); ok {
		_ = f.Sync()
	}
	e.logger.Debug("state emitted", zap.String("state", string(line[:len(line)-1])))
	return nil
}

// AckMarker is a checkpoint waiting for flushes. Requires maps a stream to
// the flush sequence that must have committed before Position is released.
type AckMarker struct {
	Position string
	Requires map[string]uint64
}

// AckTracker releases markers in the order they were added, each once every
// flush it requires has committed. A marker whose flush failed is never
// released, and neither is any marker behind it.
type AckTracker struct {
	sink   AckSink
	logger *zap.Logger

	mu        sync.Mutex
	committed map[string]uint64
	markers   []*AckMarker
	released  int
	emitErr   error
}

// NewAckTracker creates a tracker emitting to sink.
func NewAckTracker(sink AckSink, logger *zap.Logger) *AckTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AckTracker{
		sink:      sink,
		logger:    logger,
		committed: make(map[string]uint64),
	}
}

// Add registers a checkpoint and releases whatever is satisfied.
func (a *AckTracker) Add(ctx context.Context, m *AckMarker) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.markers = append(a.markers, m)
	return a.releaseLocked(ctx)
}

// Commit records that stream committed the flush with sequence seq, then
// releases whatever is satisfied.
func (a *AckTracker) Commit(ctx context.Context, stream string, seq uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if seq > a.committed[stream] {
		a.committed[stream] = seq
	}
	return a.releaseLocked(ctx)
}

// Committed returns the highest committed flush sequence of stream.
func (a *AckTracker) Committed(stream string) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.committed[stream]
}

// Pending returns how many markers are still held.
func (a *AckTracker) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.markers)
}

// Released returns how many markers have been emitted.
func (a *AckTracker) Released() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.released
}

// releaseLocked emits markers from the front of the queue while they are
// satisfied. Emission happens under the lock so positions reach the sink in
// order.
func (a *AckTracker) releaseLocked(ctx context.Context) error {
	defer func() { metrics.PendingCheckpoints.Set(float64(len(a.markers))) }()
	if a.emitErr != nil {
		return a.emitErr
	}
	for len(a.markers) > 0 && a.satisfied(a.markers[0]) {
		m := a.markers[0]
		if err := a.sink.Emit(ctx, m.Position); err != nil {
			a.emitErr = err
			return err
		}
		a.markers[0] = nil
		a.markers = a.markers[1:]
		a.released++
		metrics.CheckpointsEmitted.Inc()
	}
	return nil
}

func (a *AckTracker) satisfied(m *AckMarker) bool {
	for stream, seq := range m.Requires {
		if a.committed[stream] < seq {
			return false
		}
	}
	return true
}
