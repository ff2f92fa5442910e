package pipeline

import (
	"context"
	"sort"

	"github.com/ajitpratap0/rsloader/internal/stage"
	"github.com/ajitpratap0/rsloader/internal/warehouse"
	"github.com/ajitpratap0/rsloader/pkg/metrics"
	"github.com/ajitpratap0/rsloader/pkg/schema"
	"go.uber.org/zap"
)

// StepsConfig controls how snapshots are loaded.
type StepsConfig struct {
	HardDelete  bool
	SkipUpdates bool
	// RetainFiles keeps stage files after the load
	RetainFiles bool
}

// WarehouseSteps flushes snapshots through a stage writer, the schema
// migrator and the loader.
type WarehouseSteps struct {
	writer   *stage.Writer
	cache    *schema.Cache
	migrator *warehouse.Migrator
	loader   *warehouse.Loader
	cfg      StepsConfig
	logger   *zap.Logger
}

// NewWarehouseSteps wires the flush steps together. cache must be the cache
// the migrator evolves.
func NewWarehouseSteps(writer *stage.Writer, cache *schema.Cache, migrator *warehouse.Migrator, loader *warehouse.Loader, cfg StepsConfig, logger *zap.Logger) *WarehouseSteps {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WarehouseSteps{
		writer:   writer,
		cache:    cache,
		migrator: migrator,
		loader:   loader,
		cfg:      cfg,
		logger:   logger,
	}
}

// Stage implements FlushSteps. The file holds the snapshot's columns in
// order, then any other column the table is known to have, sorted by name.
func (s *WarehouseSteps) Stage(ctx context.Context, snap *Snapshot) (*stage.Artifact, error) {
	cached, _ := s.cache.Describe(snap.Table)
	art, err := s.writer.Write(ctx, stage.Request{
		Stream:       snap.Stream,
		Table:        snap.Table,
		Seq:          snap.Seq,
		Columns:      stageColumns(snap.Columns, cached.Columns),
		Records:      snap.Records,
		WithSequence: len(snap.PrimaryKeys) > 0,
	})
	if err != nil {
		return nil, err
	}
	metrics.StageBytes.WithLabelValues(snap.Stream).Add(float64(art.Bytes))
	return art, nil
}

// Migrate implements FlushSteps.
func (s *WarehouseSteps) Migrate(ctx context.Context, snap *Snapshot) error {
	delta, err := s.migrator.Migrate(ctx, warehouse.MigrateRequest{
		Stream:      snap.Stream,
		Table:       snap.Table,
		Columns:     snap.Columns,
		PrimaryKeys: snap.PrimaryKeys,
	})
	if err != nil {
		return err
	}
	if n := len(delta.Added); n > 0 {
		metrics.SchemaChanges.WithLabelValues(snap.Table.String(), "added").Add(float64(n))
	}
	if n := len(delta.Widened); n > 0 {
		metrics.SchemaChanges.WithLabelValues(snap.Table.String(), "widened").Add(float64(n))
	}
	return nil
}

// Load implements FlushSteps. Staged columns take their types from the
// migrated table so the staging table matches the target.
func (s *WarehouseSteps) Load(ctx context.Context, snap *Snapshot, art *stage.Artifact) error {
	live, _ := s.cache.Describe(snap.Table)

	names := art.Columns
	if art.HasSequence() {
		names = names[1:]
	}
	columns := make([]schema.Column, 0, len(names))
	for _, name := range names {
		if c, ok := live.Column(name); ok {
			columns = append(columns, c)
			continue
		}
		for _, c := range snap.Columns {
			if c.Name == name {
				columns = append(columns, c)
				break
			}
		}
	}

	res, err := s.loader.Load(ctx, warehouse.LoadRequest{
		Stream:      snap.Stream,
		Table:       snap.Table,
		Seq:         snap.Seq,
		Artifact:    art,
		Columns:     columns,
		PrimaryKeys: snap.PrimaryKeys,
		HardDelete:  s.cfg.HardDelete,
		SkipUpdates: s.cfg.SkipUpdates,
	})
	if err != nil {
		return err
	}

	mode := "append"
	if len(snap.PrimaryKeys) > 0 {
		mode = "merge"
	}
	metrics.RowsLoaded.WithLabelValues(snap.Table.String(), mode).Add(float64(res.Inserted))
	return nil
}

// Cleanup implements FlushSteps. Failing to remove stage files is logged,
// not fatal.
func (s *WarehouseSteps) Cleanup(ctx context.Context, art *stage.Artifact) {
	if art == nil || s.cfg.RetainFiles {
		return
	}
	if err := s.writer.Remove(ctx, art); err != nil {
		s.logger.Warn("failed to remove stage files",
			zap.String("prefix", art.Prefix),
			zap.Error(err))
	}
}

func stageColumns(snapshot, cached []schema.Column) []schema.Column {
	out := append([]schema.Column(nil), snapshot...)
	seen := make(map[string]bool, len(snapshot))
	for _, c := range snapshot {
		seen[c.Name] = true
	}
	var extra []schema.Column
	for _, c := range cached {
		if !seen[c.Name] {
			extra = append(extra, c)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i].Name < extra[j].Name })
	return append(out, extra...)
}
