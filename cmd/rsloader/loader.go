package main

import (
	"context"
	"io"
	"time"

	"github.com/ajitpratap0/rsloader/internal/pipeline"
	"github.com/ajitpratap0/rsloader/internal/protocol"
	"github.com/ajitpratap0/rsloader/internal/stage"
	"github.com/ajitpratap0/rsloader/internal/warehouse"
	"github.com/ajitpratap0/rsloader/internal/warehouse/redshift"
	"github.com/ajitpratap0/rsloader/internal/warehouse/sqlite"
	"github.com/ajitpratap0/rsloader/pkg/config"
	"github.com/ajitpratap0/rsloader/pkg/errors"
	"github.com/ajitpratap0/rsloader/pkg/schema"
	"github.com/ajitpratap0/rsloader/pkg/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// loader is one fully wired run: store, warehouse and the flush pipeline.
type loader struct {
	cfg     *config.LoaderConfig
	store   storage.ObjectStore
	wh      warehouse.Warehouse
	targets *pipeline.Targets
	logger  *zap.Logger
}

// openLoader connects the stage store and the warehouse.
func openLoader(ctx context.Context, cfg *config.LoaderConfig, logger *zap.Logger) (*loader, error) {
	store, err := openStore(ctx, cfg.Staging, logger)
	if err != nil {
		return nil, err
	}

	targets := pipeline.NewTargets(cfg.Target)
	var wh warehouse.Warehouse
	switch cfg.Warehouse.Driver {
	case config.DriverSQLite:
		opener, ok := store.(storage.Opener)
		if !ok {
			return nil, errors.New(errors.ErrorTypeConfig, "the sqlite warehouse needs a local stage directory, not a bucket")
		}
		wh, err = sqlite.Open(ctx, cfg.Warehouse.Path, opener, logger.Named("sqlite"))
		targets.ForceSchema = sqlite.MainSchema
	default:
		rcfg := redshift.Config{
			Host:           cfg.Warehouse.Host,
			Port:           cfg.Warehouse.Port,
			User:           cfg.Warehouse.User,
			Password:       cfg.Warehouse.Password,
			DBName:         cfg.Warehouse.DBName,
			SSLMode:        cfg.Warehouse.SSLMode,
			ConnectTimeout: cfg.Warehouse.ConnectTimeout,
			MaxConns:       int32(cfg.Flush.ResolveParallelism() + 1),
			IAMRole:        cfg.Staging.CopyRoleARN,
			CopyOptions:    cfg.Staging.CopyOptions,
		}
		if s3, ok := store.(*storage.S3Store); ok && rcfg.IAMRole == "" {
			rcfg.Credentials = s3.Credentials
		}
		wh, err = redshift.Open(ctx, rcfg, logger.Named("redshift"))
	}
	if err != nil {
		return nil, err
	}

	return &loader{cfg: cfg, store: store, wh: wh, targets: targets, logger: logger}, nil
}

func openStore(ctx context.Context, cfg config.StagingConfig, logger *zap.Logger) (storage.ObjectStore, error) {
	if cfg.Bucket == "" {
		local, err := storage.NewLocalStore(cfg.LocalDir)
		if err != nil {
			return nil, err
		}
		return local, nil
	}
	s3, err := storage.NewS3Store(ctx, storage.S3Options{
		Bucket:          cfg.Bucket,
		Region:          cfg.Region,
		Endpoint:        cfg.Endpoint,
		Profile:         cfg.Profile,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		SessionToken:    cfg.SessionToken,
		ACL:             cfg.ACL,
	}, logger.Named("s3"))
	if err != nil {
		return nil, err
	}
	return s3, nil
}

// Close releases the warehouse connection.
func (l *loader) Close() {
	l.wh.Close()
}

// Check verifies the warehouse answers and the stage store is writable.
func (l *loader) Check(ctx context.Context) error {
	if err := l.wh.Ping(ctx); err != nil {
		return err
	}
	return l.store.Check(ctx)
}

// Run reads messages from in until the end of input and writes released
// state to out.
func (l *loader) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	compression, err := stage.ParseCompression(l.cfg.Staging.Compression)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	logger := l.logger.With(zap.String("run_id", runID))
	target := l.cfg.Target
	flush := l.cfg.Flush
	parallelism := flush.ResolveParallelism()

	cache := schema.NewCache(l.wh, !target.DisableTableCache, logger.Named("schema"))
	migrator := warehouse.NewMigrator(l.wh, cache, warehouse.MigratorConfig{
		PrimaryKeyRequired: target.PrimaryKeyRequired,
		Grantees:           l.targets.Grantees,
	}, logger.Named("migrator"))
	writer := stage.NewWriter(l.store, stage.WriterConfig{
		KeyPrefix:   l.cfg.Staging.KeyPrefix,
		Compression: compression,
		Slices:      l.cfg.Staging.Slices,
	}, logger.Named("stage"))

	steps := pipeline.NewWarehouseSteps(writer, cache, migrator, warehouse.NewLoader(l.wh, logger.Named("loader")),
		pipeline.StepsConfig{
			HardDelete:  target.HardDelete,
			SkipUpdates: target.SkipUpdates,
			RetainFiles: l.cfg.Staging.RetainFiles,
		}, logger)
	ack := pipeline.NewAckTracker(pipeline.NewStateEmitter(out, logger), logger)
	coord := pipeline.NewCoordinator(steps, ack, parallelism, logger.Named("coordinator"))
	router := pipeline.NewRouter(pipeline.RouterConfig{
		Buffer: pipeline.BufferConfig{
			RowThreshold:  flush.BatchSizeRows,
			ByteThreshold: flush.BatchMaxBytes,
		},
		FlushAllStreams:    flush.FlushAllStreams,
		PrimaryKeyRequired: target.PrimaryKeyRequired,
		ValidateRecords:    target.ValidateRecords,
		MetadataColumns:    target.MetadataColumns(),
		FlatteningMaxLevel: target.FlatteningMaxLevel,
	}, l.targets.Resolve, coord, logger.Named("router"))

	logger.Info("loader started",
		zap.String("driver", l.cfg.Warehouse.Driver),
		zap.Int("parallelism", parallelism),
		zap.Int("batch_size_rows", flush.BatchSizeRows))

	start := time.Now()
	err = router.Run(ctx, protocol.NewReader(in))

	fields := []zap.Field{
		zap.Duration("duration", time.Since(start)),
		zap.Int("streams", len(router.Buffers())),
		zap.Int("checkpoints_emitted", ack.Released()),
		zap.Int("checkpoints_pending", ack.Pending()),
		zap.Int("max_parallel_flushes", coord.MaxActive()),
	}
	if err != nil {
		logger.Error("loader failed", append(fields, zap.Error(err))...)
		return err
	}
	logger.Info("loader finished", fields...)
	return nil
}
