// Package rsloader is a Singer target that loads streams into Amazon Redshift.
//
// It reads SCHEMA, RECORD, STATE and ACTIVATE_VERSION messages from stdin,
// buffers records per stream, stages full buffers as compressed CSV in S3 and
// loads each batch into its target table in a single transaction. Flushes of
// different streams run in parallel; a STATE message is written back to
// stdout only once every record that arrived before it has been committed.
//
// # Architecture
//
// A run is a single ingestion goroutine feeding a bounded flush pool:
//
//	stdin -> protocol.Reader -> pipeline.Router -> StreamBuffer (per stream)
//	                                   |
//	                                   v
//	                       pipeline.Coordinator (errgroup, N workers)
//	                         stage -> migrate -> load -> cleanup
//	                                   |
//	                                   v
//	                       pipeline.AckTracker -> stdout (STATE)
//
// 1. Ordered ingestion: messages are handled strictly in arrival order, so a
// stream's buffer and its schema declarations never race.
//
// 2. One flush per stream: a stream's next flush waits for its previous one,
// while flushes of different streams overlap up to the configured parallelism.
//
// 3. Additive schema evolution: target tables only gain columns or widen
// them. A change of type category renames the old column out of the way
// instead of rewriting data.
//
// 4. Acknowledge after commit: checkpoints are released in order, each once
// every flush it depends on has committed. A failed flush stops the run and
// no later checkpoint is ever emitted.
//
// # Quick Start
//
//	tap-postgres --config tap.json | rsloader run --config loader.yaml > state.json
//
// A minimal configuration:
//
//	warehouse:
//	  driver: redshift
//	  host: examplecluster.abc123.us-west-2.redshift.amazonaws.com
//	  user: loader
//	  password: ${REDSHIFT_PASSWORD}
//	  dbname: dev
//	staging:
//	  bucket: my-stage-bucket
//	  copy_role_arn: arn:aws:iam::123456789012:role/redshift-copy
//	target:
//	  default_schema: analytics
//
// # Key Packages
//
//	internal/protocol  - Singer message reader
//	internal/pipeline  - Buffers, router, flush coordinator, checkpoint tracker
//	internal/stage     - Stage file codec and writer
//	internal/warehouse - Migrator, loader, Redshift and SQLite implementations
//	pkg/schema         - Column type lattice, JSON schema mapping, table cache
//	pkg/models         - Records and typed values
//	pkg/storage        - S3 and local object stores
//	pkg/config         - Configuration loading and validation
//	pkg/errors         - Structured error handling
//	pkg/logger         - Structured logging
//	pkg/metrics        - Prometheus metrics
//	pkg/observability  - Flush tracing
//
// # Development
//
// The SQLite warehouse driver loads into a local database file and reads
// stage files from a local directory, so the whole pipeline runs without AWS:
//
//	warehouse:
//	  driver: sqlite
//	  path: ./dev.db
//	staging:
//	  local_dir: ./stage
package rsloader
