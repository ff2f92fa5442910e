package config

import (
	"time"
)

// Supported warehouse drivers.
const (
	DriverRedshift = "redshift"
	DriverSQLite   = "sqlite"
)

// LoaderConfig is the complete configuration of one loader run.
type LoaderConfig struct {
	// Warehouse is the target database
	Warehouse WarehouseConfig `mapstructure:"warehouse" yaml:"warehouse" json:"warehouse"`

	// Staging controls where stage files are written and how they are copied
	Staging StagingConfig `mapstructure:"staging" yaml:"staging" json:"staging"`

	// Target controls table naming and record handling
	Target TargetConfig `mapstructure:"target" yaml:"target" json:"target"`

	// Flush controls buffering and parallel flushing
	Flush FlushConfig `mapstructure:"flush" yaml:"flush" json:"flush"`

	Logging LoggingConfig `mapstructure:"logging" yaml:"logging" json:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics" json:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing" yaml:"tracing" json:"tracing"`
}

// WarehouseConfig describes the target database.
type WarehouseConfig struct {
	// Driver selects the warehouse implementation
	Driver string `mapstructure:"driver" yaml:"driver" json:"driver" validate:"required,oneof=redshift sqlite"`

	// Redshift connection
	Host           string        `mapstructure:"host" yaml:"host" json:"host" validate:"required_if=Driver redshift"`
	Port           int           `mapstructure:"port" yaml:"port" json:"port" validate:"min=0,max=65535"`
	User           string        `mapstructure:"user" yaml:"user" json:"user" validate:"required_if=Driver redshift"`
	Password       string        `mapstructure:"password" yaml:"password" json:"password"`
	DBName         string        `mapstructure:"dbname" yaml:"dbname" json:"dbname" validate:"required_if=Driver redshift"`
	SSLMode        string        `mapstructure:"ssl_mode" yaml:"ssl_mode" json:"ssl_mode" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout" json:"connect_timeout"`

	// Path is the database file for the sqlite driver
	Path string `mapstructure:"path" yaml:"path" json:"path" validate:"required_if=Driver sqlite"`
}

// StagingConfig describes object storage for stage files.
type StagingConfig struct {
	// Bucket is the S3 bucket; stage files go to LocalDir when it is empty
	Bucket   string `mapstructure:"bucket" yaml:"bucket" json:"bucket"`
	Region   string `mapstructure:"region" yaml:"region" json:"region"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint" validate:"omitempty,url"`
	Profile  string `mapstructure:"profile" yaml:"profile" json:"profile"`

	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id" json:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key" json:"secret_access_key" validate:"required_with=AccessKeyID"`
	SessionToken    string `mapstructure:"session_token" yaml:"session_token" json:"session_token"`
	ACL             string `mapstructure:"acl" yaml:"acl" json:"acl"`

	// LocalDir holds stage files when no bucket is configured
	LocalDir string `mapstructure:"local_dir" yaml:"local_dir" json:"local_dir"`

	KeyPrefix   string `mapstructure:"key_prefix" yaml:"key_prefix" json:"key_prefix"`
	Compression string `mapstructure:"compression" yaml:"compression" json:"compression" validate:"omitempty,oneof=none gzip zstd"`
	// Slices splits each batch into this many part files
	Slices int `mapstructure:"slices" yaml:"slices" json:"slices" validate:"min=1,max=128"`

	// CopyRoleARN authorizes COPY through an IAM role instead of keys
	CopyRoleARN string `mapstructure:"copy_role_arn" yaml:"copy_role_arn" json:"copy_role_arn"`
	CopyOptions string `mapstructure:"copy_options" yaml:"copy_options" json:"copy_options"`

	// RetainFiles keeps stage files after a successful load
	RetainFiles bool `mapstructure:"retain_files" yaml:"retain_files" json:"retain_files"`
}

// Grants lists who receives USAGE and SELECT on created objects.
type Grants struct {
	Users  []string `mapstructure:"users" yaml:"users" json:"users"`
	Groups []string `mapstructure:"groups" yaml:"groups" json:"groups"`
}

// SchemaMapping routes one source schema to a target schema.
type SchemaMapping struct {
	TargetSchema string `mapstructure:"target_schema" yaml:"target_schema" json:"target_schema" validate:"required"`
	Grants       Grants `mapstructure:"grants" yaml:"grants" json:"grants"`
}

// TargetConfig controls table naming and record handling.
type TargetConfig struct {
	// DefaultSchema receives streams without a schema mapping
	DefaultSchema string `mapstructure:"default_schema" yaml:"default_schema" json:"default_schema" validate:"required"`
	// DefaultGrants applies to DefaultSchema
	DefaultGrants Grants `mapstructure:"default_grants" yaml:"default_grants" json:"default_grants"`
	// SchemaMapping is keyed by source schema name
	SchemaMapping map[string]SchemaMapping `mapstructure:"schema_mapping" yaml:"schema_mapping" json:"schema_mapping" validate:"omitempty,dive"`

	AddMetadataColumns bool `mapstructure:"add_metadata_columns" yaml:"add_metadata_columns" json:"add_metadata_columns"`
	// HardDelete removes rows whose _sdc_deleted_at is set; it turns on
	// metadata columns
	HardDelete bool `mapstructure:"hard_delete" yaml:"hard_delete" json:"hard_delete"`
	// SkipUpdates only inserts keys that are not in the table yet
	SkipUpdates bool `mapstructure:"skip_updates" yaml:"skip_updates" json:"skip_updates"`

	FlatteningMaxLevel int  `mapstructure:"flattening_max_level" yaml:"flattening_max_level" json:"flattening_max_level" validate:"min=0,max=10"`
	PrimaryKeyRequired bool `mapstructure:"primary_key_required" yaml:"primary_key_required" json:"primary_key_required"`
	ValidateRecords    bool `mapstructure:"validate_records" yaml:"validate_records" json:"validate_records"`
	DisableTableCache  bool `mapstructure:"disable_table_cache" yaml:"disable_table_cache" json:"disable_table_cache"`
}

// MetadataColumns reports whether _sdc_* columns are added to records.
func (t TargetConfig) MetadataColumns() bool {
	return t.AddMetadataColumns || t.HardDelete
}

// SchemaFor returns the target schema and grantees for a source schema.
func (t TargetConfig) SchemaFor(source string) (string, Grants) {
	if m, ok := t.SchemaMapping[source]; ok && m.TargetSchema != "" {
		return m.TargetSchema, m.Grants
	}
	return t.DefaultSchema, t.DefaultGrants
}

// FlushConfig controls buffering thresholds and parallel flushing.
type FlushConfig struct {
	// BatchSizeRows flushes a stream once it buffers this many rows
	BatchSizeRows int `mapstructure:"batch_size_rows" yaml:"batch_size_rows" json:"batch_size_rows" validate:"min=1"`
	// BatchMaxBytes flushes a stream once its estimated size reaches this
	BatchMaxBytes int64 `mapstructure:"batch_max_bytes" yaml:"batch_max_bytes" json:"batch_max_bytes" validate:"min=1"`
	// FlushAllStreams flushes every stream whenever one stream flushes
	FlushAllStreams bool `mapstructure:"flush_all_streams" yaml:"flush_all_streams" json:"flush_all_streams"`
	// Parallelism: >0 fixed, 0 one per stream, -1 one per CPU
	Parallelism    int `mapstructure:"parallelism" yaml:"parallelism" json:"parallelism" validate:"min=-1"`
	MaxParallelism int `mapstructure:"max_parallelism" yaml:"max_parallelism" json:"max_parallelism" validate:"min=1"`
}

// LoggingConfig mirrors logger.Config.
type LoggingConfig struct {
	Level       string `mapstructure:"level" yaml:"level" json:"level" validate:"omitempty,oneof=debug info warn error"`
	Development bool   `mapstructure:"development" yaml:"development" json:"development"`
	Encoding    string `mapstructure:"encoding" yaml:"encoding" json:"encoding" validate:"omitempty,oneof=json console"`
	File        string `mapstructure:"file" yaml:"file" json:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb" yaml:"max_size_mb" json:"max_size_mb" validate:"min=0"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups" json:"max_backups" validate:"min=0"`
	MaxAgeDays  int    `mapstructure:"max_age_days" yaml:"max_age_days" json:"max_age_days" validate:"min=0"`
}

// MetricsConfig enables the Prometheus endpoint.
type MetricsConfig struct {
	// ListenAddress serves /metrics when set, e.g. ":9102"
	ListenAddress string `mapstructure:"listen_address" yaml:"listen_address" json:"listen_address" validate:"omitempty,hostname_port"`
}

// TracingConfig enables flush tracing.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name" json:"service_name"`
	// Output is a file path; spans go to stderr when empty
	Output string `mapstructure:"output" yaml:"output" json:"output"`
}

// Default returns a configuration with defaults applied.
func Default() *LoaderConfig {
	return &LoaderConfig{
		Warehouse: WarehouseConfig{
			Driver:         DriverRedshift,
			Port:           5439,
			SSLMode:        "require",
			ConnectTimeout: 30 * time.Second,
		},
		Staging: StagingConfig{
			LocalDir:    "stage",
			Compression: "gzip",
			Slices:      1,
			CopyOptions: "TIMEFORMAT 'auto' COMPUPDATE OFF STATUPDATE OFF",
		},
		Target: TargetConfig{
			DefaultSchema:      "public",
			PrimaryKeyRequired: true,
		},
		Flush: FlushConfig{
			BatchSizeRows:  100000,
			BatchMaxBytes:  1 << 30,
			Parallelism:    0,
			MaxParallelism: 16,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Encoding:   "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
		Tracing: TracingConfig{
			ServiceName: "rsloader",
		},
	}
}
