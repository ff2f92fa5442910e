package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/ajitpratap0/rsloader/pkg/errors"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides: RSLOADER_WAREHOUSE_PASSWORD
// overrides warehouse.password.
const EnvPrefix = "RSLOADER"

// Load reads a YAML or JSON configuration file. ${VAR_NAME} references in
// the file are replaced with environment values before parsing, and
// RSLOADER_* variables override individual keys. The result is validated.
func Load(path string) (*LoaderConfig, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the command line
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read config file").
			WithDetail("path", path)
	}
	return Parse(data, configType(path))
}

// Parse decodes configuration content of the given type ("yaml" or "json").
func Parse(data []byte, kind string) (*LoaderConfig, error) {
	v := newViper()
	v.SetConfigType(kind)
	if err := v.ReadConfig(bytes.NewReader([]byte(substituteEnvVars(string(data))))); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse config")
	}
	return decode(v)
}

// FromEnv builds a configuration from defaults and RSLOADER_* variables only.
func FromEnv() (*LoaderConfig, error) {
	return decode(newViper())
}

func decode(v *viper.Viper) (*LoaderConfig, error) {
	cfg := &LoaderConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// setDefaults registers every key so AutomaticEnv can override keys the file
// does not mention.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("warehouse.driver", d.Warehouse.Driver)
	v.SetDefault("warehouse.host", "")
	v.SetDefault("warehouse.port", d.Warehouse.Port)
	v.SetDefault("warehouse.user", "")
	v.SetDefault("warehouse.password", "")
	v.SetDefault("warehouse.dbname", "")
	v.SetDefault("warehouse.ssl_mode", d.Warehouse.SSLMode)
	v.SetDefault("warehouse.connect_timeout", d.Warehouse.ConnectTimeout)
	v.SetDefault("warehouse.path", "")

	v.SetDefault("staging.bucket", "")
	v.SetDefault("staging.region", "")
	v.SetDefault("staging.endpoint", "")
	v.SetDefault("staging.profile", "")
	v.SetDefault("staging.access_key_id", "")
	v.SetDefault("staging.secret_access_key", "")
	v.SetDefault("staging.session_token", "")
	v.SetDefault("staging.acl", "")
	v.SetDefault("staging.local_dir", d.Staging.LocalDir)
	v.SetDefault("staging.key_prefix", "")
	v.SetDefault("staging.compression", d.Staging.Compression)
	v.SetDefault("staging.slices", d.Staging.Slices)
	v.SetDefault("staging.copy_role_arn", "")
	v.SetDefault("staging.copy_options", d.Staging.CopyOptions)
	v.SetDefault("staging.retain_files", false)

	v.SetDefault("target.default_schema", d.Target.DefaultSchema)
	v.SetDefault("target.add_metadata_columns", false)
	v.SetDefault("target.hard_delete", false)
	v.SetDefault("target.skip_updates", false)
	v.SetDefault("target.flattening_max_level", 0)
	v.SetDefault("target.primary_key_required", d.Target.PrimaryKeyRequired)
	v.SetDefault("target.validate_records", false)
	v.SetDefault("target.disable_table_cache", false)

	v.SetDefault("flush.batch_size_rows", d.Flush.BatchSizeRows)
	v.SetDefault("flush.batch_max_bytes", d.Flush.BatchMaxBytes)
	v.SetDefault("flush.flush_all_streams", false)
	v.SetDefault("flush.parallelism", d.Flush.Parallelism)
	v.SetDefault("flush.max_parallelism", d.Flush.MaxParallelism)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.encoding", d.Logging.Encoding)
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", d.Logging.MaxAgeDays)

	v.SetDefault("metrics.listen_address", "")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.output", "")
}

func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	default:
		return "yaml"
	}
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values.
// Substituted values are not scanned again.
func substituteEnvVars(content string) string {
	var b strings.Builder
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		b.WriteString(content[:start])
		b.WriteString(os.Getenv(content[start+2 : end]))
		content = content[end+1:]
	}
	b.WriteString(content)
	return b.String()
}
