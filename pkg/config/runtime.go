package config

import (
	"runtime"

	"github.com/ajitpratap0/rsloader/pkg/errors"
	"github.com/ajitpratap0/rsloader/pkg/logger"
	"github.com/shirou/gopsutil/v3/cpu"
	"gopkg.in/yaml.v3"
)

// cpuCount is swapped in tests.
var cpuCount = func() int {
	n, err := cpu.Counts(true)
	if err != nil || n < 1 {
		return runtime.NumCPU()
	}
	return n
}

// ResolveParallelism turns the configured parallelism into a worker count.
// A positive value is used as is; 0 allows one worker per stream up to
// MaxParallelism (the per-stream gate keeps a stream to one task at a time);
// -1 uses one worker per logical CPU up to MaxParallelism.
func (f FlushConfig) ResolveParallelism() int {
	limit := f.MaxParallelism
	if limit < 1 {
		limit = 1
	}
	switch {
	case f.Parallelism > 0:
		return f.Parallelism
	case f.Parallelism == -1:
		return min(cpuCount(), limit)
	default:
		return limit
	}
}

// LoggerConfig converts the logging section.
func (l LoggingConfig) LoggerConfig() logger.Config {
	return logger.Config{
		Level:       l.Level,
		Development: l.Development,
		Encoding:    l.Encoding,
		File:        l.File,
		MaxSizeMB:   l.MaxSizeMB,
		MaxBackups:  l.MaxBackups,
		MaxAgeDays:  l.MaxAgeDays,
	}
}

const redacted = "********"

// Dump renders the configuration as YAML with secrets masked.
func (c *LoaderConfig) Dump() ([]byte, error) {
	safe := *c
	mask(&safe.Warehouse.Password)
	mask(&safe.Staging.SecretAccessKey)
	mask(&safe.Staging.SessionToken)

	out, err := yaml.Marshal(&safe)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to marshal config")
	}
	return out, nil
}

func mask(s *string) {
	if *s != "" {
		*s = redacted
	}
}
