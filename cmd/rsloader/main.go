package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/rsloader/pkg/config"
	"github.com/ajitpratap0/rsloader/pkg/logger"
	"github.com/ajitpratap0/rsloader/pkg/metrics"
	"github.com/ajitpratap0/rsloader/pkg/observability"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCmd(os.Stdin, os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(stdin io.Reader, stdout io.Writer) *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:   "rsloader",
		Short: "rsloader - Singer target loading streams into Redshift",
		Long: `rsloader reads Singer SCHEMA, RECORD and STATE messages from stdin, stages
records as compressed CSV in S3 and loads them into Redshift with parallel,
transactional flushes. STATE messages are echoed to stdout once every record
before them is committed.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to a YAML or JSON configuration file; the environment (RSLOADER_*) is used when omitted")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "rsloader v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}
			data, err := cfg.Dump()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Verify the warehouse connection and the stage store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}
			log, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			l, err := openLoader(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer l.Close()
			if err := l.Check(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	})

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Load Singer messages from stdin",
		Long: `Load Singer messages from stdin into the configured warehouse.

Example:
  tap-postgres --config tap.json | rsloader run --config loader.yaml > state.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, stdin, stdout)
		},
	}
	root.AddCommand(runCmd)
	root.SetContext(context.Background())

	return root
}

func loadConfig(path string) (*config.LoaderConfig, error) {
	if path == "" {
		return config.FromEnv()
	}
	return config.Load(path)
}

func setupLogger(cfg *config.LoaderConfig) (*zap.Logger, error) {
	if err := logger.Init(cfg.Logging.LoggerConfig()); err != nil {
		return nil, err
	}
	return logger.Get(), nil
}

// run wires the observability stack around one loader run.
func run(ctx context.Context, cfg *config.LoaderConfig, in io.Reader, out io.Writer) error {
	log, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdown, err := observability.Init(ctx, observability.TracingConfig{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Output:         cfg.Tracing.Output,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			log.Warn("failed to shut down tracing", zap.Error(err))
		}
	}()

	if addr := cfg.Metrics.ListenAddress; addr != "" {
		metricsCtx, stopMetrics := context.WithCancel(ctx)
		defer stopMetrics()
		go func() {
			if err := metrics.Serve(metricsCtx, addr, log.Named("metrics")); err != nil {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	l, err := openLoader(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer l.Close()

	return l.Run(ctx, in, out)
}
