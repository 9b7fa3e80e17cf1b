// Command mesh-sim drives a simulated accelerator mesh.
//
// Usage:
//
//	mesh-sim <command> [flags]
//
// Examples:
//
//	# Capture and replay a trace on the default 2x4 mesh
//	mesh-sim run --replays 10
//
//	# Same, with a config file, a capture log and the trace saved to disk
//	mesh-sim run --config mesh.yaml --capture-log run.mlog --trace-out t.mtrace
//
//	# Replay a saved trace instead of capturing one
//	mesh-sim run --trace-in t.mtrace
//
//	# Show the page size picked for a 70000 B trace across 12 banks
//	mesh-sim pagesize 70000 12
//
//	# Interactive shell with metrics on :9090
//	mesh-sim shell --metrics-addr :9090
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/mesh-runtime/mesh-go/cmd/mesh-sim/interactive"
	"github.com/mesh-runtime/mesh-go/pkg/config"
	"github.com/mesh-runtime/mesh-go/pkg/inspect"
	"github.com/mesh-runtime/mesh-go/pkg/log"
	"github.com/mesh-runtime/mesh-go/pkg/mesh"
	"github.com/mesh-runtime/mesh-go/pkg/metrics"
	"github.com/mesh-runtime/mesh-go/pkg/version"
)

var rootCmd = &cobra.Command{
	Use:           "mesh-sim",
	Short:         "Simulated mesh runtime",
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run [flags]",
	Short: "Capture a trace with overlapping programs and replay it",
	Args:  cobra.NoArgs,
	RunE:  runRun,
}

var pageSizeCmd = &cobra.Command{
	Use:   "pagesize <bytes> [banks]",
	Short: "Show the trace buffer page size for a trace size",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runPageSize,
}

var shellCmd = &cobra.Command{
	Use:   "shell [flags]",
	Short: "Start an interactive shell",
	Args:  cobra.NoArgs,
	RunE:  runShell,
}

func main() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "config file (.yaml, .yml or .toml)")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("capture-log", "", "write mesh and trace events to this file")

	runCmd.Flags().Int("replays", 3, "number of blocking replays")
	runCmd.Flags().Uint32("trace-id", 1, "trace id")
	runCmd.Flags().Int("launches", 2, "go signal launches per program")
	runCmd.Flags().String("trace-out", "", "save the captured trace to this file")
	runCmd.Flags().String("trace-in", "", "load this trace file instead of capturing")
	runCmd.Flags().Bool("show-data", false, "show a hex preview of every segment")

	shellCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address")

	rootCmd.AddCommand(runCmd, pageSizeCmd, shellCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// env is what every mesh opening command shares: configuration, loggers
// and metrics.
type env struct {
	cfg      config.Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	registry *prometheus.Registry
	capture  *log.FileLogger
	session  *log.Session
}

// loadConfig returns the --config file, or the defaults without one.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func newEnv(cmd *cobra.Command, cfg config.Config, logOut io.Writer) (*env, error) {
	level, _ := cmd.Flags().GetString("log-level")
	logger, err := newLogger(level, logOut)
	if err != nil {
		return nil, err
	}

	e := &env{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics.New(),
		registry: prometheus.NewRegistry(),
	}
	if err := e.metrics.Register(e.registry); err != nil {
		return nil, err
	}

	if path, _ := cmd.Flags().GetString("capture-log"); path != "" {
		if e.capture, err = log.NewFileLogger(path); err != nil {
			return nil, err
		}
		var next log.Logger = e.capture
		if logger.Enabled(context.Background(), slog.LevelDebug) {
			next = log.NewMultiLogger(e.capture, log.NewSlogAdapter(logger))
		}
		e.session = log.NewSession(next)
		logger.Info("capture log", "path", path, "session", e.session.ID())
	}
	return e, nil
}

// options returns the mesh options of the environment.
func (e *env) options() []mesh.Option {
	opts := []mesh.Option{
		mesh.WithLogger(e.logger),
		mesh.WithMetrics(e.metrics),
		mesh.WithCommandFactory(e.cfg.CommandFactory()),
	}
	if e.session != nil {
		opts = append(opts, mesh.WithCaptureLogger(e.session))
	}
	return opts
}

func (e *env) close() error {
	if e.capture == nil {
		return nil
	}
	if n := e.capture.Dropped(); n > 0 {
		e.logger.Warn("capture log dropped events", "count", n)
	}
	return e.capture.Close()
}

func newLogger(level string, w io.Writer) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l})), nil
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	e, err := newEnv(cmd, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer e.close()

	flags := cmd.Flags()
	var opts scenarioOptions
	opts.Replays, _ = flags.GetInt("replays")
	opts.Launches, _ = flags.GetInt("launches")
	opts.TraceOut, _ = flags.GetString("trace-out")
	opts.TraceIn, _ = flags.GetString("trace-in")
	opts.ShowData, _ = flags.GetBool("show-data")
	id, _ := flags.GetUint32("trace-id")
	opts.TraceID = id

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runScenario(ctx, cmd.OutOrStdout(), e.cfg, opts, e.options()...)
}

func runPageSize(cmd *cobra.Command, args []string) error {
	size, err := strconv.ParseUint(args[0], 0, 64)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", args[0], err)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	banks := cfg.Mesh.TraceBanks
	if len(args) > 1 {
		if banks, err = strconv.Atoi(args[1]); err != nil {
			return fmt.Errorf("invalid bank count %q: %w", args[1], err)
		}
	}

	fmt.Fprint(cmd.OutOrStdout(), interactive.PageSizeReport(inspect.NewFormatter(), size, banks))
	return nil
}

func runShell(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	sh, err := interactive.New(cfg)
	if err != nil {
		return err
	}
	// Log through readline so records do not clobber the prompt.
	e, err := newEnv(cmd, cfg, sh.Stdout())
	if err != nil {
		_ = sh.Close()
		return err
	}
	defer e.close()
	sh.SetMeshOptions(e.options()...)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{Registry: e.registry}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				e.logger.Error("metrics server", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
		e.logger.Info("serving metrics", "addr", addr)
	}

	sh.Run(ctx, cancel)
	return nil
}
