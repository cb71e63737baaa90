// Command clfpipe trains and evaluates classifiers on tabular data.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/clfpipe/internal/config"
	"github.com/YuminosukeSato/clfpipe/pkg/errors"
	"github.com/YuminosukeSato/clfpipe/pkg/log"
)

// Exit codes.
const (
	exitFailure     = 1
	exitUsage       = 2
	exitLoad        = 3
	exitComputation = 4
	exitInterrupted = 130
)

type cliError struct {
	code int
	err  error
}

func (e cliError) Error() string { return e.err.Error() }

func (e cliError) Unwrap() error { return e.err }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	root := newRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	var ce cliError
	if errors.As(err, &ce) {
		return ce.code
	}
	var (
		lerr *errors.LoadError
		terr *errors.IncompatibleTargetError
	)
	switch {
	case errors.Is(err, context.Canceled):
		return exitInterrupted
	case errors.IsInvalidParameter(err), errors.As(err, &terr):
		return exitUsage
	case errors.As(err, &lerr):
		return exitLoad
	case errors.IsComputation(err):
		return exitComputation
	}
	return exitFailure
}

type globalFlags struct {
	configPath  string
	envFile     string
	logLevel    string
	logJSON     bool
	metricsFile string
	storePath   string
}

func newRootCommand() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "clfpipe",
		Short:         "Train and evaluate classifiers on tabular data",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "YAML configuration file")
	pf.StringVar(&g.envFile, "env-file", ".env", "dotenv file read before CLFPIPE_* overrides")
	pf.StringVar(&g.logLevel, "log-level", "", "debug, info, warn or error")
	pf.BoolVar(&g.logJSON, "log-json", false, "log JSON lines instead of console output")
	pf.StringVar(&g.metricsFile, "metrics-file", "", "write Prometheus metrics in text format to this file")
	pf.StringVar(&g.storePath, "store", "", "run history database (empty disables history)")

	root.AddCommand(newRunCommand(g))
	root.AddCommand(newSplitCommand(g))
	root.AddCommand(newHistoryCommand(g))
	root.AddCommand(newShowCommand(g))
	return root
}

// load reads the configuration, applies the global flags and installs the
// logger.
func (g *globalFlags) load(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(g.configPath, config.WithEnvFile(g.envFile))
	if err != nil {
		return config.Config{}, cliError{code: exitUsage, err: err}
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = g.logLevel
	}
	if flags.Changed("log-json") {
		cfg.Log.JSON = g.logJSON
	}
	if flags.Changed("metrics-file") {
		cfg.Output.MetricsFile = g.metricsFile
	}
	if flags.Changed("store") {
		cfg.Store.Path = g.storePath
	}
	if err := log.SetupLogger(cfg.Log.Level, !cfg.Log.JSON); err != nil {
		return config.Config{}, cliError{code: exitUsage, err: err}
	}
	return cfg, nil
}

// writeMetrics dumps reg to path when path is set.
func writeMetrics(path string, reg prometheus.Gatherer) error {
	if path == "" {
		return nil
	}
	if err := ensureDir(path); err != nil {
		return err
	}
	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return errors.Wrapf(err, "write metrics to %s", path)
	}
	return nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// openOutput returns stdout-like w when path is empty.
func openOutput(path string, w io.Writer) (io.Writer, func() error, error) {
	if path == "" {
		return w, func() error { return nil }, nil
	}
	if err := ensureDir(path); err != nil {
		return nil, nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}
