package main

import (
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/clfpipe/dataset"
	"github.com/YuminosukeSato/clfpipe/internal/config"
	"github.com/YuminosukeSato/clfpipe/pipeline"
	"github.com/YuminosukeSato/clfpipe/pkg/errors"
	"github.com/YuminosukeSato/clfpipe/pkg/log"
	"github.com/YuminosukeSato/clfpipe/report"
	"github.com/YuminosukeSato/clfpipe/store"
)

type runFlags struct {
	target        string
	variant       string
	features      []string
	p             float64
	seed          uint64
	search        bool
	folds         int
	repeats       int
	workers       int
	dropNA        bool
	format        string
	out           string
	tree          bool
	confusionPlot string
	searchPlot    string
	dataFormat    string
	delimiter     string
}

func newRunCommand(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run [source]",
		Short: "Split, train, tune and evaluate a classifier",
		Long: "Loads a delimited table from a file or http(s) URL, holds out a stratified\n" +
			"test split, trains rpart or svmRadial (optionally tuned by repeated k-fold\n" +
			"cross-validation) and reports accuracy statistics on the held-out rows.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}
			f.apply(cmd, &cfg)
			if len(args) == 1 {
				cfg.Data.Source = args[0]
			}
			if err := cfg.Validate(); err != nil {
				return cliError{code: exitUsage, err: err}
			}
			return runPipeline(cmd, cfg)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.target, "target", "t", "", "categorical target column")
	fl.StringVarP(&f.variant, "variant", "m", "", "rpart or svmRadial")
	fl.StringSliceVar(&f.features, "features", nil, "feature columns (default: all but the target)")
	fl.Float64VarP(&f.p, "train-fraction", "p", 0, "share of each class used for training")
	fl.Uint64Var(&f.seed, "seed", 0, "random seed for splitting and resampling")
	fl.BoolVar(&f.search, "search", true, "tune hyperparameters by cross-validated grid search")
	fl.IntVar(&f.folds, "folds", 0, "cross-validation folds")
	fl.IntVar(&f.repeats, "repeats", 0, "cross-validation repeats")
	fl.IntVar(&f.workers, "workers", 0, "grid points evaluated concurrently (0: NumCPU)")
	fl.BoolVar(&f.dropNA, "drop-na", false, "drop rows with missing target or feature values")
	fl.StringVarP(&f.format, "format", "f", "", "report format: text, markdown or json")
	fl.StringVarP(&f.out, "out", "o", "", "report file (default stdout)")
	fl.BoolVar(&f.tree, "tree", false, "append the decision tree node list to the report")
	fl.StringVar(&f.confusionPlot, "confusion-plot", "", "save a confusion matrix heat map (.png, .svg, .pdf)")
	fl.StringVar(&f.searchPlot, "search-plot", "", "save a bar chart of grid search accuracy")
	fl.StringVar(&f.dataFormat, "data-format", "", "csv, tsv or delimited")
	fl.StringVar(&f.delimiter, "delimiter", "", "field delimiter for the delimited format")
	return cmd
}

// apply overrides cfg with the flags set on the command line.
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	fl := cmd.Flags()
	set := fl.Changed
	if set("target") {
		cfg.Model.Target = f.target
	}
	if set("variant") {
		cfg.Model.Variant = f.variant
	}
	if set("features") {
		cfg.Model.Features = f.features
	}
	if set("train-fraction") {
		cfg.Model.TrainFraction = f.p
	}
	if set("seed") {
		cfg.Model.Seed = f.seed
	}
	if set("search") {
		cfg.Search.Enabled = f.search
	}
	if set("folds") {
		cfg.Search.Folds = f.folds
	}
	if set("repeats") {
		cfg.Search.Repeats = f.repeats
	}
	if set("workers") {
		cfg.Search.Workers = f.workers
	}
	if set("drop-na") {
		cfg.Data.DropNA = f.dropNA
	}
	if set("format") {
		cfg.Output.Format = f.format
	}
	if set("out") {
		cfg.Output.Path = f.out
	}
	if set("tree") {
		cfg.Output.Tree = f.tree
	}
	if set("confusion-plot") {
		cfg.Output.ConfusionPlot = f.confusionPlot
	}
	if set("search-plot") {
		cfg.Output.SearchPlot = f.searchPlot
	}
	if set("data-format") {
		cfg.Data.Format = f.dataFormat
	}
	if set("delimiter") {
		cfg.Data.Delimiter = f.delimiter
	}
}

func runPipeline(cmd *cobra.Command, cfg config.Config) error {
	ctx := cmd.Context()
	logger := log.GetLoggerWithName("cli")

	if cfg.Data.Source == "" {
		return cliError{code: exitUsage, err: errors.New("no data source: pass one as an argument or set data.source")}
	}
	pcfg, err := cfg.Pipeline()
	if err != nil {
		return cliError{code: exitUsage, err: err}
	}
	if pcfg.Target == "" {
		return cliError{code: exitUsage, err: errors.New("no target column: use --target or model.target")}
	}
	format, err := dataset.ParseFormat(cfg.Data.Format)
	if err != nil {
		return cliError{code: exitUsage, err: err}
	}
	loadOpts, err := cfg.LoadOptions()
	if err != nil {
		return cliError{code: exitUsage, err: err}
	}

	ds, err := dataset.Load(ctx, cfg.Data.Source, format, loadOpts...)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	metrics := pipeline.NewMetricsWithRegistry(reg)
	res, runErr := pipeline.Run(ctx, ds, pcfg,
		pipeline.WithRunLogger(log.GetLoggerWithName("pipeline")),
		pipeline.WithRunMetrics(metrics),
		pipeline.WithRunID(uuid.NewString()),
	)
	// metrics are written for failed runs too
	if err := writeMetrics(cfg.Output.MetricsFile, reg); err != nil {
		logger.Warn("Metrics not written", err)
	}
	if runErr != nil {
		return runErr
	}

	summary := report.Summarize(res, cfg.Data.Source)
	if err := writeReport(cmd.OutOrStdout(), cfg.Output, summary, res); err != nil {
		return err
	}

	if path := cfg.Output.ConfusionPlot; path != "" {
		if err := ensureDir(path); err != nil {
			return err
		}
		if err := report.PlotConfusion(summary.Evaluation, path); err != nil {
			return err
		}
	}
	if path := cfg.Output.SearchPlot; path != "" && summary.Search != nil {
		if err := ensureDir(path); err != nil {
			return err
		}
		if err := report.PlotSearch(summary.Search, path); err != nil {
			return err
		}
	}

	if cfg.Store.Path != "" {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer st.Close()
		rec, err := st.Save(store.Record{Summary: summary})
		if err != nil {
			return err
		}
		logger.Info("Run saved", log.RunIDKey, rec.ID, "store.path", cfg.Store.Path)
	}
	return nil
}

func writeReport(stdout io.Writer, out config.Output, s report.Summary, res *pipeline.Result) error {
	w, closeFn, err := openOutput(out.Path, stdout)
	if err != nil {
		return err
	}
	if err := renderSummary(w, out.Format, s); err != nil {
		closeFn()
		return err
	}
	if out.Tree && out.Format != "json" && res.Variant == pipeline.DecisionTree {
		if out.Format == "markdown" {
			fmt.Fprint(w, "\n## Tree\n\n```\n")
		} else {
			fmt.Fprintln(w)
		}
		if err := report.WriteTree(w, res.Model); err != nil {
			closeFn()
			return err
		}
		if out.Format == "markdown" {
			fmt.Fprintln(w, "```")
		}
	}
	return closeFn()
}

func renderSummary(w io.Writer, format string, s report.Summary) error {
	switch format {
	case "markdown":
		return report.WriteMarkdown(w, s)
	case "json":
		return report.WriteJSON(w, s)
	case "", "text":
		return report.WriteText(w, s)
	}
	return cliError{code: exitUsage, err: errors.NewInvalidParameterError("format", "must be text, markdown or json", format)}
}
