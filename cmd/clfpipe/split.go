package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/clfpipe/dataset"
	"github.com/YuminosukeSato/clfpipe/pipeline"
	"github.com/YuminosukeSato/clfpipe/sklearn/model_selection"
)

func newSplitCommand(g *globalFlags) *cobra.Command {
	var (
		target string
		p      float64
		seed   uint64
	)
	cmd := &cobra.Command{
		Use:   "split [source]",
		Short: "Show the stratified train/test partition of a dataset",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.Data.Source = args[0]
			}
			if cmd.Flags().Changed("target") {
				cfg.Model.Target = target
			}
			if cmd.Flags().Changed("train-fraction") {
				cfg.Model.TrainFraction = p
			}
			if cmd.Flags().Changed("seed") {
				cfg.Model.Seed = seed
			}
			if cfg.Data.Source == "" || cfg.Model.Target == "" {
				return cliError{code: exitUsage, err: fmt.Errorf("split needs a data source and a target")}
			}

			format, err := dataset.ParseFormat(cfg.Data.Format)
			if err != nil {
				return cliError{code: exitUsage, err: err}
			}
			opts, err := cfg.LoadOptions()
			if err != nil {
				return cliError{code: exitUsage, err: err}
			}
			ds, err := dataset.Load(cmd.Context(), cfg.Data.Source, format, opts...)
			if err != nil {
				return err
			}
			if err := pipeline.CheckTarget(ds.Schema(), cfg.Model.Target); err != nil {
				return err
			}
			labels, err := ds.Strings(cfg.Model.Target)
			if err != nil {
				return err
			}
			split, err := model_selection.TrainTestSplit(labels, cfg.Model.TrainFraction, cfg.Model.Seed)
			if err != nil {
				return err
			}
			return printSplit(cmd, labels, split)
		},
	}
	cmd.Flags().StringVarP(&target, "target", "t", "", "categorical target column")
	cmd.Flags().Float64VarP(&p, "train-fraction", "p", 0, "share of each class used for training")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "random seed")
	return cmd
}

func printSplit(cmd *cobra.Command, labels []string, split model_selection.Split) error {
	train := make(map[string]int)
	test := make(map[string]int)
	for _, i := range split.Train {
		train[labels[i]]++
	}
	for _, i := range split.Test {
		test[labels[i]]++
	}
	classes := make([]string, 0, len(train)+len(test))
	for c := range train {
		classes = append(classes, c)
	}
	for c := range test {
		if _, ok := train[c]; !ok {
			classes = append(classes, c)
		}
	}
	sort.Strings(classes)

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CLASS\tTRAIN\tTEST\tTRAIN SHARE\t")
	for _, c := range classes {
		share := float64(train[c]) / float64(train[c]+test[c])
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.3f\t\n", c, train[c], test[c], share)
	}
	fmt.Fprintf(tw, "total\t%d\t%d\t%.3f\t\n", len(split.Train), len(split.Test),
		float64(len(split.Train))/float64(len(labels)))
	return tw.Flush()
}
