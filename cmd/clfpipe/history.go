package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/clfpipe/store"
)

func openStore(g *globalFlags, cmd *cobra.Command) (*store.Store, error) {
	cfg, err := g.load(cmd)
	if err != nil {
		return nil, err
	}
	if cfg.Store.Path == "" {
		return nil, cliError{code: exitUsage, err: fmt.Errorf("no run history: use --store or store.path")}
	}
	return store.Open(cfg.Store.Path)
}

func newHistoryCommand(g *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openStore(g, cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			recs, err := st.List()
			if err != nil {
				return err
			}
			if limit > 0 && len(recs) > limit {
				recs = recs[:limit]
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCREATED\tVARIANT\tTARGET\tACCURACY\tKAPPA\tSOURCE\t")
			for _, r := range recs {
				ev := r.Summary.Evaluation
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.4f\t%.4f\t%s\t\n",
					r.ID, r.CreatedAt.Format("2006-01-02 15:04:05"), r.Summary.Variant, r.Summary.Target,
					float64(ev.Accuracy), float64(ev.Kappa), r.Source)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show at most this many runs (0: all)")
	return cmd
}

func newShowCommand(g *globalFlags) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print the report of a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(g, cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			rec, err := st.Get(args[0])
			if err != nil {
				return cliError{code: exitFailure, err: err}
			}
			return renderSummary(cmd.OutOrStdout(), format, rec.Summary)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "text, markdown or json")
	return cmd
}
