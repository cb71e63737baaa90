package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
)

func fmtFloat(f Float, prec int) string {
	if f.IsNaN() {
		return "NaN"
	}
	return fmt.Sprintf("%.*f", prec, float64(f))
}

func fmtPValue(f Float) string {
	switch {
	case f.IsNaN():
		return "NaN"
	case f < 2.2e-16:
		return "< 2.2e-16"
	case f < 1e-4:
		return fmt.Sprintf("%.3g", float64(f))
	}
	return fmt.Sprintf("%.4f", float64(f))
}

func fmtParams(p map[string]float64) string {
	if len(p) == 0 {
		return "(defaults)"
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%g", k, p[k])
	}
	return strings.Join(parts, ", ")
}

// WriteText writes a plain-text report: run header, confusion matrix,
// overall statistics, per-class scores and the grid search table.
func WriteText(w io.Writer, s Summary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	ev := s.Evaluation

	fmt.Fprintf(tw, "Run %s (%s, target %q)\n", s.RunID, s.Variant, s.Target)
	if s.Source != "" {
		fmt.Fprintf(tw, "Data: %s\n", s.Source)
	}
	fmt.Fprintf(tw, "Split: %d train / %d test (seed %d)\n", s.TrainSize, s.TestSize, s.Seed)
	if s.DroppedNA > 0 {
		fmt.Fprintf(tw, "Dropped rows with missing values: %d\n", s.DroppedNA)
	}
	fmt.Fprintf(tw, "Features: %s\n", strings.Join(s.Features, ", "))
	fmt.Fprintf(tw, "Hyperparameters: %s\n\n", fmtParams(s.Params))

	fmt.Fprintln(tw, "Confusion matrix (rows: actual, columns: predicted)")
	fmt.Fprintf(tw, "\t%s\t\n", strings.Join(ev.Labels, "\t"))
	for i, row := range ev.Confusion {
		cells := make([]string, len(row))
		for j, c := range row {
			cells[j] = fmt.Sprint(c)
		}
		fmt.Fprintf(tw, "%s\t%s\t\n", ev.Labels[i], strings.Join(cells, "\t"))
	}
	fmt.Fprintln(tw)

	fmt.Fprintf(tw, "Training accuracy\t%s\t\n", fmtFloat(s.TrainAccuracy, 4))
	fmt.Fprintf(tw, "Accuracy\t%s\t\n", fmtFloat(ev.Accuracy, 4))
	fmt.Fprintf(tw, "%.0f%% CI\t(%s, %s)\t\n", float64(ev.CILevel)*100, fmtFloat(ev.CILower, 4), fmtFloat(ev.CIUpper, 4))
	fmt.Fprintf(tw, "No information rate\t%s (%s)\t\n", fmtFloat(ev.Baseline, 4), ev.BaselineClass)
	fmt.Fprintf(tw, "P-value [Acc > NIR]\t%s\t\n", fmtPValue(ev.PValue))
	fmt.Fprintf(tw, "Kappa\t%s\t\n\n", fmtFloat(ev.Kappa, 4))

	fmt.Fprintln(tw, "Class\tPrecision\tRecall\tF1\tSupport\t")
	for _, c := range ev.Classes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t\n", c.Label, fmtFloat(c.Precision, 4), fmtFloat(c.Recall, 4), fmtFloat(c.F1, 4), c.Support)
	}

	if s.Search != nil {
		fmt.Fprintf(tw, "\nGrid search (%d folds per point)\n", s.Search.Folds)
		fmt.Fprintln(tw, "Point\tParams\tAccuracy\tSD\t")
		for i, p := range s.Search.Points {
			mark := ""
			if i == s.Search.BestIndex {
				mark = " *"
			}
			if p.Error != "" {
				fmt.Fprintf(tw, "%d\t%s\tfailed\t\t\n", i, fmtParams(p.Params))
				continue
			}
			fmt.Fprintf(tw, "%d%s\t%s\t%s\t%s\t\n", i, mark, fmtParams(p.Params), fmtFloat(p.Mean, 4), fmtFloat(p.Std, 4))
		}
	}
	return tw.Flush()
}
