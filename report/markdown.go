package report

import (
	"fmt"
	"io"
	"strings"
)

// BuildMarkdown renders s as a markdown document.
func BuildMarkdown(s Summary) string {
	ev := s.Evaluation
	var b strings.Builder
	b.WriteString(fmt.Sprintf("# Classification Report: %s\n\n", s.Variant))
	b.WriteString(fmt.Sprintf("- Run: `%s`\n", s.RunID))
	if s.Source != "" {
		b.WriteString(fmt.Sprintf("- Data: `%s`\n", s.Source))
	}
	b.WriteString(fmt.Sprintf("- Target: `%s`\n", s.Target))
	b.WriteString(fmt.Sprintf("- Split: `%d` train / `%d` test, seed `%d`\n", s.TrainSize, s.TestSize, s.Seed))
	b.WriteString(fmt.Sprintf("- Hyperparameters: `%s`\n\n", fmtParams(s.Params)))

	b.WriteString("## Overall\n\n")
	b.WriteString("| Statistic | Value |\n")
	b.WriteString("|---|---:|\n")
	b.WriteString(fmt.Sprintf("| Accuracy | %s |\n", fmtFloat(ev.Accuracy, 4)))
	b.WriteString(fmt.Sprintf("| %.0f%% CI | %s - %s |\n", float64(ev.CILevel)*100, fmtFloat(ev.CILower, 4), fmtFloat(ev.CIUpper, 4)))
	b.WriteString(fmt.Sprintf("| No information rate | %s (%s) |\n", fmtFloat(ev.Baseline, 4), ev.BaselineClass))
	b.WriteString(fmt.Sprintf("| Lift | %s |\n", fmtFloat(ev.Lift, 4)))
	b.WriteString(fmt.Sprintf("| P-value [Acc > NIR] | %s |\n", fmtPValue(ev.PValue)))
	b.WriteString(fmt.Sprintf("| Kappa | %s |\n\n", fmtFloat(ev.Kappa, 4)))

	b.WriteString("## Confusion Matrix\n\n")
	b.WriteString("| actual \\ predicted | " + strings.Join(escapeAll(ev.Labels), " | ") + " |\n")
	b.WriteString("|---|" + strings.Repeat("---:|", len(ev.Labels)) + "\n")
	for i, row := range ev.Confusion {
		cells := make([]string, len(row))
		for j, c := range row {
			cells[j] = fmt.Sprint(c)
		}
		b.WriteString(fmt.Sprintf("| %s | %s |\n", escape(ev.Labels[i]), strings.Join(cells, " | ")))
	}

	b.WriteString("\n## Per Class\n\n")
	b.WriteString("| Class | Precision | Recall | F1 | Support |\n")
	b.WriteString("|---|---:|---:|---:|---:|\n")
	for _, c := range ev.Classes {
		b.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %d |\n", escape(c.Label), fmtFloat(c.Precision, 4), fmtFloat(c.Recall, 4), fmtFloat(c.F1, 4), c.Support))
	}

	if s.Search != nil {
		b.WriteString(fmt.Sprintf("\n## Grid Search\n\n%d folds per point; best point in bold.\n\n", s.Search.Folds))
		b.WriteString("| # | Params | Accuracy | SD |\n")
		b.WriteString("|---:|---|---:|---:|\n")
		for i, p := range s.Search.Points {
			params := "`" + fmtParams(p.Params) + "`"
			if i == s.Search.BestIndex {
				params = "**" + params + "**"
			}
			if p.Error != "" {
				b.WriteString(fmt.Sprintf("| %d | %s | failed: %s | |\n", i, params, escape(p.Error)))
				continue
			}
			b.WriteString(fmt.Sprintf("| %d | %s | %s | %s |\n", i, params, fmtFloat(p.Mean, 4), fmtFloat(p.Std, 4)))
		}
	}
	return b.String()
}

// WriteMarkdown writes BuildMarkdown(s) to w.
func WriteMarkdown(w io.Writer, s Summary) error {
	_, err := io.WriteString(w, BuildMarkdown(s))
	return err
}

func escape(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}

func escapeAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = escape(s)
	}
	return out
}
