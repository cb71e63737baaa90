package report

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/YuminosukeSato/clfpipe/pkg/errors"
)

// PlotSize is the edge length of saved plots.
const PlotSize = 4 * vg.Inch

// confusionGrid adapts a confusion matrix to plotter.GridXYZ. Row 0 of the
// grid is the last actual label so the first label is drawn on top.
type confusionGrid struct {
	counts [][]int
}

func (g confusionGrid) Dims() (c, r int)   { return len(g.counts), len(g.counts) }
func (g confusionGrid) X(c int) float64    { return float64(c) }
func (g confusionGrid) Y(r int) float64    { return float64(r) }
func (g confusionGrid) Z(c, r int) float64 { return float64(g.counts[len(g.counts)-1-r][c]) }

// PlotConfusion saves the confusion matrix as a heat map with the count
// printed in each cell. The image format follows the file extension.
func PlotConfusion(ev EvaluationSummary, path string) error {
	n := len(ev.Labels)
	if n < 2 || len(ev.Confusion) != n {
		return errors.NewInvalidParameterError("confusion", "need at least two classes to plot", n)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Confusion matrix (accuracy %s)", fmtFloat(ev.Accuracy, 3))
	p.X.Label.Text = "Predicted"
	p.Y.Label.Text = "Actual"

	grid := confusionGrid{counts: ev.Confusion}
	hm := plotter.NewHeatMap(grid, palette.Heat(12, 1))
	maxCount := 1
	for _, row := range ev.Confusion {
		for _, c := range row {
			maxCount = max(maxCount, c)
		}
	}
	hm.Min, hm.Max = 0, float64(maxCount)
	p.Add(hm)

	var cells plotter.XYLabels
	for r := 0; r < n; r++ {
		for c := 0; c < n; c++ {
			cells.XYs = append(cells.XYs, plotter.XY{X: grid.X(c), Y: grid.Y(r)})
			cells.Labels = append(cells.Labels, fmt.Sprint(int(grid.Z(c, r))))
		}
	}
	labels, err := plotter.NewLabels(cells)
	if err != nil {
		return errors.Wrap(err, "report: confusion labels")
	}
	p.Add(labels)

	xTicks := make([]plot.Tick, n)
	yTicks := make([]plot.Tick, n)
	for i, l := range ev.Labels {
		xTicks[i] = plot.Tick{Value: float64(i), Label: l}
		yTicks[n-1-i] = plot.Tick{Value: float64(n - 1 - i), Label: l}
	}
	p.X.Tick.Marker = plot.ConstantTicks(xTicks)
	p.Y.Tick.Marker = plot.ConstantTicks(yTicks)

	if err := p.Save(PlotSize, PlotSize, path); err != nil {
		return errors.Wrapf(err, "report: save %s", path)
	}
	return nil
}

// PlotSearch saves a bar chart of mean cross-validated accuracy per grid
// point. Failed points are drawn as zero-height bars.
func PlotSearch(s *SearchSummary, path string) error {
	if s == nil || len(s.Points) == 0 {
		return errors.NewInvalidParameterError("search", "no grid points to plot", 0)
	}

	values := make(plotter.Values, len(s.Points))
	names := make([]string, len(s.Points))
	for i, pt := range s.Points {
		if !pt.Mean.IsNaN() {
			values[i] = float64(pt.Mean)
		}
		names[i] = fmtParams(pt.Params)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Grid search (%d folds)", s.Folds)
	p.Y.Label.Text = "Mean CV accuracy"
	p.Y.Min, p.Y.Max = 0, 1

	bars, err := plotter.NewBarChart(values, vg.Points(20))
	if err != nil {
		return errors.Wrap(err, "report: bar chart")
	}
	bars.Color = color.RGBA{R: 70, G: 130, B: 180, A: 255}
	p.Add(bars)
	p.NominalX(names...)
	p.X.Tick.Label.Rotation = 0.8
	p.X.Tick.Label.XAlign = -0.9

	width := PlotSize
	if w := vg.Length(len(s.Points)) * vg.Inch / 2; w > width {
		width = w
	}
	if err := p.Save(width, PlotSize, path); err != nil {
		return errors.Wrapf(err, "report: save %s", path)
	}
	return nil
}
