package report

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/YuminosukeSato/clfpipe/pipeline"
	"github.com/YuminosukeSato/clfpipe/pkg/errors"
	"github.com/YuminosukeSato/clfpipe/sklearn/tree"
)

// WriteTree writes a fitted decision tree as a numbered node list. The root
// is node 1 and the children of node k are 2k and 2k+1. Each line shows the
// split that leads to the node, the number of training rows, the loss
// (rows not of the predicted class), the predicted class and the class
// proportions. Terminal nodes are marked with "*".
func WriteTree(w io.Writer, m *pipeline.Model) error {
	if m == nil {
		return errors.NewNotFittedError("Model", "WriteTree")
	}
	dt, ok := m.Tree()
	if !ok {
		return errors.NewInvalidParameterError("model", "not a decision tree", m.Variant().String())
	}
	nodes := dt.Nodes()
	if len(nodes) == 0 {
		return errors.NewNotFittedError("DecisionTreeClassifier", "WriteTree")
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "n= %d\n\n", nodes[0].NSamples)
	fmt.Fprintln(bw, "node), split, n, loss, yval, (yprob)")
	fmt.Fprintln(bw, "      * denotes terminal node")
	fmt.Fprintln(bw)

	tp := treePrinter{
		w:       bw,
		nodes:   nodes,
		columns: m.ColumnNames(),
		classes: m.Classes(),
	}
	tp.print(0, 1, "root")
	return bw.Flush()
}

type treePrinter struct {
	w       *bufio.Writer
	nodes   []tree.Node
	columns []string
	classes []string
}

func (tp treePrinter) print(idx, number int, split string) {
	n := tp.nodes[idx]
	yval := tp.className(n.Prediction)
	loss := n.NSamples
	if n.Prediction < len(n.Counts) {
		loss -= n.Counts[n.Prediction]
	}
	probs := make([]string, len(n.Counts))
	for i, c := range n.Counts {
		p := 0.0
		if n.NSamples > 0 {
			p = float64(c) / float64(n.NSamples)
		}
		probs[i] = fmt.Sprintf("%.4f", p)
	}
	mark := ""
	if n.IsLeaf() {
		mark = " *"
	}
	fmt.Fprintf(tp.w, "%s%d) %s %d %d %s (%s)%s\n",
		strings.Repeat("  ", n.Depth), number, split, n.NSamples, loss, yval, strings.Join(probs, " "), mark)
	if n.IsLeaf() {
		return
	}
	name := tp.columnName(n.Feature)
	tp.print(n.Left, 2*number, fmt.Sprintf("%s<=%.6g", name, n.Threshold))
	tp.print(n.Right, 2*number+1, fmt.Sprintf("%s>%.6g", name, n.Threshold))
}

func (tp treePrinter) className(i int) string {
	if i >= 0 && i < len(tp.classes) {
		return tp.classes[i]
	}
	return fmt.Sprint(i)
}

func (tp treePrinter) columnName(j int) string {
	if j >= 0 && j < len(tp.columns) {
		return tp.columns[j]
	}
	return fmt.Sprintf("x%d", j)
}
