// Package svm implements a kernel support vector classifier with a radial
// basis function kernel k(x, z) = exp(-sigma * ||x - z||^2).
//
// The dual problem of each binary machine is solved with sequential minimal
// optimisation using the maximal violating pair. Multi-class problems are
// decomposed one-vs-one and decided by voting.
package svm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/clfpipe/core/model"
	"github.com/YuminosukeSato/clfpipe/core/parallel"
	"github.com/YuminosukeSato/clfpipe/pkg/errors"
)

const (
	DefaultTol     = 1e-3
	DefaultMaxIter = 1_000_000

	// tau replaces a non-positive curvature in the pair update.
	tau = 1e-12

	// kernelParallelThreshold is the row count above which the kernel
	// matrix is filled on several goroutines.
	kernelParallelThreshold = 64
)

// SVC is an RBF-kernel support vector classifier over encoded class indices.
type SVC struct {
	state *model.StateManager

	sigma   float64
	c       float64
	tol     float64
	maxIter int

	nClasses_ int
	machines  []binaryMachine
}

// binaryMachine separates class pos (+1) from class neg (-1).
type binaryMachine struct {
	pos, neg   int
	supportX   [][]float64
	coef       []float64 // alpha_i * y_i
	rho        float64
	iterations int
}

// Option configures an SVC.
type Option func(*SVC)

// WithSigma sets the RBF kernel width parameter.
func WithSigma(sigma float64) Option {
	return func(s *SVC) {
		s.sigma = sigma
	}
}

// WithC sets the cost of constraint violation.
func WithC(c float64) Option {
	return func(s *SVC) {
		s.c = c
	}
}

// WithTol sets the stopping tolerance on the maximal KKT violation.
func WithTol(tol float64) Option {
	return func(s *SVC) {
		s.tol = tol
	}
}

// WithMaxIter caps the SMO iterations per binary machine.
func WithMaxIter(n int) Option {
	return func(s *SVC) {
		s.maxIter = n
	}
}

// NewSVC returns an unfitted classifier. sigma and C have no defaults and
// must be set, either with options or SetParams.
func NewSVC(opts ...Option) *SVC {
	s := &SVC{
		state:   model.NewStateManager("SVC"),
		tol:     DefaultTol,
		maxIter: DefaultMaxIter,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SVC) validate() error {
	switch {
	case !(s.sigma > 0) || math.IsInf(s.sigma, 0):
		return errors.NewInvalidParameterError("sigma", "must be > 0", s.sigma)
	case !(s.c > 0) || math.IsInf(s.c, 0):
		return errors.NewInvalidParameterError("C", "must be > 0", s.c)
	case !(s.tol > 0):
		return errors.NewInvalidParameterError("tol", "must be > 0", s.tol)
	case s.maxIter < 1:
		return errors.NewInvalidParameterError("max_iter", "must be >= 1", s.maxIter)
	}
	return nil
}

func (s *SVC) params() map[string]float64 {
	return map[string]float64{"sigma": s.sigma, "C": s.c}
}

// Fit trains one binary machine per pair of classes. y is an n x 1 matrix
// of class indices 0..k-1 with at least two distinct classes.
func (s *SVC) Fit(X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, "SVC.Fit")

	if err := s.validate(); err != nil {
		return err
	}
	rows, labels, nClasses, err := checkXY(X, y)
	if err != nil {
		return err
	}

	byClass := make([][]int, nClasses)
	for i, c := range labels {
		byClass[c] = append(byClass[c], i)
	}
	present := 0
	for _, idx := range byClass {
		if len(idx) > 0 {
			present++
		}
	}
	if present < 2 {
		return errors.NewValueError("SVC.Fit", "need samples from at least two classes")
	}

	K := s.kernelMatrix(rows)

	var machines []binaryMachine
	for a := 0; a < nClasses; a++ {
		for b := a + 1; b < nClasses; b++ {
			if len(byClass[a]) == 0 || len(byClass[b]) == 0 {
				continue
			}
			m, err := s.trainPair(rows, K, byClass[a], byClass[b])
			if err != nil {
				return err
			}
			m.pos, m.neg = a, b
			machines = append(machines, m)
		}
	}

	s.state.Reset()
	s.nClasses_ = nClasses
	s.machines = machines
	s.state.SetFitted(len(rows[0]), len(rows))
	return nil
}

func checkXY(X, y mat.Matrix) ([][]float64, []int, int, error) {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return nil, nil, 0, errors.NewModelError("SVC.Fit", "empty data", errors.ErrEmptyData)
	}
	yr, yc := y.Dims()
	if yr != r {
		return nil, nil, 0, errors.NewDimensionError("SVC.Fit", r, yr, 0)
	}
	if yc != 1 {
		return nil, nil, 0, errors.NewDimensionError("SVC.Fit", 1, yc, 1)
	}
	rows := make([][]float64, r)
	for i := range rows {
		rows[i] = mat.Row(nil, i, X)
		for j, v := range rows[i] {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, nil, 0, errors.NewValueError("SVC.Fit", fmt.Sprintf("X contains NaN or Inf at (%d, %d)", i, j))
			}
		}
	}
	labels := make([]int, r)
	nClasses := 0
	for i := 0; i < r; i++ {
		v := y.At(i, 0)
		if v < 0 || v != math.Trunc(v) {
			return nil, nil, 0, errors.NewValueError("SVC.Fit", fmt.Sprintf("y must hold class indices, got %v at row %d", v, i))
		}
		labels[i] = int(v)
		if labels[i]+1 > nClasses {
			nClasses = labels[i] + 1
		}
	}
	return rows, labels, nClasses, nil
}

func (s *SVC) kernel(a, b []float64) float64 {
	d := floats.Distance(a, b, 2)
	return math.Exp(-s.sigma * d * d)
}

// kernelMatrix returns the full symmetric n x n kernel of the training rows.
func (s *SVC) kernelMatrix(rows [][]float64) *mat.SymDense {
	n := len(rows)
	K := mat.NewSymDense(n, nil)
	parallel.ParallelizeWithThreshold(n, kernelParallelThreshold, func(start, end int) {
		for i := start; i < end; i++ {
			for j := i; j < n; j++ {
				// each (i, j) with j >= i is owned by row i
				K.SetSym(i, j, s.kernel(rows[i], rows[j]))
			}
		}
	})
	return K
}

// trainPair solves the dual for the samples of pos (+1) and neg (-1).
func (s *SVC) trainPair(rows [][]float64, K *mat.SymDense, pos, neg []int) (binaryMachine, error) {
	idx := make([]int, 0, len(pos)+len(neg))
	idx = append(idx, pos...)
	idx = append(idx, neg...)
	n := len(idx)

	yv := make([]float64, n)
	for t := range yv {
		if t < len(pos) {
			yv[t] = 1
		} else {
			yv[t] = -1
		}
	}
	kij := func(a, b int) float64 { return K.At(idx[a], idx[b]) }

	C := s.c
	alpha := make([]float64, n)
	grad := make([]float64, n)
	for t := range grad {
		grad[t] = -1
	}

	inUp := func(t int) bool {
		return (yv[t] > 0 && alpha[t] < C) || (yv[t] < 0 && alpha[t] > 0)
	}
	inLow := func(t int) bool {
		return (yv[t] > 0 && alpha[t] > 0) || (yv[t] < 0 && alpha[t] < C)
	}

	iter := 0
	converged := false
	for ; iter < s.maxIter; iter++ {
		gmax, gmin := math.Inf(-1), math.Inf(1)
		i, j := -1, -1
		for t := 0; t < n; t++ {
			v := -yv[t] * grad[t]
			if inUp(t) && v > gmax {
				gmax, i = v, t
			}
			if inLow(t) && v < gmin {
				gmin, j = v, t
			}
		}
		if i < 0 || j < 0 || gmax-gmin < s.tol {
			converged = true
			break
		}

		qij := yv[i] * yv[j] * kij(i, j)
		qii, qjj := kij(i, i), kij(j, j)
		oldI, oldJ := alpha[i], alpha[j]

		if yv[i] != yv[j] {
			quad := qii + qjj + 2*qij
			if quad <= 0 {
				quad = tau
			}
			delta := (-grad[i] - grad[j]) / quad
			diff := alpha[i] - alpha[j]
			alpha[i] += delta
			alpha[j] += delta
			if diff > 0 {
				if alpha[j] < 0 {
					alpha[j] = 0
					alpha[i] = diff
				}
				if alpha[i] > C {
					alpha[i] = C
					alpha[j] = C - diff
				}
			} else {
				if alpha[i] < 0 {
					alpha[i] = 0
					alpha[j] = -diff
				}
				if alpha[j] > C {
					alpha[j] = C
					alpha[i] = C + diff
				}
			}
		} else {
			quad := qii + qjj - 2*qij
			if quad <= 0 {
				quad = tau
			}
			delta := (grad[i] - grad[j]) / quad
			sum := alpha[i] + alpha[j]
			alpha[i] -= delta
			alpha[j] += delta
			if sum > C {
				if alpha[i] > C {
					alpha[i] = C
					alpha[j] = sum - C
				}
				if alpha[j] > C {
					alpha[j] = C
					alpha[i] = sum - C
				}
			} else {
				if alpha[j] < 0 {
					alpha[j] = 0
					alpha[i] = sum
				}
				if alpha[i] < 0 {
					alpha[i] = 0
					alpha[j] = sum
				}
			}
		}

		di, dj := alpha[i]-oldI, alpha[j]-oldJ
		for t := 0; t < n; t++ {
			grad[t] += yv[t]*yv[i]*kij(t, i)*di + yv[t]*yv[j]*kij(t, j)*dj
		}
	}

	if !converged {
		return binaryMachine{}, errors.NewComputationError("SVC.Fit", s.params(),
			errors.NewConvergenceWarning("SMO", iter, fmt.Sprintf("maximal KKT violation above tol=%g", s.tol)))
	}
	if err := errors.CheckNumericalStability("smo_gradient", grad, iter); err != nil {
		return binaryMachine{}, errors.NewComputationError("SVC.Fit", s.params(), err)
	}

	rho := computeRho(yv, alpha, grad, C)
	if err := errors.CheckScalar("smo_rho", rho, iter); err != nil {
		return binaryMachine{}, errors.NewComputationError("SVC.Fit", s.params(), err)
	}

	m := binaryMachine{rho: rho, iterations: iter}
	for t := 0; t < n; t++ {
		if alpha[t] > 0 {
			m.supportX = append(m.supportX, rows[idx[t]])
			m.coef = append(m.coef, alpha[t]*yv[t])
		}
	}
	return m, nil
}

// computeRho averages y*G over free support vectors, or takes the midpoint
// of the feasible interval when every alpha is at a bound.
func computeRho(yv, alpha, grad []float64, C float64) float64 {
	ub, lb := math.Inf(1), math.Inf(-1)
	nFree := 0
	sumFree := 0.0
	for t := range yv {
		yG := yv[t] * grad[t]
		switch {
		case alpha[t] >= C:
			if yv[t] < 0 {
				ub = math.Min(ub, yG)
			} else {
				lb = math.Max(lb, yG)
			}
		case alpha[t] <= 0:
			if yv[t] > 0 {
				ub = math.Min(ub, yG)
			} else {
				lb = math.Max(lb, yG)
			}
		default:
			nFree++
			sumFree += yG
		}
	}
	if nFree > 0 {
		return sumFree / float64(nFree)
	}
	return (ub + lb) / 2
}

func (m *binaryMachine) decision(s *SVC, x []float64) float64 {
	sum := 0.0
	for i, sv := range m.supportX {
		sum += m.coef[i] * s.kernel(sv, x)
	}
	return sum - m.rho
}

// DecisionFunction returns one column per binary machine, in (0,1), (0,2),
// ..., (1,2), ... order. Positive values favour the lower class index.
func (s *SVC) DecisionFunction(X mat.Matrix) (mat.Matrix, error) {
	r, c := X.Dims()
	if err := s.state.RequireFeatures("DecisionFunction", c); err != nil {
		return nil, err
	}
	out := mat.NewDense(r, len(s.machines), nil)
	parallel.ParallelizeWithThreshold(r, kernelParallelThreshold, func(start, end int) {
		x := make([]float64, c)
		for i := start; i < end; i++ {
			mat.Row(x, i, X)
			for k := range s.machines {
				out.Set(i, k, s.machines[k].decision(s, x))
			}
		}
	})
	return out, nil
}

// Predict returns the one-vs-one vote winner for each row. Ties go to the
// lower class index.
func (s *SVC) Predict(X mat.Matrix) (mat.Matrix, error) {
	dec, err := s.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	r, _ := X.Dims()
	out := mat.NewDense(r, 1, nil)
	votes := make([]int, s.nClasses_)
	for i := 0; i < r; i++ {
		for k := range votes {
			votes[k] = 0
		}
		for k, m := range s.machines {
			if dec.At(i, k) > 0 {
				votes[m.pos]++
			} else {
				votes[m.neg]++
			}
		}
		best := 0
		for k, v := range votes {
			if v > votes[best] {
				best = k
			}
		}
		out.Set(i, 0, float64(best))
	}
	return out, nil
}

// NClasses returns the number of classes seen during fitting.
func (s *SVC) NClasses() int {
	return s.nClasses_
}

// NSupport returns the number of support vectors of each binary machine.
func (s *SVC) NSupport() []int {
	out := make([]int, len(s.machines))
	for i, m := range s.machines {
		out[i] = len(m.supportX)
	}
	return out
}

// Iterations returns the SMO iteration count of each binary machine.
func (s *SVC) Iterations() []int {
	out := make([]int, len(s.machines))
	for i, m := range s.machines {
		out[i] = m.iterations
	}
	return out
}

// IsFitted reports whether Fit has completed.
func (s *SVC) IsFitted() bool {
	return s.state.IsFitted()
}

// GetParams returns the hyperparameters.
func (s *SVC) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"sigma":    s.sigma,
		"C":        s.c,
		"tol":      s.tol,
		"max_iter": s.maxIter,
	}
}

// SetParams updates hyperparameters and validates the result.
func (s *SVC) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		f, ok := asFloat(value)
		if !ok {
			return errors.NewInvalidParameterError(key, "must be a number", value)
		}
		switch key {
		case "sigma":
			s.sigma = f
		case "C":
			s.c = f
		case "tol":
			s.tol = f
		case "max_iter":
			if f != math.Trunc(f) {
				return errors.NewInvalidParameterError(key, "must be an integer", value)
			}
			s.maxIter = int(f)
		default:
			return errors.NewInvalidParameterError(key, "unknown SVC parameter", value)
		}
	}
	return s.validate()
}

func asFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	}
	return 0, false
}
