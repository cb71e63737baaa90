package svm

import (
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/clfpipe/pkg/errors"
)

// SigmaRange is a range of plausible RBF sigma values for a design matrix.
type SigmaRange struct {
	Low, Mid, High float64
}

// EstimateSigma samples pairs of distinct rows and inverts the 90%, 50% and
// 10% quantiles of their squared distances. Any sigma inside [Low, High]
// usually gives good results; Center() is a reasonable single choice.
// The estimate is deterministic for a seed.
func EstimateSigma(X mat.Matrix, seed uint64) (SigmaRange, error) {
	r, c := X.Dims()
	if r < 2 {
		return SigmaRange{}, errors.NewInvalidParameterError("rows", "need at least two rows to estimate sigma", r)
	}

	rng := rand.New(rand.NewPCG(seed, seed))
	pairs := r / 2
	if pairs < 50 {
		pairs = 50
	}

	var dist []float64
	a := make([]float64, c)
	b := make([]float64, c)
	for k := 0; k < pairs; k++ {
		i := rng.IntN(r)
		j := rng.IntN(r)
		mat.Row(a, i, X)
		mat.Row(b, j, X)
		d := floats.Distance(a, b, 2)
		if d > 0 {
			dist = append(dist, d*d)
		}
	}
	if len(dist) == 0 {
		return SigmaRange{}, errors.NewValueError("EstimateSigma", "all sampled rows are identical")
	}
	sort.Float64s(dist)

	q := func(p float64) float64 {
		return stat.Quantile(p, stat.LinInterp, dist, nil)
	}
	return SigmaRange{
		Low:  1 / q(0.9),
		Mid:  1 / q(0.5),
		High: 1 / q(0.1),
	}, nil
}

// Center returns the mean of Low and High.
func (s SigmaRange) Center() float64 {
	return (s.Low + s.High) / 2
}
