// Package model_selection provides stratified partitioning, cross-validation
// splitters and an exhaustive grid search over hyperparameter points.
package model_selection

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/YuminosukeSato/clfpipe/pkg/errors"
)

// Split is a train/test partition of row indices. Both sides are sorted
// ascending, disjoint, and together cover every row.
type Split struct {
	Train []int
	Test  []int
}

// Fold is one cross-validation assignment.
type Fold struct {
	Train      []int
	Validation []int
}

// TrainTestSplit partitions rows so that each class keeps roughly the same
// proportion on both sides. For every class (in sorted label order) its row
// indices are shuffled with a PCG generator seeded from seed and the first
// round(p*n_c) go to train. The same labels, p and seed always give the same
// split.
func TrainTestSplit(labels []string, p float64, seed uint64) (Split, error) {
	if len(labels) == 0 {
		return Split{}, errors.NewInvalidParameterError("labels", "cannot split an empty label vector", 0)
	}
	if math.IsNaN(p) || p <= 0 || p >= 1 {
		return Split{}, errors.NewInvalidParameterError("p", "must be in (0, 1)", p)
	}

	r := rand.New(rand.NewPCG(seed, seed))
	byClass, classes := groupByClass(labels)

	train := make([]int, 0, int(math.Round(p*float64(len(labels)))))
	test := make([]int, 0, len(labels)-cap(train))
	for _, c := range classes {
		indices := byClass[c]
		r.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
		nTrain := int(math.Round(p * float64(len(indices))))
		train = append(train, indices[:nTrain]...)
		test = append(test, indices[nTrain:]...)
	}

	sort.Ints(train)
	sort.Ints(test)
	return Split{Train: train, Test: test}, nil
}

// groupByClass returns the row indices of every label (ascending) and the
// sorted list of distinct labels.
func groupByClass(labels []string) (map[string][]int, []string) {
	byClass := make(map[string][]int)
	for i, l := range labels {
		byClass[l] = append(byClass[l], i)
	}
	classes := make([]string, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	sort.Strings(classes)
	return byClass, classes
}
