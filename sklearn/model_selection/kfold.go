package model_selection

import (
	"math/rand/v2"

	"github.com/YuminosukeSato/clfpipe/pkg/errors"
)

// StratifiedKFold deals class-sorted row indices round-robin into NSplits
// validation folds. Fold sizes differ by at most one and every fold keeps the
// class proportions of the whole.
type StratifiedKFold struct {
	NSplits int
	Shuffle bool
	Seed    uint64
}

// NewStratifiedKFold creates a stratified k-fold splitter.
func NewStratifiedKFold(nSplits int, shuffle bool, seed uint64) *StratifiedKFold {
	return &StratifiedKFold{NSplits: nSplits, Shuffle: shuffle, Seed: seed}
}

// GetNSplits returns the number of folds.
func (skf *StratifiedKFold) GetNSplits() int {
	return skf.NSplits
}

// Split returns NSplits folds. The union of the validation sides is every
// index exactly once.
func (skf *StratifiedKFold) Split(labels []string) ([]Fold, error) {
	if err := validateFolds(skf.NSplits, len(labels)); err != nil {
		return nil, err
	}
	var r *rand.Rand
	if skf.Shuffle {
		r = rand.New(rand.NewPCG(skf.Seed, skf.Seed))
	}
	return stratifiedFolds(labels, skf.NSplits, r), nil
}

// RepeatedStratifiedKFold repeats a shuffled StratifiedKFold NRepeats times.
// Repeat r draws from the PCG stream (Seed, r).
type RepeatedStratifiedKFold struct {
	NSplits  int
	NRepeats int
	Seed     uint64
}

// NewRepeatedStratifiedKFold creates a repeated stratified k-fold splitter.
func NewRepeatedStratifiedKFold(nSplits, nRepeats int, seed uint64) *RepeatedStratifiedKFold {
	return &RepeatedStratifiedKFold{NSplits: nSplits, NRepeats: nRepeats, Seed: seed}
}

// GetNSplits returns the total number of folds, NSplits*NRepeats.
func (rkf *RepeatedStratifiedKFold) GetNSplits() int {
	return rkf.NSplits * rkf.NRepeats
}

// Split returns NSplits*NRepeats folds in repeat-major order.
func (rkf *RepeatedStratifiedKFold) Split(labels []string) ([]Fold, error) {
	if err := validateFolds(rkf.NSplits, len(labels)); err != nil {
		return nil, err
	}
	if rkf.NRepeats < 1 {
		return nil, errors.NewInvalidParameterError("repeats", "must be at least 1", rkf.NRepeats)
	}

	folds := make([]Fold, 0, rkf.GetNSplits())
	for rep := 0; rep < rkf.NRepeats; rep++ {
		r := rand.New(rand.NewPCG(rkf.Seed, uint64(rep)))
		folds = append(folds, stratifiedFolds(labels, rkf.NSplits, r)...)
	}
	return folds, nil
}

func validateFolds(k, n int) error {
	if k < 2 {
		return errors.NewInvalidParameterError("folds", "must be at least 2", k)
	}
	if k > n {
		return errors.NewInvalidParameterError("folds", "cannot exceed the number of rows", k)
	}
	return nil
}

// stratifiedFolds shuffles each class with r (when non-nil), concatenates the
// classes in sorted label order and deals the result round-robin.
func stratifiedFolds(labels []string, k int, r *rand.Rand) []Fold {
	byClass, classes := groupByClass(labels)

	assign := make([]int, len(labels))
	pos := 0
	for _, c := range classes {
		indices := byClass[c]
		if r != nil {
			r.Shuffle(len(indices), func(i, j int) {
				indices[i], indices[j] = indices[j], indices[i]
			})
		}
		for _, idx := range indices {
			assign[idx] = pos % k
			pos++
		}
	}

	// idx ascending keeps both sides sorted
	folds := make([]Fold, k)
	for idx, f := range assign {
		for j := range folds {
			if j == f {
				folds[j].Validation = append(folds[j].Validation, idx)
			} else {
				folds[j].Train = append(folds[j].Train, idx)
			}
		}
	}
	return folds
}
