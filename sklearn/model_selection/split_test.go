package model_selection

import (
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/clfpipe/pkg/errors"
)

// makeLabels returns n labels, the first round(n*share) "good" and the rest
// "bad", interleaved so classes are not contiguous.
func makeLabels(n int, share float64) []string {
	nGood := int(math.Round(float64(n) * share))
	labels := make([]string, n)
	good, bad := 0, 0
	for i := range labels {
		if good < nGood && (bad >= n-nGood || i%10 < int(share*10)) {
			labels[i] = "good"
			good++
		} else {
			labels[i] = "bad"
			bad++
		}
	}
	return labels
}

func proportion(labels []string, idx []int, class string) float64 {
	n := 0
	for _, i := range idx {
		if labels[i] == class {
			n++
		}
	}
	return float64(n) / float64(len(idx))
}

func TestTrainTestSplit(t *testing.T) {
	labels := makeLabels(1000, 0.7)

	split, err := TrainTestSplit(labels, 0.7, 99)
	require.NoError(t, err)

	t.Run("sizes", func(t *testing.T) {
		assert.Len(t, split.Test, 300)
		assert.Len(t, split.Train, 700)
	})

	t.Run("disjoint cover", func(t *testing.T) {
		all := append(append([]int{}, split.Train...), split.Test...)
		sort.Ints(all)
		for i, v := range all {
			require.Equal(t, i, v)
		}
	})

	t.Run("sorted", func(t *testing.T) {
		assert.True(t, sort.IntsAreSorted(split.Train))
		assert.True(t, sort.IntsAreSorted(split.Test))
	})

	t.Run("stratified", func(t *testing.T) {
		assert.InDelta(t, 0.7, proportion(labels, split.Train, "good"), 0.05)
		assert.InDelta(t, 0.7, proportion(labels, split.Test, "good"), 0.05)
	})

	t.Run("deterministic", func(t *testing.T) {
		again, err := TrainTestSplit(labels, 0.7, 99)
		require.NoError(t, err)
		assert.Equal(t, split, again)

		other, err := TrainTestSplit(labels, 0.7, 100)
		require.NoError(t, err)
		assert.NotEqual(t, split.Test, other.Test)
	})
}

func TestTrainTestSplitSmallClasses(t *testing.T) {
	labels := []string{"a", "a", "a", "b", "b", "c"}
	split, err := TrainTestSplit(labels, 0.5, 1)
	require.NoError(t, err)
	// round(1.5)=2 of a, round(1)=1 of b, round(0.5)=1 of c
	assert.Len(t, split.Train, 4)
	assert.Len(t, split.Test, 2)
}

func TestTrainTestSplitInvalid(t *testing.T) {
	tests := []struct {
		name   string
		labels []string
		p      float64
	}{
		{"empty labels", nil, 0.5},
		{"p zero", []string{"a", "b"}, 0},
		{"p one", []string{"a", "b"}, 1},
		{"p negative", []string{"a", "b"}, -0.2},
		{"p NaN", []string{"a", "b"}, math.NaN()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := TrainTestSplit(tt.labels, tt.p, 1)
			require.Error(t, err)
			assert.True(t, errors.IsInvalidParameter(err))
		})
	}
}
