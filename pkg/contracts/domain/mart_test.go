package domain

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccumulatorAdd(t *testing.T) {
	var a Accumulator
	for _, x := range []float64{10, 20, 30} {
		a.Add(x)
	}

	assert.Equal(t, int64(3), a.Count)
	assert.InDelta(t, 60, a.Sum, 1e-9)
	assert.InDelta(t, 20, a.Mean, 1e-9)
	assert.InDelta(t, 10, a.Min, 1e-9)
	assert.InDelta(t, 30, a.Max, 1e-9)
}

func TestAccumulatorMergeMatchesSequential(t *testing.T) {
	values := []float64{4.5, -2, 100, 0.25, 17, 3, 3, -9.5}

	var sequential Accumulator
	for _, x := range values {
		sequential.Add(x)
	}

	var left, right Accumulator
	for _, x := range values[:3] {
		left.Add(x)
	}
	for _, x := range values[3:] {
		right.Add(x)
	}
	left.Merge(right)

	assert.Equal(t, sequential.Count, left.Count)
	assert.InDelta(t, sequential.Sum, left.Sum, 1e-9)
	assert.InDelta(t, sequential.Mean, left.Mean, 1e-9)
	assert.InDelta(t, sequential.Min, left.Min, 1e-9)
	assert.InDelta(t, sequential.Max, left.Max, 1e-9)
}

func TestAccumulatorMergeOrderIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	values := make([]float64, 200)
	for i := range values {
		values[i] = rng.Float64()*2000 - 1000
	}

	// Split into three disjoint parts and merge them in both orders.
	parts := [][]float64{values[:50], values[50:120], values[120:]}
	accs := make([]Accumulator, len(parts))
	for i, part := range parts {
		for _, x := range part {
			accs[i].Add(x)
		}
	}

	forward := accs[0]
	forward.Merge(accs[1])
	forward.Merge(accs[2])

	backward := accs[2]
	backward.Merge(accs[1])
	backward.Merge(accs[0])

	assert.Equal(t, forward.Count, backward.Count)
	assert.InDelta(t, forward.Sum, backward.Sum, 1e-6)
	assert.InDelta(t, forward.Mean, backward.Mean, 1e-9)
	assert.InDelta(t, forward.Min, backward.Min, 1e-9)
	assert.InDelta(t, forward.Max, backward.Max, 1e-9)
}

func TestAccumulatorMergeEmpty(t *testing.T) {
	var a Accumulator
	a.Add(5)

	var empty Accumulator
	a.Merge(empty)
	assert.Equal(t, int64(1), a.Count)
	assert.InDelta(t, 5, a.Mean, 1e-9)

	var b Accumulator
	b.Merge(a)
	assert.Equal(t, int64(1), b.Count)
	assert.InDelta(t, 5, b.Min, 1e-9)
	assert.InDelta(t, 5, b.Max, 1e-9)
}

func TestAccumulatorGet(t *testing.T) {
	var a Accumulator
	a.Add(2)
	a.Add(4)

	assert.InDelta(t, 6, a.Get(OpSum), 1e-9)
	assert.InDelta(t, 2, a.Get(OpCount), 1e-9)
	assert.InDelta(t, 3, a.Get(OpRunningMean), 1e-9)
	assert.InDelta(t, 2, a.Get(OpMin), 1e-9)
	assert.InDelta(t, 4, a.Get(OpMax), 1e-9)
}

func TestMartEntryCloneIsDeep(t *testing.T) {
	entry := MartEntry{
		Key:        "2024-Q1|Digital",
		Dimensions: map[string]string{"type": "Digital"},
		Metrics:    map[string]Accumulator{"roi": {Count: 1, Sum: 2, Mean: 2, Min: 2, Max: 2}},
	}

	clone := entry.Clone()
	require.Equal(t, entry.Key, clone.Key)

	clone.Dimensions["type"] = "HR"
	acc := clone.Metrics["roi"]
	acc.Add(100)
	clone.Metrics["roi"] = acc

	assert.Equal(t, "Digital", entry.Dimensions["type"])
	assert.Equal(t, int64(1), entry.Metrics["roi"].Count)
}
