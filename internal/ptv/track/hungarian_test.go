package track

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssignPrefersGlobalOptimum(t *testing.T) {
	t.Parallel()

	// Row 0 greedily takes column 0, forcing row 1 into a cost of 10;
	// the optimal assignment swaps them.
	cost := [][]float64{
		{1, 2},
		{1, 10},
	}
	assert.Equal(t, []int{1, 0}, assign(cost))
}

func TestAssignRespectsForbiddenEntries(t *testing.T) {
	t.Parallel()

	cost := [][]float64{
		{forbiddenCost, 3},
		{forbiddenCost, forbiddenCost},
	}
	assert.Equal(t, []int{1, -1}, assign(cost))
}

func TestAssignAllForbidden(t *testing.T) {
	t.Parallel()

	cost := [][]float64{
		{forbiddenCost, forbiddenCost},
	}
	assert.Equal(t, []int{-1}, assign(cost))
}

func TestAssignRectangular(t *testing.T) {
	t.Parallel()

	// More rows than columns: one row must stay unassigned.
	cost := [][]float64{
		{1},
		{2},
		{3},
	}
	got := assign(cost)
	assert.Equal(t, []int{0, -1, -1}, got)

	// More columns than rows.
	cost = [][]float64{
		{5, 1, 9},
	}
	assert.Equal(t, []int{1}, assign(cost))
}

func TestAssignEmpty(t *testing.T) {
	t.Parallel()

	assert.Nil(t, assign(nil))
	assert.Equal(t, []int{-1, -1}, assign([][]float64{{}, {}}))
}
