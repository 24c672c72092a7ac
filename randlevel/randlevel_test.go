package randlevel

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomLevelRange(t *testing.T) {
	for i := 0; i < 10000; i++ {
		h := RandomLevel(10)
		require.GreaterOrEqual(t, h, 1)
		require.LessOrEqual(t, h, 10)
	}
}

func TestRandomLevelPanicsOnBadMaxHeight(t *testing.T) {
	assert.Panics(t, func() { RandomLevel(0) })
	assert.Panics(t, func() { RandomLevel(33) })
}

// expectedProbabilities computes, for each bin in [0, maxHeight), the exact
// probability RandomLevel's algorithm assigns to it: the trailing-zero
// count of a uniform random word with the top bit forced on, folded into
// [0, maxHeight) by modulo reduction.
func expectedProbabilities(maxHeight int) []float64 {
	probs := make([]float64, maxHeight)
	for k := 0; k <= 31; k++ {
		var p float64
		if k < 31 {
			p = math.Pow(2, -float64(k+1))
		} else {
			// The top bit is forced to 1, so k=31 (all lower bits zero)
			// has probability 2^-31, not 2^-32.
			p = math.Pow(2, -31)
		}
		probs[k%maxHeight] += p
	}
	return probs
}

// TestRandomLevelDistribution checks that RandomLevel(10)'s empirical bin
// counts over a large sample match the theoretical geometric distribution
// within a chi-squared tolerance: n >= 2^20 samples,
// critical chi^2 = 25.19 (p ~= 1/2000, 10 degrees of freedom).
func TestRandomLevelDistribution(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping large-sample distribution test in -short mode")
	}

	const maxHeight = 10
	const n = 1 << 20

	counts := make([]int, maxHeight)
	for i := 0; i < n; i++ {
		h := RandomLevel(maxHeight)
		counts[h-1]++
	}

	expected := expectedProbabilities(maxHeight)

	var chiSquared float64
	for bin := 0; bin < maxHeight; bin++ {
		exp := expected[bin] * float64(n)
		diff := float64(counts[bin]) - exp
		chiSquared += diff * diff / exp
	}

	assert.Less(t, chiSquared, 25.19,
		"chi-squared %f exceeds critical value; counts=%v expected=%v", chiSquared, counts, expected)
}
