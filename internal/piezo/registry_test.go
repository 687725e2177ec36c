package piezo

import (
	"testing"

	"github.com/mamsctl/mams/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func newTestRegistry(t *testing.T, n int, maxBias uint16) *Registry {
	t.Helper()
	r := New(n)
	for f := 0; f < n; f++ {
		require.NoError(t, r.SetDAC(f, f, 0, f, 1, maxBias))
	}
	return r
}

func TestSetBiasOverwritesUnconditionally(t *testing.T) {
	r := newTestRegistry(t, 1, 1000)
	require.NoError(t, r.SetBias(0, 100, 200))

	left, right, err := r.GetBias(0)
	require.NoError(t, err)
	assert.Equal(t, uint16(100), left)
	assert.Equal(t, uint16(200), right)
}

func TestSetBiasRejectsOverMaxBias(t *testing.T) {
	r := newTestRegistry(t, 1, 1000)
	err := r.SetBias(0, 1001, 0)
	require.Error(t, err)
	assert.Equal(t, errs.Invalid, errs.CodeOf(err))
}

// TestCentering exercises spec.md §8 scenario 1: two fibers set to opposite
// extremes, then both driven to half-scale.
func TestCentering(t *testing.T) {
	const maxBias = 1<<16 - 1
	const halfBias = 1 << 15
	r := newTestRegistry(t, 2, maxBias)

	require.NoError(t, r.SetBias(0, 0, 0))
	require.NoError(t, r.SetBias(1, maxBias, maxBias))

	require.NoError(t, r.SetBias(0, halfBias, halfBias))
	require.NoError(t, r.SetBias(1, halfBias, halfBias))

	for f := 0; f < 2; f++ {
		left, right, err := r.GetBias(f)
		require.NoError(t, err)
		assert.Equal(t, uint16(halfBias), left)
		assert.Equal(t, uint16(halfBias), right)
	}
}

// TestBoundaryClamp exercises spec.md §8 scenario 2.
func TestBoundaryClamp(t *testing.T) {
	const maxBias = 1000
	r := newTestRegistry(t, 1, maxBias)
	require.NoError(t, r.SetBias(0, maxBias-10, maxBias-10))

	left, right, code, err := r.IncrementBias(0, 20, 20, 0)
	require.Error(t, err)
	assert.Equal(t, errs.OutOfRange, code)
	assert.Equal(t, uint16(maxBias), left)
	assert.Equal(t, uint16(maxBias), right)
}

// TestHysteresisBacklash exercises spec.md §8 scenario 3 exactly.
func TestHysteresisBacklash(t *testing.T) {
	r := newTestRegistry(t, 1, 1<<16-1)
	require.NoError(t, r.SetBias(0, 100, 200))

	left, right, code, err := r.IncrementBias(0, 10, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, errs.AllGood, code)
	assert.Equal(t, uint16(115), left)
	assert.Equal(t, uint16(200), right)

	left, right, code, err = r.IncrementBias(0, 10, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, errs.AllGood, code)
	assert.Equal(t, uint16(125), left)
	assert.Equal(t, uint16(200), right)

	left, right, code, err = r.IncrementBias(0, -10, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, errs.AllGood, code)
	assert.Equal(t, uint16(110), left)
	assert.Equal(t, uint16(200), right)
}

func TestIncrementBiasRoundTripWithoutBoundary(t *testing.T) {
	r := newTestRegistry(t, 1, 1<<16-1)
	require.NoError(t, r.SetBias(0, 30000, 30000))

	left, _, code, err := r.IncrementBias(0, 500, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, errs.AllGood, code)
	assert.Equal(t, uint16(30500), left)

	left, _, code, err = r.IncrementBias(0, -500, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, errs.AllGood, code)
	assert.Equal(t, uint16(30000), left)
}

// TestBiasInvariantAlwaysInRange is a property test over random sequences
// of increments: the registry invariant 0 ≤ bias ≤ max_bias must hold after
// every operation (spec.md §8 invariants).
func TestBiasInvariantAlwaysInRange(t *testing.T) {
	rapid.Check(t, func(tt *rapid.T) {
		maxBias := uint16(rapid.IntRange(1, 1<<16-1).Draw(tt, "maxBias"))
		r := New(1)
		require.NoError(tt, r.SetDAC(0, 0, 0, 0, 1, maxBias))

		initLeft := uint16(rapid.IntRange(0, int(maxBias)).Draw(tt, "initLeft"))
		initRight := uint16(rapid.IntRange(0, int(maxBias)).Draw(tt, "initRight"))
		require.NoError(tt, r.SetBias(0, initLeft, initRight))

		steps := rapid.SliceOfN(rapid.IntRange(-2000, 2000), 0, 30).Draw(tt, "steps")
		hyst := rapid.IntRange(0, 100).Draw(tt, "hysteresis")
		for _, delta := range steps {
			left, right, _, _ := r.IncrementBias(0, delta, 0, hyst)
			assert.LessOrEqual(tt, left, maxBias)
			assert.LessOrEqual(tt, right, maxBias)
			storedLeft, storedRight, err := r.GetBias(0)
			require.NoError(tt, err)
			assert.Equal(tt, left, storedLeft)
			assert.Equal(tt, right, storedRight)
		}
	})
}

func TestOutOfRangeFiberRejected(t *testing.T) {
	r := New(2)
	require.Error(t, r.SetDAC(5, 0, 0, 0, 1, 100))
	require.Error(t, r.SetBias(-1, 0, 0))
	_, _, _, err := r.IncrementBias(2, 1, 0, 0)
	require.Error(t, err)
}
