package motion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestResetSetsMaxStepAndInitial(t *testing.T) {
	s := New(4, 1024)
	assert.Equal(t, uint16(1024), s.CurrStepSize)
	assert.Equal(t, Initial, s.Attempt)
	assert.False(t, s.BoundaryHitOnReset)
	assert.False(t, s.BoundaryHitOnFail1)
}

func TestResetContinuousStartsAtMin(t *testing.T) {
	s := New(4, 1024)
	s.Reset(true)
	assert.Equal(t, uint16(4), s.CurrStepSize)
	assert.Equal(t, Initial, s.Attempt)
}

func TestCompareCouplingMonotonic(t *testing.T) {
	var stored uint16 = 100
	assert.True(t, CompareCoupling(&stored, 150))
	assert.Equal(t, uint16(150), stored)
	assert.False(t, CompareCoupling(&stored, 150))
	assert.False(t, CompareCoupling(&stored, 50))
	assert.Equal(t, uint16(150), stored)
}

func TestDisplacementToDeltaBias(t *testing.T) {
	dl, dr := DisplacementToDeltaBias(AxisLeft, 5)
	assert.Equal(t, 5, dl)
	assert.Equal(t, 0, dr)

	dl, dr = DisplacementToDeltaBias(AxisDown, 5)
	assert.Equal(t, 0, dl)
	assert.Equal(t, -5, dr)
}

// TestFullFailureCycleReturnsToReferenceAndHalvesStep drives a fiber
// through every attempt state via unbroken failures and checks that the
// accumulated relative deltas sum to zero (the fiber ends back at its
// starting bias) and that the step size halves exactly once per full
// cycle, per spec.md §4.2's FAIL_2_2 rule.
func TestFullFailureCycleReturnsToReferenceAndHalvesStep(t *testing.T) {
	s := New(4, 64)
	s.Axis = AxisLeft

	var totalLeft, totalRight int
	order := []Attempt{Initial, Reset1, Fail11, Fail12, Reset2, Fail21, Fail22}
	for i, expected := range order {
		require.Equal(t, expected, s.Attempt, "iteration %d", i)
		dl, dr := s.NextMoveDelta()
		totalLeft += dl
		totalRight += dr
		s.HandleFailure()
	}

	assert.Equal(t, 0, totalLeft, "full failure cycle must return to the starting bias")
	assert.Equal(t, 0, totalRight, "full failure cycle must return to the starting bias")
	assert.Equal(t, uint16(32), s.CurrStepSize, "step size must halve after a full failure cycle")
	assert.Equal(t, Initial, s.Attempt)
}

func TestFailureCycleConvergesWhenStepDropsBelowMin(t *testing.T) {
	s := New(4, 4)
	order := []Attempt{Initial, Reset1, Fail11, Fail12, Reset2, Fail21, Fail22}
	for _, expected := range order {
		require.Equal(t, expected, s.Attempt)
		s.NextMoveDelta()
		s.HandleFailure()
	}
	assert.True(t, s.Converged())
	assert.Equal(t, uint16(0), s.CurrStepSize)
}

func TestInitialSuccessStaysOnSameAxis(t *testing.T) {
	s := New(4, 64)
	s.Axis = AxisUp
	s.HandleSuccess()
	assert.Equal(t, Initial, s.Attempt)
	assert.Equal(t, AxisUp, s.Axis)
}

func TestReset1SuccessFlipsAxis(t *testing.T) {
	s := New(4, 64)
	s.Axis = AxisLeft
	s.Attempt = Reset1
	s.HandleSuccess()
	assert.Equal(t, Initial, s.Attempt)
	assert.Equal(t, AxisRight, s.Axis)
}

func TestBoundaryHitDuringResetForcesFailureEvenOnNewMax(t *testing.T) {
	s := New(4, 64)
	s.Attempt = Reset1
	s.HandleBoundaryHit()
	assert.True(t, s.BoundaryHitOnReset)
	assert.False(t, s.DecideSuccess(true))
}

func TestBoundaryHitDuringFail1ForcesFailureEvenOnNewMax(t *testing.T) {
	s := New(4, 64)
	s.Attempt = Fail11
	s.HandleBoundaryHit()
	assert.True(t, s.BoundaryHitOnFail1)
	assert.False(t, s.DecideSuccess(true))
}

func TestDecideSuccessWithoutBoundaryHitPassesThroughNewMax(t *testing.T) {
	s := New(4, 64)
	s.Attempt = Initial
	assert.True(t, s.DecideSuccess(true))
	assert.False(t, s.DecideSuccess(false))
}

// TestStepSizeInvariant is a property test over random success/failure
// sequences: after every iteration, a converged fiber has curr_step_size
// == 0 and a non-converged fiber's step size is a power of two in
// [min_step_size, max_step_size] (spec.md §8 invariants).
func TestStepSizeInvariant(t *testing.T) {
	rapid.Check(t, func(tt *rapid.T) {
		minExp := rapid.IntRange(1, 4).Draw(tt, "minExp")
		maxExp := rapid.IntRange(minExp, 12).Draw(tt, "maxExp")
		minStep := uint16(1 << minExp)
		maxStep := uint16(1 << maxExp)

		s := New(minStep, maxStep)
		outcomes := rapid.SliceOfN(rapid.Bool(), 0, 60).Draw(tt, "outcomes")
		for _, success := range outcomes {
			if s.Converged() {
				break
			}
			s.NextMoveDelta()
			if success {
				s.HandleSuccess()
			} else {
				s.HandleFailure()
			}
			if s.Converged() {
				assert.Equal(tt, uint16(0), s.CurrStepSize)
			} else {
				assert.GreaterOrEqual(tt, s.CurrStepSize, minStep)
				assert.LessOrEqual(tt, s.CurrStepSize, maxStep)
				assert.Zero(tt, s.CurrStepSize&(s.CurrStepSize-1), "step size must be a power of two")
			}
		}
	})
}

// TestAlwaysFailingConverges shows the loop terminates in finite
// iterations for any finite max_step_size and positive min_step_size
// (spec.md §8 invariants): a fiber that never finds a new maximum must
// converge after enough full failure cycles.
func TestAlwaysFailingConverges(t *testing.T) {
	s := New(4, 1024)
	const maxIterations = 7 * 20 // generous bound: 7 states per halving, ~log2(1024/4) halvings
	for i := 0; i < maxIterations && !s.Converged(); i++ {
		s.NextMoveDelta()
		s.HandleFailure()
	}
	assert.True(t, s.Converged())
}
