// Package motion implements the per-fiber search state machine (spec.md
// §3/§4.2): the seven-state attempt sequence, axis bookkeeping, and the
// Δbias computation it drives. Every function here is pure with respect to
// hardware — no ADC/DAC access — so the state machine can be exhaustively
// unit-tested against the algorithm kernel's contract alone, per the
// "hardware trait boundary" design note.
package motion

import "github.com/mamsctl/mams/internal/fiberlist"

// Axis is one of the four cardinal probe directions in (Δleft, Δright)
// space. There is no rotation: "perpendicular" means "the other pair of
// biases", not a geometric transform.
type Axis int

const (
	AxisLeft Axis = iota
	AxisRight
	AxisUp
	AxisDown
)

func (a Axis) String() string {
	switch a {
	case AxisLeft:
		return "left"
	case AxisRight:
		return "right"
	case AxisUp:
		return "up"
	case AxisDown:
		return "down"
	default:
		return "unknown"
	}
}

// Vector returns the unit (Δleft, Δright) for one step along a.
func (a Axis) Vector() (dl, dr int) {
	switch a {
	case AxisLeft:
		return 1, 0
	case AxisRight:
		return -1, 0
	case AxisUp:
		return 0, 1
	case AxisDown:
		return 0, -1
	default:
		return 0, 0
	}
}

// Opposite returns the axis pointing the other way along the same pair.
func (a Axis) Opposite() Axis {
	switch a {
	case AxisLeft:
		return AxisRight
	case AxisRight:
		return AxisLeft
	case AxisUp:
		return AxisDown
	case AxisDown:
		return AxisUp
	default:
		return a
	}
}

// isHorizontal reports whether a belongs to the left/right pair.
func (a Axis) isHorizontal() bool { return a == AxisLeft || a == AxisRight }

// perpendicularPositive is the "positive" axis of the pair orthogonal to a:
// Up for the left/right pair, Left for the up/down pair. This is a fixed
// convention, not a function of a's own sign.
func (a Axis) perpendicularPositive() Axis {
	if a.isHorizontal() {
		return AxisUp
	}
	return AxisLeft
}

// Attempt is the phase of the per-fiber local search.
type Attempt int

const (
	Initial Attempt = iota
	Reset1
	Fail11
	Fail12
	Reset2
	Fail21
	Fail22
)

func (a Attempt) String() string {
	switch a {
	case Initial:
		return "initial"
	case Reset1:
		return "reset_1"
	case Fail11:
		return "fail_1_1"
	case Fail12:
		return "fail_1_2"
	case Reset2:
		return "reset_2"
	case Fail21:
		return "fail_2_1"
	case Fail22:
		return "fail_2_2"
	default:
		return "unknown"
	}
}

// forced reports whether a's outcome is unconditional: FAIL_1_2 and
// FAIL_2_2 are deliberate return-to-reference moves whose measured reading
// always replaces the stored maximum, so the success/failure distinction
// computed from compare_coupling never governs the transition out of
// these two states — both callers land on the same next state. This
// mirrors the conflation the original firmware exhibits at these two
// decision points; see the design notes.
func (a Attempt) forced() bool { return a == Fail12 || a == Fail22 }

// State is the per-fiber motion state (spec.md §3).
type State struct {
	CurrStepSize uint16
	MaxStepSize  uint16
	MinStepSize  uint16
	Axis         Axis
	Attempt      Attempt

	BoundaryHitOnReset bool
	BoundaryHitOnFail1 bool
	Enabled            bool
}

// New builds a motion state with the given step bounds, initially reset
// (non-continuous).
func New(minStepSize, maxStepSize uint16) *State {
	s := &State{MinStepSize: minStepSize, MaxStepSize: maxStepSize}
	s.Reset(false)
	return s
}

// Reset implements reset_fiber_motion_state(min, max, continuous): restores
// the INITIAL attempt at a fresh step size and clears sticky flags. A
// continuous reset (used for the dithering refinement phase) starts from
// the minimum step instead of the maximum.
func (s *State) Reset(continuous bool) {
	if continuous {
		s.CurrStepSize = s.MinStepSize
	} else {
		s.CurrStepSize = s.MaxStepSize
	}
	s.Attempt = Initial
	s.BoundaryHitOnReset = false
	s.BoundaryHitOnFail1 = false
}

// EnableMotion sets Enabled=true for exactly the fibers named in moveList,
// leaving every other fiber's state untouched (spec.md §4.2
// enable_motion). states is indexed by fiber.
func EnableMotion(moveList *fiberlist.List, states map[int]*State) {
	for fiber, st := range states {
		if moveList.Contains(fiber) {
			st.Enabled = true
		}
	}
}

// Converged reports whether the fiber's step size has been halved below
// the minimum step size (and so set to zero), ending its search.
func (s *State) Converged() bool { return s.CurrStepSize == 0 }

// ForcesOverwrite reports whether s's current attempt is a deliberate
// return-to-reference move whose reading must replace the stored coupling
// maximum before compare_coupling runs (spec.md §4.3 step 6.d).
func (s *State) ForcesOverwrite() bool { return s.Attempt.forced() }

// DisplacementToDeltaBias scales axis's unit vector by steps (spec.md
// §4.2). steps carries its own sign; axis fixes the base direction.
func DisplacementToDeltaBias(axis Axis, steps int) (deltaLeft, deltaRight int) {
	ul, ur := axis.Vector()
	return ul * steps, ur * steps
}

func sum(a, b [2]int) [2]int { return [2]int{a[0] + b[0], a[1] + b[1]} }
func scaled(axis Axis, steps int) [2]int {
	dl, dr := DisplacementToDeltaBias(axis, steps)
	return [2]int{dl, dr}
}

// NextMoveDelta computes the Δbias to apply this iteration for s's current
// attempt, given the step size in effect. Every delta is expressed
// relative to the bias the fiber is already sitting at (matching
// increment_bias's accumulate-in-place contract), so no absolute position
// bookkeeping is required here: each transition's offset is derived
// algebraically from the fixed step size and the move just executed.
func (s *State) NextMoveDelta() (deltaLeft, deltaRight int) {
	step := int(s.CurrStepSize)
	perp := s.Axis.perpendicularPositive()

	var v [2]int
	switch s.Attempt {
	case Initial:
		// First probe: step out along the confirmed axis.
		v = scaled(s.Axis, step)
	case Reset1:
		// Currently +step along Axis; go to -step: a move of -2·step.
		v = scaled(s.Axis, -2*step)
	case Fail11:
		// Currently -step along Axis; go to +step along perp: undo the
		// axis excursion and step out on the perpendicular pair.
		v = sum(scaled(s.Axis, step), scaled(perp, step))
	case Fail12:
		// Currently +step along perp; return to reference.
		v = scaled(perp, -step)
	case Reset2:
		// At reference; step out -step along perp (its opposite side).
		v = scaled(perp, -step)
	case Fail21:
		// Currently -step along perp; return to reference and retry the
		// original axis's positive direction from a clean baseline.
		v = sum(scaled(perp, step), scaled(s.Axis, step))
	case Fail22:
		// Currently +step along Axis; return to reference before halving.
		v = scaled(s.Axis, -step)
	default:
		v = [2]int{0, 0}
	}
	return v[0], v[1]
}

// CompareCoupling implements compare_coupling: if newVal exceeds *stored,
// it becomes the new stored maximum and CompareCoupling reports true.
func CompareCoupling(stored *uint16, newVal uint16) bool {
	if newVal > *stored {
		*stored = newVal
		return true
	}
	return false
}

// HandleBoundaryHit sets the sticky flag appropriate to s's current
// attempt when a move clamped against a bias bound (spec.md §4.2).
func (s *State) HandleBoundaryHit() {
	switch s.Attempt {
	case Reset1, Reset2:
		s.BoundaryHitOnReset = true
	case Fail11, Fail21:
		s.BoundaryHitOnFail1 = true
	}
}

// DecideSuccess combines a fresh compare_coupling result with the sticky
// boundary flags to determine whether this iteration counts as a success
// for state-machine purposes: hitting a rail during RESET_1/RESET_2 or
// FAIL_1_1/FAIL_2_1 is never a real optimum even if coupling nominally
// rose.
func (s *State) DecideSuccess(newMaxFound bool) bool {
	switch s.Attempt {
	case Reset1, Reset2:
		if s.BoundaryHitOnReset {
			return false
		}
	case Fail11, Fail21:
		if s.BoundaryHitOnFail1 {
			return false
		}
	}
	return newMaxFound
}

// HandleSuccess advances s after a successful iteration (spec.md §4.2's
// "on success" column) and reports whether the caller must force-overwrite
// the stored coupling maximum with the reading just taken.
func (s *State) HandleSuccess() (forceOverwrite bool) {
	if s.Attempt.forced() {
		return s.advanceForced()
	}
	switch s.Attempt {
	case Initial:
		// stay, same axis
	case Reset1:
		s.Axis = s.Axis.Opposite()
		s.Attempt = Initial
	case Fail11:
		s.Axis = s.Axis.perpendicularPositive()
		s.Attempt = Initial
	case Reset2:
		s.Axis = s.Axis.perpendicularPositive().Opposite()
		s.Attempt = Initial
	case Fail21:
		s.Attempt = Initial
	}
	s.clearFlagsOnReturnToInitial()
	return false
}

// HandleFailure advances s after an unsuccessful iteration (spec.md
// §4.2's "on failure" column).
func (s *State) HandleFailure() (forceOverwrite bool) {
	if s.Attempt.forced() {
		return s.advanceForced()
	}
	switch s.Attempt {
	case Initial:
		s.Attempt = Reset1
	case Reset1:
		s.Attempt = Fail11
	case Fail11:
		s.Attempt = Fail12
	case Reset2:
		s.Attempt = Fail21
	case Fail21:
		s.Attempt = Fail22
	}
	return false
}

// advanceForced implements the unconditional FAIL_1_2/FAIL_2_2 transitions
// shared by HandleSuccess and HandleFailure.
func (s *State) advanceForced() (forceOverwrite bool) {
	switch s.Attempt {
	case Fail12:
		s.Attempt = Reset2
		return true
	case Fail22:
		s.CurrStepSize /= 2
		if s.CurrStepSize < s.MinStepSize {
			s.CurrStepSize = 0
		}
		s.Attempt = Initial
		s.clearFlagsOnReturnToInitial()
		return true
	}
	return false
}

func (s *State) clearFlagsOnReturnToInitial() {
	s.BoundaryHitOnReset = false
	s.BoundaryHitOnFail1 = false
}
