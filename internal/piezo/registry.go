// Package piezo implements the persistent piezo-pair registry: the
// per-fiber map of DAC channel assignment and current bias state (spec.md
// §3/§4.1). It owns the invariant 0 ≤ bias_left,bias_right ≤ max_bias for
// every fiber at every instant.
package piezo

import (
	"github.com/mamsctl/mams/internal/errs"
	"github.com/mamsctl/mams/internal/hwiface"
)

// Pair is one fiber's piezo-pair state: DAC addressing plus current bias.
type Pair struct {
	DACLeft, DACRight hwiface.Address
	BiasLeft          uint16
	BiasRight         uint16
	MaxBias           uint16
	set               bool
	// lastDeltaLeft/lastDeltaRight record the sign of the most recent
	// nonzero increment applied to each side, for hysteresis handling in
	// IncrementBias.
	lastDeltaLeft, lastDeltaRight int
}

// Registry is the process-wide map of fiber index → Pair.
type Registry struct {
	pairs []Pair
}

// New creates a registry sized for n fibers.
func New(n int) *Registry {
	return &Registry{pairs: make([]Pair, n)}
}

func (r *Registry) inRange(fiber int) bool {
	return fiber >= 0 && fiber < len(r.pairs)
}

// SetDAC initializes the DAC wiring and bias ceiling for a fiber.
func (r *Registry) SetDAC(fiber int, leftDev, leftCh, rightDev, rightCh int, maxBias uint16) error {
	if !r.inRange(fiber) {
		return errs.Newf(errs.OutOfRange, "piezo: fiber %d out of range", fiber)
	}
	p := &r.pairs[fiber]
	p.DACLeft = hwiface.Address{Device: leftDev, Channel: leftCh}
	p.DACRight = hwiface.Address{Device: rightDev, Channel: rightCh}
	p.MaxBias = maxBias
	p.set = true
	return nil
}

// SetBias overwrites the current bias unconditionally. Fails if either
// value exceeds max_bias.
func (r *Registry) SetBias(fiber int, left, right uint16) error {
	if !r.inRange(fiber) {
		return errs.Newf(errs.OutOfRange, "piezo: fiber %d out of range", fiber)
	}
	p := &r.pairs[fiber]
	if left > p.MaxBias || right > p.MaxBias {
		return errs.Newf(errs.Invalid, "piezo: bias (%d,%d) exceeds max_bias %d", left, right, p.MaxBias)
	}
	p.BiasLeft = left
	p.BiasRight = right
	p.lastDeltaLeft = 0
	p.lastDeltaRight = 0
	return nil
}

// GetBias returns the current (left, right) bias for a fiber.
func (r *Registry) GetBias(fiber int) (left, right uint16, err error) {
	if !r.inRange(fiber) {
		return 0, 0, errs.Newf(errs.OutOfRange, "piezo: fiber %d out of range", fiber)
	}
	p := &r.pairs[fiber]
	return p.BiasLeft, p.BiasRight, nil
}

// GetDACLeft returns the (device, channel) for the left DAC channel.
func (r *Registry) GetDACLeft(fiber int) (hwiface.Address, error) {
	if !r.inRange(fiber) {
		return hwiface.Address{}, errs.Newf(errs.OutOfRange, "piezo: fiber %d out of range", fiber)
	}
	return r.pairs[fiber].DACLeft, nil
}

// GetDACRight returns the (device, channel) for the right DAC channel.
func (r *Registry) GetDACRight(fiber int) (hwiface.Address, error) {
	if !r.inRange(fiber) {
		return hwiface.Address{}, errs.Newf(errs.OutOfRange, "piezo: fiber %d out of range", fiber)
	}
	return r.pairs[fiber].DACRight, nil
}

// MaxBias returns the configured bias ceiling for a fiber.
func (r *Registry) MaxBias(fiber int) (uint16, error) {
	if !r.inRange(fiber) {
		return 0, errs.Newf(errs.OutOfRange, "piezo: fiber %d out of range", fiber)
	}
	return r.pairs[fiber].MaxBias, nil
}

// clampAdd adds delta to current (both ints to allow intermediate
// negative/overflow values), clamping into [0, max]. Returns the clamped
// result and whether clamping occurred.
func clampAdd(current uint16, delta int, max uint16) (uint16, bool) {
	target := int(current) + delta
	if target < 0 {
		return 0, true
	}
	if target > int(max) {
		return max, true
	}
	return uint16(target), false
}

// sign returns -1, 0, or 1.
func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// IncrementBias applies a clamped, hysteresis-aware delta to both sides of
// a fiber's bias (spec.md §4.1). If the sign of the increment on a side
// differs from that side's previous nonzero increment, an extra
// hysteresis-sized step in the direction of motion is added before
// clamping (mechanical backlash compensation). Returns the resulting
// (left, right) bias and errs.OutOfRange (non-fatal) if either side
// clamped against a bound; errs.AllGood otherwise.
func (r *Registry) IncrementBias(fiber int, deltaLeft, deltaRight int, hysteresis int) (outLeft, outRight uint16, code errs.Code, err error) {
	if !r.inRange(fiber) {
		return 0, 0, errs.OutOfRange, errs.Newf(errs.OutOfRange, "piezo: fiber %d out of range", fiber)
	}
	p := &r.pairs[fiber]

	// A direction reversal — including the very first nonzero move off the
	// neutral (just-set) bias — must traverse the piezo's mechanical
	// backlash before the commanded displacement takes effect (spec.md
	// §8 scenario 3: the first +10 gets a +5 extra, a repeated +10 does
	// not, a following -10 gets the extra again).
	applySide := func(current uint16, delta int, lastDelta *int) (uint16, bool) {
		effective := delta
		if delta != 0 && sign(delta) != *lastDelta {
			effective += sign(delta) * hysteresis
		}
		result, clamped := clampAdd(current, effective, p.MaxBias)
		if delta != 0 {
			*lastDelta = sign(delta)
		}
		return result, clamped
	}

	newLeft, clampedLeft := applySide(p.BiasLeft, deltaLeft, &p.lastDeltaLeft)
	newRight, clampedRight := applySide(p.BiasRight, deltaRight, &p.lastDeltaRight)
	p.BiasLeft = newLeft
	p.BiasRight = newRight

	if clampedLeft || clampedRight {
		return newLeft, newRight, errs.OutOfRange, errs.New(errs.OutOfRange, "piezo: bias clamped at boundary")
	}
	return newLeft, newRight, errs.AllGood, nil
}
