// Package channel implements the two request-driven control surfaces
// (spec.md §4.5/§6): the human-operator serial line and the orchestrator
// named-pipe bus. Both accept IDN, READ and START (WRITE is served on the
// serial line only) and both
// contend for internal/arbiter before touching the alignment context or
// piezo registry; this file holds the shared dispatch logic, the other
// two files hold each transport's framing.
package channel

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/mamsctl/mams/internal/align"
	"github.com/mamsctl/mams/internal/arbiter"
	"github.com/mamsctl/mams/internal/errs"
	"github.com/mamsctl/mams/internal/hwiface"
	"github.com/mamsctl/mams/internal/piezo"
)

// MaxWireStepBits bounds what a START command may request on the wire
// (spec.md §6's min_step_bits ≤ MAX_STEP_BITS-2 and ≤15 constraint).
const MaxWireStepBits = 15

// Deps bundles the process-wide collaborators both channel loops dispatch
// against. Neither loop owns these values; the arbiter decides who may
// touch Align and Registry at any moment.
type Deps struct {
	Identifier string
	Registry   *piezo.Registry
	Align      *align.Context
	Arbiter    *arbiter.Arbiter
	ADC        hwiface.ADC
	DAC        hwiface.DAC
	MaxStepBits int
	Logger     *log.Logger
}

// Command is a parsed request, identical across both transports.
type Command struct {
	Kind string
	Args []string
}

// ParseCommand splits a framed line into its command word and arguments.
// Framing (CR-stripping, line splitting) is the transport's job; this
// function only tokenizes.
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, errs.New(errs.Invalid, "empty command")
	}
	return Command{Kind: strings.ToUpper(fields[0]), Args: fields[1:]}, nil
}

// HandleIDN implements the IDN command.
func (d *Deps) HandleIDN() string {
	return d.Identifier
}

// ReadAveragedCoupling implements read_averaged_coupling(fiber, samples):
// a single fiber's ADC channel sampled `samples` times, wire fiber index
// is 1-based.
func (d *Deps) ReadAveragedCoupling(ctx context.Context, wireFiber, samples int) (min, max, mean uint16, err error) {
	if wireFiber < 1 || samples < 1 {
		return 0, 0, 0, errs.New(errs.Invalid, "fiber and samples must be positive")
	}
	fiber := wireFiber - 1
	if fiber >= d.Align.NumFibers {
		return 0, 0, 0, errs.New(errs.OutOfRange, "fiber out of range")
	}
	buf := make([]uint16, 1)
	min = 0xFFFF
	var sum uint32
	for i := 0; i < samples; i++ {
		// Every ADC device is read on every sample, although only the
		// requested fiber's reading is kept.
		var v uint16
		for device := 0; device < d.Align.NumFibers; device++ {
			if err := d.ADC.ReadFirstNChannels(ctx, device, 1, buf); err != nil {
				return 0, 0, 0, errs.Newf(errs.Unexpected, "adc read: %v", err)
			}
			if device == fiber {
				v = buf[0]
			}
		}
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += uint32(v)
	}
	mean = uint16(sum / uint32(samples))
	return min, max, mean, nil
}

// Write implements write(pair, left_bias, right_bias): direct registry and
// DAC update, no search. Wire pair index is 1-based.
func (d *Deps) Write(ctx context.Context, wirePair int, left, right uint16) error {
	if wirePair < 1 {
		return errs.New(errs.Invalid, "pair index must be positive")
	}
	fiber := wirePair - 1
	if err := d.Registry.SetBias(fiber, left, right); err != nil {
		return err
	}
	leftAddr, err := d.Registry.GetDACLeft(fiber)
	if err != nil {
		return err
	}
	rightAddr, err := d.Registry.GetDACRight(fiber)
	if err != nil {
		return err
	}
	if err := d.DAC.Write(ctx, leftAddr.Device, leftAddr.Channel, left); err != nil {
		return errs.Newf(errs.Unexpected, "dac write: %v", err)
	}
	if err := d.DAC.Write(ctx, rightAddr.Device, rightAddr.Channel, right); err != nil {
		return errs.Newf(errs.Unexpected, "dac write: %v", err)
	}
	return nil
}

// ValidateStartParams checks the START command's numeric parameters
// against the wire constants in spec.md §6.
func (d *Deps) ValidateStartParams(minStepBits, hysteresis int) error {
	if minStepBits < 0 || minStepBits > MaxWireStepBits {
		return errs.New(errs.Invalid, "min_step_bits out of range")
	}
	if d.MaxStepBits > 0 && minStepBits > d.MaxStepBits-2 {
		return errs.New(errs.Invalid, "min_step_bits too close to max_step_bits")
	}
	if hysteresis < 0 {
		return errs.New(errs.Invalid, "hysteresis_step_size must be non-negative")
	}
	return nil
}

// parseUint parses a decimal argument, returning an errs.Invalid on
// failure so callers can uniformly reply ERR.
func parseUint(s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, errs.Newf(errs.Invalid, "bad numeric argument %q", s)
	}
	return v, nil
}

// formatCouplingFrame renders the coupling: portion of an iteration frame,
// e.g. "coupling:F1C1234F2C5678".
func formatCouplingFrame(coupling map[int]uint16, order []int) string {
	var b strings.Builder
	b.WriteString("coupling:")
	for _, f := range order {
		fmt.Fprintf(&b, "F%dC%d", f+1, coupling[f])
	}
	return b.String()
}

// formatBiasFrame renders the bias: portion of an iteration frame, e.g.
// "bias:F1L100R200F2L300R400".
func formatBiasFrame(bias map[int][2]uint16, order []int) string {
	var b strings.Builder
	b.WriteString("bias:")
	for _, f := range order {
		v := bias[f]
		fmt.Fprintf(&b, "F%dL%dR%d", f+1, v[0], v[1])
	}
	return b.String()
}

// sortedKeys returns the keys of m in ascending order, used to give frame
// rendering a deterministic fiber order.
func sortedKeys(m map[int]uint16) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// sortedBiasKeys is sortedKeys for the bias dump's value type.
func sortedBiasKeys(m map[int][2]uint16) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}
