// Package align implements the top-level move→read→decide loop (spec.md
// §4.3): the alignment context, hysteresis discharge, and the single run
// loop shared by both request channels. It depends on internal/piezo and
// internal/motion for state but never on internal/channel — the channels
// depend on align, not the reverse, so the loop can be driven by either
// owner without knowing about serial framing or named pipes.
package align

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/mamsctl/mams/internal/errs"
	"github.com/mamsctl/mams/internal/fiberlist"
	"github.com/mamsctl/mams/internal/hwiface"
	"github.com/mamsctl/mams/internal/mapping"
	"github.com/mamsctl/mams/internal/motion"
	"github.com/mamsctl/mams/internal/piezo"
)

// Bias constants, powers of two per spec.md §6.
const (
	HalfBias uint16 = 1 << 15
	MaxBias  uint16 = 1<<16 - 1
)

// Owner identifies which request channel currently holds the alignment
// context, controlling both the emit discipline (await-ack vs append-log)
// and the post-convergence behavior (stop vs dither) in step 6.f.
type Owner int

const (
	OwnerSerial Owner = iota
	OwnerOrchestrator
)

// Frame is one iteration's outbound snapshot: the bias just written and
// the coupling just measured, keyed by fiber.
type Frame struct {
	Coupling map[int]uint16
	Bias     map[int][2]uint16
}

// Sink receives the frames the alignment loop produces. Its two
// implementations (serial: await an ack byte; orchestrator: append to the
// run log) live in internal/channel, which imports align, not the other
// way around.
type Sink interface {
	EmitInitialState(ctx context.Context, bias map[int][2]uint16) error
	EmitIterationFrame(ctx context.Context, frame Frame) error
}

// ExitSignal is polled at the top of every iteration and after every
// emit, the async-signal-safe replacement for the two raw exit flags the
// original process mutated directly from its signal handlers (spec.md §5
// design note).
type ExitSignal interface {
	ShouldExit() bool
}

// Context is the process-wide alignment state: the singleton the design
// notes ask for in place of file-scope globals. Only the arbiter's current
// owner may call Run.
type Context struct {
	Registry *piezo.Registry
	ADC      hwiface.ADC
	DAC      hwiface.DAC

	Mapping   *mapping.Mapping
	NumFibers int

	MoveList *fiberlist.List
	ReadList *fiberlist.List
	States   map[int]*motion.State

	Coupling    map[int]uint16
	NewCoupling map[int]uint16

	HysteresisStepSize int
	MinStepSize        uint16
	MaxStepSize        uint16
	SettlingTime       time.Duration
	NumSamples         int

	Continuous bool

	// Display and Status are the best-effort status collaborators of
	// spec.md §6: an LCD status line and a digital "alignment running"
	// line, mirroring Dire Wolf's PTT GPIO / status display usage.
	// Neither failure may abort a run — Run logs and continues.
	Display hwiface.Display
	Status  hwiface.GPIO

	Logger *log.Logger
}

// NewContext builds a Context wired to the given hardware and mapping, with
// motion states allocated for every fiber (spec.md §4.3 step 1).
func NewContext(registry *piezo.Registry, adc hwiface.ADC, dac hwiface.DAC, m *mapping.Mapping, numFibers int, minStep, maxStep uint16, hysteresis int, numSamples int, settlingTime time.Duration, logger *log.Logger) *Context {
	states := make(map[int]*motion.State, numFibers)
	for f := 0; f < numFibers; f++ {
		states[f] = motion.New(minStep, maxStep)
	}
	return &Context{
		Registry:           registry,
		ADC:                adc,
		DAC:                dac,
		Mapping:            m,
		NumFibers:          numFibers,
		States:             states,
		Coupling:           make(map[int]uint16, numFibers),
		NewCoupling:        make(map[int]uint16, numFibers),
		HysteresisStepSize: hysteresis,
		MinStepSize:        minStep,
		MaxStepSize:        maxStep,
		SettlingTime:       settlingTime,
		NumSamples:         numSamples,
		Display:            hwiface.NopDisplay{},
		Status:             &hwiface.NopGPIO{},
		Logger:             logger,
	}
}

// setStatus drives the Status GPIO line, logging (not propagating) any
// failure — a dead status indicator is never a reason to abort a search.
func (c *Context) setStatus(high bool) {
	if err := c.Status.Set(high); err != nil {
		c.Logger.Warn("status gpio write failed", "error", err)
	}
}

// updateDisplay writes a one-line status to the LCD collaborator, logging
// (not propagating) any failure.
func (c *Context) updateDisplay(text string) {
	if err := c.Display.WriteLineCenter(0, text); err != nil {
		c.Logger.Warn("display write failed", "error", err)
	}
}

// centerAll implements spec.md §4.3 step 2: drive every pair to half-scale
// bias on both sides.
func (c *Context) centerAll(ctx context.Context) error {
	for f := 0; f < c.NumFibers; f++ {
		if err := c.Registry.SetBias(f, HalfBias, HalfBias); err != nil {
			return fmt.Errorf("align: center fiber %d: %w", f, err)
		}
		if err := c.writeBiasToDAC(ctx, f); err != nil {
			return err
		}
	}
	time.Sleep(c.SettlingTime)
	return nil
}

func (c *Context) writeBiasToDAC(ctx context.Context, fiber int) error {
	left, right, err := c.Registry.GetBias(fiber)
	if err != nil {
		return err
	}
	leftAddr, err := c.Registry.GetDACLeft(fiber)
	if err != nil {
		return err
	}
	rightAddr, err := c.Registry.GetDACRight(fiber)
	if err != nil {
		return err
	}
	if err := c.DAC.Write(ctx, leftAddr.Device, leftAddr.Channel, left); err != nil {
		return fmt.Errorf("align: dac write fiber %d left: %w", fiber, err)
	}
	if err := c.DAC.Write(ctx, rightAddr.Device, rightAddr.Channel, right); err != nil {
		return fmt.Errorf("align: dac write fiber %d right: %w", fiber, err)
	}
	return nil
}

// readAllDevices samples every ADC device NumSamples times and returns the
// per-device average. It deliberately reads every device on every sample
// even when only a subset of fibers are in ReadList, preserving the
// original firmware's all-channels-per-sample timing discipline (see the
// design notes' ADC_CHANNELS remark).
func (c *Context) readAllDevices(ctx context.Context) (map[int]uint16, error) {
	sums := make(map[int]uint32, c.NumFibers)
	buf := make([]uint16, 1)
	for sample := 0; sample < c.NumSamples; sample++ {
		for device := 0; device < c.NumFibers; device++ {
			if err := c.ADC.ReadFirstNChannels(ctx, device, 1, buf); err != nil {
				return nil, fmt.Errorf("align: adc read device %d: %w", device, err)
			}
			sums[device] += uint32(buf[0])
		}
	}
	avg := make(map[int]uint16, c.NumFibers)
	for device, sum := range sums {
		avg[device] = uint16(sum / uint32(c.NumSamples))
	}
	return avg, nil
}

// move implements spec.md §4.3 step 6.a for the fibers in MoveList,
// returning the bias dump to accumulate into the outbound frame.
func (c *Context) move(ctx context.Context) (map[int][2]uint16, error) {
	dump := make(map[int][2]uint16, c.MoveList.Len())
	for i := 0; i < c.MoveList.Len(); i++ {
		fiber := c.MoveList.At(i)
		st := c.States[fiber]
		if !st.Enabled {
			continue
		}
		dl, dr := st.NextMoveDelta()
		_, _, code, err := c.Registry.IncrementBias(fiber, dl, dr, c.HysteresisStepSize)
		if err != nil && errs.CodeOf(err) != errs.OutOfRange {
			return nil, fmt.Errorf("align: increment bias fiber %d: %w", fiber, err)
		}
		if code == errs.OutOfRange {
			st.HandleBoundaryHit()
		}
		if err := c.writeBiasToDAC(ctx, fiber); err != nil {
			return nil, err
		}
		left, right, err := c.Registry.GetBias(fiber)
		if err != nil {
			return nil, err
		}
		dump[fiber] = [2]uint16{left, right}
	}
	time.Sleep(c.SettlingTime)
	return dump, nil
}

// readCoupling implements spec.md §4.3 step 6.b.
func (c *Context) readCoupling(ctx context.Context) (map[int]uint16, error) {
	avg, err := c.readAllDevices(ctx)
	if err != nil {
		return nil, err
	}
	dump := make(map[int]uint16, c.ReadList.Len())
	for i := 0; i < c.ReadList.Len(); i++ {
		fiber := c.ReadList.At(i)
		c.NewCoupling[fiber] = avg[fiber]
		dump[fiber] = avg[fiber]
	}
	return dump, nil
}

// decide implements spec.md §4.3 step 6.d over the paired move/read lists.
func (c *Context) decide() {
	for i := 0; i < c.MoveList.Len(); i++ {
		moveFiber := c.MoveList.At(i)
		readFiber := c.ReadList.At(i)
		st := c.States[moveFiber]
		if !st.Enabled {
			continue
		}
		if st.ForcesOverwrite() {
			c.Coupling[readFiber] = c.NewCoupling[readFiber]
		}
		stored := c.Coupling[readFiber]
		newMaxFound := motion.CompareCoupling(&stored, c.NewCoupling[readFiber])
		c.Coupling[readFiber] = stored
		if st.DecideSuccess(newMaxFound) {
			st.HandleSuccess()
		} else {
			st.HandleFailure()
		}
	}
}

// allConverged reports whether every fiber currently in MoveList has
// reached curr_step_size == 0.
func (c *Context) allConverged() bool {
	for i := 0; i < c.MoveList.Len(); i++ {
		if !c.States[c.MoveList.At(i)].Converged() {
			return false
		}
	}
	return true
}

// HysteresisDischarge runs the damped triangle-wave conditioning sweep
// described in spec.md §4.3 before a run starts, when HysteresisStepSize
// is positive.
func (c *Context) HysteresisDischarge(ctx context.Context) error {
	if c.HysteresisStepSize <= 0 {
		return nil
	}
	const step = 64
	const interStepSleep = 100 * time.Microsecond
	maxima := []uint16{HalfBias, HalfBias / 4 * 3, HalfBias / 2, HalfBias / 4, 0}
	for _, amp := range maxima {
		if err := c.triangleSweep(ctx, amp, step, interStepSleep); err != nil {
			return err
		}
	}
	return c.centerAll(ctx)
}

func (c *Context) triangleSweep(ctx context.Context, amplitude uint16, step int, sleep time.Duration) error {
	for f := 0; f < c.NumFibers; f++ {
		maxBias, err := c.Registry.MaxBias(f)
		if err != nil {
			return err
		}
		upper := int(HalfBias) + int(amplitude)
		if upper > int(maxBias) {
			upper = int(maxBias)
		}
		if err := c.rampTo(ctx, f, uint16(upper), step, sleep); err != nil {
			return err
		}
		target := HalfBias - amplitude
		if err := c.rampTo(ctx, f, target, step, sleep); err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) rampTo(ctx context.Context, fiber int, target uint16, step int, sleep time.Duration) error {
	for {
		left, right, err := c.Registry.GetBias(fiber)
		if err != nil {
			return err
		}
		dl := clampStep(int(target)-int(left), step)
		dr := clampStep(int(target)-int(right), step)
		if dl == 0 && dr == 0 {
			return nil
		}
		if _, _, _, err := c.Registry.IncrementBias(fiber, dl, dr, 0); err != nil && errs.CodeOf(err) != errs.OutOfRange {
			return err
		}
		if err := c.writeBiasToDAC(ctx, fiber); err != nil {
			return err
		}
		time.Sleep(sleep)
	}
}

func clampStep(delta, step int) int {
	if delta == 0 {
		return 0
	}
	if delta > 0 {
		if delta < step {
			return delta
		}
		return step
	}
	if -delta < step {
		return delta
	}
	return -step
}

// Run executes spec.md §4.3 steps 1 through 7 once, driving the fiber set
// from centered bias through input alignment, then output alignment, and
// (for a serial owner) into continuous dithering refinement until exit is
// signaled. It returns when exit is requested or, for an orchestrator
// owner, when both phases have converged.
func (c *Context) Run(ctx context.Context, owner Owner, sink Sink, exit ExitSignal) error {
	c.Logger.Info("alignment run starting", "owner", owner)
	c.setStatus(true)
	defer c.setStatus(false)
	c.updateDisplay("ALIGNING")

	if err := c.centerAll(ctx); err != nil {
		return err
	}

	avg, err := c.readAllDevices(ctx)
	if err != nil {
		return err
	}
	for f := 0; f < c.NumFibers; f++ {
		c.Coupling[f] = avg[f]
	}

	c.MoveList = c.Mapping.InputList
	readList, err := c.Mapping.InitialReadList(c.NumFibers)
	if err != nil {
		return err
	}
	c.ReadList = readList

	for f := 0; f < c.NumFibers; f++ {
		c.States[f].Reset(false)
	}
	motion.EnableMotion(c.MoveList, c.States)

	initialBias := make(map[int][2]uint16, c.NumFibers)
	for f := 0; f < c.NumFibers; f++ {
		left, right, err := c.Registry.GetBias(f)
		if err != nil {
			return err
		}
		initialBias[f] = [2]uint16{left, right}
	}
	if err := sink.EmitInitialState(ctx, initialBias); err != nil {
		return err
	}

	for {
		if exit.ShouldExit() {
			c.Logger.Info("alignment run exiting on signal")
			return nil
		}

		biasDump, err := c.move(ctx)
		if err != nil {
			return err
		}
		couplingDump, err := c.readCoupling(ctx)
		if err != nil {
			return err
		}

		if err := sink.EmitIterationFrame(ctx, Frame{Coupling: couplingDump, Bias: biasDump}); err != nil {
			return err
		}
		if exit.ShouldExit() {
			return nil
		}

		c.decide()

		if !c.allConverged() {
			continue
		}

		if c.MoveList.Equal(c.Mapping.InputList) {
			c.Logger.Info("input alignment converged, switching to output alignment")
			c.updateDisplay("OUTPUT ALIGN")
			c.MoveList = c.Mapping.OutputList
			c.ReadList = c.Mapping.OutputList.Copy()
			for i := 0; i < c.MoveList.Len(); i++ {
				c.States[c.MoveList.At(i)].Reset(c.Continuous)
			}
			motion.EnableMotion(c.MoveList, c.States)
			continue
		}

		if owner == OwnerOrchestrator {
			c.Logger.Info("output alignment converged, orchestrator run complete")
			c.updateDisplay("CONVERGED")
			return nil
		}

		c.Logger.Info("output alignment converged, entering continuous dithering refinement")
		c.updateDisplay("DITHERING")
		c.Continuous = true
		c.MoveList = c.Mapping.InputList
		readList, err := c.Mapping.InitialReadList(c.NumFibers)
		if err != nil {
			return err
		}
		c.ReadList = readList
		for f := 0; f < c.NumFibers; f++ {
			c.States[f].Reset(true)
		}
		motion.EnableMotion(c.MoveList, c.States)
	}
}
