package align

import (
	"context"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamsctl/mams/internal/config"
	"github.com/mamsctl/mams/internal/fiberlist"
	"github.com/mamsctl/mams/internal/hwiface"
	"github.com/mamsctl/mams/internal/mapping"
	"github.com/mamsctl/mams/internal/piezo"
)

type nopSink struct{}

func (nopSink) EmitInitialState(context.Context, map[int][2]uint16) error { return nil }
func (nopSink) EmitIterationFrame(context.Context, Frame) error           { return nil }

// boundedExit stops a run after Max iterations have been observed via
// ShouldExit polling, standing in for a real signal in tests.
type boundedExit struct {
	max   int
	count int
}

func (b *boundedExit) ShouldExit() bool {
	b.count++
	return b.count > b.max
}

func newTestLogger() *log.Logger {
	return log.NewWithOptions(discardWriter{}, log.Options{})
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func singleFiberMapping(t *testing.T) *mapping.Mapping {
	t.Helper()
	cfg := &config.Config{
		NumFibers: 2,
		Mapping: []config.MappingEntry{
			{Fiber: 0, Role: "input", ReadAt: 1},
			{Fiber: 1, Role: "output"},
		},
	}
	m, err := mapping.Load(cfg)
	require.NoError(t, err)
	return m
}

// TestSingleFiberAscentConverges exercises spec.md §8 scenario 4: a single
// fiber searching a synthetic single-modal landscape converges near the
// landscape's optimum. The peak is wide enough that the coupling read at
// the centered start is nonzero, so the search has a slope to follow.
// Near the peak, integer coupling readings stop changing, so the test
// asserts a final bias within 64 counts of the optimum and a bound of 200
// iterations.
func TestSingleFiberAscentConverges(t *testing.T) {
	sim := hwiface.NewSimulator(1)
	sim.SetPeak(1, 1000, float64(HalfBias), 10000, 60000)
	sim.Wire(1, hwiface.Address{Device: 0, Channel: 0}, hwiface.Address{Device: 0, Channel: 1})

	registry := piezo.New(2)
	require.NoError(t, registry.SetDAC(0, 0, 0, 0, 1, uint16(MaxBias)))
	require.NoError(t, registry.SetDAC(1, 1, 0, 1, 1, uint16(MaxBias)))

	m := singleFiberMapping(t)
	ctx := NewContext(registry, sim, sim, m, 2, 4, 1024, 0, 2, time.Microsecond, newTestLogger())

	require.NoError(t, ctx.Run(context.Background(), OwnerOrchestrator, nopSink{}, &boundedExit{max: 400}))

	left, _, err := registry.GetBias(0)
	require.NoError(t, err)
	assert.InDelta(t, 1000, int(left), 64, "fiber 0 should have ascended near the coupling optimum")
}

// TestTwoPhaseInputOutputAlignment exercises spec.md §8 scenario 5: input
// alignment must converge before the loop switches move_list to
// output_list, and the run completes once both phases converge.
func TestTwoPhaseInputOutputAlignment(t *testing.T) {
	sim := hwiface.NewSimulator(1)
	sim.SetPeak(1, float64(HalfBias)+200, float64(HalfBias)-150, 500, 50000)
	sim.Wire(1, hwiface.Address{Device: 0, Channel: 0}, hwiface.Address{Device: 0, Channel: 1})

	registry := piezo.New(2)
	require.NoError(t, registry.SetDAC(0, 0, 0, 0, 1, uint16(MaxBias)))
	require.NoError(t, registry.SetDAC(1, 1, 0, 1, 1, uint16(MaxBias)))

	m := singleFiberMapping(t)
	ctx := NewContext(registry, sim, sim, m, 2, 4, 512, 0, 2, time.Microsecond, newTestLogger())

	require.NoError(t, ctx.Run(context.Background(), OwnerOrchestrator, nopSink{}, &boundedExit{max: 800}))

	assert.True(t, ctx.MoveList.Equal(m.OutputList), "run must finish in the output alignment phase")
	for f := 0; f < 2; f++ {
		assert.True(t, ctx.States[f].Converged(), "fiber %d must have converged", f)
	}
}

func TestHysteresisDischargeReturnsToHalfBias(t *testing.T) {
	sim := hwiface.NewSimulator(1)
	registry := piezo.New(1)
	require.NoError(t, registry.SetDAC(0, 0, 0, 0, 1, uint16(MaxBias)))
	require.NoError(t, registry.SetBias(0, HalfBias, HalfBias))

	m, err := mapping.Load(&config.Config{NumFibers: 1, Mapping: []config.MappingEntry{{Fiber: 0, Role: "output"}}})
	require.NoError(t, err)

	ctx := NewContext(registry, sim, sim, m, 1, 4, 1024, 5, 1, time.Microsecond, newTestLogger())
	require.NoError(t, ctx.HysteresisDischarge(context.Background()))

	left, right, err := registry.GetBias(0)
	require.NoError(t, err)
	assert.Equal(t, HalfBias, left)
	assert.Equal(t, HalfBias, right)
}

func TestEmptyFiberListsNeverEqualNonEmpty(t *testing.T) {
	a := fiberlist.New(4)
	require.NoError(t, a.Append(0))
	b := fiberlist.New(4)
	assert.False(t, a.Equal(b))
}
