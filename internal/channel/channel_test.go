package channel

import (
	"bufio"
	"context"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/creack/pty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamsctl/mams/internal/align"
	"github.com/mamsctl/mams/internal/arbiter"
	"github.com/mamsctl/mams/internal/config"
	"github.com/mamsctl/mams/internal/hwiface"
	"github.com/mamsctl/mams/internal/mapping"
	"github.com/mamsctl/mams/internal/piezo"
)

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() *log.Logger {
	return log.NewWithOptions(discardWriter{}, log.Options{})
}

func TestParseCommandUppercasesKind(t *testing.T) {
	cmd, err := ParseCommand("read 1 4")
	require.NoError(t, err)
	assert.Equal(t, "READ", cmd.Kind)
	assert.Equal(t, []string{"1", "4"}, cmd.Args)
}

func TestParseCommandRejectsEmpty(t *testing.T) {
	_, err := ParseCommand("   ")
	assert.Error(t, err)
}

func TestValidateStartParamsRejectsTooCloseToMax(t *testing.T) {
	d := &Deps{MaxStepBits: 12}
	assert.NoError(t, d.ValidateStartParams(10, 0))
	assert.Error(t, d.ValidateStartParams(11, 0))
	assert.Error(t, d.ValidateStartParams(-1, 0))
	assert.Error(t, d.ValidateStartParams(5, -1))
}

func newTestDeps(t *testing.T) (*Deps, *hwiface.Simulator) {
	t.Helper()
	sim := hwiface.NewSimulator(1)
	registry := piezo.New(2)
	require.NoError(t, registry.SetDAC(0, 0, 0, 0, 1, uint16(align.MaxBias)))
	require.NoError(t, registry.SetDAC(1, 1, 0, 1, 1, uint16(align.MaxBias)))

	m, err := mapping.Load(&config.Config{
		NumFibers: 2,
		Mapping: []config.MappingEntry{
			{Fiber: 0, Role: "input", ReadAt: 1},
			{Fiber: 1, Role: "output"},
		},
	})
	require.NoError(t, err)

	alignCtx := align.NewContext(registry, sim, sim, m, 2, 4, 64, 0, 1, time.Microsecond, testLogger())
	d := &Deps{
		Identifier:  "MAMS-TEST-1",
		Registry:    registry,
		Align:       alignCtx,
		Arbiter:     &arbiter.Arbiter{},
		ADC:         sim,
		DAC:         sim,
		MaxStepBits: 12,
		Logger:      testLogger(),
	}
	return d, sim
}

func TestWriteUpdatesRegistryAndDAC(t *testing.T) {
	d, sim := newTestDeps(t)
	require.NoError(t, d.Write(context.Background(), 1, 12345, 54321))

	left, right, err := d.Registry.GetBias(0)
	require.NoError(t, err)
	assert.Equal(t, uint16(12345), left)
	assert.Equal(t, uint16(54321), right)

	leftAddr, _ := d.Registry.GetDACLeft(0)
	assert.Equal(t, uint16(12345), sim.Bias(leftAddr))
}

func TestReadAveragedCouplingRejectsNonPositiveArgs(t *testing.T) {
	d, _ := newTestDeps(t)
	_, _, _, err := d.ReadAveragedCoupling(context.Background(), 0, 4)
	assert.Error(t, err)
	_, _, _, err = d.ReadAveragedCoupling(context.Background(), 1, 0)
	assert.Error(t, err)
}

// TestSerialIDNRoundTrip drives the serial loop over a real pseudo
// terminal (github.com/creack/pty), matching Dire Wolf's KISS pseudo-tty
// test harness style.
func TestSerialIDNRoundTrip(t *testing.T) {
	ptmx, pts, err := pty.Open()
	require.NoError(t, err)
	defer ptmx.Close()

	d, _ := newTestDeps(t)
	exit := &countingExit{}

	done := make(chan error, 1)
	go func() {
		done <- Serial(context.Background(), pts, d, exit)
	}()

	_, err = ptmx.Write([]byte("IDN\n"))
	require.NoError(t, err)

	reply, err := bufio.NewReader(ptmx).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "MAMS-TEST-1\n", reply)

	exit.exit = true
	pts.Close()
	<-done
}

type countingExit struct {
	exit bool
}

func (c *countingExit) ShouldExit() bool { return c.exit }
