package arbiter

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStartSerialThenStop(t *testing.T) {
	var a Arbiter
	assert.True(t, a.StartSerial())
	assert.Equal(t, RunningSerial, a.Current())
	assert.True(t, a.Stop())
	assert.Equal(t, Idle, a.Current())
}

func TestSecondStartIsBusy(t *testing.T) {
	var a Arbiter
	require := assert.New(t)
	require.True(a.StartSerial())
	require.False(a.StartOrchestrator())
	require.False(a.StartSerial())
}

func TestStopWhenIdleReportsFalse(t *testing.T) {
	var a Arbiter
	assert.False(t, a.Stop())
}

// TestConcurrentStartExactlyOneWins exercises spec.md §8 scenario 6:
// concurrently invoking start_serial and start_orchestrator, exactly one
// succeeds; after the winner stops, the other can acquire.
func TestConcurrentStartExactlyOneWins(t *testing.T) {
	var a Arbiter
	var wg sync.WaitGroup
	results := make(chan bool, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		results <- a.StartSerial()
	}()
	go func() {
		defer wg.Done()
		results <- a.StartOrchestrator()
	}()
	wg.Wait()
	close(results)

	winners := 0
	for r := range results {
		if r {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one of start_serial/start_orchestrator must win")

	owner := a.Current()
	assert.True(t, owner == RunningSerial || owner == RunningOrchestrator)
	assert.True(t, a.Stop())

	assert.True(t, a.StartOrchestrator(), "the loser must be able to acquire once the winner stops")
}
