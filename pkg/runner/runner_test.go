package runner

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mpm2emu/pkg/bridge"
	"mpm2emu/pkg/console"
	"mpm2emu/pkg/cpu"
	"mpm2emu/pkg/disk"
	"mpm2emu/pkg/membank"
	"mpm2emu/pkg/xios"
)

func newTestRunner(t *testing.T) (*Runner, *cpu.CPU) {
	t.Helper()
	r, c, _ := newTestRunnerWithConsoles(t, 1)
	return r, c
}

func newTestRunnerWithConsoles(t *testing.T, consoleCount int) (*Runner, *cpu.CPU, *console.Registry) {
	t.Helper()
	space := membank.New(membank.DefaultBankCount, membank.DefaultHighBase)
	c := cpu.New(space)
	consoles := console.NewRegistry(consoleCount)
	fs := afero.NewMemMapFs()
	disks := disk.NewSubsystem(fs, space)
	d := xios.New(consoles, disks, bridge.New())
	c.SetDispatcher(d)

	// HALT at address 0 so the quantum loop has something safe to spin on.
	space.Write(0, 0x76)

	r := New(c, d, consoles, 60)
	return r, c, consoles
}

func TestTimingForFallsBackToDefault(t *testing.T) {
	timing := TimingFor(999)
	assert.Equal(t, defaultTiming, timing)

	timing = TimingFor(60)
	assert.Equal(t, 60, timing.TicksPerSecond)
}

func TestRunnerExecutesAndStopsCooperatively(t *testing.T) {
	r, c := newTestRunner(t)
	r.timing.QuantumDuration = time.Millisecond
	r.Start()

	require.Eventually(t, func() bool {
		return c.Halted()
	}, time.Second, time.Millisecond, "CPU should halt executing the HALT at address 0")

	require.NoError(t, r.Stop())
}

func TestRunnerTimeoutSetsTimedOut(t *testing.T) {
	r, _ := newTestRunner(t)
	r.timing.QuantumDuration = time.Millisecond
	r.Timeout = 5 * time.Millisecond
	r.Start()

	require.Eventually(t, func() bool {
		return r.TimedOut()
	}, time.Second, time.Millisecond)
}

func TestSelectNextConsoleRoundRobinsConnectedConsoles(t *testing.T) {
	r, _, consoles := newTestRunnerWithConsoles(t, 3)

	con0, err := consoles.Get(0)
	require.NoError(t, err)
	con2, err := consoles.Get(2)
	require.NoError(t, err)
	con0.SetConnected(true)
	con2.SetConnected(true)
	// console 1 stays disconnected and must be skipped.

	r.selectNextConsole()
	assert.Equal(t, 0, r.currentConsole)

	r.selectNextConsole()
	assert.Equal(t, 2, r.currentConsole)

	r.selectNextConsole()
	assert.Equal(t, 0, r.currentConsole)
}

func TestSelectNextConsoleLeavesSelectionWhenNoneConnected(t *testing.T) {
	r, _, _ := newTestRunnerWithConsoles(t, 2)

	r.selectNextConsole()
	assert.Equal(t, -1, r.currentConsole)
}

func TestNewWiresDiagnostics(t *testing.T) {
	r, _ := newTestRunner(t)
	assert.NotNil(t, r.diag, "New should construct a Diagnostics so runQuantum can report faults")
}
