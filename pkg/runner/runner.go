// Package runner drives the guest CPU on a scheduling quantum: interrupt
// injection, batched instruction execution, one-second XIOS notification,
// clock auto-enable, and cooperative shutdown (§4.7).
package runner

import (
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/tomb.v2"

	"mpm2emu/pkg/console"
	"mpm2emu/pkg/cpu"
	"mpm2emu/pkg/diag"
	"mpm2emu/pkg/xios"
)

// Runner owns the CPU goroutine's lifecycle via a tomb.Tomb, the lifecycle
// primitive the rest of the corpus uses for cooperative goroutine shutdown.
type Runner struct {
	cpu        *cpu.CPU
	dispatcher *xios.Dispatcher
	consoles   *console.Registry
	timing     QuantumTiming

	t tomb.Tomb

	instructionCount uint64
	quantumCount     uint64

	// currentConsole is the index last handed to the dispatcher via
	// SetCurrentConsole; selectNextConsole round-robins it among connected
	// consoles once per quantum, since MP/M's own process scheduler and its
	// per-process console ownership aren't modeled here (§4.4, §4.9).
	currentConsole int

	diag *diag.Diagnostics

	// Timeout stops the runner after the given wall-clock duration has
	// elapsed, setting TimedOut. Zero disables the timeout.
	Timeout time.Duration

	timedOut bool

	log *logrus.Entry
}

// New creates a Runner over c, dispatching XIOS through d, round-robining
// the dispatcher's current console among consoles, scheduled at the quantum
// timing for ticksPerSecond (SYSDAT offset 122).
func New(c *cpu.CPU, d *xios.Dispatcher, consoles *console.Registry, ticksPerSecond int) *Runner {
	return &Runner{
		cpu:            c,
		dispatcher:     d,
		consoles:       consoles,
		timing:         TimingFor(ticksPerSecond),
		currentConsole: -1,
		diag:           diag.New(c),
		log:            logrus.WithField("component", "runner"),
	}
}

// Start begins the scheduling loop on its own goroutine.
func (r *Runner) Start() {
	if r.Timeout > 0 {
		timer := time.AfterFunc(r.Timeout, func() {
			r.timedOut = true
			r.t.Kill(nil)
		})
		r.t.Go(func() error {
			defer timer.Stop()
			return r.loop()
		})
		return
	}
	r.t.Go(r.loop)
}

// Stop requests cooperative shutdown and waits for the loop to exit.
func (r *Runner) Stop() error {
	r.t.Kill(nil)
	return r.t.Wait()
}

// TimedOut reports whether the runner stopped because of its wall-clock
// timeout rather than cooperative shutdown.
func (r *Runner) TimedOut() bool { return r.timedOut }

// InstructionCount reports the total number of instructions executed.
func (r *Runner) InstructionCount() uint64 { return r.instructionCount }

func (r *Runner) loop() error {
	ticker := time.NewTicker(r.timing.QuantumDuration)
	defer ticker.Stop()

	for {
		select {
		case <-r.t.Dying():
			return nil
		case <-ticker.C:
			if err := r.runQuantum(); err != nil {
				r.log.WithError(err).Error("quantum execution faulted")
				return err
			}
		}
	}
}

// runQuantum executes one scheduling quantum: console selection, interrupt
// injection, a batch of instructions honoring halt, one-second
// notification, and clock auto-enable (§4.7 steps 1-4).
func (r *Runner) runQuantum() error {
	r.selectNextConsole()

	r.cpu.MaybeInterrupt(cpu.MinCyclesBetweenInterrupts)

	for i := 0; i < r.timing.InstructionsPerQuantum; i++ {
		if _, err := r.cpu.Step(); err != nil {
			r.diag.ReportFault(err, r.dispatcher.HeuristicPatches())
			return err
		}
		r.instructionCount++

		if !r.cpu.ClockEnabled() && r.instructionCount >= AutoEnableInstructionCount {
			r.log.Warn("auto-enabling clock: guest never reached STARTCLOCK")
			r.cpu.SetClockEnabled(true)
		}
	}

	r.dispatcher.Dispatch(r.cpu, xios.BRIDGEPOLL)

	r.quantumCount++
	if r.quantumCount%TicksPerOneSecondNotification == 0 {
		r.dispatcher.NotifyOneSecond(r.cpu)
	}
	return nil
}

// selectNextConsole advances the dispatcher's current console to the next
// connected console in round-robin order, so CONST/CONIN/CONOUT (§4.5)
// reach every attached SSH session in turn rather than only console 0. A
// console with no attached session is skipped; if none are connected the
// previous selection is left in place.
func (r *Runner) selectNextConsole() {
	n := r.consoles.Count()
	if n == 0 {
		return
	}
	for i := 1; i <= n; i++ {
		idx := (r.currentConsole + i) % n
		con, err := r.consoles.Get(idx)
		if err == nil && con.Connected() {
			r.currentConsole = idx
			r.dispatcher.SetCurrentConsole(idx)
			return
		}
	}
}
