// Package cpu wraps github.com/remogatto/z80 — a full 8080/Z80 core with
// documented and undocumented opcode coverage — with the MP/M-specific
// glue this emulator needs: a bank-switched memory accessor, the
// XIOS_DISPATCH/BANK_SELECT/SIGNAL port ABI, RST 38H interrupt injection
// honoring the EI-delay rule, and UnimplementedOpcode fault reporting.
package cpu

import (
	"fmt"

	"github.com/remogatto/z80"

	"mpm2emu/pkg/membank"
)

// MinCyclesBetweenInterrupts is the default rate limit on interrupt
// injection (§4.2): roughly one 60 Hz period at 4 MHz.
const MinCyclesBetweenInterrupts = 66667

const eiOpcode = 0xFB

// UnimplementedOpcodeError is raised when the underlying core cannot
// execute the opcode at the faulting PC. The runner treats this as fatal
// and stops with a diagnostic (§4.2, §7).
type UnimplementedOpcodeError struct {
	PC     uint16
	Opcode byte
	cause  any
}

func (e *UnimplementedOpcodeError) Error() string {
	return fmt.Sprintf("unimplemented opcode %02X at PC=%04X: %v", e.Opcode, e.PC, e.cause)
}

// CPU is the MP/M-facing Z80 interpreter.
type CPU struct {
	core   *z80.Z80
	space  *membank.Space
	memory *memoryAccessor
	ports  *ports

	dispatcher         Dispatcher
	lastDispatchResult byte
	lastSignal         byte
	dmaBank            int

	cycles             uint64
	lastInterruptCycle uint64
	eiArmedAt          uint64 // cycle count right after EI executed; until the next step, interrupt acceptance is suppressed
	eiPending          bool

	clockEnabled bool
}

// New creates a CPU over the given address space.
func New(space *membank.Space) *CPU {
	c := &CPU{space: space}
	c.memory = newMemoryAccessor(space)
	c.ports = newPorts(c)
	c.core = z80.NewZ80(c.memory, c.ports)
	return c
}

// Memory returns the backing address space.
func (c *CPU) Memory() *membank.Space { return c.space }

// SetDispatcher installs the XIOS dispatch handler invoked on
// OUT (XIOS_DISPATCH),A.
func (c *CPU) SetDispatcher(d Dispatcher) { c.dispatcher = d }

// DMABank returns the bank most recently recorded by a BANK_SELECT port
// write, i.e. the DMA target bank for a subsequent banked write issued by
// the XIOS layer (§4.2).
func (c *CPU) DMABank() int { return c.dmaBank }

// Cycles returns the total number of T-states executed so far.
func (c *CPU) Cycles() uint64 { return c.cycles }

// Reset restores the CPU to its power-on state.
func (c *CPU) Reset() {
	c.core.Reset()
	c.cycles = 0
	c.lastInterruptCycle = 0
	c.eiPending = false
}

// --- register access -------------------------------------------------

func (c *CPU) A() byte  { return c.core.A }
func (c *CPU) F() byte  { return c.core.F }
func (c *CPU) SetA(v byte) { c.core.A = v }

func (c *CPU) BC() uint16    { return c.core.BC() }
func (c *CPU) DE() uint16    { return c.core.DE() }
func (c *CPU) HL() uint16    { return c.core.HL() }
func (c *CPU) IX() uint16    { return c.core.IX() }
func (c *CPU) IY() uint16    { return c.core.IY() }
func (c *CPU) SP() uint16    { return c.core.SP() }
func (c *CPU) PC() uint16    { return c.core.PC() }

func (c *CPU) SetBC(v uint16) { c.core.SetBC(v) }
func (c *CPU) SetHL(v uint16) { c.core.SetHL(v) }
func (c *CPU) SetSP(v uint16) { c.core.SetSP(v) }
func (c *CPU) SetPC(v uint16) { c.core.SetPC(v) }

// IFF1 reports the guest's maskable-interrupt enable flip-flop.
func (c *CPU) IFF1() bool { return c.core.IFF1 != 0 }

// Halted reports whether the CPU is idling in a HALT with no instruction
// executing (§4.2 Halt).
func (c *CPU) Halted() bool { return c.core.Halted }

// ClockEnabled reports whether tick-driven interrupt injection is active
// (toggled by the XIOS STARTCLOCK/STOPCLOCK entries).
func (c *CPU) ClockEnabled() bool { return c.clockEnabled }

// SetClockEnabled toggles tick-driven interrupt injection.
func (c *CPU) SetClockEnabled(on bool) { c.clockEnabled = on }

// --- execution ---------------------------------------------------------

// Step executes a single instruction, unless the CPU is halted, in which
// case it does nothing and returns zero cycles (§4.2 Halt). The returned
// error is non-nil only for an UnimplementedOpcodeError, in which case the
// caller (the runner) must stop.
func (c *CPU) Step() (cyclesUsed int, err error) {
	if c.core.Halted {
		return 0, nil
	}

	pc := c.core.PC()
	opcode := c.memory.ReadByte(pc)

	defer func() {
		if r := recover(); r != nil {
			err = &UnimplementedOpcodeError{PC: pc, Opcode: opcode, cause: r}
		}
	}()

	before := c.core.Tstates
	c.core.DoOpcode()
	cyclesUsed = int(c.core.Tstates - before)
	c.cycles += uint64(cyclesUsed)

	if opcode == eiOpcode {
		c.eiArmedAt = c.cycles
		c.eiPending = true
	} else if c.eiPending {
		c.eiPending = false
	}

	return cyclesUsed, nil
}

// MaybeInterrupt injects RST 38H if the clock is enabled, IFF1 is set, the
// one-instruction EI delay has elapsed, and at least minCycles T-states
// have passed since the last injection. It also clears HALT, since an
// accepted interrupt is what wakes a halted CPU (§4.2). Returns true if an
// interrupt was injected.
func (c *CPU) MaybeInterrupt(minCycles uint64) bool {
	if !c.clockEnabled || !c.IFF1() {
		return false
	}
	if c.eiPending && c.eiArmedAt == c.cycles {
		// The instruction immediately following EI has not executed yet.
		return false
	}
	if c.cycles-c.lastInterruptCycle < minCycles {
		return false
	}

	c.inject(0x0038)
	c.lastInterruptCycle = c.cycles
	return true
}

func (c *CPU) inject(vector uint16) {
	sp := c.core.SP() - 2
	ret := c.core.PC()
	c.memory.WriteByte(sp, byte(ret))
	c.memory.WriteByte(sp+1, byte(ret>>8))
	c.core.SetSP(sp)
	c.core.SetPC(vector)
	c.core.IFF1 = 0
	c.core.Halted = false
}
