// Package diag provides fault reporting and register/memory inspection for
// the guest CPU, adapted from the teacher's interactive debugger into a
// headless diagnostics surface: breakpoints and watchpoints are only
// recorded, with no interactive REPL to drop into, since this
// emulator runs as an unattended service (§2, "Diagnostics").
package diag

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"mpm2emu/pkg/cpu"
	"mpm2emu/pkg/xios"
)

// WatchType is the kind of memory access a watchpoint fires on.
type WatchType int

const (
	WatchRead WatchType = iota
	WatchWrite
	WatchReadWrite
)

func (w WatchType) String() string {
	switch w {
	case WatchRead:
		return "read"
	case WatchWrite:
		return "write"
	case WatchReadWrite:
		return "read/write"
	default:
		return "unknown"
	}
}

// HistoryEntry records one executed instruction, for postmortem dumps.
type HistoryEntry struct {
	PC  uint16
	Op  byte
	Reg RegisterSnapshot
}

// RegisterSnapshot captures register state at a point in time.
type RegisterSnapshot struct {
	A, F             byte
	BC, DE, HL       uint16
	IX, IY, SP, PC   uint16
}

// Diagnostics tracks breakpoints, watchpoints, and execution history for a
// CPU, and formats fault reports when the runner stops on an error.
type Diagnostics struct {
	cpu *cpu.CPU

	breakpoints map[uint16]bool
	watchpoints map[uint16]WatchType

	history    []HistoryEntry
	maxHistory int

	log *logrus.Entry
}

// New creates a Diagnostics instance over c.
func New(c *cpu.CPU) *Diagnostics {
	return &Diagnostics{
		cpu:         c,
		breakpoints: make(map[uint16]bool),
		watchpoints: make(map[uint16]WatchType),
		maxHistory:  100,
		log:         logrus.WithField("component", "diag"),
	}
}

// SetBreakpoint arms a breakpoint at addr.
func (d *Diagnostics) SetBreakpoint(addr uint16) { d.breakpoints[addr] = true }

// DeleteBreakpoint disarms the breakpoint at addr.
func (d *Diagnostics) DeleteBreakpoint(addr uint16) { delete(d.breakpoints, addr) }

// AtBreakpoint reports whether the CPU's current PC is an armed breakpoint.
func (d *Diagnostics) AtBreakpoint() bool { return d.breakpoints[d.cpu.PC()] }

// SetWatchpoint arms a watchpoint at addr for the given access type.
func (d *Diagnostics) SetWatchpoint(addr uint16, t WatchType) { d.watchpoints[addr] = t }

// RecordStep appends the CPU's current state to the execution history,
// trimming the oldest entry once maxHistory is exceeded.
func (d *Diagnostics) RecordStep() {
	if len(d.history) >= d.maxHistory {
		d.history = d.history[1:]
	}
	d.history = append(d.history, HistoryEntry{
		PC: d.cpu.PC(),
		Op: d.cpu.Memory().Read(d.cpu.PC()),
		Reg: RegisterSnapshot{
			A: d.cpu.A(), F: d.cpu.F(),
			BC: d.cpu.BC(), DE: d.cpu.DE(), HL: d.cpu.HL(),
			IX: d.cpu.IX(), IY: d.cpu.IY(), SP: d.cpu.SP(), PC: d.cpu.PC(),
		},
	})
}

// History returns the recorded execution history, oldest first.
func (d *Diagnostics) History() []HistoryEntry { return append([]HistoryEntry(nil), d.history...) }

// RegisterDump formats the CPU's current register file for a log line or
// fault report.
func (d *Diagnostics) RegisterDump() string {
	c := d.cpu
	return fmt.Sprintf("PC=%04X SP=%04X BC=%04X DE=%04X HL=%04X IX=%04X IY=%04X A=%02X F=%02X IFF1=%t HALT=%t",
		c.PC(), c.SP(), c.BC(), c.DE(), c.HL(), c.IX(), c.IY(), c.A(), c.F(), c.IFF1(), c.Halted())
}

// MemoryDump formats count bytes of the currently selected bank starting at
// addr as a hex/ASCII block, in the teacher's 16-bytes-per-line layout.
func (d *Diagnostics) MemoryDump(addr uint16, count int) string {
	var b strings.Builder
	mem := d.cpu.Memory()
	for i := 0; i < count; i += 16 {
		fmt.Fprintf(&b, "%04X: ", addr+uint16(i))
		var ascii strings.Builder
		for j := 0; j < 16 && i+j < count; j++ {
			v := mem.Read(addr + uint16(i+j))
			fmt.Fprintf(&b, "%02X ", v)
			if v >= 32 && v < 127 {
				ascii.WriteByte(v)
			} else {
				ascii.WriteByte('.')
			}
		}
		b.WriteString(ascii.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// StackDump formats the top n words of the stack.
func (d *Diagnostics) StackDump(n int) string {
	var b strings.Builder
	mem := d.cpu.Memory()
	sp := d.cpu.SP()
	for i := 0; i < n; i++ {
		v := uint16(mem.Read(sp)) | uint16(mem.Read(sp+1))<<8
		fmt.Fprintf(&b, "%04X: %04X\n", sp, v)
		sp += 2
	}
	return b.String()
}

// ReportFault logs a structured fault report for an UnimplementedOpcodeError
// or similar runner-stopping error, including the register file and recent
// history (§4.2, §7).
func (d *Diagnostics) ReportFault(err error, heuristicPatches int) {
	d.log.WithFields(logrus.Fields{
		"error":             err,
		"registers":         d.RegisterDump(),
		"heuristic_patches": heuristicPatches,
	}).Error("runner stopped on fault")
}

// ReportSelfLoopGuardTrip logs a self-loop write guard drop (§4.1) for
// diagnosis; this is expected, non-fatal behavior, not an error.
func (d *Diagnostics) ReportSelfLoopGuardTrip(addr uint16, value byte) {
	d.log.WithFields(logrus.Fields{"addr": fmt.Sprintf("%04X", addr), "value": value}).
		Debug("self-loop write guard dropped a write")
}

// Stats summarizes runner progress for a periodic status log line.
type Stats struct {
	Instructions     uint64
	HeuristicPatches int
}

func (s Stats) String() string {
	return fmt.Sprintf("instructions=%d heuristic_patches=%d", s.Instructions, s.HeuristicPatches)
}

// ReportStats logs s at info level.
func (d *Diagnostics) ReportStats(s Stats) {
	d.log.Info(s.String())
}

// FormatXIOSOffset renders a dispatch offset by name where known, for
// clearer unknown-offset warnings than the bare byte value. The name table
// itself lives in pkg/xios, which this package already imports; xios.Dispatch
// calls xios.FormatOffset directly to avoid an import cycle back into diag.
func FormatXIOSOffset(offset byte) string {
	return xios.FormatOffset(offset)
}
