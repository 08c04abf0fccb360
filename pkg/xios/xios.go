// Package xios implements the extended-BIOS dispatch layer (§4.5): the
// table of entries reachable through the CPU's XIOS_DISPATCH port, keyed
// by offset exactly as they appear at the guest's XIOS base in memory.
package xios

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"mpm2emu/pkg/bridge"
	"mpm2emu/pkg/console"
	"mpm2emu/pkg/cpu"
	"mpm2emu/pkg/disk"
)

// Entry offsets (§4.5).
const (
	BOOT       = 0x00
	WBOOT      = 0x03
	CONST      = 0x06
	CONIN      = 0x09
	CONOUT     = 0x0C
	LIST       = 0x0F
	PUNCH      = 0x12
	READER     = 0x15
	HOME       = 0x18
	SELDSK     = 0x1B
	SETTRK     = 0x1E
	SETSEC     = 0x21
	SETDMA     = 0x24
	READ       = 0x27
	WRITE      = 0x2A
	LISTST     = 0x2D
	SECTRAN    = 0x30
	SELMEMORY  = 0x33
	POLLDEVICE = 0x36
	STARTCLOCK = 0x39
	STOPCLOCK  = 0x3C
	EXITREGION = 0x3F
	MAXCONSOLE = 0x42
	SYSTEMINIT = 0x45
	IDLE       = 0x48

	// BRIDGEPOLL is not part of the historical MP/M XIOS table; it is this
	// emulator's extension point for the file bridge (§4.8), dispatched
	// through the same OUT (XIOS_DISPATCH),A mechanism as every other
	// entry so the guest-side RSP can poll it without a second ABI.
	BRIDGEPOLL = 0x4B

	// BRIDGEREPLY is this emulator's companion extension point: the
	// guest-side RSP calls it once it has overwritten the mailbox region
	// BRIDGEPOLL filled with its reply bytes, completing the request/reply
	// round trip (§4.8).
	BRIDGEREPLY = 0x4C
)

// BridgeMailboxBase is the offset from the address space's high-common base
// where the bridge mailbox is mapped (§4.8): BRIDGEPOLL writes a drained
// request there, and the guest overwrites the same bytes with its reply
// before calling BRIDGEREPLY.
const BridgeMailboxBase = 0x0000

// Interrupt vector address installed by SYSTEMINIT (§4.5, §4.6).
const interruptVector = 0x0038

// jpOpcode is the Z80 `JP nn` opcode, the 3-byte stub SYSTEMINIT installs
// at the interrupt vector in every bank, and the pattern the boot loader's
// XIOS-stub repair scan looks for unpatched copies of (§4.6).
const jpOpcode = 0xC3

// offsetNames maps the well-known entry offsets to their XIOS names, for
// clearer unknown-offset warnings and diagnostics than the bare byte value.
var offsetNames = map[byte]string{
	BOOT: "BOOT", WBOOT: "WBOOT", CONST: "CONST",
	CONIN: "CONIN", CONOUT: "CONOUT", LIST: "LIST",
	PUNCH: "PUNCH", READER: "READER", HOME: "HOME",
	SELDSK: "SELDSK", SETTRK: "SETTRK", SETSEC: "SETSEC",
	SETDMA: "SETDMA", READ: "READ", WRITE: "WRITE",
	LISTST: "LISTST", SECTRAN: "SECTRAN", SELMEMORY: "SELMEMORY",
	POLLDEVICE: "POLLDEVICE", STARTCLOCK: "STARTCLOCK",
	STOPCLOCK: "STOPCLOCK", EXITREGION: "EXITREGION",
	MAXCONSOLE: "MAXCONSOLE", SYSTEMINIT: "SYSTEMINIT", IDLE: "IDLE",
	BRIDGEPOLL: "BRIDGEPOLL", BRIDGEREPLY: "BRIDGEREPLY",
}

// FormatOffset renders a dispatch offset by name where known, falling back
// to its hex value otherwise.
func FormatOffset(offset byte) string {
	if name, ok := offsetNames[offset]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", offset)
}

// Dispatcher owns the live state XIOS entries act on: the console
// registry, the disk subsystem, and the file bridge. It implements
// cpu.Dispatcher.
type Dispatcher struct {
	Consoles *console.Registry
	Disks    *disk.Subsystem
	Bridge   *bridge.Bridge

	current int // currently attached console for CONST/CONIN/CONOUT, §4.5

	systemInitDone   bool
	heuristicPatches int

	bridgeMailbox [bridge.MailboxSize]byte
	bridgeReplyID uint32
	bridgeReady   bool

	log *logrus.Entry

	table map[byte]func(*Dispatcher, *cpu.CPU) byte
}

// New creates a dispatcher wired to consoles, disks and the file bridge.
func New(consoles *console.Registry, disks *disk.Subsystem, br *bridge.Bridge) *Dispatcher {
	d := &Dispatcher{
		Consoles: consoles,
		Disks:    disks,
		Bridge:   br,
		log:      logrus.WithField("component", "xios"),
	}
	d.table = map[byte]func(*Dispatcher, *cpu.CPU) byte{
		BOOT:        (*Dispatcher).boot,
		WBOOT:       (*Dispatcher).wboot,
		CONST:       (*Dispatcher).const_,
		CONIN:       (*Dispatcher).conin,
		CONOUT:      (*Dispatcher).conout,
		LIST:        (*Dispatcher).discard,
		PUNCH:       (*Dispatcher).stub,
		READER:      (*Dispatcher).stub,
		HOME:        (*Dispatcher).stub,
		SELDSK:      (*Dispatcher).seldsk,
		SETTRK:      (*Dispatcher).settrk,
		SETSEC:      (*Dispatcher).setsec,
		SETDMA:      (*Dispatcher).setdma,
		READ:        (*Dispatcher).read,
		WRITE:       (*Dispatcher).write,
		LISTST:      (*Dispatcher).listst,
		SECTRAN:     (*Dispatcher).sectran,
		SELMEMORY:   (*Dispatcher).selmemory,
		POLLDEVICE:  (*Dispatcher).polldevice,
		STARTCLOCK:  (*Dispatcher).startclock,
		STOPCLOCK:   (*Dispatcher).stopclock,
		EXITREGION:  (*Dispatcher).discard,
		MAXCONSOLE:  (*Dispatcher).maxconsole,
		SYSTEMINIT:  (*Dispatcher).systeminit,
		IDLE:        (*Dispatcher).idle,
		BRIDGEPOLL:  (*Dispatcher).bridgepoll,
		BRIDGEREPLY: (*Dispatcher).bridgereply,
	}
	return d
}

// Dispatch implements cpu.Dispatcher. Unknown offsets are logged and
// answered with 0, which is never fatal (§4.5 Failure semantics).
func (d *Dispatcher) Dispatch(c *cpu.CPU, offset byte) byte {
	fn, ok := d.table[offset]
	if !ok {
		d.log.WithField("offset", FormatOffset(offset)).Warn("unknown XIOS offset")
		return 0
	}
	return fn(d, c)
}

// OneSecondFlagAddr is the low-common byte the runner increments once per
// guest second (§4.7 step 2); the guest polls it the same way it would a
// hardware tick flag on the original machine.
const OneSecondFlagAddr = 0x0004

// NotifyOneSecond is called by the runner every TicksPerOneSecondNotification
// quanta. It increments the one-second flag byte in low common memory rather
// than invoking a dispatch-table entry, since the one-second tick is not
// itself a guest-issued XIOS call.
func (d *Dispatcher) NotifyOneSecond(c *cpu.CPU) {
	c.Memory().Write(OneSecondFlagAddr, c.Memory().Read(OneSecondFlagAddr)+1)
}

// SetCurrentConsole selects which console CONST/CONIN/CONOUT act on. MP/M's
// XDOS tracks this per active process descriptor; this emulator does not
// model the guest scheduler's process table, so the CPU-owning runner sets
// it directly, round-robining across connected consoles once per quantum
// (§4.4, §4.9, see pkg/runner).
func (d *Dispatcher) SetCurrentConsole(idx int) { d.current = idx }

// HeuristicPatches reports how many relocation patches the boot loader
// applied under the non-bitmap heuristic path (§4.6, §9), surfaced here so
// diagnostics can report it alongside dispatch faults.
func (d *Dispatcher) SetHeuristicPatches(n int) { d.heuristicPatches = n }
func (d *Dispatcher) HeuristicPatches() int     { return d.heuristicPatches }

// --- console entries -----------------------------------------------------

func (d *Dispatcher) console() *console.Console {
	c, err := d.Consoles.Get(d.current)
	if err != nil {
		// Fall back to console 0; the guest should never select an
		// out-of-range console, but a bad SELDSK-style index must not
		// crash the host.
		c, _ = d.Consoles.Get(0)
	}
	return c
}

func (d *Dispatcher) const_(c *cpu.CPU) byte {
	if d.console().HasInput() {
		return 0xFF
	}
	return 0x00
}

func (d *Dispatcher) conin(c *cpu.CPU) byte {
	if b, ok := d.console().PopInput(); ok {
		return b
	}
	return 0x00
}

func (d *Dispatcher) conout(c *cpu.CPU) byte {
	ch := byte(c.BC())
	d.console().PushOutput(ch)
	return 0
}

func (d *Dispatcher) discard(c *cpu.CPU) byte { return 0 }

func (d *Dispatcher) stub(c *cpu.CPU) byte { return 0 }

func (d *Dispatcher) listst(c *cpu.CPU) byte { return 0xFF } // printer always ready (§4.5)

func (d *Dispatcher) maxconsole(c *cpu.CPU) byte {
	return byte(d.Consoles.Count() - 1)
}

// --- disk entries ---------------------------------------------------------

func (d *Dispatcher) seldsk(c *cpu.CPU) byte {
	drive := int(byte(c.BC()))
	if err := d.Disks.Select(drive); err != nil {
		d.log.WithField("drive", drive).Debug("SELDSK on unmounted or out-of-range drive")
		c.SetHL(0)
		return 0xFF
	}
	// A real XIOS returns a DPH (disk parameter header) pointer in HL;
	// this emulator has no guest-resident DPH table to point into, so it
	// returns a nonzero sentinel to signal success without dereferencing
	// guest memory the boot image never built.
	c.SetHL(1)
	return 0
}

func (d *Dispatcher) settrk(c *cpu.CPU) byte {
	d.Disks.SetTrack(int(byte(c.BC())))
	return 0
}

func (d *Dispatcher) setsec(c *cpu.CPU) byte {
	d.Disks.SetSector(int(byte(c.BC())))
	return 0
}

func (d *Dispatcher) setdma(c *cpu.CPU) byte {
	d.Disks.SetDMA(c.DMABank(), c.BC())
	return 0
}

func (d *Dispatcher) read(c *cpu.CPU) byte {
	if err := d.Disks.ReadSector(); err != nil {
		d.log.WithError(err).Warn("XIOS READ failed")
		return 0xFF
	}
	return 0
}

func (d *Dispatcher) write(c *cpu.CPU) byte {
	if err := d.Disks.WriteSector(); err != nil {
		d.log.WithError(err).Warn("XIOS WRITE failed")
		return 0xFF
	}
	return 0
}

func (d *Dispatcher) sectran(c *cpu.CPU) byte {
	logical := int(c.BC())
	phys := d.Disks.Translate(logical, 0)
	c.SetHL(uint16(phys))
	return 0
}

// --- bank / clock / misc --------------------------------------------------

func (d *Dispatcher) selmemory(c *cpu.CPU) byte {
	c.Memory().SelectBank(int(byte(c.BC())))
	return 0
}

func (d *Dispatcher) polldevice(c *cpu.CPU) byte {
	dev := int(byte(c.BC()))
	consoleIdx := dev / 2
	isInput := dev%2 == 1
	con, err := d.Consoles.Get(consoleIdx)
	if err != nil {
		return 0x00
	}
	ready := con.HasInput()
	if !isInput {
		ready = con.OutputReady()
	}
	if ready {
		return 0xFF
	}
	return 0x00
}

func (d *Dispatcher) startclock(c *cpu.CPU) byte {
	c.SetClockEnabled(true)
	return 0
}

func (d *Dispatcher) stopclock(c *cpu.CPU) byte {
	c.SetClockEnabled(false)
	return 0
}

func (d *Dispatcher) boot(c *cpu.CPU) byte  { return 0 } // cold entry: boot happens externally (§4.5)
func (d *Dispatcher) wboot(c *cpu.CPU) byte { return 0 } // warm entry: caller is expected to vector to BOOT itself

// systeminit installs a `JP INTHND` stub at the interrupt vector in every
// bank, where INTHND is taken to be the vector address plus 3: SYSTEMINIT's
// job is only to guarantee a valid vector in every bank, not to relocate a
// handler the boot loader has already placed there (§4.5, §4.6).
func (d *Dispatcher) systeminit(c *cpu.CPU) byte {
	space := c.Memory()
	handler := interruptVector + 3
	for b := 0; b < space.BankCount(); b++ {
		space.WriteInBank(b, interruptVector, jpOpcode)
		space.WriteInBank(b, interruptVector+1, byte(handler))
		space.WriteInBank(b, interruptVector+2, byte(handler>>8))
	}
	d.systemInitDone = true
	c.SetClockEnabled(true)
	return 0
}

func (d *Dispatcher) idle(c *cpu.CPU) byte {
	d.bridgepoll(c)
	return 0
}

// bridgeMailboxAddr is the guest address the mailbox is mapped at: the
// high-common base, shared by every bank, so the guest's RSP can reach it
// regardless of which bank is currently selected.
func bridgeMailboxAddr(c *cpu.CPU) uint16 {
	return c.Memory().HighBase() + BridgeMailboxBase
}

// bridgepoll drains one pending bridge request into the guest-memory
// mailbox, where the guest-side RSP can read it, overwrite it with its
// reply, and call BRIDGEREPLY to complete the round trip (§4.8). A request
// already awaiting its reply is left alone rather than overwritten.
func (d *Dispatcher) bridgepoll(c *cpu.CPU) byte {
	if d.bridgeReady {
		return 0x00
	}
	req, ok := d.Bridge.PollPending()
	if !ok {
		return 0x00
	}
	d.bridgeMailbox = req.Encode()
	d.bridgeReplyID = req.ID
	d.bridgeReady = true

	addr := bridgeMailboxAddr(c)
	for i, b := range d.bridgeMailbox {
		c.Memory().Write(addr+uint16(i), b)
	}
	return 0xFF
}

// bridgereply reads the guest's reply back out of the mailbox region and
// completes the matching host waiter via DeliverGuestReply (§4.8).
func (d *Dispatcher) bridgereply(c *cpu.CPU) byte {
	if !d.bridgeReady {
		return 0x00
	}
	addr := bridgeMailboxAddr(c)
	var buf [bridge.MailboxSize]byte
	for i := range buf {
		buf[i] = c.Memory().Read(addr + uint16(i))
	}
	d.bridgeReady = false
	if err := d.DeliverGuestReply(buf[:]); err != nil {
		d.log.WithError(err).WithField("id", d.bridgeReplyID).Warn("bridge reply delivery failed")
		return 0xFF
	}
	return 0
}

// DeliverGuestReply is called once the guest has written a reply into the
// mailbox region, decoding it and forwarding it to the matching host
// waiter (§4.8).
func (d *Dispatcher) DeliverGuestReply(buf []byte) error {
	reply, err := bridge.DecodeReply(buf)
	if err != nil {
		return err
	}
	return d.Bridge.Reply(reply)
}
