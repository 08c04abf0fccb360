package boot

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"mpm2emu/pkg/cpu"
	"mpm2emu/pkg/disk"
	"mpm2emu/pkg/membank"
	"mpm2emu/pkg/xios"
)

// entryOrder is the XIOS offset of each table entry in jump-table order,
// used to repair unpatched `JP 0000` stubs in the XDOS region (§4.6).
var entryOrder = []byte{
	xios.BOOT, xios.WBOOT, xios.CONST, xios.CONIN, xios.CONOUT, xios.LIST,
	xios.PUNCH, xios.READER, xios.HOME, xios.SELDSK, xios.SETTRK, xios.SETSEC,
	xios.SETDMA, xios.READ, xios.WRITE, xios.LISTST, xios.SECTRAN,
	xios.SELMEMORY, xios.POLLDEVICE, xios.STARTCLOCK, xios.STOPCLOCK,
	xios.EXITREGION, xios.MAXCONSOLE, xios.SYSTEMINIT, xios.IDLE,
}

// ColdBootSP is the stack pointer a cold boot starts execution with (§4.6
// step 1).
const ColdBootSP = 0x0100

// Loader places a guest image into an address space and prepares the CPU
// to begin execution, tracking relocation diagnostics along the way.
type Loader struct {
	HeuristicPatches int

	log *logrus.Entry
}

// NewLoader creates a Loader.
func NewLoader() *Loader {
	return &Loader{log: logrus.WithField("component", "boot")}
}

// ColdBoot reads sector 0 of drive 0 (A) into bank 0 at 0x0000 and sets
// PC/SP to begin execution there; the disk image owns further boot
// progression (§4.6 flavor 1).
func (l *Loader) ColdBoot(disks *disk.Subsystem, c *cpu.CPU) error {
	if err := disks.Select(0); err != nil {
		return fmt.Errorf("boot: cold boot drive A not mounted: %w", err)
	}
	disks.SetTrack(0)
	disks.SetSector(0)
	disks.SetDMA(0, 0x0000)
	if err := disks.ReadSector(); err != nil {
		return fmt.Errorf("boot: cold boot sector read failed: %w", err)
	}
	c.SetPC(0x0000)
	c.SetSP(ColdBootSP)
	l.log.Info("cold boot loaded from drive A sector 0")
	return nil
}

// LoadSystemImage parses a direct system image (SYSDAT followed by its
// relocatable segments in placement order) and places every segment at its
// SYSDAT-declared base, then runs SYSTEMINIT and sets PC/SP to begin
// execution at XDOS (§4.6 flavor 2).
func (l *Loader) LoadSystemImage(data []byte, space *membank.Space, c *cpu.CPU, dispatcher *xios.Dispatcher) (*Sysdat, error) {
	sysdat, err := ParseSysdat(data)
	if err != nil {
		return nil, err
	}
	if err := sysdat.Validate(); err != nil {
		return nil, err
	}

	offset := SysdatSize
	for i := 0; i < int(sysdat.NumMemSeg) && i < SegmentCount; i++ {
		desc := sysdat.Segments[i]
		if desc.Size == 0 {
			continue
		}
		if offset >= len(data) {
			return nil, fmt.Errorf("boot: image truncated before segment %d", i)
		}
		seg, err := ParseSegment(data[offset:])
		if err != nil {
			return nil, fmt.Errorf("boot: segment %d: %w", i, err)
		}
		patched, heuristic := seg.Relocate(desc.Base)
		l.HeuristicPatches += heuristic
		space.BulkLoad(int(desc.Bank), uint16(desc.Base)*PageSize, patched)

		segBytes := PageSize + seg.SizePages*PageSize
		if seg.OriginPage == 0 {
			segBytes += (seg.SizePages*PageSize + 7) / 8
		}
		offset += segBytes
	}

	// Re-deposit SYSDAT at mem_top, as the guest expects to find it there
	// once execution begins (§4.6 step 2).
	sysdatBytes := sysdat.Encode()
	space.BulkLoad(0, uint16(sysdat.MemTop)*PageSize, sysdatBytes[:])

	// SYSTEMINIT is invoked directly through the dispatch table rather than
	// by vectoring the CPU to bnkxios_base*256+0x45: every other XIOS entry
	// in this emulator is reached the same way, through the port trap, not
	// by address.
	dispatcher.Dispatch(c, xios.SYSTEMINIT)

	repaired := RepairXIOSStubs(space, sysdat)
	if repaired > 0 {
		l.log.WithField("count", repaired).Info("repaired unpatched XIOS stubs")
	}

	c.SetPC(uint16(sysdat.XDOSBase) * PageSize)
	c.SetSP(uint16(sysdat.MemTop) * PageSize)

	l.log.WithFields(logrus.Fields{
		"mem_top":   sysdat.MemTop,
		"xdos_base": sysdat.XDOSBase,
		"heuristic": l.HeuristicPatches,
	}).Info("system image loaded")

	return sysdat, nil
}

// RepairXIOSStubs scans the XDOS jump table region for unpatched `JP 0000`
// entries and rewrites each to point at the corresponding banked XIOS
// entry (§4.6 step 2, final sentence).
func RepairXIOSStubs(space *membank.Space, sysdat *Sysdat) int {
	base := uint16(sysdat.XIOSJmpTblBase) * PageSize
	target := uint16(sysdat.BnkXIOSBase) * PageSize
	repaired := 0
	for i, off := range entryOrder {
		addr := base + uint16(i*3)
		if space.Read(addr) != jpOpcodeStub {
			continue
		}
		lo := space.Read(addr + 1)
		hi := space.Read(addr + 2)
		if lo != 0 || hi != 0 {
			continue
		}
		dest := target + uint16(off)
		space.Write(addr+1, byte(dest))
		space.Write(addr+2, byte(dest>>8))
		repaired++
	}
	return repaired
}

const jpOpcodeStub = 0xC3
