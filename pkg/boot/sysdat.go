// Package boot implements the guest image loader (§4.6): cold boot from a
// disk image, and direct system image load with SYSDAT-driven relocation
// and placement.
package boot

import "fmt"

// SysdatSize is the fixed size of the SYSDAT structure, drawn from byte 0
// of a system image (§3 Guest image / SYSDAT).
const SysdatSize = 256

// SegmentCount is the number of (base, size, attr, bank) segment
// descriptors packed into SYSDAT.
const SegmentCount = 8

// SegmentDescriptor is one of the eight 4-byte segment descriptors at
// SYSDAT offset 16..47.
type SegmentDescriptor struct {
	Base uint8
	Size uint8
	Attr uint8
	Bank uint8
}

// Sysdat is the parsed 256-byte guest configuration block (§3).
type Sysdat struct {
	MemTop         uint8 // offset 0: high page of system memory
	NumConsoles    uint8 // offset 1: nmb_cns
	BankSwitched   uint8 // offset 4
	XIOSJmpTblBase uint8 // offset 7
	ResBDOSBase    uint8 // offset 8
	XDOSBase       uint8 // offset 11
	BnkXIOSBase    uint8 // offset 13
	BnkBDOSBase    uint8 // offset 14
	NumMemSeg      uint8 // offset 15
	Segments       [SegmentCount]SegmentDescriptor
	NumRecords     uint16 // offset 120..121
	TicksPerSecond uint8  // offset 122
	SystemDrive    uint8  // offset 123
	CommonBase     uint8  // offset 124
	BnkXDOSBase    uint8  // offset 242
	TmpBase        uint8  // offset 247
}

// ParseSysdat decodes the 256-byte SYSDAT block at the start of a system
// image.
func ParseSysdat(buf []byte) (*Sysdat, error) {
	if len(buf) < SysdatSize {
		return nil, fmt.Errorf("boot: sysdat block too short (%d bytes)", len(buf))
	}
	s := &Sysdat{
		MemTop:         buf[0],
		NumConsoles:    buf[1],
		BankSwitched:   buf[4],
		XIOSJmpTblBase: buf[7],
		ResBDOSBase:    buf[8],
		XDOSBase:       buf[11],
		BnkXIOSBase:    buf[13],
		BnkBDOSBase:    buf[14],
		NumMemSeg:      buf[15],
		NumRecords:     uint16(buf[120]) | uint16(buf[121])<<8,
		TicksPerSecond: buf[122],
		SystemDrive:    buf[123],
		CommonBase:     buf[124],
		BnkXDOSBase:    buf[242],
		TmpBase:        buf[247],
	}
	for i := 0; i < SegmentCount; i++ {
		off := 16 + i*4
		s.Segments[i] = SegmentDescriptor{
			Base: buf[off],
			Size: buf[off+1],
			Attr: buf[off+2],
			Bank: buf[off+3],
		}
	}
	return s, nil
}

// Validate checks the SYSDAT invariant common_base <= bnk* bases <= mem_top
// (§3).
func (s *Sysdat) Validate() error {
	if s.CommonBase > s.BnkXIOSBase || s.BnkXIOSBase > s.MemTop {
		return fmt.Errorf("boot: sysdat layout invariant violated: common=%d bnkxios=%d memtop=%d",
			s.CommonBase, s.BnkXIOSBase, s.MemTop)
	}
	if s.CommonBase > s.BnkBDOSBase || s.BnkBDOSBase > s.MemTop {
		return fmt.Errorf("boot: sysdat layout invariant violated: common=%d bnkbdos=%d memtop=%d",
			s.CommonBase, s.BnkBDOSBase, s.MemTop)
	}
	if s.CommonBase > s.BnkXDOSBase || s.BnkXDOSBase > s.MemTop {
		return fmt.Errorf("boot: sysdat layout invariant violated: common=%d bnkxdos=%d memtop=%d",
			s.CommonBase, s.BnkXDOSBase, s.MemTop)
	}
	return nil
}

// Encode serializes Sysdat back into a 256-byte block, used to re-deposit
// SYSDAT at mem_top after loading (§4.6 step 2).
func (s *Sysdat) Encode() [SysdatSize]byte {
	var buf [SysdatSize]byte
	buf[0] = s.MemTop
	buf[1] = s.NumConsoles
	buf[4] = s.BankSwitched
	buf[7] = s.XIOSJmpTblBase
	buf[8] = s.ResBDOSBase
	buf[11] = s.XDOSBase
	buf[13] = s.BnkXIOSBase
	buf[14] = s.BnkBDOSBase
	buf[15] = s.NumMemSeg
	for i, seg := range s.Segments {
		off := 16 + i*4
		buf[off] = seg.Base
		buf[off+1] = seg.Size
		buf[off+2] = seg.Attr
		buf[off+3] = seg.Bank
	}
	buf[120] = byte(s.NumRecords)
	buf[121] = byte(s.NumRecords >> 8)
	buf[122] = s.TicksPerSecond
	buf[123] = s.SystemDrive
	buf[124] = s.CommonBase
	buf[242] = s.BnkXDOSBase
	buf[247] = s.TmpBase
	return buf
}
