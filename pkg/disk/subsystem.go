package disk

import (
	"github.com/spf13/afero"

	"mpm2emu/pkg/membank"
)

const maxDrives = 16 // A..P

// Subsystem is the guest-visible disk controller: the currently selected
// drive, its track/sector cursor, and its DMA target, mediating all sector
// I/O through the bank-switched address space (§4.3).
type Subsystem struct {
	fs     afero.Fs
	drives [maxDrives]*Drive

	selected int
	track    int
	sector   int
	dmaBank  int
	dmaAddr  uint16

	mem *membank.Space
}

// NewSubsystem creates a disk controller backed by fs and mem.
func NewSubsystem(fs afero.Fs, mem *membank.Space) *Subsystem {
	return &Subsystem{fs: fs, mem: mem, selected: -1}
}

// Mount attaches an image file to drive (0='A').
func (s *Subsystem) Mount(drive int, path string, readOnly bool, override *Geometry) error {
	if drive < 0 || drive >= maxDrives {
		return ErrNoSuchDrive
	}
	d, err := Mount(s.fs, path, readOnly, override)
	if err != nil {
		return err
	}
	s.drives[drive] = d
	return nil
}

// Unmount detaches drive.
func (s *Subsystem) Unmount(drive int) {
	if drive < 0 || drive >= maxDrives {
		return
	}
	s.drives[drive] = nil
	if s.selected == drive {
		s.selected = -1
	}
}

// Select makes drive the current drive, returning ErrNoSuchDrive if
// unmounted or out of range.
func (s *Subsystem) Select(drive int) error {
	if drive < 0 || drive >= maxDrives || s.drives[drive] == nil {
		return ErrNoSuchDrive
	}
	s.selected = drive
	return nil
}

// Selected returns the index of the currently selected drive, or -1.
func (s *Subsystem) Selected() int { return s.selected }

// CurrentDrive returns the currently selected Drive, or nil.
func (s *Subsystem) CurrentDrive() *Drive {
	if s.selected < 0 {
		return nil
	}
	return s.drives[s.selected]
}

func (s *Subsystem) SetTrack(t int)       { s.track = t }
func (s *Subsystem) SetSector(sec int)    { s.sector = sec }
func (s *Subsystem) SetDMA(bank int, addr uint16) {
	s.dmaBank, s.dmaAddr = bank, addr
}

// ReadSector reads the sector at the current cursor into the current DMA
// target.
func (s *Subsystem) ReadSector() error {
	d := s.CurrentDrive()
	if d == nil {
		return ErrNoSuchDrive
	}
	buf := make([]byte, d.Geometry().SectorSize)
	if err := d.ReadSector(s.track, s.sector, buf); err != nil {
		return err
	}
	s.mem.BulkLoad(s.dmaBank, s.dmaAddr, buf)
	return nil
}

// WriteSector writes the current DMA target to the sector at the current
// cursor.
func (s *Subsystem) WriteSector() error {
	d := s.CurrentDrive()
	if d == nil {
		return ErrNoSuchDrive
	}
	size := d.Geometry().SectorSize
	buf := make([]byte, size)
	addr := s.dmaAddr
	for i := range buf {
		buf[i] = s.mem.ReadInBank(s.dmaBank, addr)
		addr++
	}
	return d.WriteSector(s.track, s.sector, buf)
}

// Translate maps a logical sector to a physical one on the currently
// selected drive (XIOS SECTRAN).
func (s *Subsystem) Translate(logical, track int) int {
	d := s.CurrentDrive()
	if d == nil {
		return logical
	}
	return d.Translate(logical)
}
