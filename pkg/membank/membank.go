// Package membank implements the bank-switched 64 KiB guest address space:
// a shared low-common page, N switchable banks, and a shared high-common
// region above HighBase.
package membank

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	// LowCommonSize is the size in bytes of the shared low-common page.
	LowCommonSize = 0x0100

	// DefaultHighBase is the canonical high-common base address.
	DefaultHighBase = 0xC000

	// DefaultBankCount is the canonical number of banks.
	DefaultBankCount = 8
)

// Space is the decoded MP/M address space: address < LowCommonSize maps to
// the low-common page, address >= HighBase maps to high common, everything
// else maps to the currently selected bank.
type Space struct {
	mu sync.Mutex

	lowCommon  [LowCommonSize]byte
	highCommon []byte
	banks      [][]byte
	highBase   uint16
	current    int

	// GuardEnabled toggles the self-loop write guard (§4.1). It is a
	// diagnostic aid for a historically observed scheduler pathology, not
	// a correctness requirement of the guest OS.
	GuardEnabled bool
	guardStart   uint16
	guardEnd     uint16

	log *logrus.Entry
}

// New builds a Space with bankCount banks and the given high-common base.
func New(bankCount int, highBase uint16) *Space {
	if bankCount <= 0 {
		bankCount = DefaultBankCount
	}
	if highBase == 0 {
		highBase = DefaultHighBase
	}
	banks := make([][]byte, bankCount)
	bankSize := int(highBase) - LowCommonSize
	for i := range banks {
		banks[i] = make([]byte, bankSize)
	}
	return &Space{
		banks:        banks,
		highCommon:   make([]byte, 0x10000-int(highBase)),
		highBase:     highBase,
		GuardEnabled: true,
		log:          logrus.WithField("component", "membank"),
	}
}

// BankCount reports the number of configured banks.
func (s *Space) BankCount() int { return len(s.banks) }

// HighBase reports the configured high-common base address.
func (s *Space) HighBase() uint16 { return s.highBase }

// CurrentBank reports the currently selected bank.
func (s *Space) CurrentBank() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// SelectBank switches the active bank. Out-of-range selections are clamped
// defensively to bank 0 rather than indexing out of bounds, since the guest
// is the only caller and a malformed bank index must not crash the host.
func (s *Space) SelectBank(b int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b < 0 || b >= len(s.banks) {
		s.log.WithField("bank", b).Warn("bank select out of range, clamped to 0")
		b = 0
	}
	s.current = b
}

// SetGuardRegion configures the address range over which the self-loop
// write guard applies. No component of the emulator calls it: until a
// caller sets a range, the range is empty and the guard never fires, even
// with GuardEnabled set.
func (s *Space) SetGuardRegion(start, end uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guardStart, s.guardEnd = start, end
}

// Read returns the byte at a in the currently selected bank.
func (s *Space) Read(a uint16) byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked(s.current, a)
}

// ReadInBank returns the byte at a as seen from bank b, regardless of the
// currently selected bank.
func (s *Space) ReadInBank(b int, a uint16) byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked(b, a)
}

func (s *Space) readLocked(b int, a uint16) byte {
	switch {
	case a < LowCommonSize:
		return s.lowCommon[a]
	case a >= s.highBase:
		return s.highCommon[a-s.highBase]
	default:
		if b < 0 || b >= len(s.banks) {
			return 0xFF
		}
		return s.banks[b][int(a)-LowCommonSize]
	}
}

// Write stores v at a in the currently selected bank, subject to the
// self-loop guard.
func (s *Space) Write(a uint16, v byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeLocked(s.current, a, v)
}

// WriteInBank stores v at a in bank b, regardless of the currently selected
// bank, subject to the self-loop guard.
func (s *Space) WriteInBank(b int, a uint16, v byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeLocked(b, a, v)
}

func (s *Space) writeLocked(b int, a uint16, v byte) {
	if s.GuardEnabled && s.isSelfLoop(a, v) {
		s.log.WithFields(logrus.Fields{"addr": fmt.Sprintf("%04X", a), "value": v}).
			Debug("self-loop write guard dropped write")
		return
	}
	switch {
	case a < LowCommonSize:
		s.lowCommon[a] = v
	case a >= s.highBase:
		s.highCommon[a-s.highBase] = v
	default:
		if b < 0 || b >= len(s.banks) {
			return
		}
		s.banks[b][int(a)-LowCommonSize] = v
	}
}

// isSelfLoop reports whether writing v at a, within the configured guard
// region, would make a process-descriptor link field point at itself: the
// byte being written equals one half of a's own address, and the other half
// of the link-field word (already resident in memory) matches the
// remaining half of a.
func (s *Space) isSelfLoop(a uint16, v byte) bool {
	if s.guardEnd <= s.guardStart {
		return false
	}
	if a < s.guardStart || a >= s.guardEnd {
		return false
	}
	lo, hi := byte(a), byte(a>>8)
	// a holds the low byte of the link field; a+1 holds the high byte.
	if v == lo && a+1 < s.guardEnd {
		if s.readLocked(s.current, a+1) == hi {
			return true
		}
	}
	// a holds the high byte of the link field; a-1 holds the low byte.
	if a > 0 && v == hi && a-1 >= s.guardStart {
		if s.readLocked(s.current, a-1) == lo {
			return true
		}
	}
	return false
}

// BulkLoad writes bytes starting at address a in bank b, splitting the
// write transparently across the bank region and the low/high common
// regions when the range crosses a boundary. Used by the boot loader to
// place relocated segments.
func (s *Space) BulkLoad(b int, a uint16, data []byte) {
	addr := a
	for _, v := range data {
		s.WriteInBank(b, addr, v)
		addr++
	}
}
