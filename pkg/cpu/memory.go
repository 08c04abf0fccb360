package cpu

import "mpm2emu/pkg/membank"

// memoryAccessor adapts membank.Space to github.com/remogatto/z80's
// MemoryAccessor interface. All reads and writes go through the currently
// selected bank, so OUT (BANK_SELECT),A (handled by ports.go) transparently
// changes what the running program sees without the Z80 core knowing
// anything about banking.
type memoryAccessor struct {
	space *membank.Space
}

func newMemoryAccessor(space *membank.Space) *memoryAccessor {
	return &memoryAccessor{space: space}
}

func (m *memoryAccessor) ReadByte(address uint16) byte {
	return m.space.Read(address)
}

func (m *memoryAccessor) WriteByte(address uint16, value byte) {
	m.space.Write(address, value)
}

func (m *memoryAccessor) ReadByteInternal(address uint16) byte {
	return m.ReadByte(address)
}

func (m *memoryAccessor) WriteByteInternal(address uint16, value byte) {
	m.WriteByte(address, value)
}

func (m *memoryAccessor) ContendRead(address uint16, time int)               {}
func (m *memoryAccessor) ContendReadNoMreq(address uint16, time int)         {}
func (m *memoryAccessor) ContendReadNoMreq_loop(address uint16, time int, count uint) {}
func (m *memoryAccessor) ContendWriteNoMreq(address uint16, time int)        {}
func (m *memoryAccessor) ContendWriteNoMreq_loop(address uint16, time int, count uint) {}

func (m *memoryAccessor) Read(address uint16) byte {
	return m.ReadByte(address)
}

func (m *memoryAccessor) Write(address uint16, value byte, protectROM bool) {
	// There is no ROM concept in the MP/M address space: every bank is
	// writable guest RAM. protectROM is accepted for interface
	// compatibility and otherwise ignored.
	m.WriteByte(address, value)
}

func (m *memoryAccessor) Data() []byte {
	// The underlying address space is bank-switched, not a flat 64 KiB
	// array, so there is no single backing slice to expose. Nothing in
	// this emulator calls Data(); it exists only to satisfy the
	// MemoryAccessor interface.
	return nil
}
