package boot

import (
	"testing"

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

func TestParseSegmentBitmapRelocation(t *testing.T) {
	var buf []byte
	buf = append(buf, make([]byte, PageSize)...)
	buf[1] = 0 // origin_page = 0: bitmap relocated
	buf[2], buf[3] = 1, 0

	code := make([]byte, PageSize)
	code[0] = 0x10
	code[1] = 0x20
	buf = append(buf, code...)

	bitmap := make([]byte, PageSize/8)
	bitmap[0] = 0x03 // bits 0 and 1 set
	buf = append(buf, bitmap...)

	seg, err := ParseSegment(buf)
	require.NoError(t, err)
	patched, heuristic := seg.Relocate(0x40)
	assert.Equal(t, 0, heuristic)
	assert.Equal(t, byte(0x50), patched[0])
	assert.Equal(t, byte(0x60), patched[1])
	assert.Equal(t, byte(0x00), patched[2]) // untouched: bit not set
}

func TestHeuristicRelocationPatchesPlausibleReferences(t *testing.T) {
	var buf []byte
	buf = append(buf, make([]byte, PageSize)...)
	buf[1] = 1 // origin_page != 0: heuristic path
	buf[2], buf[3] = 1, 0

	code := make([]byte, PageSize)
	code[0] = 0xC3 // JP nn
	code[1] = 0x10
	code[2] = 0x00 // high byte 0, plausibly intra-segment
	buf = append(buf, code...)

	seg, err := ParseSegment(buf)
	require.NoError(t, err)
	require.Nil(t, seg.Bitmap)

	patched, heuristic := seg.Relocate(0x30)
	assert.Equal(t, 1, heuristic)
	assert.Equal(t, byte(0x30), patched[2])
}

func buildSystemImage(t *testing.T) []byte {
	t.Helper()
	sysdat := &Sysdat{
		MemTop:      0xF0,
		NumConsoles: 1,
		XIOSJmpTblBase: 0x20,
		XDOSBase:    0x30,
		BnkXIOSBase: 0x40,
		BnkBDOSBase: 0x41,
		BnkXDOSBase: 0x42,
		CommonBase:  0x10,
		NumMemSeg:   1,
	}
	sysdat.Segments[0] = SegmentDescriptor{Base: 0x50, Size: 1, Bank: 0}
	encoded := sysdat.Encode()

	var img []byte
	img = append(img, encoded[:]...)

	var seg []byte
	seg = append(seg, make([]byte, PageSize)...)
	seg[1] = 0
	seg[2], seg[3] = 1, 0
	code := make([]byte, PageSize)
	code[0] = 0xAA
	seg = append(seg, code...)
	seg = append(seg, make([]byte, PageSize/8)...)
	img = append(img, seg...)
	return img
}

func TestLoadSystemImagePlacesSegmentAndRunsSystemInit(t *testing.T) {
	space := membank.New(membank.DefaultBankCount, membank.DefaultHighBase)
	c := cpu.New(space)
	consoles := console.NewRegistry(1)
	fs := afero.NewMemMapFs()
	disks := disk.NewSubsystem(fs, space)
	d := xios.New(consoles, disks, bridge.New())
	c.SetDispatcher(d)

	l := NewLoader()
	img := buildSystemImage(t)
	sysdat, err := l.LoadSystemImage(img, space, c, d)
	require.NoError(t, err)

	assert.Equal(t, byte(0xAA), space.ReadInBank(0, uint16(0x50)*PageSize))
	assert.Equal(t, uint16(sysdat.XDOSBase)*PageSize, c.PC())
	assert.Equal(t, uint16(sysdat.MemTop)*PageSize, c.SP())
	assert.True(t, c.ClockEnabled())
}

func TestColdBootReadsSectorZeroOfDriveA(t *testing.T) {
	fs := afero.NewMemMapFs()
	f, err := fs.Create("a.img")
	require.NoError(t, err)
	geom := disk.Geometry{Tracks: 77, SectorsPerTrack: 26, SectorSize: 128}
	require.NoError(t, f.Truncate(geom.Size()))
	boot := make([]byte, 128)
	boot[0] = 0xC3
	_, err = f.WriteAt(boot, 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	space := membank.New(membank.DefaultBankCount, membank.DefaultHighBase)
	c := cpu.New(space)
	disks := disk.NewSubsystem(fs, space)
	require.NoError(t, disks.Mount(0, "a.img", false, nil))

	l := NewLoader()
	require.NoError(t, l.ColdBoot(disks, c))
	assert.Equal(t, byte(0xC3), space.ReadInBank(0, 0))
	assert.Equal(t, uint16(0), c.PC())
	assert.Equal(t, uint16(ColdBootSP), c.SP())
}
