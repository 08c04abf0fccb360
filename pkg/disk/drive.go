// Package disk implements the mounted, sector-addressable drives (§4.3)
// backing MP/M disk I/O, stored on an afero.Fs so production code and
// tests share the same drive logic against either the real filesystem or
// an in-memory one.
package disk

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/afero"
)

const flagReadWrite = os.O_RDWR

// BootReservedTracks is the number of leading tracks conventionally
// reserved for boot/system code (§3); the disk subsystem documents this
// but does not refuse I/O against them — layout discipline is the guest
// image's responsibility.
const BootReservedTracks = 2

var (
	ErrShortIO     = errors.New("disk: short read or write")
	ErrOutOfRange  = errors.New("disk: track or sector out of range")
	ErrNoSuchDrive = errors.New("disk: no such drive")
)

// Drive is one mounted disk image.
type Drive struct {
	fs       afero.Fs
	path     string
	geometry Geometry
	readOnly bool
	skew     []int
}

// Mount opens path on fs and detects its geometry from file size. If
// override is non-nil, it is used instead of auto-detection.
func Mount(fs afero.Fs, path string, readOnly bool, override *Geometry) (*Drive, error) {
	info, err := fs.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("disk: mount %s: %w", path, err)
	}

	var geometry Geometry
	if override != nil {
		geometry = *override
	} else {
		var ok bool
		geometry, ok = DetectGeometry(info.Size())
		if !ok {
			return nil, fmt.Errorf("disk: mount %s: no known geometry matches size %d", path, info.Size())
		}
	}

	return &Drive{fs: fs, path: path, geometry: geometry, readOnly: readOnly}, nil
}

// Geometry returns the drive's geometry.
func (d *Drive) Geometry() Geometry { return d.geometry }

// ReadOnly reports whether the drive rejects writes.
func (d *Drive) ReadOnly() bool { return d.readOnly }

func (d *Drive) offset(track, sector int) (int64, error) {
	if track < 0 || track >= d.geometry.Tracks || sector < 0 || sector >= d.geometry.SectorsPerTrack {
		return 0, ErrOutOfRange
	}
	return int64(track)*int64(d.geometry.SectorsPerTrack)*int64(d.geometry.SectorSize) +
		int64(sector)*int64(d.geometry.SectorSize), nil
}

// ReadSector reads one sector into buf, which must be exactly SectorSize
// bytes.
func (d *Drive) ReadSector(track, sector int, buf []byte) error {
	if len(buf) != d.geometry.SectorSize {
		return ErrShortIO
	}
	off, err := d.offset(track, sector)
	if err != nil {
		return err
	}
	f, err := d.fs.Open(d.path)
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := f.ReadAt(buf, off)
	if err != nil && n != len(buf) {
		return fmt.Errorf("disk: read track %d sector %d: %w", track, sector, ErrShortIO)
	}
	return nil
}

// WriteSector writes one sector from buf, which must be exactly
// SectorSize bytes.
func (d *Drive) WriteSector(track, sector int, buf []byte) error {
	if d.readOnly {
		return fmt.Errorf("disk: write track %d sector %d: drive is read-only", track, sector)
	}
	if len(buf) != d.geometry.SectorSize {
		return ErrShortIO
	}
	off, err := d.offset(track, sector)
	if err != nil {
		return err
	}
	f, err := d.fs.OpenFile(d.path, flagReadWrite, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := f.WriteAt(buf, off)
	if err != nil || n != len(buf) {
		return fmt.Errorf("disk: write track %d sector %d: %w", track, sector, ErrShortIO)
	}
	return nil
}

// Translate maps a logical sector number on the given track to a physical
// sector number. MP/M skew tables are guest-image-specific; absent one,
// translation is the identity map and SECTRAN callers may override it with
// a per-drive skew table via WithSkew.
func (d *Drive) Translate(logical int) int {
	if d.skew == nil || logical < 0 || logical >= len(d.skew) {
		return logical
	}
	return d.skew[logical]
}

// WithSkew installs a sector skew table used by Translate.
func (d *Drive) WithSkew(skew []int) { d.skew = skew }
