package disk

import "fmt"

// Geometry describes a drive's sector addressing.
type Geometry struct {
	Tracks          int
	SectorsPerTrack int
	SectorSize      int
}

// Size returns the total backing size in bytes for this geometry.
func (g Geometry) Size() int64 {
	return int64(g.Tracks) * int64(g.SectorsPerTrack) * int64(g.SectorSize)
}

func (g Geometry) String() string {
	return fmt.Sprintf("%d×%d×%d", g.Tracks, g.SectorsPerTrack, g.SectorSize)
}

// knownGeometries is the auto-detect table of §6.
var knownGeometries = []Geometry{
	{Tracks: 77, SectorsPerTrack: 26, SectorSize: 128},
	{Tracks: 1024, SectorsPerTrack: 16, SectorSize: 512},
	{Tracks: 1040, SectorsPerTrack: 16, SectorSize: 512},
}

// DetectGeometry returns the first known geometry whose size matches size,
// in table order.
func DetectGeometry(size int64) (Geometry, bool) {
	for _, g := range knownGeometries {
		if g.Size() == size {
			return g, true
		}
	}
	return Geometry{}, false
}
