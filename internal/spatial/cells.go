package spatial

import (
	"strings"

	"github.com/golang/geo/s2"
)

// Place is a tag location, optionally with coordinates from the location catalog.
type Place struct {
	Name   string
	Lat    float64
	Lng    float64
	HasPos bool
}

// CellID returns the s2 cell of a coordinate at the given level (0-30).
func CellID(lat, lng float64, level int) s2.CellID {
	if level < 0 {
		level = 0
	}
	if level > s2.MaxLevel {
		level = s2.MaxLevel
	}
	return s2.CellIDFromLatLng(s2.LatLngFromDegrees(lat, lng)).Parent(level)
}

// DistinctLocations counts places by s2 cell where coordinates are known and by
// case-insensitive name otherwise. Two readers mounted in the same cell count once.
func DistinctLocations(places []Place, level int) int {
	cells := make(map[s2.CellID]struct{})
	names := make(map[string]struct{})
	for _, p := range places {
		if p.HasPos {
			cells[CellID(p.Lat, p.Lng, level)] = struct{}{}
			continue
		}
		name := strings.ToLower(strings.TrimSpace(p.Name))
		if name == "" {
			continue
		}
		names[name] = struct{}{}
	}
	return len(cells) + len(names)
}
