// Package spatial classifies location samples against zone geometry.
//
// Coordinates are treated as planar: x is latitude and y is longitude, and
// distances are measured in degrees. A tolerance of 0.001 is roughly 100 m at
// the deployment latitude (41.3° N) but shrinks east-west away from it; the
// buffer is kept in degrees so existing zone boundaries classify exactly as
// they always have.
package spatial

import (
	"math"

	"github.com/taxibcn/reten/internal/zones"
)

// DefaultTolerance is the buffer around every zone edge, in degrees.
const DefaultTolerance = 0.001

// IsInsidePolygon runs the ray-casting parity test. An edge counts only when
// the point's longitude lies in the half-open interval spanned by the edge, so
// a ray through a shared vertex is counted once.
func IsInsidePolygon(p zones.Point, ring zones.Ring) bool {
	inside := false
	n := len(ring)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[i].Lat, ring[i].Lng
		xj, yj := ring[j].Lat, ring[j].Lng
		if (yi > p.Lng) != (yj > p.Lng) &&
			p.Lat < (xj-xi)*(p.Lng-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

// DistanceToSegment is the distance from p to the closest point of the finite
// segment a-b.
func DistanceToSegment(p, a, b zones.Point) float64 {
	dx, dy := b.Lat-a.Lat, b.Lng-a.Lng
	lenSq := dx*dx + dy*dy

	t := 0.0
	if lenSq != 0 {
		t = ((p.Lat-a.Lat)*dx + (p.Lng-a.Lng)*dy) / lenSq
		t = math.Max(0, math.Min(1, t))
	}

	nx, ny := a.Lat+t*dx, a.Lng+t*dy
	return math.Hypot(p.Lat-nx, p.Lng-ny)
}

// IsNearZone reports whether p is inside any ring of z or within tolerance of
// any of its edges, the closing edge included.
func IsNearZone(p zones.Point, z zones.Zone, tolerance float64) bool {
	for _, ring := range z.Polygons {
		if IsInsidePolygon(p, ring) {
			return true
		}
	}
	for _, ring := range z.Polygons {
		closed := ring.Closed()
		for i := 0; i+1 < len(closed); i++ {
			if DistanceToSegment(p, closed[i], closed[i+1]) <= tolerance {
				return true
			}
		}
	}
	return false
}

// Zones is the ordered zone source Classify walks.
type Zones interface {
	All() []zones.Zone
}

// Classify returns the first zone, in registry order, that p is near.
func Classify(p zones.Point, reg Zones, tolerance float64) (string, bool) {
	for _, z := range reg.All() {
		if IsNearZone(p, z, tolerance) {
			return z.Name, true
		}
	}
	return "", false
}
