package zones

import "math"

// Point is a geographic coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether both coordinates are finite numbers.
func (p Point) Valid() bool {
	return !math.IsNaN(p.Lat) && !math.IsNaN(p.Lng) &&
		!math.IsInf(p.Lat, 0) && !math.IsInf(p.Lng, 0)
}

// Ring is one closed loop of a zone boundary. The last point may repeat the
// first one; Closed normalizes either form.
type Ring []Point

// Closed returns the ring with its first point appended when the data does not
// already close the loop.
func (r Ring) Closed() Ring {
	if len(r) == 0 || r[0] == r[len(r)-1] {
		return r
	}
	closed := make(Ring, 0, len(r)+1)
	closed = append(closed, r...)
	return append(closed, r[0])
}

// distinct counts the points of the ring ignoring the closing duplicate.
func (r Ring) distinct() int {
	n := len(r)
	if n > 1 && r[0] == r[n-1] {
		n--
	}
	return n
}

// Zone is a named waiting area made of one or more rings.
type Zone struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Polygons []Ring `json:"polygons"`
}

// Envelope is the broad bounding box a sample must fall into before any
// geometry work is attempted.
type Envelope struct {
	MinLat float64
	MaxLat float64
	MinLng float64
	MaxLng float64
}

// Barcelona is the deployment region of the default zone set.
var Barcelona = Envelope{MinLat: 41.0, MaxLat: 42.0, MinLng: 1.5, MaxLng: 3.0}

// Contains reports whether p lies inside the envelope, edges included.
func (e Envelope) Contains(p Point) bool {
	if !p.Valid() {
		return false
	}
	return p.Lat >= e.MinLat && p.Lat <= e.MaxLat &&
		p.Lng >= e.MinLng && p.Lng <= e.MaxLng
}
