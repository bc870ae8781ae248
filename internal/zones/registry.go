package zones

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
)

//go:embed zones.yaml
var defaultZones []byte

// DefaultKind is used for zones that do not declare one.
const DefaultKind = "STANDARD"

var (
	ErrNoZones       = errors.New("zone file defines no zones")
	ErrDuplicateZone = errors.New("duplicate zone name")
	ErrInvalidRing   = errors.New("invalid zone ring")
)

// Registry is the fixed, ordered set of zones loaded at start-up. Order matters:
// when zones overlap, classification picks the first match in registry order.
type Registry struct {
	zones  []Zone
	byName map[string]int
}

// NewRegistry validates the zones and keeps them in the given order.
func NewRegistry(zs ...Zone) (*Registry, error) {
	if len(zs) == 0 {
		return nil, ErrNoZones
	}
	r := &Registry{
		zones:  make([]Zone, 0, len(zs)),
		byName: make(map[string]int, len(zs)),
	}
	for _, z := range zs {
		z.Name = strings.TrimSpace(z.Name)
		if z.Name == "" {
			return nil, fmt.Errorf("zone #%d: missing name", len(r.zones)+1)
		}
		if _, dup := r.byName[z.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateZone, z.Name)
		}
		if len(z.Polygons) == 0 {
			return nil, fmt.Errorf("zone %s: %w: no polygons", z.Name, ErrInvalidRing)
		}
		for i, ring := range z.Polygons {
			if ring.distinct() < 3 {
				return nil, fmt.Errorf("zone %s ring %d: %w: need at least 3 points, got %d",
					z.Name, i, ErrInvalidRing, ring.distinct())
			}
			for _, p := range ring {
				if !p.Valid() {
					return nil, fmt.Errorf("zone %s ring %d: %w: non-finite coordinate", z.Name, i, ErrInvalidRing)
				}
			}
		}
		if z.Kind == "" {
			z.Kind = DefaultKind
		}
		r.byName[z.Name] = len(r.zones)
		r.zones = append(r.zones, z)
	}
	return r, nil
}

// Lookup returns the zone with the given name.
func (r *Registry) Lookup(name string) (Zone, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Zone{}, false
	}
	return r.zones[i], true
}

// All returns the zones in registry order.
func (r *Registry) All() []Zone {
	out := make([]Zone, len(r.zones))
	copy(out, r.zones)
	return out
}

// Names returns the zone names in registry order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.zones))
	for i, z := range r.zones {
		names[i] = z.Name
	}
	return names
}

type zoneFile struct {
	Zones []zoneEntry `yaml:"zones"`
}

type zoneEntry struct {
	Name     string        `yaml:"name"`
	Kind     string        `yaml:"kind"`
	Polygons [][][]float64 `yaml:"polygons"`
}

// Parse reads a YAML zone document. Points are [lat, lng] pairs.
func Parse(data []byte) (*Registry, error) {
	var f zoneFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse zones: %w", err)
	}

	zs := make([]Zone, 0, len(f.Zones))
	for _, e := range f.Zones {
		z := Zone{Name: e.Name, Kind: e.Kind}
		for i, raw := range e.Polygons {
			ring := make(Ring, 0, len(raw))
			for j, pair := range raw {
				if len(pair) != 2 {
					return nil, fmt.Errorf("zone %s ring %d point %d: %w: expected [lat, lng]",
						e.Name, i, j, ErrInvalidRing)
				}
				ring = append(ring, Point{Lat: pair[0], Lng: pair[1]})
			}
			z.Polygons = append(z.Polygons, ring)
		}
		zs = append(zs, z)
	}
	return NewRegistry(zs...)
}

// Load reads zones from path, or the built-in Barcelona set when path is empty.
func Load(path string) (*Registry, error) {
	if path == "" {
		return Parse(defaultZones)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read zones file: %w", err)
	}
	return Parse(data)
}
