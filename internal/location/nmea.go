// Package location provides device positions to the tracker: NMEA 0183 GPS
// receivers on a serial line, or a fixed point.
package location

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/taxibcn/reten/internal/zones"
)

var (
	ErrChecksum    = errors.New("nmea: checksum mismatch")
	ErrUnsupported = errors.New("nmea: unsupported sentence")
)

// ParseSentence extracts a position from a GGA or RMC sentence. ok is false
// for a well-formed sentence without a valid fix.
func ParseSentence(line string) (p zones.Point, ok bool, err error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return zones.Point{}, false, fmt.Errorf("nmea: missing $ in %q", line)
	}
	body := line[1:]
	if i := strings.IndexByte(body, '*'); i >= 0 {
		if err := verifyChecksum(body[:i], body[i+1:]); err != nil {
			return zones.Point{}, false, err
		}
		body = body[:i]
	}

	f := strings.Split(body, ",")
	if len(f[0]) != 5 {
		return zones.Point{}, false, ErrUnsupported
	}
	switch f[0][2:] {
	case "GGA":
		// $--GGA,time,lat,N,lon,E,quality,...
		if len(f) < 7 {
			return zones.Point{}, false, fmt.Errorf("nmea: short GGA sentence")
		}
		if f[6] == "" || f[6] == "0" {
			return zones.Point{}, false, nil
		}
		return coordinates(f[2], f[3], f[4], f[5])
	case "RMC":
		// $--RMC,time,status,lat,N,lon,E,...
		if len(f) < 7 {
			return zones.Point{}, false, fmt.Errorf("nmea: short RMC sentence")
		}
		if f[2] != "A" {
			return zones.Point{}, false, nil
		}
		return coordinates(f[3], f[4], f[5], f[6])
	default:
		return zones.Point{}, false, ErrUnsupported
	}
}

func verifyChecksum(body, sum string) error {
	want, err := strconv.ParseUint(strings.TrimSpace(sum), 16, 8)
	if err != nil {
		return fmt.Errorf("nmea: bad checksum %q: %w", sum, err)
	}
	var got byte
	for i := 0; i < len(body); i++ {
		got ^= body[i]
	}
	if got != byte(want) {
		return ErrChecksum
	}
	return nil
}

func coordinates(lat, ns, lng, ew string) (zones.Point, bool, error) {
	if lat == "" || lng == "" {
		return zones.Point{}, false, nil
	}
	la, err := degrees(lat, 2)
	if err != nil {
		return zones.Point{}, false, err
	}
	lo, err := degrees(lng, 3)
	if err != nil {
		return zones.Point{}, false, err
	}
	switch ns {
	case "N":
	case "S":
		la = -la
	default:
		return zones.Point{}, false, fmt.Errorf("nmea: bad hemisphere %q", ns)
	}
	switch ew {
	case "E":
	case "W":
		lo = -lo
	default:
		return zones.Point{}, false, fmt.Errorf("nmea: bad hemisphere %q", ew)
	}
	return zones.Point{Lat: la, Lng: lo}, true, nil
}

// degrees converts NMEA (d)ddmm.mmmm to decimal degrees.
func degrees(v string, degDigits int) (float64, error) {
	if len(v) < degDigits+2 {
		return 0, fmt.Errorf("nmea: bad coordinate %q", v)
	}
	d, err := strconv.Atoi(v[:degDigits])
	if err != nil {
		return 0, fmt.Errorf("nmea: bad coordinate %q: %w", v, err)
	}
	m, err := strconv.ParseFloat(v[degDigits:], 64)
	if err != nil || m >= 60 {
		return 0, fmt.Errorf("nmea: bad coordinate %q", v)
	}
	return float64(d) + m/60, nil
}
