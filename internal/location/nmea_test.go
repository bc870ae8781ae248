package location

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSentence(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		lat     float64
		lng     float64
		ok      bool
		wantErr error
	}{
		{
			name: "gga at T1",
			line: "$GPGGA,092750.000,4117.5800,N,00203.2100,E,1,8,1.03,61.7,M,55.2,M,,*61",
			lat:  41.293, lng: 2.0535, ok: true,
		},
		{
			name: "rmc at T2",
			line: "$GNRMC,092751.000,A,4118.2220,N,00204.1100,E,0.02,31.66,140325,,,A*41\r\n",
			lat:  41.3037, lng: 2.0685, ok: true,
		},
		{
			name: "southern and western hemispheres",
			line: "$GPGGA,092750.000,3351.0000,S,15112.0000,W,1,8,1.03,61.7,M,55.2,M,,*60",
			lat:  -33.85, lng: -151.2, ok: true,
		},
		{name: "rmc without fix", line: "$GPRMC,092751.000,V,,,,,,,140325,,,N*44"},
		{name: "gga without fix", line: "$GPGGA,092750.000,,,,,0,0,,,M,,M,,*41"},
		{
			name:    "satellites in view",
			line:    "$GPGSV,3,1,11,10,63,137,17,07,61,098,15,05,59,290,20,08,54,157,30*70",
			wantErr: ErrUnsupported,
		},
		{
			name:    "corrupted",
			line:    "$GPGGA,092750.000,4117.5800,N,00203.2100,E,1,8,1.03,61.7,M,55.2,M,,*62",
			wantErr: ErrChecksum,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok, err := ParseSentence(tt.line)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.lat, p.Lat, 1e-9)
				assert.InDelta(t, tt.lng, p.Lng, 1e-9)
			}
		})
	}
}

func TestParseSentenceGarbage(t *testing.T) {
	for _, line := range []string{
		"",
		"GPGGA,no dollar",
		"$GPGGA,092750.000,41x7.58,N,00203.21,E,1",
		"$GPGGA,092750.000,4117.58,Q,00203.21,E,1",
		"$GPRMC,1,A",
	} {
		_, _, err := ParseSentence(line)
		assert.Error(t, err, line)
	}
}
