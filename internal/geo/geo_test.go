package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Distance tests
// ---------------------------------------------------------------------------

func TestSurfaceDistanceSymmetric(t *testing.T) {
	a := Point{Lon: 113.32, Lat: 23.12, Height: 100}
	b := Point{Lon: 113.33, Lat: 23.14, Height: 100}

	dAB, err := SurfaceDistance(a, b)
	require.NoError(t, err)
	dBA, err := SurfaceDistance(b, a)
	require.NoError(t, err)

	assert.Equal(t, dAB, dBA)
	assert.Greater(t, dAB, 0.0)
}

func TestSurfaceDistanceIdenticalPoints(t *testing.T) {
	p := Point{Lon: 113.32, Lat: 23.12, Height: 50}

	d, err := SurfaceDistance(p, p)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, d, 1e-9)
}

func TestSurfaceDistanceKnownValue(t *testing.T) {
	// One degree of latitude along a meridian spans pi*R/180 meters.
	a := Point{Lon: 113.0, Lat: 23.0}
	b := Point{Lon: 113.0, Lat: 24.0}

	d, err := SurfaceDistance(a, b)
	require.NoError(t, err)

	want := math.Pi * EarthRadiusM / 180.0
	assert.InDelta(t, want, d, 1.0)
}

func TestSlantDistanceCombinesVertical(t *testing.T) {
	a := Point{Lon: 113.32, Lat: 23.12, Height: 0}
	b := Point{Lon: 113.32, Lat: 23.12, Height: 40}

	d, err := SlantDistance(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 40.0, d, 1e-9)

	// 3-4-5 triangle: ~30 m horizontal plus 40 m vertical.
	c := Point{Lon: 113.32, Lat: 23.12 + 30.0/EarthRadiusM*180.0/math.Pi, Height: 40}
	d, err = SlantDistance(a, c)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, d, 0.01)
}

func TestHaversineMMatchesSurfaceDistance(t *testing.T) {
	a := Point{Lon: 113.2590, Lat: 23.1283}
	b := Point{Lon: 113.2950, Lat: 23.1311}

	checked, err := SurfaceDistance(a, b)
	require.NoError(t, err)
	assert.Equal(t, checked, HaversineM(a.Lat, a.Lon, b.Lat, b.Lon))
}

// ---------------------------------------------------------------------------
// Validation tests
// ---------------------------------------------------------------------------

func TestPointValidate(t *testing.T) {
	tests := []struct {
		name    string
		point   Point
		wantErr error
	}{
		{"valid", Point{Lon: 113.32, Lat: 23.12, Height: 100}, nil},
		{"valid zero height", Point{Lon: 0, Lat: 0, Height: 0}, nil},
		{"lon too large", Point{Lon: 181, Lat: 0}, ErrInvalidLongitude},
		{"lon too small", Point{Lon: -180.01, Lat: 0}, ErrInvalidLongitude},
		{"lon NaN", Point{Lon: math.NaN(), Lat: 0}, ErrInvalidLongitude},
		{"lat too large", Point{Lon: 0, Lat: 90.5}, ErrInvalidLatitude},
		{"lat NaN", Point{Lon: 0, Lat: math.NaN()}, ErrInvalidLatitude},
		{"negative height", Point{Lon: 0, Lat: 0, Height: -1}, ErrInvalidHeight},
		{"height NaN", Point{Lon: 0, Lat: 0, Height: math.NaN()}, ErrInvalidHeight},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.point.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestSurfaceDistanceRejectsInvalidInput(t *testing.T) {
	good := Point{Lon: 113.32, Lat: 23.12}
	bad := Point{Lon: 113.32, Lat: 123.0}

	_, err := SurfaceDistance(good, bad)
	assert.ErrorIs(t, err, ErrInvalidLatitude)

	_, err = SlantDistance(bad, good)
	assert.ErrorIs(t, err, ErrInvalidLatitude)
}

func TestMidpoint(t *testing.T) {
	a := Point{Lon: 113.30, Lat: 23.10, Height: 100}
	b := Point{Lon: 113.34, Lat: 23.14, Height: 140}

	mid := Midpoint(a, b)
	assert.InDelta(t, 113.32, mid.Lon, 1e-12)
	assert.InDelta(t, 23.12, mid.Lat, 1e-12)
	assert.InDelta(t, 120.0, mid.Height, 1e-12)
}
