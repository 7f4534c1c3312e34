package noise

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChrisYZZ/Cei-Noise/internal/geo"
	"github.com/ChrisYZZ/Cei-Noise/internal/route"
)

func TestAttenuation(t *testing.T) {
	// At 100m from a 100m source there is no ground effect: pure spreading
	// plus absorption.
	want := 20*math.Log10(100) + 0.005*100
	assert.InDelta(t, want, Attenuation(100, 100), 1e-9)

	// A 50m source gets a 1.5 dB ground-effect credit.
	want = 20*math.Log10(100) + 0.005*100 - 1.5
	assert.InDelta(t, want, Attenuation(100, 50), 1e-9)
}

func TestAttenuationNeverNegative(t *testing.T) {
	// Inside the reference distance the spreading term goes negative; the
	// loss is floored at zero.
	assert.Zero(t, Attenuation(0.5, 10))
	assert.Zero(t, Attenuation(0, 10))
	assert.Zero(t, Attenuation(-3, 10))
}

func TestAttenuationGrowsWithDistance(t *testing.T) {
	prev := Attenuation(10, 100)
	for _, d := range []float64{50, 100, 500, 1000} {
		cur := Attenuation(d, 100)
		assert.Greater(t, cur, prev, "d=%v", d)
		prev = cur
	}
}

func TestReceivedNoiseDirectlyBelow(t *testing.T) {
	src := geo.Point{Lon: 113.30, Lat: 23.12, Height: 100}
	ground := geo.Point{Lon: 113.30, Lat: 23.12}

	// Slant distance is the height itself.
	want := 80 - Attenuation(100, 100)
	assert.InDelta(t, want, ReceivedNoise(80, src, ground), 1e-9)
}

func TestReceivedNoiseFlooredAtZero(t *testing.T) {
	src := geo.Point{Lon: 113.30, Lat: 23.12, Height: 100}
	farAway := geo.Point{Lon: 114.30, Lat: 23.12}

	assert.Zero(t, ReceivedNoise(60, src, farAway))
}

func TestHeatmapForRoute(t *testing.T) {
	r := route.Route{
		Name:      "cbd-express",
		BaseNoise: 82,
		Path: []route.Waypoint{
			{Point: geo.Point{Lon: 113.300, Lat: 23.120, Height: 100}, Time: 0},
			{Point: geo.Point{Lon: 113.302, Lat: 23.120, Height: 100}, Time: 60},
		},
	}

	hm, err := HeatmapForRoute(context.Background(), r, DefaultGridSizeM)
	require.NoError(t, err)

	assert.Equal(t, "cbd-express", hm.RouteName)
	assert.NotEmpty(t, hm.Points)
	assert.GreaterOrEqual(t, hm.MaxNoise, hm.MinNoise)
	assert.Greater(t, hm.MaxNoise, 0.0)

	// The loudest cell sits under the path: its exposure cannot exceed the
	// source level and its display value is the tenfold noise.
	for _, p := range hm.Points {
		assert.LessOrEqual(t, p.Noise, 82.0)
		assert.GreaterOrEqual(t, p.Noise, 0.0)
		assert.InDelta(t, p.Noise*10, p.Value, 1e-9)
		assert.GreaterOrEqual(t, p.Lon, 113.300-0.005-1e-9)
		assert.LessOrEqual(t, p.Lat, 23.120+0.005+1e-9)
	}
}

func TestHeatmapGridSpacing(t *testing.T) {
	r := route.Route{
		Name:      "short-hop",
		BaseNoise: 75,
		Path: []route.Waypoint{
			{Point: geo.Point{Lon: 113.300, Lat: 23.120, Height: 80}, Time: 0},
			{Point: geo.Point{Lon: 113.301, Lat: 23.121, Height: 80}, Time: 30},
		},
	}

	coarse, err := HeatmapForRoute(context.Background(), r, 200)
	require.NoError(t, err)
	fine, err := HeatmapForRoute(context.Background(), r, 50)
	require.NoError(t, err)

	assert.Greater(t, len(fine.Points), len(coarse.Points))
}

func TestHeatmapRejectsBadGrid(t *testing.T) {
	r := route.Route{
		Name:      "short-hop",
		BaseNoise: 75,
		Path: []route.Waypoint{
			{Point: geo.Point{Lon: 113.300, Lat: 23.120, Height: 80}, Time: 0},
			{Point: geo.Point{Lon: 113.301, Lat: 23.121, Height: 80}, Time: 30},
		},
	}

	_, err := HeatmapForRoute(context.Background(), r, 0)
	assert.ErrorIs(t, err, ErrInvalidGridSize)
}

func TestHeatmapValidatesRoute(t *testing.T) {
	_, err := HeatmapForRoute(context.Background(), route.Route{Name: "stub"}, 50)
	assert.ErrorIs(t, err, route.ErrTooFewWaypoints)
}

func TestHeatmapHonorsCancellation(t *testing.T) {
	r := route.Route{
		Name:      "wide",
		BaseNoise: 85,
		Path: []route.Waypoint{
			{Point: geo.Point{Lon: 113.30, Lat: 23.10, Height: 100}, Time: 0},
			{Point: geo.Point{Lon: 113.35, Lat: 23.15, Height: 100}, Time: 600},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := HeatmapForRoute(ctx, r, 50)
	assert.ErrorIs(t, err, context.Canceled)
}
