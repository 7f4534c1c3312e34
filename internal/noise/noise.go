// Package noise models drone noise propagation: geometric spreading plus
// atmospheric absorption, offset by low-altitude ground effect, and a ground
// heatmap sampled on a metric grid around a route.
package noise

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/ChrisYZZ/Cei-Noise/internal/geo"
	"github.com/ChrisYZZ/Cei-Noise/internal/route"
)

// Propagation constants.
const (
	// refDistanceM is the reference distance for geometric spreading.
	refDistanceM = 1.0

	// absorptionDBPerM is the atmospheric absorption rate.
	absorptionDBPerM = 0.005

	// groundEffectCeilingM is the height below which ground reflection adds
	// perceived noise at the receiver.
	groundEffectCeilingM = 100.0

	// DefaultGridSizeM is the heatmap grid spacing in meters.
	DefaultGridSizeM = 50.0

	// gridMarginDeg pads the route bounding box on every side.
	gridMarginDeg = 0.005

	// segmentSamples is how many interpolation points each waypoint pair
	// contributes when sweeping a grid cell.
	segmentSamples = 11

	// metersPerDegree approximates one degree of latitude.
	metersPerDegree = 111000.0
)

// ErrInvalidGridSize rejects non-positive heatmap grid spacing.
var ErrInvalidGridSize = errors.New("grid size must be positive")

// ---------------------------------------------------------------------------
// Propagation
// ---------------------------------------------------------------------------

// Attenuation returns the noise loss in dB over slant distance d from a
// source at the given height: 20·log10(d/1m) spreading plus linear absorption,
// minus ground effect. Never negative; zero at or inside the reference
// distance when ground effect dominates.
func Attenuation(d, sourceHeight float64) float64 {
	if d <= 0 {
		return 0
	}
	loss := 20*math.Log10(d/refDistanceM) + absorptionDBPerM*d - groundEffect(sourceHeight)
	return math.Max(loss, 0)
}

// groundEffect returns the dB boost from ground reflection at low altitude.
func groundEffect(height float64) float64 {
	if height >= groundEffectCeilingM {
		return 0
	}
	return 3 * (1 - height/groundEffectCeilingM)
}

// ReceivedNoise returns the level in dB heard at a ground position from a
// source emitting base dB. The result is floored at zero.
func ReceivedNoise(base float64, source, ground geo.Point) float64 {
	horizontal := geo.HaversineM(source.Lat, source.Lon, ground.Lat, ground.Lon)
	slant := math.Sqrt(horizontal*horizontal + source.Height*source.Height)
	return math.Max(base-Attenuation(slant, source.Height), 0)
}

// ---------------------------------------------------------------------------
// Heatmap
// ---------------------------------------------------------------------------

// HeatmapPoint is one grid cell's peak noise exposure.
type HeatmapPoint struct {
	Lon   float64 `json:"longitude"`
	Lat   float64 `json:"latitude"`
	Noise float64 `json:"noise"`
	Value float64 `json:"value"`
}

// Heatmap is a route's ground noise footprint on a regular grid. Value is the
// display weight (noise x 10); Min/MaxNoise summarize the whole grid.
type Heatmap struct {
	RouteName string         `json:"route_name"`
	GridSizeM float64        `json:"grid_size_m"`
	Points    []HeatmapPoint `json:"points"`
	MinNoise  float64        `json:"min_noise"`
	MaxNoise  float64        `json:"max_noise"`
}

// HeatmapForRoute sweeps a gridSize-spaced grid over the route's bounding box
// plus margin and records each cell's worst-case exposure: every consecutive
// waypoint pair is interpolated at 11 points and the loudest sample wins.
// The route's BaseNoise is the source level.
func HeatmapForRoute(ctx context.Context, r route.Route, gridSize float64) (*Heatmap, error) {
	if gridSize <= 0 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidGridSize, gridSize)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}

	minLon, maxLon := r.Path[0].Lon, r.Path[0].Lon
	minLat, maxLat := r.Path[0].Lat, r.Path[0].Lat
	for _, wp := range r.Path[1:] {
		minLon = math.Min(minLon, wp.Lon)
		maxLon = math.Max(maxLon, wp.Lon)
		minLat = math.Min(minLat, wp.Lat)
		maxLat = math.Max(maxLat, wp.Lat)
	}
	minLon -= gridMarginDeg
	maxLon += gridMarginDeg
	minLat -= gridMarginDeg
	maxLat += gridMarginDeg

	step := gridSize / metersPerDegree

	hm := &Heatmap{
		RouteName: r.Name,
		GridSizeM: gridSize,
		Points:    make([]HeatmapPoint, 0),
		MinNoise:  math.Inf(1),
		MaxNoise:  math.Inf(-1),
	}

	for lat := minLat; lat <= maxLat; lat += step {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		for lon := minLon; lon <= maxLon; lon += step {
			ground := geo.Point{Lon: lon, Lat: lat}
			peak := peakExposure(r, ground)

			hm.Points = append(hm.Points, HeatmapPoint{
				Lon:   lon,
				Lat:   lat,
				Noise: peak,
				Value: peak * 10,
			})
			hm.MinNoise = math.Min(hm.MinNoise, peak)
			hm.MaxNoise = math.Max(hm.MaxNoise, peak)
		}
	}

	if len(hm.Points) == 0 {
		hm.MinNoise, hm.MaxNoise = 0, 0
	}
	return hm, nil
}

// peakExposure returns the loudest level the ground point hears across the
// whole flight path.
func peakExposure(r route.Route, ground geo.Point) float64 {
	peak := 0.0
	for i := 0; i+1 < len(r.Path); i++ {
		a, b := r.Path[i].Point, r.Path[i+1].Point
		for k := 0; k < segmentSamples; k++ {
			ratio := float64(k) / float64(segmentSamples-1)
			src := geo.Point{
				Lon:    a.Lon + ratio*(b.Lon-a.Lon),
				Lat:    a.Lat + ratio*(b.Lat-a.Lat),
				Height: a.Height + ratio*(b.Height-a.Height),
			}
			if n := ReceivedNoise(r.BaseNoise, src, ground); n > peak {
				peak = n
			}
		}
	}
	return peak
}
