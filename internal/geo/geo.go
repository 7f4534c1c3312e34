// Package geo provides the geodesic primitives shared by the conflict and
// risk engines: great-circle surface distance, slant 3D distance and
// coordinate validation for lon/lat/height positions.
package geo

import (
	"errors"
	"fmt"
	"math"
)

// EarthRadiusM is the mean earth radius in meters used by all great-circle math.
const EarthRadiusM = 6371000.0

// Validation errors returned by Point.Validate. NaN coordinates fail the same
// range checks as out-of-range values.
var (
	ErrInvalidLongitude = errors.New("longitude out of range [-180, 180]")
	ErrInvalidLatitude  = errors.New("latitude out of range [-90, 90]")
	ErrInvalidHeight    = errors.New("height must be non-negative")
)

// ---------------------------------------------------------------------------
// Point
// ---------------------------------------------------------------------------

// Point is a 3D position: longitude and latitude in degrees, height in meters
// above ground.
type Point struct {
	Lon    float64 `json:"longitude"`
	Lat    float64 `json:"latitude"`
	Height float64 `json:"height"`
}

// Validate checks coordinate ranges. It never clamps; out-of-range input is
// the caller's bug and is reported, not repaired.
func (p Point) Validate() error {
	if math.IsNaN(p.Lon) || p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("%w: got %v", ErrInvalidLongitude, p.Lon)
	}
	if math.IsNaN(p.Lat) || p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("%w: got %v", ErrInvalidLatitude, p.Lat)
	}
	if math.IsNaN(p.Height) || p.Height < 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidHeight, p.Height)
	}
	return nil
}

// Midpoint returns the component-wise average of two points.
func Midpoint(a, b Point) Point {
	return Point{
		Lon:    (a.Lon + b.Lon) / 2,
		Lat:    (a.Lat + b.Lat) / 2,
		Height: (a.Height + b.Height) / 2,
	}
}

// ---------------------------------------------------------------------------
// Distances
// ---------------------------------------------------------------------------

// HaversineM returns the great-circle distance in meters between two lat/lon
// points. It performs no validation; callers on hot paths are expected to
// have validated their inputs up front.
func HaversineM(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180.0
	dLon := (lon2 - lon1) * math.Pi / 180.0
	lat1r := lat1 * math.Pi / 180.0
	lat2r := lat2 * math.Pi / 180.0

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1r)*math.Cos(lat2r)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusM * c
}

// SurfaceDistance returns the great-circle distance in meters between two
// points. Both points are validated first; invalid input returns an error
// rather than a silently clamped result.
func SurfaceDistance(a, b Point) (float64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	if err := b.Validate(); err != nil {
		return 0, err
	}
	return HaversineM(a.Lat, a.Lon, b.Lat, b.Lon), nil
}

// SlantDistance returns the 3D separation in meters between two points:
// sqrt(surface² + Δheight²).
func SlantDistance(a, b Point) (float64, error) {
	surface, err := SurfaceDistance(a, b)
	if err != nil {
		return 0, err
	}
	dh := a.Height - b.Height
	return math.Sqrt(surface*surface + dh*dh), nil
}
