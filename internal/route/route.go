// Package route defines flight routes, waypoints and the segments derived
// from them, including the linear trajectory interpolation the conflict
// detector samples.
package route

import (
	"errors"
	"fmt"

	"github.com/ChrisYZZ/Cei-Noise/internal/geo"
)

// Validation errors for routes and segments.
var (
	ErrTooFewWaypoints  = errors.New("route needs at least two waypoints")
	ErrTimeNotMonotonic = errors.New("waypoint times must be non-decreasing")
	ErrSegmentInverted  = errors.New("segment end time before start time")
)

// ---------------------------------------------------------------------------
// Waypoints and routes
// ---------------------------------------------------------------------------

// Waypoint is a position plus the time in seconds since route start at which
// the aircraft passes it.
type Waypoint struct {
	geo.Point
	Time float64 `json:"time"`
}

// Route is a named, ordered waypoint sequence. Routes are immutable once
// handed to an engine; analyses never modify them.
type Route struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	BaseNoise   float64    `json:"base_noise,omitempty"`
	Path        []Waypoint `json:"path"`
}

// Validate checks waypoint count, coordinate ranges and time ordering.
func (r Route) Validate() error {
	if len(r.Path) < 2 {
		return fmt.Errorf("route %q: %w", r.Name, ErrTooFewWaypoints)
	}
	for i, wp := range r.Path {
		if err := wp.Point.Validate(); err != nil {
			return fmt.Errorf("route %q waypoint %d: %w", r.Name, i, err)
		}
		if i > 0 && wp.Time < r.Path[i-1].Time {
			return fmt.Errorf("route %q waypoint %d: %w", r.Name, i, ErrTimeNotMonotonic)
		}
	}
	return nil
}

// Length returns the route's total surface length in meters, summed over
// consecutive waypoint pairs.
func (r Route) Length() float64 {
	total := 0.0
	for i := 0; i+1 < len(r.Path); i++ {
		a, b := r.Path[i].Point, r.Path[i+1].Point
		total += geo.HaversineM(a.Lat, a.Lon, b.Lat, b.Lon)
	}
	return total
}

// Segments derives one flight segment per consecutive waypoint pair, tagged
// with the route name as aircraft ID. Zero-duration pairs (hover entries)
// are dropped here rather than propagated as errors.
func (r Route) Segments() []Segment {
	segs := make([]Segment, 0, len(r.Path)-1)
	for i := 0; i+1 < len(r.Path); i++ {
		a, b := r.Path[i], r.Path[i+1]
		if b.Time == a.Time {
			continue
		}
		segs = append(segs, Segment{
			AircraftID: r.Name,
			StartTime:  a.Time,
			EndTime:    b.Time,
			Start:      a.Point,
			End:        b.Point,
		})
	}
	return segs
}

// ValidateAll validates every route in the set.
func ValidateAll(routes []Route) error {
	for _, r := range routes {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// SegmentsOf flattens the segments of every route in the set.
func SegmentsOf(routes []Route) []Segment {
	var segs []Segment
	for _, r := range routes {
		segs = append(segs, r.Segments()...)
	}
	return segs
}

// ---------------------------------------------------------------------------
// Segments
// ---------------------------------------------------------------------------

// Segment is the straight-line motion of one aircraft between two consecutive
// waypoints.
type Segment struct {
	AircraftID string
	StartTime  float64
	EndTime    float64
	Start      geo.Point
	End        geo.Point
}

// Duration returns the segment's duration in seconds.
func (s Segment) Duration() float64 {
	return s.EndTime - s.StartTime
}

// Validate checks endpoint coordinates and time ordering. A zero-duration
// segment is legal (treated as a stationary point); an inverted one is not.
func (s Segment) Validate() error {
	if err := s.Start.Validate(); err != nil {
		return fmt.Errorf("segment %s start: %w", s.AircraftID, err)
	}
	if err := s.End.Validate(); err != nil {
		return fmt.Errorf("segment %s end: %w", s.AircraftID, err)
	}
	if s.EndTime < s.StartTime {
		return fmt.Errorf("segment %s: %w", s.AircraftID, ErrSegmentInverted)
	}
	return nil
}

// ValidateSegments validates every segment in the set.
func ValidateSegments(segs []Segment) error {
	for i := range segs {
		if err := segs[i].Validate(); err != nil {
			return fmt.Errorf("segment %d: %w", i, err)
		}
	}
	return nil
}

// PositionAt returns the interpolated position at time t. The interpolation
// ratio is clamped to [0, 1], so times outside the segment window return the
// nearer endpoint instead of extrapolating. A zero-duration segment always
// returns its start position.
func (s Segment) PositionAt(t float64) geo.Point {
	ratio := 0.0
	if dur := s.EndTime - s.StartTime; dur > 0 {
		ratio = (t - s.StartTime) / dur
		if ratio < 0 {
			ratio = 0
		} else if ratio > 1 {
			ratio = 1
		}
	}
	return geo.Point{
		Lon:    s.Start.Lon + ratio*(s.End.Lon-s.Start.Lon),
		Lat:    s.Start.Lat + ratio*(s.End.Lat-s.Start.Lat),
		Height: s.Start.Height + ratio*(s.End.Height-s.Start.Height),
	}
}
