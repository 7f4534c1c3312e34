// Package optimizer plans grid-aligned drone routes and validates their
// safety: a Manhattan path over a fixed lon/lat grid, per-segment collision
// scoring against obstacles and an averaged ground-risk term.
package optimizer

import (
	"errors"
	"fmt"
	"math"

	"github.com/ChrisYZZ/Cei-Noise/internal/geo"
	"github.com/ChrisYZZ/Cei-Noise/internal/route"
)

// Planning defaults.
const (
	// DefaultGridSizeDeg is the grid spacing in degrees, about 200m.
	DefaultGridSizeDeg = 0.002

	// DefaultAltitudeM is the cruise altitude for planned routes.
	DefaultAltitudeM = 120.0

	// hopSeconds is the time allotted per grid hop.
	hopSeconds = 60.0

	// obstacleClearanceM is the clearance inside which an obstacle adds
	// segment risk.
	obstacleClearanceM = 50.0

	// segmentSafeThreshold splits safe from risky segments.
	segmentSafeThreshold = 0.3

	// routeSafeThreshold splits safe from unsafe routes on total risk.
	routeSafeThreshold = 0.5

	// metersPerDegree approximates one degree of latitude.
	metersPerDegree = 111000.0
)

// ErrInvalidGrid rejects non-positive grid spacing.
var ErrInvalidGrid = errors.New("grid size must be positive")

// Dense downtown box used as the high-density region for ground risk.
var downtown = struct{ minLon, maxLon, minLat, maxLat float64 }{
	minLon: 113.32, maxLon: 113.33,
	minLat: 23.11, maxLat: 23.14,
}

// ---------------------------------------------------------------------------
// Matrix route generation
// ---------------------------------------------------------------------------

// Params tunes route planning. The zero value is replaced by the defaults.
type Params struct {
	GridSizeDeg float64
	AltitudeM   float64
}

func (p Params) normalize() Params {
	if p.GridSizeDeg == 0 {
		p.GridSizeDeg = DefaultGridSizeDeg
	}
	if p.AltitudeM == 0 {
		p.AltitudeM = DefaultAltitudeM
	}
	return p
}

// MatrixRoute plans a Manhattan path from start to end on the planning grid:
// first a longitude sweep at the start latitude, then a latitude sweep. Each
// hop takes 60 seconds at the cruise altitude. Start and end carry lon/lat
// only; heights are ignored.
func MatrixRoute(name string, start, end geo.Point, params Params) (route.Route, error) {
	p := params.normalize()
	if p.GridSizeDeg <= 0 {
		return route.Route{}, fmt.Errorf("%w: got %v", ErrInvalidGrid, p.GridSizeDeg)
	}

	lonSteps := int(math.Abs(end.Lon-start.Lon)/p.GridSizeDeg) + 1
	latSteps := int(math.Abs(end.Lat-start.Lat)/p.GridSizeDeg) + 1

	lonSign := sign(end.Lon - start.Lon)
	latSign := sign(end.Lat - start.Lat)

	path := make([]route.Waypoint, 0, lonSteps+latSteps-1)
	elapsed := 0.0

	for i := 0; i < lonSteps; i++ {
		path = append(path, route.Waypoint{
			Point: geo.Point{
				Lon:    start.Lon + float64(i)*p.GridSizeDeg*lonSign,
				Lat:    start.Lat,
				Height: p.AltitudeM,
			},
			Time: elapsed,
		})
		elapsed += hopSeconds
	}

	lastLon := path[len(path)-1].Lon
	for j := 1; j < latSteps; j++ {
		path = append(path, route.Waypoint{
			Point: geo.Point{
				Lon:    lastLon,
				Lat:    start.Lat + float64(j)*p.GridSizeDeg*latSign,
				Height: p.AltitudeM,
			},
			Time: elapsed,
		})
		elapsed += hopSeconds
	}

	r := route.Route{Name: name, Path: path}
	if err := r.Validate(); err != nil {
		return route.Route{}, err
	}
	return r, nil
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

// ---------------------------------------------------------------------------
// Safety validation
// ---------------------------------------------------------------------------

// SafetyAssessment grades a planned route: averaged collision risk over its
// segments, averaged ground risk over its waypoints, and the indices of
// segments past the per-segment threshold.
type SafetyAssessment struct {
	CollisionRisk float64 `json:"collision_risk"`
	GroundRisk    float64 `json:"ground_risk"`
	TotalRisk     float64 `json:"total_risk"`
	SafeSegments  []int   `json:"safe_segments"`
	RiskSegments  []int   `json:"risk_segments"`
	IsSafe        bool    `json:"is_safe"`
}

// ValidateSafety scores the route against the obstacle set. Total risk
// weights collision 0.6 and ground 0.4; the route is safe below 0.5.
func ValidateSafety(r route.Route, obstacles []geo.Point) (*SafetyAssessment, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	sa := &SafetyAssessment{
		SafeSegments: make([]int, 0),
		RiskSegments: make([]int, 0),
	}

	segments := len(r.Path) - 1
	for i := 0; i < segments; i++ {
		risk := segmentRisk(r.Path[i].Point, r.Path[i+1].Point, obstacles)
		if risk < segmentSafeThreshold {
			sa.SafeSegments = append(sa.SafeSegments, i)
		} else {
			sa.RiskSegments = append(sa.RiskSegments, i)
		}
		sa.CollisionRisk += risk
	}
	sa.CollisionRisk /= float64(segments)

	sa.GroundRisk = groundRisk(r)
	sa.TotalRisk = sa.CollisionRisk*0.6 + sa.GroundRisk*0.4
	sa.IsSafe = sa.TotalRisk < routeSafeThreshold

	return sa, nil
}

// segmentRisk scores one segment: altitude base risk plus clearance penalties
// for nearby obstacles, capped at 1.
func segmentRisk(p1, p2 geo.Point, obstacles []geo.Point) float64 {
	risk := 0.0

	avgHeight := (p1.Height + p2.Height) / 2
	switch {
	case avgHeight < 50:
		risk += 0.2
	case avgHeight < 100:
		risk += 0.1
	}

	for _, ob := range obstacles {
		if d := endpointDistanceM(ob, p1, p2); d < obstacleClearanceM {
			risk += (obstacleClearanceM - d) / obstacleClearanceM * 0.5
		}
	}

	return math.Min(risk, 1.0)
}

// endpointDistanceM approximates the obstacle's distance to the segment as
// the smaller Manhattan degree distance to either endpoint, scaled to meters.
func endpointDistanceM(ob, p1, p2 geo.Point) float64 {
	d1 := math.Abs(ob.Lon-p1.Lon) + math.Abs(ob.Lat-p1.Lat)
	d2 := math.Abs(ob.Lon-p2.Lon) + math.Abs(ob.Lat-p2.Lat)
	return math.Min(d1, d2) * metersPerDegree
}

// groundRisk averages population density times height decay over the route's
// waypoints.
func groundRisk(r route.Route) float64 {
	total := 0.0
	for _, wp := range r.Path {
		density := 0.4
		if wp.Lon >= downtown.minLon && wp.Lon <= downtown.maxLon &&
			wp.Lat >= downtown.minLat && wp.Lat <= downtown.maxLat {
			density = 0.8
		}
		total += density * math.Exp(-wp.Height/100)
	}
	return total / float64(len(r.Path))
}
