package airspace

import (
	"math"

	"github.com/ChrisYZZ/Cei-Noise/internal/geo"
	"github.com/ChrisYZZ/Cei-Noise/internal/route"
)

// Corridor assumptions for single-route capacity.
const (
	corridorSeparationM = 50.0  // longitudinal separation inside a corridor
	corridorWidthM      = 100.0 // nominal corridor width
	corridorSpeedKmh    = 50.0  // nominal transit speed
	corridorMaxDensity  = 10.0  // aircraft per square kilometer
	corridorSafety      = 0.8   // fixed safety derate
)

// intersectionRadiusM is the horizontal distance inside which two routes'
// waypoints count as a crossing.
const intersectionRadiusM = 100.0

// ---------------------------------------------------------------------------
// Single-route corridor capacity
// ---------------------------------------------------------------------------

// RouteReport is the capacity of one route treated as a 100m wide corridor.
type RouteReport struct {
	RouteName        string  `json:"route_name"`
	LengthM          float64 `json:"route_length_m"`
	MaxAircraft      int     `json:"max_aircraft"`
	HourlyThroughput int     `json:"hourly_throughput"`
	DensityLimit     int     `json:"density_limit"`
	SafetyFactor     float64 `json:"safety_factor"`
}

// RouteCapacity packs the route's corridor at the standard separation and
// derives its sustainable hourly throughput. Routes are validated first.
func RouteCapacity(r route.Route) (*RouteReport, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	length := r.Length()
	maxAircraft := int(length / (corridorSeparationM + aircraftLengthM))

	// Throughput is a whole aircraft count per hour, truncated like the
	// dynamic flow numbers in Capacity.
	lengthKm := length / 1000
	var throughput int
	if travelHours := lengthKm / corridorSpeedKmh; travelHours > 0 {
		throughput = int(float64(maxAircraft) / travelHours)
	}

	return &RouteReport{
		RouteName:        r.Name,
		LengthM:          length,
		MaxAircraft:      maxAircraft,
		HourlyThroughput: throughput,
		DensityLimit:     int(corridorMaxDensity * lengthKm * (corridorWidthM / 1000)),
		SafetyFactor:     corridorSafety,
	}, nil
}

// ---------------------------------------------------------------------------
// Route-network conflict probability
// ---------------------------------------------------------------------------

// Intersection is one near-crossing between two routes.
type Intersection struct {
	RouteA   string    `json:"route_a"`
	RouteB   string    `json:"route_b"`
	Location geo.Point `json:"location"`
}

// ConflictEstimate is the crossing-count conflict probability of a route
// network at a given traffic density.
type ConflictEstimate struct {
	Probability   float64        `json:"conflict_probability"`
	Intersections []Intersection `json:"intersections"`
}

// ConflictProbability counts cross-route waypoint pairs within 100m
// horizontally and scales by traffic density (aircraft per square kilometer,
// saturating at 10). The estimate is capped at 1.
func ConflictProbability(routes []route.Route, density float64) (*ConflictEstimate, error) {
	if err := route.ValidateAll(routes); err != nil {
		return nil, err
	}

	intersections := make([]Intersection, 0)
	for i := 0; i < len(routes); i++ {
		for j := i + 1; j < len(routes); j++ {
			for _, p1 := range routes[i].Path {
				for _, p2 := range routes[j].Path {
					d := geo.HaversineM(p1.Lat, p1.Lon, p2.Lat, p2.Lon)
					if d >= intersectionRadiusM {
						continue
					}
					intersections = append(intersections, Intersection{
						RouteA:   routes[i].Name,
						RouteB:   routes[j].Name,
						Location: geo.Midpoint(p1.Point, p2.Point),
					})
				}
			}
		}
	}

	densityFactor := math.Min(density/corridorMaxDensity, 1.0)
	probability := math.Min(0.01*float64(len(intersections))*densityFactor, 1.0)

	return &ConflictEstimate{
		Probability:   probability,
		Intersections: intersections,
	}, nil
}
