// Package risk turns detected conflicts into aggregate safety indicators:
// the NTSC time-fraction metric, ground-impact risk models and per-segment
// collision risk.
package risk

import (
	"context"

	"github.com/ChrisYZZ/Cei-Noise/internal/conflict"
	"github.com/ChrisYZZ/Cei-Noise/internal/route"
)

// ---------------------------------------------------------------------------
// Safety levels
// ---------------------------------------------------------------------------

// SafetyLevel grades an airspace by its NTSC value. Lower NTSC is safer.
type SafetyLevel uint8

const (
	SafetyExcellent SafetyLevel = iota
	SafetyGood
	SafetyAcceptable
	SafetyWarning
	SafetyCritical
	safetyLevelCount // must be last
)

var safetyLevelNames = [safetyLevelCount]string{
	SafetyExcellent:  "EXCELLENT",
	SafetyGood:       "GOOD",
	SafetyAcceptable: "ACCEPTABLE",
	SafetyWarning:    "WARNING",
	SafetyCritical:   "CRITICAL",
}

func (l SafetyLevel) String() string {
	if l < safetyLevelCount {
		return safetyLevelNames[l]
	}
	return "unknown"
}

// MarshalJSON renders the level as its uppercase name.
func (l SafetyLevel) MarshalJSON() ([]byte, error) {
	return []byte(`"` + l.String() + `"`), nil
}

// SafetyLevelFor maps an NTSC value onto the fixed safety bands.
func SafetyLevelFor(ntsc float64) SafetyLevel {
	switch {
	case ntsc < 0.01:
		return SafetyExcellent
	case ntsc < 0.05:
		return SafetyGood
	case ntsc < 0.1:
		return SafetyAcceptable
	case ntsc < 0.2:
		return SafetyWarning
	default:
		return SafetyCritical
	}
}

// ---------------------------------------------------------------------------
// NTSC
// ---------------------------------------------------------------------------

// NTSCResult is the conflict-time fraction of an airspace: total time spent
// inside separation minima divided by total flight time.
type NTSCResult struct {
	Value             float64          `json:"ntsc_value"`
	ConflictPercent   float64          `json:"conflict_percentage"`
	TotalFlightTime   float64          `json:"total_flight_time"`
	TotalConflictTime float64          `json:"total_conflict_time"`
	Conflicts         []conflict.Event `json:"conflict_details"`
	SafetyLevel       SafetyLevel      `json:"safety_level"`
}

// Calculator computes NTSC over segment sets using a conflict detector. It is
// stateless and safe for concurrent use.
type Calculator struct {
	detector *conflict.Detector
}

// NewCalculator builds an NTSC calculator around the given detector.
func NewCalculator(d *conflict.Detector) *Calculator {
	return &Calculator{detector: d}
}

// ComputeNTSC sums conflict durations over all detected events against the
// total flight time of every segment, single-aircraft segments included.
// Zero total flight time yields an NTSC of zero, never NaN.
func (c *Calculator) ComputeNTSC(ctx context.Context, segs []route.Segment) (*NTSCResult, error) {
	events, err := c.detector.Detect(ctx, segs)
	if err != nil {
		return nil, err
	}

	var totalFlightTime float64
	for _, s := range segs {
		totalFlightTime += s.Duration()
	}

	var conflictTime float64
	for _, ev := range events {
		conflictTime += ev.Duration
	}

	ntsc := 0.0
	if totalFlightTime > 0 {
		ntsc = conflictTime / totalFlightTime
	}

	return &NTSCResult{
		Value:             ntsc,
		ConflictPercent:   ntsc * 100,
		TotalFlightTime:   totalFlightTime,
		TotalConflictTime: conflictTime,
		Conflicts:         events,
		SafetyLevel:       SafetyLevelFor(ntsc),
	}, nil
}

// ComputeNTSCForRoutes flattens the routes into segments and computes NTSC.
func (c *Calculator) ComputeNTSCForRoutes(ctx context.Context, routes []route.Route) (*NTSCResult, error) {
	if err := route.ValidateAll(routes); err != nil {
		return nil, err
	}
	return c.ComputeNTSC(ctx, route.SegmentsOf(routes))
}
