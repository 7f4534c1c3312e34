// Package airspace estimates low-altitude airspace capacity: volumetric
// VFR/IFR capacity with operational and flow derates, altitude-layer
// analysis, per-route corridor capacity and route-network conflict
// probability.
package airspace

import (
	"errors"
	"fmt"
)

// aircraftLengthM is the nominal drone length added to longitudinal
// separation when packing a corridor.
const aircraftLengthM = 10.0

// Parameter errors, rejected before any computation starts.
var (
	ErrInvalidDimensions = errors.New("airspace dimensions must be positive")
	ErrInvalidHeightBand = errors.New("height band ceiling must exceed floor")
)

// ---------------------------------------------------------------------------
// Flight rules and separation standards
// ---------------------------------------------------------------------------

// FlightRules selects a separation standard.
type FlightRules uint8

const (
	RulesVFR FlightRules = iota
	RulesIFR
	flightRulesCount // must be last
)

var flightRulesNames = [flightRulesCount]string{
	RulesVFR: "VFR",
	RulesIFR: "IFR",
}

func (r FlightRules) String() string {
	if r < flightRulesCount {
		return flightRulesNames[r]
	}
	return "unknown"
}

// MarshalJSON renders the rules as their uppercase name.
func (r FlightRules) MarshalJSON() ([]byte, error) {
	return []byte(`"` + r.String() + `"`), nil
}

// Separation is a three-axis separation minimum in meters.
type Separation struct {
	Longitudinal float64 `json:"longitudinal"`
	Lateral      float64 `json:"lateral"`
	Vertical     float64 `json:"vertical"`
}

var separationStandards = [flightRulesCount]Separation{
	RulesVFR: {Longitudinal: 100, Lateral: 50, Vertical: 30},
	RulesIFR: {Longitudinal: 200, Lateral: 100, Vertical: 50},
}

// StandardSeparation returns the separation minima for the given rules.
// Unknown rules fall back to VFR.
func StandardSeparation(r FlightRules) Separation {
	if r >= flightRulesCount {
		r = RulesVFR
	}
	return separationStandards[r]
}

// ---------------------------------------------------------------------------
// Parameters
// ---------------------------------------------------------------------------

// Params describes the airspace block and operating conditions under
// analysis. Zero values are replaced by the defaults from DefaultParams.
type Params struct {
	LengthM     float64     // corridor length in meters
	WidthM      float64     // corridor width in meters
	FloorM      float64     // band floor in meters
	CeilingM    float64     // band ceiling in meters
	Rules       FlightRules // separation standard
	AvgSpeedKmh float64     // average transit speed

	// Operational derate factors in (0, 1].
	ControllerFactor float64
	WeatherFactor    float64
	EquipmentFactor  float64

	// Utilization context.
	Hour        int     // local hour 0-23
	Weekday     int     // 0=Monday .. 6=Sunday
	Month       int     // 1-12
	DemandLevel float64 // fraction of capacity demanded
}

// DefaultParams returns the standard 10km x 2km VFR corridor in the
// 120-300m band at midday on a Thursday in June.
func DefaultParams() Params {
	return Params{
		LengthM:          10000,
		WidthM:           2000,
		FloorM:           120,
		CeilingM:         300,
		Rules:            RulesVFR,
		AvgSpeedKmh:      50,
		ControllerFactor: 0.7,
		WeatherFactor:    0.85,
		EquipmentFactor:  0.9,
		Hour:             12,
		Weekday:          3,
		Month:            6,
		DemandLevel:      0.6,
	}
}

// normalize fills zero fields from the defaults so callers can specify only
// what differs.
func (p Params) normalize() Params {
	def := DefaultParams()
	if p.LengthM == 0 {
		p.LengthM = def.LengthM
	}
	if p.WidthM == 0 {
		p.WidthM = def.WidthM
	}
	if p.FloorM == 0 && p.CeilingM == 0 {
		p.FloorM, p.CeilingM = def.FloorM, def.CeilingM
	}
	if p.AvgSpeedKmh == 0 {
		p.AvgSpeedKmh = def.AvgSpeedKmh
	}
	if p.ControllerFactor == 0 {
		p.ControllerFactor = def.ControllerFactor
	}
	if p.WeatherFactor == 0 {
		p.WeatherFactor = def.WeatherFactor
	}
	if p.EquipmentFactor == 0 {
		p.EquipmentFactor = def.EquipmentFactor
	}
	if p.DemandLevel == 0 {
		p.DemandLevel = def.DemandLevel
	}
	return p
}

func (p Params) validate() error {
	if p.LengthM <= 0 || p.WidthM <= 0 {
		return fmt.Errorf("%w: length %v, width %v", ErrInvalidDimensions, p.LengthM, p.WidthM)
	}
	if p.CeilingM <= p.FloorM {
		return fmt.Errorf("%w: floor %v, ceiling %v", ErrInvalidHeightBand, p.FloorM, p.CeilingM)
	}
	if p.AvgSpeedKmh <= 0 {
		return fmt.Errorf("%w: average speed %v", ErrInvalidDimensions, p.AvgSpeedKmh)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Capacity report
// ---------------------------------------------------------------------------

// PhysicalCapacity is the geometric packing limit of the block.
type PhysicalCapacity struct {
	Total        int `json:"total"`
	Longitudinal int `json:"longitudinal"`
	Lateral      int `json:"lateral"`
	Vertical     int `json:"vertical"`
}

// OperationalCapacity derates the physical limit for controller workload,
// weather and equipment availability.
type OperationalCapacity struct {
	Capacity         int     `json:"capacity"`
	ReductionRate    float64 `json:"reduction_rate"`
	ControllerFactor float64 `json:"controller_workload"`
	WeatherFactor    float64 `json:"weather"`
	EquipmentFactor  float64 `json:"equipment"`
}

// DynamicCapacity converts static capacity into sustainable flow rates.
type DynamicCapacity struct {
	HourlyFlow        int     `json:"hourly_flow"`
	QuarterFlow       int     `json:"quarter_flow"`
	AvgSeparationSecs float64 `json:"avg_separation_time"`
	FlightTimeMinutes float64 `json:"flight_time_minutes"`
}

// Utilization captures the demand-side context factors.
type Utilization struct {
	TimeOfDay   float64 `json:"time_of_day"`
	DayOfWeek   float64 `json:"day_of_week"`
	Season      float64 `json:"season"`
	DemandLevel float64 `json:"demand_level"`
}

// Report is the full capacity analysis of one airspace block.
type Report struct {
	Physical        PhysicalCapacity    `json:"physical_capacity"`
	Operational     OperationalCapacity `json:"operational_capacity"`
	Dynamic         DynamicCapacity     `json:"dynamic_capacity"`
	Utilization     Utilization         `json:"utilization_factors"`
	Recommendations []string            `json:"recommendations"`
}

// Capacity analyzes the block described by params: physical packing limit,
// operational derate, flow rates and utilization context.
func Capacity(params Params) (*Report, error) {
	p := params.normalize()
	if err := p.validate(); err != nil {
		return nil, err
	}

	sep := StandardSeparation(p.Rules)

	physical := PhysicalCapacity{
		Longitudinal: int(p.LengthM / (sep.Longitudinal + aircraftLengthM)),
		Lateral:      maxInt(1, int(p.WidthM/sep.Lateral)),
		Vertical:     maxInt(1, int((p.CeilingM-p.FloorM)/sep.Vertical)),
	}
	physical.Total = physical.Longitudinal * physical.Lateral * physical.Vertical

	opCap := int(float64(physical.Total) * p.ControllerFactor * p.WeatherFactor * p.EquipmentFactor)
	operational := OperationalCapacity{
		Capacity:         opCap,
		ControllerFactor: p.ControllerFactor,
		WeatherFactor:    p.WeatherFactor,
		EquipmentFactor:  p.EquipmentFactor,
	}
	if physical.Total > 0 {
		operational.ReductionRate = 1 - float64(opCap)/float64(physical.Total)
	}

	dynamic := dynamicFlow(opCap, p.LengthM, p.AvgSpeedKmh)

	return &Report{
		Physical:    physical,
		Operational: operational,
		Dynamic:     dynamic,
		Utilization: Utilization{
			TimeOfDay:   timeFactor(p.Hour),
			DayOfWeek:   dayFactor(p.Weekday),
			Season:      seasonFactor(p.Month),
			DemandLevel: p.DemandLevel,
		},
		Recommendations: capacityRecommendations(dynamic),
	}, nil
}

// dynamicFlow converts a static capacity into hourly and quarter-hour flow
// given the transit time through the block.
func dynamicFlow(capacity int, lengthM, speedKmh float64) DynamicCapacity {
	flightHours := (lengthM / 1000) / speedKmh

	var hourly int
	if flightHours > 0 {
		hourly = int(float64(capacity) / flightHours)
	}

	var avgSep float64
	if hourly > 0 {
		avgSep = 3600 / float64(hourly)
	}

	return DynamicCapacity{
		HourlyFlow:        hourly,
		QuarterFlow:       hourly / 4,
		AvgSeparationSecs: avgSep,
		FlightTimeMinutes: flightHours * 60,
	}
}

// timeFactor maps the local hour onto demand pressure: commute peaks, daytime
// plateau, quiet nights.
func timeFactor(hour int) float64 {
	switch {
	case (hour >= 7 && hour <= 9) || (hour >= 17 && hour <= 19):
		return 0.9
	case hour >= 9 && hour <= 17:
		return 0.7
	default:
		return 0.3
	}
}

func dayFactor(weekday int) float64 {
	if weekday < 5 {
		return 0.8
	}
	return 0.5
}

func seasonFactor(month int) float64 {
	switch month {
	case 3, 4, 5, 9, 10, 11:
		return 0.9
	case 6, 7, 8:
		return 0.8
	default:
		return 0.7
	}
}

func capacityRecommendations(d DynamicCapacity) []string {
	var recs []string
	if d.HourlyFlow < 20 {
		recs = append(recs, "hourly capacity is low: restructure the airspace or relax separation standards")
	}
	if d.AvgSeparationSecs < 60 {
		recs = append(recs, "average separation time is short: strengthen conflict monitoring")
	}
	if d.FlightTimeMinutes > 30 {
		recs = append(recs, "transit time is long: add intermediate monitoring checkpoints")
	}
	return recs
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
