package risk

import (
	"math"

	"github.com/ChrisYZZ/Cei-Noise/internal/geo"
)

// Exposure-model parameters: an uncontrolled descent threatens a disc of
// people around the impact point, sized by the airframe and a standing
// person.
const (
	personRadiusM = 0.5
	personHeightM = 1.7
	uavRadiusM    = 2.0

	// groundEffectCeiling is the height below which ground effect amplifies
	// impact risk.
	groundEffectCeiling = 100.0
)

// Level grades a single risk figure. Collision risk tops out at HIGH; the
// ground evaluator adds CRITICAL.
type Level uint8

const (
	LevelLow Level = iota
	LevelMedium
	LevelHigh
	LevelCritical
	levelCount // must be last
)

var levelNames = [levelCount]string{
	LevelLow:      "LOW",
	LevelMedium:   "MEDIUM",
	LevelHigh:     "HIGH",
	LevelCritical: "CRITICAL",
}

func (l Level) String() string {
	if l < levelCount {
		return levelNames[l]
	}
	return "unknown"
}

// MarshalJSON renders the level as its uppercase name.
func (l Level) MarshalJSON() ([]byte, error) {
	return []byte(`"` + l.String() + `"`), nil
}

// ---------------------------------------------------------------------------
// Exposure-model ground risk
// ---------------------------------------------------------------------------

// GroundRisk quantifies the threat a drone position poses to people below,
// via the exposed-area model: A_exp = 2(r_p+r_uav)h_p/tanθ + π(r_p+r_uav)².
type GroundRisk struct {
	ImpactProbability float64 `json:"impact_probability"`
	ExposureArea      float64 `json:"exposure_area"`
	HeightFactor      float64 `json:"height_factor"`
	GroundEffect      float64 `json:"ground_effect"`
	TotalRisk         float64 `json:"total_ground_risk"`
}

// GroundImpactRisk evaluates the exposure model at a position with the given
// population density (people per square meter). The result is capped at 1.
func GroundImpactRisk(pos geo.Point, populationDensity float64) (GroundRisk, error) {
	if err := pos.Validate(); err != nil {
		return GroundRisk{}, err
	}

	// Impact angle approximated from height over a nominal 100m run.
	theta := math.Atan2(pos.Height, 100)

	combined := personRadiusM + uavRadiusM
	exposure := math.Pi * combined * combined
	if theta > 0 {
		exposure += 2 * combined * personHeightM / math.Tan(theta)
	}

	impactProb := populationDensity * exposure / 1000
	heightFactor := math.Exp(-pos.Height / 100)
	groundEffect := groundEffectAt(pos.Height)

	total := impactProb * heightFactor * (1 + groundEffect/10)

	return GroundRisk{
		ImpactProbability: impactProb,
		ExposureArea:      exposure,
		HeightFactor:      heightFactor,
		GroundEffect:      groundEffect,
		TotalRisk:         math.Min(total, 1.0),
	}, nil
}

// groundEffectAt returns the ground-effect amplification at the given height:
// 3(1 − h/100) below the ceiling, zero above it.
func groundEffectAt(height float64) float64 {
	if height >= groundEffectCeiling {
		return 0
	}
	return 3 * (1 - height/groundEffectCeiling)
}

// ---------------------------------------------------------------------------
// UAV-class ground evaluator
// ---------------------------------------------------------------------------

// UAVClass selects an airframe size for the ground evaluator.
type UAVClass uint8

const (
	UAVSmall UAVClass = iota
	UAVMedium
	UAVLarge
	uavClassCount // must be last
)

var uavClassNames = [uavClassCount]string{
	UAVSmall:  "small",
	UAVMedium: "medium",
	UAVLarge:  "large",
}

func (c UAVClass) String() string {
	if c < uavClassCount {
		return uavClassNames[c]
	}
	return "unknown"
}

// uavParams holds per-class airframe figures.
type uavParams struct {
	radiusM  float64
	weightKg float64
}

var uavClassParams = [uavClassCount]uavParams{
	UAVSmall:  {radiusM: 1, weightKg: 5},
	UAVMedium: {radiusM: 2, weightKg: 25},
	UAVLarge:  {radiusM: 3, weightKg: 50},
}

// Guangzhou city-center box used as the high-density region when no GIS data
// is supplied.
var cityCenter = struct{ minLon, maxLon, minLat, maxLat float64 }{
	minLon: 113.25, maxLon: 113.35,
	minLat: 23.10, maxLat: 23.15,
}

// GroundAssessment is the full output of the UAV-class evaluator, including
// mitigation effects and operator recommendations.
type GroundAssessment struct {
	ImpactProbability float64  `json:"impact_probability"`
	ImpactAreaM2      float64  `json:"impact_area_m2"`
	SeverityScore     float64  `json:"severity_score"`
	TotalRisk         float64  `json:"total_risk"`
	RiskLevel         Level    `json:"risk_level"`
	PopulationDensity float64  `json:"population_density"`
	MitigationFactor  float64  `json:"mitigation_factor"`
	MitigatedRisk     float64  `json:"mitigated_risk"`
	Recommendations   []string `json:"recommendations"`
}

// EvaluateGroundRisk runs the class-based ground model: impact footprint from
// a 45° uncontrolled descent plus wind drift, kinetic-energy severity, and
// standard mitigation credits (parachute, geofence, monitoring).
func EvaluateGroundRisk(pos geo.Point, class UAVClass) (GroundAssessment, error) {
	if err := pos.Validate(); err != nil {
		return GroundAssessment{}, err
	}
	if class >= uavClassCount {
		class = UAVMedium
	}
	uav := uavClassParams[class]

	// Impact footprint: 45° descent run plus 10% of height as wind drift.
	impactRadius := pos.Height/math.Tan(math.Pi/4) + pos.Height*0.1 + uav.radiusM
	impactArea := math.Pi * impactRadius * impactRadius

	density := populationDensityAt(pos.Lon, pos.Lat)
	impactProb := math.Min(impactArea*density*0.1, 1.0)

	// Severity from free-fall kinetic energy, normalized against 10 kJ.
	velocity := math.Sqrt(2 * 9.8 * pos.Height)
	kinetic := 0.5 * uav.weightKg * velocity * velocity
	severity := math.Min(kinetic/10000, 1.0)

	total := impactProb * severity

	mitigation := 0.2 + 0.1 // geofence + monitoring, always credited
	if pos.Height > 50 {
		mitigation += 0.3 // parachute effective above 50m
	}
	mitigation = math.Min(mitigation, 0.8)

	return GroundAssessment{
		ImpactProbability: impactProb,
		ImpactAreaM2:      impactArea,
		SeverityScore:     severity,
		TotalRisk:         total,
		RiskLevel:         groundRiskLevel(total),
		PopulationDensity: density,
		MitigationFactor:  mitigation,
		MitigatedRisk:     total * (1 - mitigation),
		Recommendations:   groundRecommendations(total, pos.Height),
	}, nil
}

// populationDensityAt returns people per square meter: dense inside the city
// center box, sparse outside.
func populationDensityAt(lon, lat float64) float64 {
	if lon >= cityCenter.minLon && lon <= cityCenter.maxLon &&
		lat >= cityCenter.minLat && lat <= cityCenter.maxLat {
		return 0.01
	}
	return 0.001
}

func groundRiskLevel(score float64) Level {
	switch {
	case score < 0.1:
		return LevelLow
	case score < 0.3:
		return LevelMedium
	case score < 0.6:
		return LevelHigh
	default:
		return LevelCritical
	}
}

func groundRecommendations(score, height float64) []string {
	var recs []string
	if score > 0.3 {
		recs = append(recs, "increase flight altitude to reduce ground risk")
	}
	if height < 100 {
		recs = append(recs, "fit a parachute recovery system as a contingency")
	}
	if score > 0.5 {
		recs = append(recs, "avoid overflying densely populated areas")
		recs = append(recs, "equip real-time monitoring and emergency intervention")
	}
	return recs
}

// ---------------------------------------------------------------------------
// Segment collision risk
// ---------------------------------------------------------------------------

// CollisionRisk breaks a segment's collision exposure into height, length and
// obstacle components.
type CollisionRisk struct {
	TotalRisk    float64 `json:"total_risk"`
	HeightRisk   float64 `json:"height_risk"`
	LengthRisk   float64 `json:"length_risk"`
	ObstacleRisk float64 `json:"obstacle_risk"`
	RiskLevel    Level   `json:"risk_level"`
}

// SegmentCollisionRisk scores the straight segment p1→p2 against the supplied
// obstacle points (may be empty). Obstacle distance is the nearer of the two
// endpoint distances; obstacles beyond 50m contribute nothing.
func SegmentCollisionRisk(p1, p2 geo.Point, obstacles []geo.Point) (CollisionRisk, error) {
	if err := p1.Validate(); err != nil {
		return CollisionRisk{}, err
	}
	if err := p2.Validate(); err != nil {
		return CollisionRisk{}, err
	}

	avgHeight := (p1.Height + p2.Height) / 2
	var heightRisk float64
	switch {
	case avgHeight < 50:
		heightRisk = 0.3
	case avgHeight < 100:
		heightRisk = 0.2
	case avgHeight < 150:
		heightRisk = 0.1
	default:
		heightRisk = 0.05
	}

	length := geo.HaversineM(p1.Lat, p1.Lon, p2.Lat, p2.Lon)
	lengthRisk := math.Min(length/5000, 0.3)

	var obstacleRisk float64
	for _, ob := range obstacles {
		d := math.Min(
			geo.HaversineM(ob.Lat, ob.Lon, p1.Lat, p1.Lon),
			geo.HaversineM(ob.Lat, ob.Lon, p2.Lat, p2.Lon),
		)
		if d < 50 {
			obstacleRisk += (1 - d/50) * 0.2
		}
	}

	total := heightRisk*0.4 + lengthRisk*0.3 + obstacleRisk*0.3

	var level Level
	switch {
	case total > 0.7:
		level = LevelHigh
	case total > 0.4:
		level = LevelMedium
	default:
		level = LevelLow
	}

	return CollisionRisk{
		TotalRisk:    math.Min(total, 1.0),
		HeightRisk:   heightRisk,
		LengthRisk:   lengthRisk,
		ObstacleRisk: math.Min(obstacleRisk, 1.0),
		RiskLevel:    level,
	}, nil
}
