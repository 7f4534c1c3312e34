package conflict

// ---------------------------------------------------------------------------
// Overall risk assessment
// ---------------------------------------------------------------------------

// RiskLevel is the categorical outcome of aggregating conflict counts and
// severities. It is a coarser, event-count-based indicator than NTSC and is
// reported alongside it, never merged with it.
type RiskLevel uint8

const (
	RiskSafe RiskLevel = iota
	RiskLow
	RiskMedium
	RiskHigh
	RiskUnacceptable
	riskLevelCount // must be last
)

var riskLevelNames = [riskLevelCount]string{
	RiskSafe:         "SAFE",
	RiskLow:          "LOW",
	RiskMedium:       "MEDIUM",
	RiskHigh:         "HIGH",
	RiskUnacceptable: "UNACCEPTABLE",
}

func (l RiskLevel) String() string {
	if l < riskLevelCount {
		return riskLevelNames[l]
	}
	return "unknown"
}

// MarshalJSON renders the level as its uppercase name.
func (l RiskLevel) MarshalJSON() ([]byte, error) {
	return []byte(`"` + l.String() + `"`), nil
}

// Assessment aggregates a conflict set into one score and level. The score
// weights critical conflicts 10x and high conflicts 5x on top of the raw
// count.
type Assessment struct {
	Level             RiskLevel `json:"level"`
	Score             int       `json:"score"`
	CriticalConflicts int       `json:"critical_conflicts"`
	HighConflicts     int       `json:"high_conflicts"`
}

// assessCounts folds severity counts into the score and level bands.
func assessCounts(total, critical, high int) Assessment {
	if total == 0 {
		return Assessment{Level: RiskSafe}
	}

	score := critical*10 + high*5 + total

	var level RiskLevel
	switch {
	case score > 50:
		level = RiskUnacceptable
	case score > 30:
		level = RiskHigh
	case score > 10:
		level = RiskMedium
	default:
		level = RiskLow
	}

	return Assessment{
		Level:             level,
		Score:             score,
		CriticalConflicts: critical,
		HighConflicts:     high,
	}
}

// AssessEvents aggregates detector events into an overall assessment.
func AssessEvents(events []Event) Assessment {
	critical, high := 0, 0
	for _, e := range events {
		switch e.Severity {
		case SeverityCritical:
			critical++
		case SeverityHigh:
			high++
		}
	}
	return assessCounts(len(events), critical, high)
}

// AssessPoints aggregates waypoint proximity conflicts into an overall
// assessment.
func AssessPoints(conflicts []PointConflict) Assessment {
	critical, high := 0, 0
	for _, c := range conflicts {
		switch c.Severity {
		case SeverityCritical:
			critical++
		case SeverityHigh:
			high++
		}
	}
	return assessCounts(len(conflicts), critical, high)
}
