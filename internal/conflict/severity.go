package conflict

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Severity tiers
// ---------------------------------------------------------------------------

// Severity is the ordered danger tier of a single conflict. Higher values are
// more dangerous.
type Severity uint8

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
	severityCount // must be last
)

var severityNames = [severityCount]string{
	SeverityLow:      "LOW",
	SeverityMedium:   "MEDIUM",
	SeverityHigh:     "HIGH",
	SeverityCritical: "CRITICAL",
}

func (s Severity) String() string {
	if s < severityCount {
		return severityNames[s]
	}
	return "unknown"
}

// ParseSeverity converts a string like "CRITICAL" to its Severity constant.
func ParseSeverity(str string) (Severity, bool) {
	for i, name := range severityNames {
		if name == str {
			return Severity(i), true
		}
	}
	return 0, false
}

// MarshalJSON renders the severity as its uppercase name.
func (s Severity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON parses an uppercase severity name.
func (s *Severity) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("severity: invalid JSON value %s", data)
	}
	parsed, ok := ParseSeverity(string(data[1 : len(data)-1]))
	if !ok {
		return fmt.Errorf("severity: unknown tier %s", data)
	}
	*s = parsed
	return nil
}

// ---------------------------------------------------------------------------
// Band classifier
// ---------------------------------------------------------------------------

// ErrInvalidBands reports a band table that cannot classify monotonically.
var ErrInvalidBands = errors.New("severity bands must shrink in distance and time as severity rises")

// SeverityBand maps a (distance, time) region to a tier: a conflict falls in
// the band when its distance AND time proximity are both strictly below the
// band's bounds. Bands are checked most-severe first.
type SeverityBand struct {
	MaxDistance float64 // meters, strict upper bound
	MaxTime     float64 // seconds, strict upper bound
	Level       Severity
}

// DefaultSeverityBands returns the standard band table: inside 20 m and 10 s
// is CRITICAL, inside 30 m and 30 s HIGH, inside 40 m and 45 s MEDIUM,
// anything else LOW.
func DefaultSeverityBands() []SeverityBand {
	return []SeverityBand{
		{MaxDistance: 20, MaxTime: 10, Level: SeverityCritical},
		{MaxDistance: 30, MaxTime: 30, Level: SeverityHigh},
		{MaxDistance: 40, MaxTime: 45, Level: SeverityMedium},
	}
}

// validateBands checks that bounds are positive and grow while severity
// falls, which guarantees classification is monotonic: shrinking distance or
// time never lowers the tier.
func validateBands(bands []SeverityBand) error {
	for i, b := range bands {
		if b.MaxDistance <= 0 || b.MaxTime <= 0 {
			return fmt.Errorf("%w: band %d has non-positive bounds", ErrInvalidBands, i)
		}
		if i > 0 {
			prev := bands[i-1]
			if b.MaxDistance < prev.MaxDistance || b.MaxTime < prev.MaxTime || b.Level >= prev.Level {
				return fmt.Errorf("%w: band %d", ErrInvalidBands, i)
			}
		}
	}
	return nil
}

// classify maps a conflict's minimum distance and time proximity to a tier.
func classify(bands []SeverityBand, distance, timeProximity float64) Severity {
	for _, b := range bands {
		if distance < b.MaxDistance && timeProximity < b.MaxTime {
			return b.Level
		}
	}
	return SeverityLow
}
