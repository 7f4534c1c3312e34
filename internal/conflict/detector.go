// Package conflict implements the pairwise conflict detector: sampled
// trajectory separation checks between flight segments, waypoint proximity
// scans between whole routes, severity classification and overall risk
// assessment.
package conflict

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/ChrisYZZ/Cei-Noise/internal/geo"
	"github.com/ChrisYZZ/Cei-Noise/internal/route"
)

// Default detection parameters.
const (
	// DefaultHorizontalSep is the horizontal separation minimum in meters.
	DefaultHorizontalSep = 50.0

	// DefaultVerticalSep is the vertical separation minimum in meters.
	DefaultVerticalSep = 30.0

	// DefaultSampleStep is the trajectory sampling step in seconds.
	DefaultSampleStep = 1.0

	// DefaultProximityRadius is the 3D radius in meters inside which two
	// waypoints count as a proximity conflict.
	DefaultProximityRadius = 50.0

	// DefaultTimeWindow is the window in seconds inside which two waypoint
	// passage times count as simultaneous.
	DefaultTimeWindow = 60.0

	// DefaultMaxPairs bounds how many overlapping segment pairs one call may
	// examine before failing fast.
	DefaultMaxPairs = 250_000

	// DefaultMaxSamples bounds the total interpolation samples one call may
	// take before failing fast.
	DefaultMaxSamples = 25_000_000
)

// Parameter errors, rejected before any computation starts.
var (
	ErrNonPositiveStep       = errors.New("sample step must be positive")
	ErrNonPositiveSeparation = errors.New("separation minima must be positive")
	ErrBudgetExceeded        = errors.New("pair/sample budget exceeded")
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config holds the detector's tunable parameters. All thresholds are explicit
// configuration, not package state, so tests can vary them per instance.
type Config struct {
	HorizontalSep   float64
	VerticalSep     float64
	SampleStep      float64
	ProximityRadius float64
	TimeWindow      float64
	Bands           []SeverityBand

	// Workers > 1 parallelizes the segment pair loop. Output is identical to
	// the sequential order.
	Workers int

	// Budget guard against pathological inputs; zero disables the check.
	MaxPairs   int
	MaxSamples int64
}

// DefaultConfig returns the standard detection parameters.
func DefaultConfig() Config {
	return Config{
		HorizontalSep:   DefaultHorizontalSep,
		VerticalSep:     DefaultVerticalSep,
		SampleStep:      DefaultSampleStep,
		ProximityRadius: DefaultProximityRadius,
		TimeWindow:      DefaultTimeWindow,
		Bands:           DefaultSeverityBands(),
		Workers:         1,
		MaxPairs:        DefaultMaxPairs,
		MaxSamples:      DefaultMaxSamples,
	}
}

// Validate rejects non-positive steps, separations and windows.
func (c Config) Validate() error {
	if c.SampleStep <= 0 || math.IsNaN(c.SampleStep) {
		return fmt.Errorf("%w: got %v", ErrNonPositiveStep, c.SampleStep)
	}
	if c.HorizontalSep <= 0 || c.VerticalSep <= 0 {
		return fmt.Errorf("%w: horizontal %v, vertical %v", ErrNonPositiveSeparation, c.HorizontalSep, c.VerticalSep)
	}
	if c.ProximityRadius <= 0 {
		return fmt.Errorf("%w: proximity radius %v", ErrNonPositiveSeparation, c.ProximityRadius)
	}
	if c.TimeWindow <= 0 {
		return fmt.Errorf("%w: time window %v", ErrNonPositiveStep, c.TimeWindow)
	}
	return validateBands(c.Bands)
}

// Option adjusts detector configuration.
type Option func(*Config)

// WithHorizontalSeparation sets the horizontal separation minimum in meters.
func WithHorizontalSeparation(m float64) Option {
	return func(c *Config) { c.HorizontalSep = m }
}

// WithVerticalSeparation sets the vertical separation minimum in meters.
func WithVerticalSeparation(m float64) Option {
	return func(c *Config) { c.VerticalSep = m }
}

// WithSampleStep sets the sampling step in seconds.
func WithSampleStep(s float64) Option {
	return func(c *Config) { c.SampleStep = s }
}

// WithProximityRadius sets the waypoint scan's 3D radius in meters.
func WithProximityRadius(m float64) Option {
	return func(c *Config) { c.ProximityRadius = m }
}

// WithTimeWindow sets the waypoint scan's time window in seconds.
func WithTimeWindow(s float64) Option {
	return func(c *Config) { c.TimeWindow = s }
}

// WithSeverityBands replaces the severity band table.
func WithSeverityBands(bands []SeverityBand) Option {
	return func(c *Config) { c.Bands = bands }
}

// WithWorkers sets how many goroutines scan segment pairs.
func WithWorkers(n int) Option {
	return func(c *Config) { c.Workers = n }
}

// WithBudget sets the pair and sample budget. Zero disables either limit.
func WithBudget(maxPairs int, maxSamples int64) Option {
	return func(c *Config) {
		c.MaxPairs = maxPairs
		c.MaxSamples = maxSamples
	}
}

// ---------------------------------------------------------------------------
// Results
// ---------------------------------------------------------------------------

// Event is one detected separation violation between two aircraft during
// their segment time overlap.
type Event struct {
	AircraftA   string    `json:"aircraft_a"`
	AircraftB   string    `json:"aircraft_b"`
	Start       float64   `json:"start_time"`
	End         float64   `json:"end_time"`
	Duration    float64   `json:"duration"`
	MinDistance float64   `json:"min_distance"`
	Severity    Severity  `json:"severity"`
	Midpoint    geo.Point `json:"midpoint"`
}

// PointConflict is one waypoint proximity hit between two routes, in the wire
// shape the serving layer exposes.
type PointConflict struct {
	Route1      string    `json:"route1"`
	Route2      string    `json:"route2"`
	Point1Index int       `json:"point1_index"`
	Point2Index int       `json:"point2_index"`
	Time        float64   `json:"time"`
	Distance    float64   `json:"distance"`
	Location    geo.Point `json:"location"`
	Severity    Severity  `json:"severity"`
}

// Report aggregates a waypoint proximity scan over a route set.
type Report struct {
	TotalConflicts int             `json:"total_conflicts"`
	Conflicts      []PointConflict `json:"conflicts"`
	RiskAssessment Assessment      `json:"risk_assessment"`
}

// ---------------------------------------------------------------------------
// Detector
// ---------------------------------------------------------------------------

// Detector runs conflict detection with a fixed configuration. It holds no
// per-call state and is safe for concurrent use.
type Detector struct {
	cfg Config
}

// New builds a detector, applying options over DefaultConfig. Invalid
// parameters are rejected here, before any detection runs.
func New(opts ...Option) (*Detector, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Detector{cfg: cfg}, nil
}

// Config returns a copy of the detector's configuration.
func (d *Detector) Config() Config {
	return d.cfg
}

// pairJob is one overlapping segment pair scheduled for sampling.
type pairJob struct {
	i, j       int
	start, end float64
}

var pairJobPool = sync.Pool{
	New: func() any {
		return make([]pairJob, 0, 64)
	},
}

// Detect samples every overlapping pair of distinct-aircraft segments and
// returns the separation violations found, sorted by overlap start then
// aircraft pair. An empty segment set yields an empty, non-error result.
func (d *Detector) Detect(ctx context.Context, segs []route.Segment) ([]Event, error) {
	if err := route.ValidateSegments(segs); err != nil {
		return nil, err
	}

	jobs := pairJobPool.Get().([]pairJob)[:0]
	defer func() { pairJobPool.Put(jobs[:0]) }()

	// Budget pre-pass: count pairs and estimate samples before interpolating
	// anything, so pathological inputs fail fast instead of running unbounded.
	var totalSamples int64
	for i := 0; i < len(segs); i++ {
		for j := i + 1; j < len(segs); j++ {
			if segs[i].AircraftID == segs[j].AircraftID {
				continue
			}
			start := math.Max(segs[i].StartTime, segs[j].StartTime)
			end := math.Min(segs[i].EndTime, segs[j].EndTime)
			if start >= end {
				continue
			}
			jobs = append(jobs, pairJob{i: i, j: j, start: start, end: end})
			totalSamples += int64((end-start)/d.cfg.SampleStep) + 1
		}
	}
	if d.cfg.MaxPairs > 0 && len(jobs) > d.cfg.MaxPairs {
		return nil, fmt.Errorf("%w: %d overlapping pairs (max %d)", ErrBudgetExceeded, len(jobs), d.cfg.MaxPairs)
	}
	if d.cfg.MaxSamples > 0 && totalSamples > d.cfg.MaxSamples {
		return nil, fmt.Errorf("%w: %d samples (max %d)", ErrBudgetExceeded, totalSamples, d.cfg.MaxSamples)
	}

	var (
		events []Event
		err    error
	)
	if d.cfg.Workers > 1 && len(jobs) > 1 {
		events, err = d.scanPairsParallel(ctx, segs, jobs)
	} else {
		events, err = d.scanPairs(ctx, segs, jobs)
	}
	if err != nil {
		return nil, err
	}

	sortEvents(events)
	return events, nil
}

// scanPairs samples jobs sequentially, checking for cancellation between
// pairs.
func (d *Detector) scanPairs(ctx context.Context, segs []route.Segment, jobs []pairJob) ([]Event, error) {
	events := make([]Event, 0)
	for _, job := range jobs {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if ev, ok := d.samplePair(segs[job.i], segs[job.j], job.start, job.end); ok {
			events = append(events, ev)
		}
	}
	return events, nil
}

// scanPairsParallel distributes jobs over a bounded goroutine pool. Results
// land in per-job slots, so the merged output is order-independent of
// scheduling.
func (d *Detector) scanPairsParallel(ctx context.Context, segs []route.Segment, jobs []pairJob) ([]Event, error) {
	results := make([]Event, len(jobs))
	hits := make([]bool, len(jobs))

	sem := make(chan struct{}, d.cfg.Workers)
	var wg sync.WaitGroup

	for idx := range jobs {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil, ctx.Err()
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			job := jobs[idx]
			if ev, ok := d.samplePair(segs[job.i], segs[job.j], job.start, job.end); ok {
				results[idx] = ev
				hits[idx] = true
			}
		}(idx)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	events := make([]Event, 0)
	for idx, hit := range hits {
		if hit {
			events = append(events, results[idx])
		}
	}
	return events, nil
}

// samplePair walks the overlap window in SampleStep increments, inclusive of
// the end instant, and accumulates in-conflict time. The minimum 3D distance
// is tracked over every sample, not only the conflicting ones. Both
// separation comparisons are strict: a pair exactly at the minima is not in
// conflict.
func (d *Detector) samplePair(s1, s2 route.Segment, overlapStart, overlapEnd float64) (Event, bool) {
	var (
		duration   float64
		minDist    = math.Inf(1)
		minTime    = overlapStart
		minA, minB geo.Point
	)

	for t := overlapStart; t <= overlapEnd; t += d.cfg.SampleStep {
		p1 := s1.PositionAt(t)
		p2 := s2.PositionAt(t)

		horizontal := geo.HaversineM(p1.Lat, p1.Lon, p2.Lat, p2.Lon)
		vertical := math.Abs(p1.Height - p2.Height)
		slant := math.Sqrt(horizontal*horizontal + vertical*vertical)

		if slant < minDist {
			minDist = slant
			minTime = t
			minA, minB = p1, p2
		}
		if horizontal < d.cfg.HorizontalSep && vertical < d.cfg.VerticalSep {
			duration += d.cfg.SampleStep
		}
	}

	if duration <= 0 {
		return Event{}, false
	}

	return Event{
		AircraftA:   s1.AircraftID,
		AircraftB:   s2.AircraftID,
		Start:       overlapStart,
		End:         overlapEnd,
		Duration:    duration,
		MinDistance: minDist,
		Severity:    classify(d.cfg.Bands, minDist, minTime-overlapStart),
		Midpoint:    geo.Midpoint(minA, minB),
	}, true
}

// sortEvents orders events by overlap start, then aircraft pair, so parallel
// and sequential runs report identically.
func sortEvents(events []Event) {
	sort.Slice(events, func(a, b int) bool {
		if events[a].Start != events[b].Start {
			return events[a].Start < events[b].Start
		}
		if events[a].AircraftA != events[b].AircraftA {
			return events[a].AircraftA < events[b].AircraftA
		}
		return events[a].AircraftB < events[b].AircraftB
	})
}

// ---------------------------------------------------------------------------
// Waypoint proximity scan
// ---------------------------------------------------------------------------

// ScanRoutes compares every cross-route waypoint pair and reports those
// passing within ProximityRadius meters (3D) and TimeWindow seconds of each
// other. The report carries the overall risk assessment; an empty or
// conflict-free route set yields a zero-risk report, not an error.
func (d *Detector) ScanRoutes(ctx context.Context, routes []route.Route) (*Report, error) {
	if err := route.ValidateAll(routes); err != nil {
		return nil, err
	}

	conflicts := make([]PointConflict, 0)
	for i := 0; i < len(routes); i++ {
		for j := i + 1; j < len(routes); j++ {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
			if routes[i].Name == routes[j].Name {
				continue
			}
			conflicts = d.scanRoutePair(routes[i], routes[j], conflicts)
		}
	}

	return &Report{
		TotalConflicts: len(conflicts),
		Conflicts:      conflicts,
		RiskAssessment: AssessPoints(conflicts),
	}, nil
}

func (d *Detector) scanRoutePair(r1, r2 route.Route, conflicts []PointConflict) []PointConflict {
	for k1, p1 := range r1.Path {
		for k2, p2 := range r2.Path {
			dt := math.Abs(p1.Time - p2.Time)
			if dt >= d.cfg.TimeWindow {
				continue
			}

			horizontal := geo.HaversineM(p1.Lat, p1.Lon, p2.Lat, p2.Lon)
			vertical := math.Abs(p1.Height - p2.Height)
			slant := math.Sqrt(horizontal*horizontal + vertical*vertical)
			if slant >= d.cfg.ProximityRadius {
				continue
			}

			conflicts = append(conflicts, PointConflict{
				Route1:      r1.Name,
				Route2:      r2.Name,
				Point1Index: k1,
				Point2Index: k2,
				Time:        p1.Time,
				Distance:    slant,
				Location:    geo.Midpoint(p1.Point, p2.Point),
				Severity:    classify(d.cfg.Bands, slant, dt),
			})
		}
	}
	return conflicts
}
