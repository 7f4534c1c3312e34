package benchmarks

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ChrisYZZ/Cei-Noise/internal/airspace"
	"github.com/ChrisYZZ/Cei-Noise/internal/conflict"
	"github.com/ChrisYZZ/Cei-Noise/internal/geo"
	"github.com/ChrisYZZ/Cei-Noise/internal/risk"
	"github.com/ChrisYZZ/Cei-Noise/internal/route"
	"github.com/ChrisYZZ/Cei-Noise/internal/store"
)

// ---------------------------------------------------------------------------
// Load Generator - Simulates sustained route submission
// ---------------------------------------------------------------------------

// LoadGenerator simulates realistic route submission load.
type LoadGenerator struct {
	st            *store.Store
	routesPerSec  int
	duration      time.Duration

	// Stats
	totalRoutes atomic.Int64
	errors      atomic.Int64
}

// NewLoadGenerator creates a load generator with the specified submission rate.
func NewLoadGenerator(routesPerSec int, duration time.Duration) *LoadGenerator {
	return &LoadGenerator{
		st:           store.New(),
		routesPerSec: routesPerSec,
		duration:     duration,
	}
}

// generateRoute creates a realistic route over the Guangzhou pilot area.
func generateRoute(name string) route.Route {
	baseLon := 113.25 + rand.Float64()*0.15
	baseLat := 23.05 + rand.Float64()*0.10
	height := float64(60 + rand.Intn(180))

	waypoints := 4 + rand.Intn(8)
	path := make([]route.Waypoint, waypoints)
	for i := range path {
		path[i] = route.Waypoint{
			Point: geo.Point{
				Lon:    baseLon + float64(i)*0.002,
				Lat:    baseLat + rand.Float64()*0.001,
				Height: height,
			},
			Time: float64(i * 60),
		}
	}

	return route.Route{
		Name:      name,
		BaseNoise: float64(70 + rand.Intn(20)),
		Path:      path,
	}
}

// submitRoute adds a route to the store.
func (lg *LoadGenerator) submitRoute(i int) {
	r := generateRoute(fmt.Sprintf("load-%d-%06d", time.Now().UnixNano(), i))
	if _, err := lg.st.Add(r); err != nil {
		lg.errors.Add(1)
		return
	}
	lg.totalRoutes.Add(1)
}

// Run executes the load test.
func (lg *LoadGenerator) Run(ctx context.Context) LoadStats {
	startTime := time.Now()
	interval := time.Second / time.Duration(lg.routesPerSec)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	deadline := time.After(lg.duration)
	i := 0

	for {
		select {
		case <-ctx.Done():
			return lg.stats(startTime)
		case <-deadline:
			return lg.stats(startTime)
		case <-ticker.C:
			lg.submitRoute(i)
			i++
		}
	}
}

// stats returns the load test statistics.
func (lg *LoadGenerator) stats(startTime time.Time) LoadStats {
	elapsed := time.Since(startTime)
	return LoadStats{
		Duration:     elapsed,
		TotalRoutes:  lg.totalRoutes.Load(),
		RoutesPerSec: float64(lg.totalRoutes.Load()) / elapsed.Seconds(),
		StoredRoutes: lg.st.Len(),
		Errors:       lg.errors.Load(),
	}
}

// LoadStats holds load test results.
type LoadStats struct {
	Duration     time.Duration
	TotalRoutes  int64
	RoutesPerSec float64
	StoredRoutes int
	Errors       int64
}

// ---------------------------------------------------------------------------
// Concurrent Analysis Benchmark
// ---------------------------------------------------------------------------

// ConcurrentAnalysisBench tests parallel analysis performance.
type ConcurrentAnalysisBench struct {
	st       *store.Store
	detector *conflict.Detector
	riskCalc *risk.Calculator

	// Results
	latencies []time.Duration
	latencyMu sync.Mutex
}

// NewConcurrentAnalysisBench creates a benchmark with pre-populated routes.
func NewConcurrentAnalysisBench(numRoutes int) *ConcurrentAnalysisBench {
	st := store.New()
	for i := 0; i < numRoutes; i++ {
		if _, err := st.Add(generateRoute(fmt.Sprintf("bench-%06d", i))); err != nil {
			panic(err)
		}
	}

	detector, err := conflict.New()
	if err != nil {
		panic(err)
	}

	return &ConcurrentAnalysisBench{
		st:        st,
		detector:  detector,
		riskCalc:  risk.NewCalculator(detector),
		latencies: make([]time.Duration, 0, 10000),
	}
}

// RunConcurrent executes parallel analysis calls.
func (cab *ConcurrentAnalysisBench) RunConcurrent(numWorkers, callsPerWorker int) ConcurrentStats {
	var wg sync.WaitGroup
	startTime := time.Now()
	ctx := context.Background()

	routes := cab.st.List()
	// Mixed call types to simulate realistic load. Whole-set scans stay on a
	// small subset so one call doesn't dominate the distribution.
	subset := routes
	if len(subset) > 10 {
		subset = subset[:10]
	}

	analysisFuncs := []func(){
		func() {
			_, _ = cab.detector.ScanRoutes(ctx, subset)
		},
		func() {
			_, _ = cab.riskCalc.ComputeNTSCForRoutes(ctx, subset)
		},
		func() {
			_, _ = airspace.RouteCapacity(routes[rand.Intn(len(routes))])
		},
		func() {
			_, _ = airspace.ConflictProbability(subset, 5)
		},
		func() {
			_, _ = risk.EvaluateGroundRisk(geo.Point{Lon: 113.31, Lat: 23.12, Height: 120}, risk.UAVSmall)
		},
	}

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			for q := 0; q < callsPerWorker; q++ {
				analysisFunc := analysisFuncs[(workerID+q)%len(analysisFuncs)]

				start := time.Now()
				analysisFunc()
				latency := time.Since(start)

				cab.latencyMu.Lock()
				cab.latencies = append(cab.latencies, latency)
				cab.latencyMu.Unlock()
			}
		}(w)
	}

	wg.Wait()
	totalTime := time.Since(startTime)

	return cab.calculateStats(totalTime, numWorkers, callsPerWorker)
}

func (cab *ConcurrentAnalysisBench) calculateStats(totalTime time.Duration, workers, cpw int) ConcurrentStats {
	cab.latencyMu.Lock()
	defer cab.latencyMu.Unlock()

	if len(cab.latencies) == 0 {
		return ConcurrentStats{}
	}

	// Sort for percentile calculation
	sorted := make([]time.Duration, len(cab.latencies))
	copy(sorted, cab.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	totalCalls := workers * cpw

	return ConcurrentStats{
		TotalCalls:  totalCalls,
		TotalTime:   totalTime,
		CallsPerSec: float64(totalCalls) / totalTime.Seconds(),
		P50:         sorted[len(sorted)*50/100],
		P95:         sorted[len(sorted)*95/100],
		P99:         sorted[len(sorted)*99/100],
		Min:         sorted[0],
		Max:         sorted[len(sorted)-1],
		Avg:         cab.avgLatency(),
	}
}

func (cab *ConcurrentAnalysisBench) avgLatency() time.Duration {
	if len(cab.latencies) == 0 {
		return 0
	}
	var total time.Duration
	for _, l := range cab.latencies {
		total += l
	}
	return total / time.Duration(len(cab.latencies))
}

// ConcurrentStats holds concurrent analysis benchmark results.
type ConcurrentStats struct {
	TotalCalls  int
	TotalTime   time.Duration
	CallsPerSec float64
	P50         time.Duration
	P95         time.Duration
	P99         time.Duration
	Min         time.Duration
	Max         time.Duration
	Avg         time.Duration
}

// ---------------------------------------------------------------------------
// Memory Profile
// ---------------------------------------------------------------------------

// MemoryProfile captures memory usage at a point in time.
type MemoryProfile struct {
	Alloc       uint64
	TotalAlloc  uint64
	Sys         uint64
	HeapAlloc   uint64
	HeapSys     uint64
	HeapInuse   uint64
	HeapObjects uint64
	StackInuse  uint64
	NumGC       uint32
}

// CaptureMemoryProfile returns current memory statistics.
func CaptureMemoryProfile() MemoryProfile {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return MemoryProfile{
		Alloc:       m.Alloc,
		TotalAlloc:  m.TotalAlloc,
		Sys:         m.Sys,
		HeapAlloc:   m.HeapAlloc,
		HeapSys:     m.HeapSys,
		HeapInuse:   m.HeapInuse,
		HeapObjects: m.HeapObjects,
		StackInuse:  m.StackInuse,
		NumGC:       m.NumGC,
	}
}

// AllocMB returns allocated memory in megabytes.
func (mp MemoryProfile) AllocMB() float64 {
	return float64(mp.Alloc) / 1024 / 1024
}

// HeapMB returns heap memory in megabytes.
func (mp MemoryProfile) HeapMB() float64 {
	return float64(mp.HeapAlloc) / 1024 / 1024
}

// SysMB returns total system memory in megabytes.
func (mp MemoryProfile) SysMB() float64 {
	return float64(mp.Sys) / 1024 / 1024
}

// ---------------------------------------------------------------------------
// Go Benchmarks
// ---------------------------------------------------------------------------

// BenchmarkLoadGenerator100RPS benchmarks 100 routes/sec submission.
func BenchmarkLoadGenerator100RPS(b *testing.B) {
	for i := 0; i < b.N; i++ {
		lg := NewLoadGenerator(100, 1*time.Second)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		lg.Run(ctx)
		cancel()
	}
}

// BenchmarkLoadGenerator200RPS benchmarks 200 routes/sec submission.
func BenchmarkLoadGenerator200RPS(b *testing.B) {
	for i := 0; i < b.N; i++ {
		lg := NewLoadGenerator(200, 1*time.Second)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		lg.Run(ctx)
		cancel()
	}
}

// BenchmarkConcurrentAnalysis10Workers benchmarks 10 parallel analysis workers.
func BenchmarkConcurrentAnalysis10Workers(b *testing.B) {
	cab := NewConcurrentAnalysisBench(1000)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		cab.latencies = cab.latencies[:0]
		cab.RunConcurrent(10, 100)
	}
}

// BenchmarkConcurrentAnalysis25Workers benchmarks 25 parallel analysis workers.
func BenchmarkConcurrentAnalysis25Workers(b *testing.B) {
	cab := NewConcurrentAnalysisBench(1000)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		cab.latencies = cab.latencies[:0]
		cab.RunConcurrent(25, 100)
	}
}

// BenchmarkConcurrentAnalysis50Workers benchmarks 50 parallel analysis workers.
func BenchmarkConcurrentAnalysis50Workers(b *testing.B) {
	cab := NewConcurrentAnalysisBench(1000)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		cab.latencies = cab.latencies[:0]
		cab.RunConcurrent(50, 100)
	}
}

// BenchmarkMemoryUnder512MB verifies memory stays under the 512MB edge
// constraint while holding a large route set.
func BenchmarkMemoryUnder512MB(b *testing.B) {
	const maxMemoryMB = 512.0
	const targetRoutes = 50000

	for i := 0; i < b.N; i++ {
		st := store.New()

		// Force GC before measurement
		runtime.GC()
		before := CaptureMemoryProfile()

		for j := 0; j < targetRoutes; j++ {
			if _, err := st.Add(generateRoute(fmt.Sprintf("mem-%06d", j))); err != nil {
				b.Fatalf("add failed: %v", err)
			}
		}

		// Force GC and measure
		runtime.GC()
		after := CaptureMemoryProfile()

		usedMB := after.HeapMB()
		if usedMB > maxMemoryMB {
			b.Fatalf("Memory exceeded %vMB limit: %.2fMB for %d routes", maxMemoryMB, usedMB, targetRoutes)
		}

		b.ReportMetric(usedMB, "heap_MB")
		b.ReportMetric(float64(targetRoutes)/usedMB, "routes_per_MB")
		b.ReportMetric(after.HeapMB()-before.HeapMB(), "delta_MB")
	}
}

// BenchmarkLatencyDistribution measures analysis latency percentiles.
func BenchmarkLatencyDistribution(b *testing.B) {
	cab := NewConcurrentAnalysisBench(5000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cab.latencies = cab.latencies[:0]
		stats := cab.RunConcurrent(20, 500)

		b.ReportMetric(float64(stats.P50.Microseconds()), "p50_us")
		b.ReportMetric(float64(stats.P95.Microseconds()), "p95_us")
		b.ReportMetric(float64(stats.P99.Microseconds()), "p99_us")
		b.ReportMetric(stats.CallsPerSec, "calls_per_sec")
	}
}
