package benchmarks

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChrisYZZ/Cei-Noise/internal/conflict"
	"github.com/ChrisYZZ/Cei-Noise/internal/edge"
	"github.com/ChrisYZZ/Cei-Noise/internal/noise"
	"github.com/ChrisYZZ/Cei-Noise/internal/risk"
	"github.com/ChrisYZZ/Cei-Noise/internal/route"
	"github.com/ChrisYZZ/Cei-Noise/internal/store"
)

// ---------------------------------------------------------------------------
// Integration Tests for Performance Validation
// ---------------------------------------------------------------------------

// TestLoadGenerator100RPS verifies we can sustain 100 submissions/sec.
func TestLoadGenerator100RPS(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping load test in short mode")
	}

	lg := NewLoadGenerator(100, 3*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stats := lg.Run(ctx)

	t.Logf("Load test results:")
	t.Logf("  Duration: %v", stats.Duration)
	t.Logf("  Total routes: %d", stats.TotalRoutes)
	t.Logf("  Routes/sec: %.2f", stats.RoutesPerSec)
	t.Logf("  Stored routes: %d", stats.StoredRoutes)

	// Verify we achieved at least 80% of target rate
	assert.GreaterOrEqual(t, stats.RoutesPerSec, 80.0, "Should achieve at least 80 routes/sec")
	assert.Equal(t, int64(0), stats.Errors, "Should have no errors")
}

// TestLoadGenerator200RPS verifies we can sustain 200 submissions/sec.
func TestLoadGenerator200RPS(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping load test in short mode")
	}

	lg := NewLoadGenerator(200, 3*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stats := lg.Run(ctx)

	t.Logf("Load test results:")
	t.Logf("  Duration: %v", stats.Duration)
	t.Logf("  Total routes: %d", stats.TotalRoutes)
	t.Logf("  Routes/sec: %.2f", stats.RoutesPerSec)

	// Verify we achieved at least 80% of target rate
	assert.GreaterOrEqual(t, stats.RoutesPerSec, 160.0, "Should achieve at least 160 routes/sec")
}

// TestConcurrentAnalysis10Workers validates 10 parallel workers.
func TestConcurrentAnalysis10Workers(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping concurrent test in short mode")
	}

	cab := NewConcurrentAnalysisBench(1000)
	stats := cab.RunConcurrent(10, 100)

	t.Logf("Concurrent analysis results (10 workers):")
	t.Logf("  Total calls: %d", stats.TotalCalls)
	t.Logf("  Total time: %v", stats.TotalTime)
	t.Logf("  Calls/sec: %.2f", stats.CallsPerSec)
	t.Logf("  P50: %v", stats.P50)
	t.Logf("  P95: %v", stats.P95)
	t.Logf("  P99: %v", stats.P99)

	assert.Greater(t, stats.CallsPerSec, 0.0)
	assert.Equal(t, 1000, stats.TotalCalls)
}

// TestConcurrentAnalysis50Workers validates 50 parallel workers.
func TestConcurrentAnalysis50Workers(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping concurrent test in short mode")
	}

	cab := NewConcurrentAnalysisBench(1000)
	stats := cab.RunConcurrent(50, 100)

	t.Logf("Concurrent analysis results (50 workers):")
	t.Logf("  Total calls: %d", stats.TotalCalls)
	t.Logf("  Total time: %v", stats.TotalTime)
	t.Logf("  Calls/sec: %.2f", stats.CallsPerSec)
	t.Logf("  P50: %v", stats.P50)
	t.Logf("  P95: %v", stats.P95)
	t.Logf("  P99: %v", stats.P99)

	assert.Equal(t, 5000, stats.TotalCalls)
}

// TestMemoryConstraint512MB verifies memory stays under 512MB with a large
// stored route set.
func TestMemoryConstraint512MB(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping memory test in short mode")
	}

	const maxMemoryMB = 512.0
	const targetRoutes = 50000

	st := store.New()

	// Force GC before test
	runtime.GC()
	before := CaptureMemoryProfile()

	for i := 0; i < targetRoutes; i++ {
		_, err := st.Add(generateRoute(fmt.Sprintf("mem-%06d", i)))
		require.NoError(t, err)
	}

	// Force GC and measure
	runtime.GC()
	after := CaptureMemoryProfile()

	t.Logf("Memory profile after %d routes:", targetRoutes)
	t.Logf("  Heap allocated: %.2f MB", after.HeapMB())
	t.Logf("  Total sys: %.2f MB", after.SysMB())
	t.Logf("  Heap objects: %d", after.HeapObjects)
	t.Logf("  Delta heap: %.2f MB", after.HeapMB()-before.HeapMB())
	t.Logf("  Routes per MB: %.2f", float64(targetRoutes)/after.HeapMB())

	assert.Less(t, after.HeapMB(), maxMemoryMB,
		"Heap memory (%.2f MB) should be under %v MB limit", after.HeapMB(), maxMemoryMB)
}

// TestFullAnalysisPipeline runs a route set through the complete chain:
// submit, detect, aggregate risk, render noise, archive the report.
func TestFullAnalysisPipeline(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping pipeline test in short mode")
	}

	ctx := context.Background()
	st := store.New()

	for i := 0; i < 20; i++ {
		_, err := st.Add(generateRoute(fmt.Sprintf("pipeline-%02d", i)))
		require.NoError(t, err)
	}
	routes := st.List()

	detector, err := conflict.New()
	require.NoError(t, err)

	// Stage 1: pairwise detection over interpolated segments
	events, err := detector.Detect(ctx, route.SegmentsOf(routes))
	require.NoError(t, err)

	// Stage 2: fleet risk aggregation
	calc := risk.NewCalculator(detector)
	ntsc, err := calc.ComputeNTSCForRoutes(ctx, routes)
	require.NoError(t, err)
	require.NotNil(t, ntsc)

	// Stage 3: noise heatmap for one route
	hm, err := noise.HeatmapForRoute(ctx, routes[0], 50)
	require.NoError(t, err)
	require.NotEmpty(t, hm.Points)

	// Stage 4: full scan report, archived under memory pressure policy
	report, err := detector.ScanRoutes(ctx, routes)
	require.NoError(t, err)

	archiver, err := edge.NewArchiver(edge.DefaultConfig())
	require.NoError(t, err)
	defer archiver.Close()

	blob, err := archiver.ArchiveReport(report)
	require.NoError(t, err)

	var restored conflict.Report
	require.NoError(t, archiver.RestoreReport(blob, &restored))
	assert.Equal(t, report.TotalConflicts, restored.TotalConflicts)

	t.Logf("Pipeline results:")
	t.Logf("  Routes: %d", len(routes))
	t.Logf("  Conflict events: %d", len(events))
	t.Logf("  Archive ratio: %.2f", archiver.Stats().Ratio())
}

// TestSustainedLoad validates the store under sustained submission load.
func TestSustainedLoad(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping sustained load test in short mode")
	}

	const duration = 10 * time.Second
	const routesPerSec = 150

	lg := NewLoadGenerator(routesPerSec, duration)
	ctx, cancel := context.WithTimeout(context.Background(), duration+5*time.Second)
	defer cancel()

	// Start load generation
	go lg.Run(ctx)

	// Periodically measure memory during load
	var maxMemMB float64
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	deadline := time.After(duration)
	for {
		select {
		case <-deadline:
			goto done
		case <-ticker.C:
			profile := CaptureMemoryProfile()
			if profile.HeapMB() > maxMemMB {
				maxMemMB = profile.HeapMB()
			}
		}
	}

done:
	t.Logf("Sustained load test (%.0f routes/sec for %v):", float64(routesPerSec), duration)
	t.Logf("  Peak memory: %.2f MB", maxMemMB)
	t.Logf("  Final routes: %d", lg.st.Len())

	assert.Less(t, maxMemMB, 512.0, "Peak memory should be under 512MB")
}

// ---------------------------------------------------------------------------
// CPU and Memory Profiling Tests
// ---------------------------------------------------------------------------

// TestCPUProfile generates CPU profile for analysis.
func TestCPUProfile(t *testing.T) {
	if os.Getenv("ENABLE_PROFILING") != "true" {
		t.Skip("Set ENABLE_PROFILING=true to run profiling tests")
	}

	f, err := os.Create("cpu.prof")
	require.NoError(t, err)
	defer f.Close()

	err = pprof.StartCPUProfile(f)
	require.NoError(t, err)
	defer pprof.StopCPUProfile()

	// Run workload
	cab := NewConcurrentAnalysisBench(5000)
	cab.RunConcurrent(20, 1000)

	t.Log("CPU profile written to cpu.prof")
	t.Log("Analyze with: go tool pprof cpu.prof")
}

// TestMemoryProfileCapture generates memory profile for analysis.
func TestMemoryProfileCapture(t *testing.T) {
	if os.Getenv("ENABLE_PROFILING") != "true" {
		t.Skip("Set ENABLE_PROFILING=true to run profiling tests")
	}

	// Run workload
	st := store.New()
	for i := 0; i < 100000; i++ {
		if _, err := st.Add(generateRoute(fmt.Sprintf("prof-%06d", i))); err != nil {
			t.Fatalf("add failed: %v", err)
		}
	}

	runtime.GC()

	f, err := os.Create("mem.prof")
	require.NoError(t, err)
	defer f.Close()

	err = pprof.WriteHeapProfile(f)
	require.NoError(t, err)

	t.Log("Memory profile written to mem.prof")
	t.Log("Analyze with: go tool pprof mem.prof")
}

// ---------------------------------------------------------------------------
// Regression Tests
// ---------------------------------------------------------------------------

// TestPerformanceRegression validates performance hasn't regressed.
func TestPerformanceRegression(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping regression test in short mode")
	}

	// Baseline thresholds (adjust based on CI hardware)
	const (
		maxMemoryMB     = 512.0
		minRoutesPerSec = 100.0
	)

	t.Run("AnalysisThroughput", func(t *testing.T) {
		cab := NewConcurrentAnalysisBench(1000)
		stats := cab.RunConcurrent(20, 200)

		assert.Greater(t, stats.CallsPerSec, 0.0)
		t.Logf("Throughput: %.2f calls/sec, P99=%v", stats.CallsPerSec, stats.P99)
	})

	t.Run("MemoryUsage", func(t *testing.T) {
		st := store.New()
		for i := 0; i < 50000; i++ {
			if _, err := st.Add(generateRoute(fmt.Sprintf("reg-%06d", i))); err != nil {
				t.Fatalf("add failed: %v", err)
			}
		}
		runtime.GC()

		profile := CaptureMemoryProfile()
		assert.Less(t, profile.HeapMB(), maxMemoryMB, "Memory regression: %.2f MB > %.2f MB", profile.HeapMB(), maxMemoryMB)
	})

	t.Run("SubmissionRate", func(t *testing.T) {
		lg := NewLoadGenerator(150, 2*time.Second)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		stats := lg.Run(ctx)
		assert.Greater(t, stats.RoutesPerSec, minRoutesPerSec, "Submission regression: %.2f < %.2f routes/sec", stats.RoutesPerSec, minRoutesPerSec)
	})
}
