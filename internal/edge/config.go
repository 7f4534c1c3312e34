// Package edge provides configuration and utilities for running the analysis
// service on constrained hardware (limited memory, CPU, storage): memory-mode
// presets, a pressure monitor that sheds cached reports, report expiration,
// a phased startup sequencer and a zstd report archiver.
package edge

import (
	"os"
	"runtime"
	"runtime/debug"
	"strconv"
	"time"
)

// ---------------------------------------------------------------------------
// Memory Mode Configuration
// ---------------------------------------------------------------------------

// MemoryMode defines the memory usage strategy.
type MemoryMode int

const (
	// MemoryModeNormal uses default settings for best performance.
	// Suitable for systems with 1GB+ RAM.
	MemoryModeNormal MemoryMode = iota

	// MemoryModeReduced enables memory-saving optimizations with moderate
	// performance impact. Suitable for 512MB RAM.
	MemoryModeReduced

	// MemoryModeAggressive enables maximum memory savings with significant
	// performance trade-offs. Suitable for 256MB RAM or less.
	MemoryModeAggressive
)

func (m MemoryMode) String() string {
	switch m {
	case MemoryModeNormal:
		return "normal"
	case MemoryModeReduced:
		return "reduced"
	case MemoryModeAggressive:
		return "aggressive"
	default:
		return "unknown"
	}
}

// ParseMemoryMode parses a memory mode string.
func ParseMemoryMode(s string) MemoryMode {
	switch s {
	case "reduced":
		return MemoryModeReduced
	case "aggressive":
		return MemoryModeAggressive
	default:
		return MemoryModeNormal
	}
}

// ---------------------------------------------------------------------------
// Edge Configuration
// ---------------------------------------------------------------------------

// Config holds all edge deployment configuration.
type Config struct {
	// Memory management
	MemoryMode    MemoryMode
	MemoryLimitMB int
	GCPercent     int
	SoftLimitMB   int // Trigger degradation at this threshold

	// Cached report retention
	ReportRetentionHours int  // Keep cached analysis reports for N hours (0 = unlimited)
	MaxRoutes            int  // Maximum routes to retain (0 = unlimited)
	EnableArchiving      bool // Archive evicted reports instead of dropping them

	// Performance
	MaxProcs     int
	SmallBuffers bool // Use smaller pre-allocated buffers

	// Degradation
	EnableDegradation bool // Enable graceful degradation
	DegradationAction DegradationAction
}

// DegradationAction defines what to do when approaching limits.
type DegradationAction int

const (
	// DegradationDropOldest drops the oldest cached reports first.
	DegradationDropOldest DegradationAction = iota

	// DegradationRejectNew rejects new routes when full.
	DegradationRejectNew

	// DegradationCompact triggers GC and report archiving.
	DegradationCompact
)

// DefaultConfig returns default edge configuration.
func DefaultConfig() Config {
	return Config{
		MemoryMode:           MemoryModeNormal,
		MemoryLimitMB:        512,
		GCPercent:            100,
		SoftLimitMB:          450,
		ReportRetentionHours: 0,
		MaxRoutes:            0,
		EnableArchiving:      false,
		MaxProcs:             0,
		SmallBuffers:         false,
		EnableDegradation:    false,
		DegradationAction:    DegradationDropOldest,
	}
}

// ReducedMemoryConfig returns configuration optimized for 512MB environments.
func ReducedMemoryConfig() Config {
	return Config{
		MemoryMode:           MemoryModeReduced,
		MemoryLimitMB:        512,
		GCPercent:            50,  // More frequent GC
		SoftLimitMB:          400, // Earlier degradation trigger
		ReportRetentionHours: 6,   // Keep 6 hours of reports
		MaxRoutes:            5000,
		EnableArchiving:      true,
		MaxProcs:             1,
		SmallBuffers:         true,
		EnableDegradation:    true,
		DegradationAction:    DegradationDropOldest,
	}
}

// AggressiveMemoryConfig returns configuration for severely constrained environments.
func AggressiveMemoryConfig() Config {
	return Config{
		MemoryMode:           MemoryModeAggressive,
		MemoryLimitMB:        256,
		GCPercent:            20,  // Very frequent GC
		SoftLimitMB:          200, // Early degradation
		ReportRetentionHours: 2,   // Keep only 2 hours
		MaxRoutes:            1000,
		EnableArchiving:      true,
		MaxProcs:             1,
		SmallBuffers:         true,
		EnableDegradation:    true,
		DegradationAction:    DegradationDropOldest,
	}
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() Config {
	cfg := DefaultConfig()

	// Memory mode
	if v := os.Getenv("MEMORY_MODE"); v != "" {
		cfg.MemoryMode = ParseMemoryMode(v)
		// Apply preset
		switch cfg.MemoryMode {
		case MemoryModeReduced:
			cfg = ReducedMemoryConfig()
		case MemoryModeAggressive:
			cfg = AggressiveMemoryConfig()
		}
	}

	// Override individual settings
	if v := os.Getenv("MEMORY_LIMIT_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MemoryLimitMB = n
		}
	}
	if v := os.Getenv("GC_PERCENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.GCPercent = n
		}
	}
	if v := os.Getenv("SOFT_LIMIT_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SoftLimitMB = n
		}
	}
	if v := os.Getenv("REPORT_RETENTION_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ReportRetentionHours = n
		}
	}
	if v := os.Getenv("MAX_ROUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxRoutes = n
		}
	}
	if v := os.Getenv("ENABLE_ARCHIVING"); v == "true" {
		cfg.EnableArchiving = true
	}
	if v := os.Getenv("SMALL_BUFFERS"); v == "true" {
		cfg.SmallBuffers = true
	}
	if v := os.Getenv("ENABLE_DEGRADATION"); v == "true" {
		cfg.EnableDegradation = true
	}
	if v := os.Getenv("GOMAXPROCS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxProcs = n
		}
	}

	return cfg
}

// Apply applies the configuration to the runtime.
func (c Config) Apply() {
	// Set GOMAXPROCS
	if c.MaxProcs > 0 {
		runtime.GOMAXPROCS(c.MaxProcs)
	}

	// Set GC percent
	if c.GCPercent > 0 {
		debug.SetGCPercent(c.GCPercent)
	}

	// Set memory limit (Go 1.19+)
	if c.MemoryLimitMB > 0 {
		limit := int64(c.MemoryLimitMB) * 1024 * 1024
		debug.SetMemoryLimit(limit)
	}
}

// BufferSizes returns appropriate buffer sizes for this configuration.
func (c Config) BufferSizes() BufferSizes {
	var b BufferSizes

	switch c.MemoryMode {
	case MemoryModeAggressive:
		b = BufferSizes{
			RouteSlab:      128,
			ReportCache:    32,
			ResultCapacity: 16,
			BatchSize:      50,
			ChannelBuffer:  10,
		}
	case MemoryModeReduced:
		b = BufferSizes{
			RouteSlab:      512,
			ReportCache:    64,
			ResultCapacity: 32,
			BatchSize:      100,
			ChannelBuffer:  50,
		}
	default:
		b = BufferSizes{
			RouteSlab:      1024,
			ReportCache:    256,
			ResultCapacity: 64,
			BatchSize:      100,
			ChannelBuffer:  100,
		}
	}

	return b
}

// BufferSizes holds pre-allocation sizes.
type BufferSizes struct {
	RouteSlab      int // Initial route slot slice capacity
	ReportCache    int // Initial report cache capacity
	ResultCapacity int // Analysis result slice capacity
	BatchSize      int // Batch processing size
	ChannelBuffer  int // Channel buffer sizes
}

// RetentionDuration returns the report retention as a duration.
func (c Config) RetentionDuration() time.Duration {
	if c.ReportRetentionHours <= 0 {
		return 0
	}
	return time.Duration(c.ReportRetentionHours) * time.Hour
}

// ---------------------------------------------------------------------------
// Trade-off Documentation
// ---------------------------------------------------------------------------

/*
EDGE DEPLOYMENT TRADE-OFFS

This package tunes the analysis service for resource-constrained edge
environments such as airfield gateways and on-site monitoring boxes.

┌────────────────────┬────────────────────────────────────────────────────────┐
│ SETTING            │ TRADE-OFF                                              │
├────────────────────┼────────────────────────────────────────────────────────┤
│ GCPercent (low)    │ + Lower memory usage                                   │
│                    │ - Higher CPU usage, more GC pauses                     │
│                    │ - Slightly higher analysis latency (P99)               │
├────────────────────┼────────────────────────────────────────────────────────┤
│ SmallBuffers       │ + Faster startup, lower initial memory                 │
│                    │ - More allocations as routes accumulate                │
├────────────────────┼────────────────────────────────────────────────────────┤
│ ReportRetention    │ + Bounded report cache size                            │
│ (limited)          │ - Older analyses recomputed on demand                  │
│                    │ - Background cleanup adds CPU overhead                 │
├────────────────────┼────────────────────────────────────────────────────────┤
│ MaxRoutes (capped) │ + Guaranteed memory ceiling                            │
│                    │ - New submissions rejected when full                   │
│                    │ - Requires degradation strategy                        │
├────────────────────┼────────────────────────────────────────────────────────┤
│ EnableArchiving    │ + Evicted reports survive as zstd blobs                │
│                    │ - CPU overhead for compression/decompression           │
├────────────────────┼────────────────────────────────────────────────────────┤
│ EnableDegradation  │ + System remains responsive under pressure             │
│                    │ - May drop cached reports or reject routes             │
└────────────────────┴────────────────────────────────────────────────────────┘

RECOMMENDED CONFIGURATIONS BY ENVIRONMENT:

┌─────────────────┬─────────┬─────────┬───────────┬───────────┬──────────────┐
│ Environment     │ RAM     │ Mode    │ Retention │ MaxRoutes │ GCPercent    │
├─────────────────┼─────────┼─────────┼───────────┼───────────┼──────────────┤
│ Cloud/Server    │ 2GB+    │ normal  │ unlimited │ unlimited │ 100 (default)│
│ Edge Gateway    │ 512MB   │ reduced │ 6 hours   │ 5,000     │ 50           │
│ Field Unit      │ 256MB   │ aggress.│ 2 hours   │ 1,000     │ 20           │
└─────────────────┴─────────┴─────────┴───────────┴───────────┴──────────────┘
*/
