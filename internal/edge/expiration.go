package edge

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// ---------------------------------------------------------------------------
// Report Expiration Manager
// ---------------------------------------------------------------------------

// ExpirableEntry is one tracked cache entry.
type ExpirableEntry struct {
	Key       string
	Timestamp time.Time
}

// ExpirationCallback is called with the keys of reports that should expire;
// it returns how many were actually dropped.
type ExpirationCallback func(keys []string) int

// ExpirationManager expires cached analysis reports after the configured
// retention window. Routes never expire; only derived reports do, since they
// can always be recomputed.
type ExpirationManager struct {
	config Config

	mu         sync.RWMutex
	timestamps map[string]time.Time // Report key -> cache time
	callback   ExpirationCallback

	// Stats
	totalExpired atomic.Int64
	lastCleanup  atomic.Int64 // Unix timestamp

	running atomic.Bool
	cancel  context.CancelFunc
}

// NewExpirationManager creates an expiration manager.
func NewExpirationManager(cfg Config) *ExpirationManager {
	return &ExpirationManager{
		config:     cfg,
		timestamps: make(map[string]time.Time, cfg.BufferSizes().ReportCache),
	}
}

// SetCallback sets the function to call when expiring reports.
func (e *ExpirationManager) SetCallback(cb ExpirationCallback) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callback = cb
}

// RecordReport records a report's cache time for expiration tracking.
func (e *ExpirationManager) RecordReport(key string, timestamp time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timestamps[key] = timestamp
}

// RecordReportNow records a report with the current timestamp.
func (e *ExpirationManager) RecordReportNow(key string) {
	e.RecordReport(key, time.Now())
}

// RemoveReport removes a report from expiration tracking.
func (e *ExpirationManager) RemoveReport(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.timestamps, key)
}

// Start begins the expiration background process.
func (e *ExpirationManager) Start(ctx context.Context) {
	if e.config.ReportRetentionHours <= 0 {
		log.Println("Report expiration disabled (retention = 0)")
		return
	}

	if e.running.Swap(true) {
		return
	}

	ctx, e.cancel = context.WithCancel(ctx)
	go e.expirationLoop(ctx)

	log.Printf("Report expiration started (retention: %d hours)", e.config.ReportRetentionHours)
}

// Stop halts the expiration process.
func (e *ExpirationManager) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.running.Store(false)
}

// RunCleanupNow forces an immediate cleanup cycle.
func (e *ExpirationManager) RunCleanupNow() int {
	return e.cleanup()
}

// Stats returns expiration statistics.
func (e *ExpirationManager) Stats() ExpirationStats {
	e.mu.RLock()
	tracked := len(e.timestamps)
	e.mu.RUnlock()

	return ExpirationStats{
		TrackedReports: tracked,
		TotalExpired:   e.totalExpired.Load(),
		LastCleanup:    time.Unix(e.lastCleanup.Load(), 0),
		RetentionHours: e.config.ReportRetentionHours,
	}
}

// ExpirationStats holds expiration statistics.
type ExpirationStats struct {
	TrackedReports int
	TotalExpired   int64
	LastCleanup    time.Time
	RetentionHours int
}

func (e *ExpirationManager) expirationLoop(ctx context.Context) {
	// Run cleanup every 1/12 of retention period (e.g., every 30 min for 6 hour retention)
	interval := time.Duration(e.config.ReportRetentionHours) * time.Hour / 12
	if interval < time.Minute {
		interval = time.Minute
	}
	if interval > 30*time.Minute {
		interval = 30 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial cleanup after short delay
	select {
	case <-ctx.Done():
		return
	case <-time.After(10 * time.Second):
	}
	e.cleanup()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.cleanup()
		}
	}
}

func (e *ExpirationManager) cleanup() int {
	retention := e.config.RetentionDuration()
	if retention <= 0 {
		return 0
	}

	cutoff := time.Now().Add(-retention)

	e.mu.Lock()
	var expired []string
	for key, ts := range e.timestamps {
		if ts.Before(cutoff) {
			expired = append(expired, key)
		}
	}

	// Remove from tracking
	for _, key := range expired {
		delete(e.timestamps, key)
	}

	callback := e.callback
	e.mu.Unlock()

	if len(expired) == 0 {
		e.lastCleanup.Store(time.Now().Unix())
		return 0
	}

	// Call the expiration callback
	actualExpired := 0
	if callback != nil {
		actualExpired = callback(expired)
	}

	e.totalExpired.Add(int64(actualExpired))
	e.lastCleanup.Store(time.Now().Unix())

	log.Printf("Expiration cleanup: identified=%d, expired=%d", len(expired), actualExpired)

	return actualExpired
}

// ---------------------------------------------------------------------------
// Route Limit Enforcer
// ---------------------------------------------------------------------------

// RouteLimitEnforcer enforces the maximum stored route count by evicting the
// oldest routes first.
type RouteLimitEnforcer struct {
	config Config

	mu           sync.RWMutex
	routesByTime []ExpirableEntry // Ordered by timestamp (oldest first)
	routeIndex   map[string]int   // Route name -> index in slice

	onEvict func([]string) int
}

// NewRouteLimitEnforcer creates a route limit enforcer.
func NewRouteLimitEnforcer(cfg Config) *RouteLimitEnforcer {
	capacity := cfg.MaxRoutes
	if capacity <= 0 {
		capacity = 1024
	}

	return &RouteLimitEnforcer{
		config:       cfg,
		routesByTime: make([]ExpirableEntry, 0, capacity),
		routeIndex:   make(map[string]int, capacity),
	}
}

// SetEvictCallback sets the eviction callback.
func (n *RouteLimitEnforcer) SetEvictCallback(fn func([]string) int) {
	n.onEvict = fn
}

// RecordRoute records a route for limit enforcement.
func (n *RouteLimitEnforcer) RecordRoute(name string, timestamp time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()

	// Check if already tracked
	if _, exists := n.routeIndex[name]; exists {
		// Update timestamp - for simplicity, we don't reorder
		return
	}

	// Add new route
	n.routesByTime = append(n.routesByTime, ExpirableEntry{Key: name, Timestamp: timestamp})
	n.routeIndex[name] = len(n.routesByTime) - 1
}

// RemoveRoute removes a route from tracking.
func (n *RouteLimitEnforcer) RemoveRoute(name string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if idx, exists := n.routeIndex[name]; exists {
		// Mark as removed (lazy cleanup)
		n.routesByTime[idx].Key = ""
		delete(n.routeIndex, name)
	}
}

// ShouldEvict returns true if we need to evict routes.
func (n *RouteLimitEnforcer) ShouldEvict() bool {
	if n.config.MaxRoutes <= 0 {
		return false
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	return len(n.routeIndex) >= n.config.MaxRoutes
}

// EvictOldest evicts the oldest N routes.
func (n *RouteLimitEnforcer) EvictOldest(count int) int {
	n.mu.Lock()

	var toEvict []string
	evicted := 0

	for i := 0; i < len(n.routesByTime) && evicted < count; i++ {
		entry := n.routesByTime[i]
		if entry.Key == "" {
			continue // Already removed
		}

		toEvict = append(toEvict, entry.Key)
		n.routesByTime[i].Key = "" // Mark as removed
		delete(n.routeIndex, entry.Key)
		evicted++
	}

	callback := n.onEvict
	n.mu.Unlock()

	if len(toEvict) > 0 && callback != nil {
		return callback(toEvict)
	}

	return evicted
}

// Count returns the number of tracked routes.
func (n *RouteLimitEnforcer) Count() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.routeIndex)
}

// Compact removes holes in the slice (call periodically).
func (n *RouteLimitEnforcer) Compact() {
	n.mu.Lock()
	defer n.mu.Unlock()

	newSlice := make([]ExpirableEntry, 0, len(n.routeIndex))
	newIndex := make(map[string]int, len(n.routeIndex))

	for _, entry := range n.routesByTime {
		if entry.Key != "" {
			newIndex[entry.Key] = len(newSlice)
			newSlice = append(newSlice, entry)
		}
	}

	n.routesByTime = newSlice
	n.routeIndex = newIndex
}
