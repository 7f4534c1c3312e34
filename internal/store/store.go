// Package store is the in-memory route registry: a dense slab with free-list
// recycling, a name index for O(1) lookup, and a timestamped cache of
// serialized analysis reports that memory pressure and expiration can shed.
package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ChrisYZZ/Cei-Noise/internal/route"
)

const (
	defaultSlabCap   = 1024
	defaultReportCap = 256
)

// Store errors.
var (
	ErrRouteNotFound  = errors.New("route not found")
	ErrDuplicateRoute = errors.New("route name already registered")
	ErrStoreFull      = errors.New("route store is full")
)

// Record is one stored route plus its registration metadata.
type Record struct {
	ID      uuid.UUID   `json:"id"`
	Seq     uint64      `json:"seq"`
	Route   route.Route `json:"route"`
	AddedAt time.Time   `json:"added_at"`
}

// slot is the internal storage unit: the public Record plus a liveness flag
// for the free-list allocator.
type slot struct {
	Record
	alive bool
}

// cachedReport is one serialized analysis result with its cache timestamp.
type cachedReport struct {
	data     []byte
	cachedAt time.Time
}

// Store is the thread-safe route registry.
//
// Storage layout:
//   - Dense slot slice with free-list recycling (cache-friendly)
//   - idIdx:   route UUID → slot index (primary)
//   - nameIdx: route name → slot index (names are unique)
//
// Report cache: serialized analysis results keyed by caller-chosen strings.
// Any route mutation invalidates the whole cache since every report is
// derived from the route set.
//
// Concurrency: sync.RWMutex; mutations take a write lock, lookups a read
// lock. Lookups return deep copies; callers never see internal slices.
type Store struct {
	mu sync.RWMutex

	slots []slot
	free  []uint32

	idIdx   map[uuid.UUID]uint32
	nameIdx map[string]uint32

	reports map[string]cachedReport

	seq       uint64
	maxRoutes int

	// Callbacks for route lifecycle (optional, for edge integration)
	onRouteAdded    func(name string)
	onRouteRemoved  func(name string)
	onReportEvicted func(key string, data []byte)
}

// Option configures a Store instance.
type Option func(*Store)

// WithCapacity sets the initial capacity for routes and cached reports.
func WithCapacity(routeCap, reportCap int) Option {
	return func(s *Store) {
		s.slots = make([]slot, 0, routeCap)
		s.idIdx = make(map[uuid.UUID]uint32, routeCap)
		s.nameIdx = make(map[string]uint32, routeCap)
		s.reports = make(map[string]cachedReport, reportCap)
	}
}

// WithMaxRoutes caps how many routes the store accepts; zero means unbounded.
func WithMaxRoutes(n int) Option {
	return func(s *Store) { s.maxRoutes = n }
}

// WithRouteAddedCallback sets a callback invoked after a route is added.
func WithRouteAddedCallback(fn func(name string)) Option {
	return func(s *Store) { s.onRouteAdded = fn }
}

// WithRouteRemovedCallback sets a callback invoked after a route is removed.
func WithRouteRemovedCallback(fn func(name string)) Option {
	return func(s *Store) { s.onRouteRemoved = fn }
}

// WithReportEvictedCallback sets a callback invoked with each report dropped
// by age (ExpireReports) or memory pressure (EvictReports), receiving the
// report's bytes. Reports dropped by InvalidateReports are stale by route
// mutation and are not passed on.
func WithReportEvictedCallback(fn func(key string, data []byte)) Option {
	return func(s *Store) { s.onReportEvicted = fn }
}

// New creates an empty Store with pre-allocated backing storage.
func New(opts ...Option) *Store {
	s := &Store{
		slots:   make([]slot, 0, defaultSlabCap),
		idIdx:   make(map[uuid.UUID]uint32, defaultSlabCap),
		nameIdx: make(map[string]uint32, defaultSlabCap),
		reports: make(map[string]cachedReport, defaultReportCap),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =========================================================================
// Mutation (write-locked)
// =========================================================================

// Add registers a route under a fresh UUID. The route is validated first;
// duplicate names and a full store are rejected. Adding invalidates all
// cached reports.
func (s *Store) Add(r route.Route) (Record, error) {
	if err := r.Validate(); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	if _, exists := s.nameIdx[r.Name]; exists {
		s.mu.Unlock()
		return Record{}, fmt.Errorf("%w: %q", ErrDuplicateRoute, r.Name)
	}
	if s.maxRoutes > 0 && len(s.idIdx) >= s.maxRoutes {
		s.mu.Unlock()
		return Record{}, fmt.Errorf("%w: limit %d", ErrStoreFull, s.maxRoutes)
	}

	s.seq++
	rec := Record{
		ID:      uuid.New(),
		Seq:     s.seq,
		Route:   cloneRoute(r),
		AddedAt: time.Now(),
	}

	idx := s.alloc()
	s.slots[idx].Record = rec
	s.slots[idx].alive = true
	s.idIdx[rec.ID] = idx
	s.nameIdx[r.Name] = idx

	s.invalidateLocked()

	callback := s.onRouteAdded
	s.mu.Unlock()

	// Notify outside the lock to prevent deadlock.
	if callback != nil {
		callback(r.Name)
	}
	return rec, nil
}

// Remove deletes a route by name. Removing invalidates all cached reports.
func (s *Store) Remove(name string) error {
	s.mu.Lock()
	idx, ok := s.nameIdx[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrRouteNotFound, name)
	}

	delete(s.idIdx, s.slots[idx].ID)
	delete(s.nameIdx, name)
	s.slots[idx] = slot{}
	s.free = append(s.free, idx)

	s.invalidateLocked()

	callback := s.onRouteRemoved
	s.mu.Unlock()

	if callback != nil {
		callback(name)
	}
	return nil
}

// =========================================================================
// Lookup (read-locked, copies are safe to use after return)
// =========================================================================

// Get returns a copy of the record with the given ID.
func (s *Store) Get(id uuid.UUID) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.idIdx[id]
	if !ok {
		return Record{}, false
	}
	return s.cloneRecord(idx), true
}

// GetByName returns a copy of the record with the given route name.
func (s *Store) GetByName(name string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.nameIdx[name]
	if !ok {
		return Record{}, false
	}
	return s.cloneRecord(idx), true
}

// List returns copies of all stored routes in insertion order.
func (s *Store) List() []route.Route {
	s.mu.RLock()
	recs := make([]Record, 0, len(s.idIdx))
	for i := range s.slots {
		if s.slots[i].alive {
			recs = append(recs, s.cloneRecord(uint32(i)))
		}
	}
	s.mu.RUnlock()

	sort.Slice(recs, func(a, b int) bool { return recs[a].Seq < recs[b].Seq })

	routes := make([]route.Route, len(recs))
	for i, rec := range recs {
		routes[i] = rec.Route
	}
	return routes
}

// Records returns copies of all records in insertion order.
func (s *Store) Records() []Record {
	s.mu.RLock()
	recs := make([]Record, 0, len(s.idIdx))
	for i := range s.slots {
		if s.slots[i].alive {
			recs = append(recs, s.cloneRecord(uint32(i)))
		}
	}
	s.mu.RUnlock()

	sort.Slice(recs, func(a, b int) bool { return recs[a].Seq < recs[b].Seq })
	return recs
}

// Len returns the number of stored routes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.idIdx)
}

// =========================================================================
// Report cache
// =========================================================================

// CacheReport stores a serialized analysis result under key.
func (s *Store) CacheReport(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, len(data))
	copy(buf, data)
	s.reports[key] = cachedReport{data: buf, cachedAt: time.Now()}
}

// Report returns a cached report and its cache time.
func (s *Store) Report(key string) ([]byte, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rep, ok := s.reports[key]
	if !ok {
		return nil, time.Time{}, false
	}
	buf := make([]byte, len(rep.data))
	copy(buf, rep.data)
	return buf, rep.cachedAt, true
}

// ReportCount returns how many reports are cached.
func (s *Store) ReportCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.reports)
}

// InvalidateReports drops every cached report and returns how many were held.
func (s *Store) InvalidateReports() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invalidateLocked()
}

// ExpireReports drops reports older than maxAge and returns how many were
// evicted.
func (s *Store) ExpireReports(maxAge time.Duration) int {
	s.mu.Lock()

	cutoff := time.Now().Add(-maxAge)
	var dropped []cachedReport
	var keys []string
	for key, rep := range s.reports {
		if rep.cachedAt.Before(cutoff) {
			delete(s.reports, key)
			keys = append(keys, key)
			dropped = append(dropped, rep)
		}
	}
	callback := s.onReportEvicted
	s.mu.Unlock()

	if callback != nil {
		for i, key := range keys {
			callback(key, dropped[i].data)
		}
	}
	return len(keys)
}

// EvictReports drops the n oldest reports and returns how many were evicted.
// Used by the memory monitor to shed cache under pressure.
func (s *Store) EvictReports(n int) int {
	s.mu.Lock()

	if n <= 0 || len(s.reports) == 0 {
		s.mu.Unlock()
		return 0
	}

	type aged struct {
		key string
		at  time.Time
	}
	order := make([]aged, 0, len(s.reports))
	for key, rep := range s.reports {
		order = append(order, aged{key: key, at: rep.cachedAt})
	}
	sort.Slice(order, func(a, b int) bool { return order[a].at.Before(order[b].at) })

	if n > len(order) {
		n = len(order)
	}
	dropped := make([]cachedReport, 0, n)
	for _, o := range order[:n] {
		dropped = append(dropped, s.reports[o.key])
		delete(s.reports, o.key)
	}
	callback := s.onReportEvicted
	s.mu.Unlock()

	if callback != nil {
		for i, o := range order[:n] {
			callback(o.key, dropped[i].data)
		}
	}
	return n
}

// =========================================================================
// Internal helpers
// =========================================================================

// alloc returns a slot index, reusing freed slots when available.
func (s *Store) alloc() uint32 {
	if n := len(s.free); n > 0 {
		idx := s.free[n-1]
		s.free = s.free[:n-1]
		return idx
	}
	idx := uint32(len(s.slots))
	s.slots = append(s.slots, slot{})
	return idx
}

// invalidateLocked clears the report cache. Caller holds the write lock.
func (s *Store) invalidateLocked() int {
	n := len(s.reports)
	for key := range s.reports {
		delete(s.reports, key)
	}
	return n
}

// cloneRecord deep-copies the record at idx (copies the waypoint slice).
func (s *Store) cloneRecord(idx uint32) Record {
	rec := s.slots[idx].Record
	rec.Route = cloneRoute(rec.Route)
	return rec
}

func cloneRoute(r route.Route) route.Route {
	if len(r.Path) > 0 {
		path := make([]route.Waypoint, len(r.Path))
		copy(path, r.Path)
		r.Path = path
	}
	return r
}
