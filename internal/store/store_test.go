package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChrisYZZ/Cei-Noise/internal/geo"
	"github.com/ChrisYZZ/Cei-Noise/internal/route"
)

func testRoute(name string) route.Route {
	return route.Route{
		Name:      name,
		BaseNoise: 80,
		Path: []route.Waypoint{
			{Point: geo.Point{Lon: 113.30, Lat: 23.10, Height: 100}, Time: 0},
			{Point: geo.Point{Lon: 113.31, Lat: 23.11, Height: 100}, Time: 120},
		},
	}
}

func TestAddAndGet(t *testing.T) {
	s := New()

	rec, err := s.Add(testRoute("alpha"))
	require.NoError(t, err)
	assert.NotEqual(t, rec.ID.String(), "00000000-0000-0000-0000-000000000000")
	assert.Equal(t, uint64(1), rec.Seq)
	assert.False(t, rec.AddedAt.IsZero())

	got, ok := s.Get(rec.ID)
	require.True(t, ok)
	assert.Equal(t, "alpha", got.Route.Name)

	byName, ok := s.GetByName("alpha")
	require.True(t, ok)
	assert.Equal(t, rec.ID, byName.ID)

	assert.Equal(t, 1, s.Len())
}

func TestAddValidates(t *testing.T) {
	s := New()
	_, err := s.Add(route.Route{Name: "stub"})
	assert.ErrorIs(t, err, route.ErrTooFewWaypoints)
	assert.Zero(t, s.Len())
}

func TestAddRejectsDuplicateName(t *testing.T) {
	s := New()
	_, err := s.Add(testRoute("alpha"))
	require.NoError(t, err)

	_, err = s.Add(testRoute("alpha"))
	assert.ErrorIs(t, err, ErrDuplicateRoute)
	assert.Equal(t, 1, s.Len())
}

func TestMaxRoutes(t *testing.T) {
	s := New(WithMaxRoutes(2))
	_, err := s.Add(testRoute("a"))
	require.NoError(t, err)
	_, err = s.Add(testRoute("b"))
	require.NoError(t, err)

	_, err = s.Add(testRoute("c"))
	assert.ErrorIs(t, err, ErrStoreFull)
}

func TestRemove(t *testing.T) {
	s := New()
	rec, err := s.Add(testRoute("alpha"))
	require.NoError(t, err)

	require.NoError(t, s.Remove("alpha"))
	assert.Zero(t, s.Len())

	_, ok := s.Get(rec.ID)
	assert.False(t, ok)
	_, ok = s.GetByName("alpha")
	assert.False(t, ok)

	err = s.Remove("alpha")
	assert.ErrorIs(t, err, ErrRouteNotFound)
}

func TestSlotReuseAfterRemove(t *testing.T) {
	s := New()
	_, err := s.Add(testRoute("a"))
	require.NoError(t, err)
	require.NoError(t, s.Remove("a"))

	rec, err := s.Add(testRoute("b"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rec.Seq)

	got, ok := s.GetByName("b")
	require.True(t, ok)
	assert.Equal(t, rec.ID, got.ID)
}

func TestListInsertionOrder(t *testing.T) {
	s := New()
	for _, name := range []string{"third", "first", "second"} {
		_, err := s.Add(testRoute(name))
		require.NoError(t, err)
	}

	routes := s.List()
	require.Len(t, routes, 3)
	assert.Equal(t, "third", routes[0].Name)
	assert.Equal(t, "first", routes[1].Name)
	assert.Equal(t, "second", routes[2].Name)
}

func TestListCopiesAreIsolated(t *testing.T) {
	s := New()
	_, err := s.Add(testRoute("alpha"))
	require.NoError(t, err)

	routes := s.List()
	routes[0].Path[0].Lon = 0

	again := s.List()
	assert.InDelta(t, 113.30, again[0].Path[0].Lon, 1e-9)
}

func TestCallbacks(t *testing.T) {
	var added, removed []string
	s := New(
		WithRouteAddedCallback(func(name string) { added = append(added, name) }),
		WithRouteRemovedCallback(func(name string) { removed = append(removed, name) }),
	)

	_, err := s.Add(testRoute("alpha"))
	require.NoError(t, err)
	require.NoError(t, s.Remove("alpha"))

	assert.Equal(t, []string{"alpha"}, added)
	assert.Equal(t, []string{"alpha"}, removed)
}

// ---------------------------------------------------------------------------
// Report cache
// ---------------------------------------------------------------------------

func TestReportCache(t *testing.T) {
	s := New()
	s.CacheReport("conflicts", []byte(`{"total_conflicts":0}`))

	data, at, ok := s.Report("conflicts")
	require.True(t, ok)
	assert.JSONEq(t, `{"total_conflicts":0}`, string(data))
	assert.False(t, at.IsZero())

	_, _, ok = s.Report("missing")
	assert.False(t, ok)
	assert.Equal(t, 1, s.ReportCount())
}

func TestReportCacheInvalidatedByMutation(t *testing.T) {
	s := New()
	s.CacheReport("conflicts", []byte("{}"))

	_, err := s.Add(testRoute("alpha"))
	require.NoError(t, err)
	assert.Zero(t, s.ReportCount())

	s.CacheReport("conflicts", []byte("{}"))
	require.NoError(t, s.Remove("alpha"))
	assert.Zero(t, s.ReportCount())
}

func TestReportCopiesAreIsolated(t *testing.T) {
	s := New()
	payload := []byte(`{"a":1}`)
	s.CacheReport("r", payload)
	payload[0] = 'X'

	data, _, ok := s.Report("r")
	require.True(t, ok)
	assert.Equal(t, `{"a":1}`, string(data))
}

func TestEvictReports(t *testing.T) {
	s := New()
	s.CacheReport("oldest", []byte("1"))
	time.Sleep(2 * time.Millisecond)
	s.CacheReport("middle", []byte("2"))
	time.Sleep(2 * time.Millisecond)
	s.CacheReport("newest", []byte("3"))

	assert.Equal(t, 2, s.EvictReports(2))
	assert.Equal(t, 1, s.ReportCount())

	_, _, ok := s.Report("newest")
	assert.True(t, ok)
}

func TestExpireReports(t *testing.T) {
	s := New()
	s.CacheReport("stale", []byte("1"))
	time.Sleep(5 * time.Millisecond)

	assert.Equal(t, 1, s.ExpireReports(time.Millisecond))
	assert.Zero(t, s.ReportCount())

	s.CacheReport("fresh", []byte("2"))
	assert.Zero(t, s.ExpireReports(time.Minute))
}

func TestInvalidateReports(t *testing.T) {
	s := New()
	s.CacheReport("a", []byte("1"))
	s.CacheReport("b", []byte("2"))

	assert.Equal(t, 2, s.InvalidateReports())
	assert.Zero(t, s.ReportCount())
}

func TestReportEvictedCallbackOnEvict(t *testing.T) {
	evicted := map[string]string{}
	s := New(WithReportEvictedCallback(func(key string, data []byte) {
		evicted[key] = string(data)
	}))

	s.CacheReport("oldest", []byte("1"))
	time.Sleep(2 * time.Millisecond)
	s.CacheReport("newest", []byte("2"))

	assert.Equal(t, 1, s.EvictReports(1))
	assert.Equal(t, map[string]string{"oldest": "1"}, evicted)
}

func TestReportEvictedCallbackOnExpire(t *testing.T) {
	evicted := map[string]string{}
	s := New(WithReportEvictedCallback(func(key string, data []byte) {
		evicted[key] = string(data)
	}))

	s.CacheReport("stale", []byte(`{"total_conflicts":3}`))
	time.Sleep(5 * time.Millisecond)
	s.CacheReport("fresh", []byte("2"))

	assert.Equal(t, 1, s.ExpireReports(3*time.Millisecond))
	assert.Equal(t, map[string]string{"stale": `{"total_conflicts":3}`}, evicted)
}

func TestReportEvictedCallbackSkipsInvalidation(t *testing.T) {
	calls := 0
	s := New(WithReportEvictedCallback(func(key string, data []byte) {
		calls++
	}))

	s.CacheReport("conflicts", []byte("{}"))
	s.InvalidateReports()
	assert.Zero(t, calls)
}
