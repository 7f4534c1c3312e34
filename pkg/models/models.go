// Package models holds the wire-level payloads shared between the HTTP API,
// the Kafka topics and the websocket alert stream.
package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/ChrisYZZ/Cei-Noise/internal/geo"
	"github.com/ChrisYZZ/Cei-Noise/internal/route"
)

// WaypointPayload is one waypoint in a submitted route.
type WaypointPayload struct {
	Longitude float64 `json:"lon"`
	Latitude  float64 `json:"lat"`
	Height    float64 `json:"height"`
	Time      float64 `json:"time"`
}

// RoutePayload is a route submission, arriving either on the HTTP API or the
// route-submissions Kafka topic.
type RoutePayload struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	BaseNoise   float64           `json:"base_noise,omitempty"`
	Path        []WaypointPayload `json:"path"`
}

// ToRoute converts the payload into the internal route type.
func (p RoutePayload) ToRoute() route.Route {
	path := make([]route.Waypoint, len(p.Path))
	for i, wp := range p.Path {
		path[i] = route.Waypoint{
			Point: geo.Point{Lon: wp.Longitude, Lat: wp.Latitude, Height: wp.Height},
			Time:  wp.Time,
		}
	}
	return route.Route{
		Name:        p.Name,
		Description: p.Description,
		BaseNoise:   p.BaseNoise,
		Path:        path,
	}
}

// FromRoute converts an internal route into its wire payload.
func FromRoute(r route.Route) RoutePayload {
	path := make([]WaypointPayload, len(r.Path))
	for i, wp := range r.Path {
		path[i] = WaypointPayload{
			Longitude: wp.Lon,
			Latitude:  wp.Lat,
			Height:    wp.Height,
			Time:      wp.Time,
		}
	}
	return RoutePayload{
		Name:        r.Name,
		Description: r.Description,
		BaseNoise:   r.BaseNoise,
		Path:        path,
	}
}

// ConflictAlert is published on the conflict-alerts topic and broadcast to
// websocket clients whenever a scan finds a conflict.
type ConflictAlert struct {
	ID        uuid.UUID `json:"id"`
	EmittedAt time.Time `json:"emitted_at"`

	RouteA      string  `json:"route_a"`
	RouteB      string  `json:"route_b"`
	StartTime   float64 `json:"start_time"`
	EndTime     float64 `json:"end_time"`
	Duration    float64 `json:"duration"`
	MinDistance float64 `json:"min_distance"`
	Severity    string  `json:"severity"`

	Longitude float64 `json:"lon"`
	Latitude  float64 `json:"lat"`
	Height    float64 `json:"height"`
}

// HeatmapPointPayload is one grid cell of a noise heatmap response.
type HeatmapPointPayload struct {
	Longitude float64 `json:"lng"`
	Latitude  float64 `json:"lat"`
	Noise     float64 `json:"noise"`
	Value     float64 `json:"value"`
}

// HeatmapPayload is the noise heatmap response for one route.
type HeatmapPayload struct {
	RouteName string                `json:"route_name"`
	GridSizeM float64               `json:"grid_size"`
	MinNoise  float64               `json:"min_noise"`
	MaxNoise  float64               `json:"max_noise"`
	Points    []HeatmapPointPayload `json:"points"`
}
