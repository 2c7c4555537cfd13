// Package geo provides geographic utility functions for facility dispatch and
// the route/parking registry.
//
// All distance calculations use the Haversine formula on WGS-84 coordinates.
// Nearest-neighbour queries are linear scans; the candidate sets handed to
// them (facilities in a radius, routes of one event site) are small.
package geo

import (
	"math"
	"sort"

	"github.com/Kunalrpawar/crowd-management-sub001/internal/model"
)

// ─── Constants ──────────────────────────────────────────────

const (
	// EarthRadiusKm is the mean radius of Earth in kilometers.
	EarthRadiusKm = 6371.0

	// AverageSpeedKmph is the assumed ambulance speed through crowded lanes.
	// Used for ETA estimates only.
	AverageSpeedKmph = 20.0
)

// ─── Distance ───────────────────────────────────────────────

// HaversineKm returns the great-circle distance between two points in kilometers.
//
// Complexity: O(1)
func HaversineKm(a, b model.Location) float64 {
	dLat := degToRad(b.Lat - a.Lat)
	dLon := degToRad(b.Lon - a.Lon)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)

	h := sinLat*sinLat +
		math.Cos(degToRad(a.Lat))*math.Cos(degToRad(b.Lat))*sinLon*sinLon

	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// EstimateTimeMinutes returns the estimated direct travel time between two
// points in minutes.
func EstimateTimeMinutes(a, b model.Location) float64 {
	return (HaversineKm(a, b) / AverageSpeedKmph) * 60.0
}

// ─── Nearest Neighbour ──────────────────────────────────────

// Located is anything with a stable identifier and a position.
type Located interface {
	GeoID() string
	GeoPoint() model.Location
}

// Ranked pairs an item with its distance from the query point.
type Ranked[T Located] struct {
	Item       T
	DistanceKm float64
}

// KNearest returns up to k items within maxKm of point, closest first.
// Exactly equal distances are ordered by ascending GeoID so the result is
// deterministic regardless of input order. k <= 0 means no limit and
// maxKm <= 0 means no radius.
//
// Complexity: O(N log N)
func KNearest[T Located](point model.Location, items []T, k int, maxKm float64) []Ranked[T] {
	ranked := make([]Ranked[T], 0, len(items))
	for _, it := range items {
		d := HaversineKm(point, it.GeoPoint())
		if maxKm > 0 && d > maxKm {
			continue
		}
		ranked = append(ranked, Ranked[T]{Item: it, DistanceKm: d})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].DistanceKm != ranked[j].DistanceKm {
			return ranked[i].DistanceKm < ranked[j].DistanceKm
		}
		return ranked[i].Item.GeoID() < ranked[j].Item.GeoID()
	})

	if k > 0 && len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked
}

// Nearest returns the closest item within maxKm of point.
// The boolean is false when nothing lies within range.
func Nearest[T Located](point model.Location, items []T, maxKm float64) (Ranked[T], bool) {
	var (
		best  Ranked[T]
		found bool
	)
	for _, it := range items {
		d := HaversineKm(point, it.GeoPoint())
		if maxKm > 0 && d > maxKm {
			continue
		}
		if !found || d < best.DistanceKm || (d == best.DistanceKm && it.GeoID() < best.Item.GeoID()) {
			best = Ranked[T]{Item: it, DistanceKm: d}
			found = true
		}
	}
	return best, found
}

// ─── Helpers ────────────────────────────────────────────────

func degToRad(deg float64) float64 {
	return deg * (math.Pi / 180.0)
}
