// Package gis resolves which consumers sit near a leak coordinate.
package gis

import (
	"fmt"
	"math"
	"sort"

	"hydrotwin/internal/model"
)

const EarthRadiusKM = 6371.0

const DefaultMaxDistanceKM = 0.5

// Haversine returns the great-circle distance between two points in kilometers.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKM * c
}

// FindNear orders consumers by distance to the leak and keeps those within
// maxDistanceKM. When none qualify it returns only the nearest consumer, so
// the result is never empty for a non-empty registry.
func FindNear(leak model.LeakLocation, consumers []model.Consumer, maxDistanceKM float64) ([]model.AffectedConsumer, error) {
	if len(consumers) == 0 {
		return nil, fmt.Errorf("find consumers near leak: %w", model.ErrEmptyRegistry)
	}
	ranked := make([]model.AffectedConsumer, len(consumers))
	for i, c := range consumers {
		d := Haversine(leak.Lat, leak.Lon, c.Lat, c.Lon)
		ranked[i] = model.NewAffectedConsumer(c, d, roundTo(d, 3))
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].ExactDistanceKM() < ranked[j].ExactDistanceKM()
	})

	cut := 0
	for cut < len(ranked) && ranked[cut].DistanceToLeakKM <= maxDistanceKM {
		cut++
	}
	if cut == 0 {
		return ranked[:1], nil
	}
	return ranked[:cut], nil
}

// Nearest is FindNear reduced to its first entry.
func Nearest(leak model.LeakLocation, consumers []model.Consumer) (model.AffectedConsumer, error) {
	near, err := FindNear(leak, consumers, 0)
	if err != nil {
		return model.AffectedConsumer{}, err
	}
	return near[0], nil
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
