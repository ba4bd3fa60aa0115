package catalog

import (
	"math"

	"github.com/adithya-n05/ICHack26-sub001/pkg/models"
)

const earthRadiusKm = 6371.0

// DistanceKm is the great-circle distance between two points.
func DistanceKm(a, b models.GeoPoint) float64 {
	lat1, lat2 := radians(a.Lat), radians(b.Lat)
	dLat := lat2 - lat1
	dLng := radians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// ImpactRadiusKm estimates how far an event of the given kind and 0–10
// severity reaches.
func ImpactRadiusKm(kind models.RecordKind, severity float64) float64 {
	base := 300.0
	switch {
	case severity <= 3:
		base = 50
	case severity <= 6:
		base = 150
	}
	switch kind {
	case models.RecordWeather:
		return base * 1.5
	case models.RecordWar:
		return base * 2
	case models.RecordGeopolitical:
		return base * 1.3
	case models.RecordTariff:
		return base * 0.5
	case models.RecordInfra:
		return base * 0.8
	default:
		return base
	}
}
