package service

import (
	"math"

	"fare/internal/domain"
)

const earthRadiusKm = 6371.0

// GreatCircleDistanceKm returns the haversine distance in kilometres between
// two points in decimal degrees.
func GreatCircleDistanceKm(a, b domain.Point) float64 {
	dLat := degreesToRadians(b.Latitude - a.Latitude)
	dLng := degreesToRadians(b.Longitude - a.Longitude)

	rLat1 := degreesToRadians(a.Latitude)
	rLat2 := degreesToRadians(b.Latitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusKm * c
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

func isValidLatitude(lat float64) bool {
	return lat >= -90 && lat <= 90
}

func isValidLongitude(lng float64) bool {
	return lng >= -180 && lng <= 180
}

func isValidSample(s domain.LocationSample) bool {
	return isValidLatitude(s.Latitude) && isValidLongitude(s.Longitude)
}
