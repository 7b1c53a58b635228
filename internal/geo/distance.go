// Package geo provides coordinate validation, great-circle distance and
// coarse geohash encoding for privacy-preserving location display.
package geo

import "math"

// EarthRadiusKm is the mean Earth radius used by DistanceKm.
const EarthRadiusKm = 6371.0088

// kmPerMile converts statute miles to kilometres.
const kmPerMile = 1.609344

// Coordinates is a latitude/longitude pair in degrees.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether both components are finite and within geographic ranges.
func (c Coordinates) Valid() bool {
	if math.IsNaN(c.Latitude) || math.IsInf(c.Latitude, 0) ||
		math.IsNaN(c.Longitude) || math.IsInf(c.Longitude, 0) {
		return false
	}
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

// Clamp returns c with latitude clamped to [-90, 90] and longitude wrapped
// into [-180, 180]. Non-finite components become 0.
func (c Coordinates) Clamp() Coordinates {
	lat, lng := c.Latitude, c.Longitude
	if math.IsNaN(lat) || math.IsInf(lat, 0) {
		lat = 0
	}
	if math.IsNaN(lng) || math.IsInf(lng, 0) {
		lng = 0
	}
	lat = math.Max(-90, math.Min(90, lat))
	if lng < -180 || lng > 180 {
		lng = math.Mod(lng+180, 360)
		if lng < 0 {
			lng += 360
		}
		lng -= 180
	}
	return Coordinates{Latitude: lat, Longitude: lng}
}

// DistanceKm returns the haversine great-circle distance between a and b in
// kilometres. Inputs are clamped first so the result is always finite.
func DistanceKm(a, b Coordinates) float64 {
	a, b = a.Clamp(), b.Clamp()

	lat1 := toRadians(a.Latitude)
	lat2 := toRadians(b.Latitude)
	dLat := toRadians(b.Latitude - a.Latitude)
	dLng := toRadians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	// Rounding can push h marginally outside [0, 1] for antipodal points.
	h = math.Max(0, math.Min(1, h))

	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

// DistanceMiles is DistanceKm converted to statute miles.
func DistanceMiles(a, b Coordinates) float64 {
	return KmToMiles(DistanceKm(a, b))
}

// KmToMiles converts kilometres to statute miles.
func KmToMiles(km float64) float64 {
	return km / kmPerMile
}

// MilesToKm converts statute miles to kilometres.
func MilesToKm(miles float64) float64 {
	return miles * kmPerMile
}

// DistanceBetween returns the distance in miles between two optional points
// and whether it could be computed. A nil or invalid point yields ok=false.
func DistanceBetween(a, b *Coordinates) (miles float64, ok bool) {
	if a == nil || b == nil || !a.Valid() || !b.Valid() {
		return 0, false
	}
	return DistanceMiles(*a, *b), true
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
