package geo

import "strings"

// CoarsePrecision is the geohash length exposed for other users' and places'
// locations. Five characters is roughly a 5 km cell.
const CoarsePrecision = 5

// base32 is the geohash base32 alphabet.
const base32 = "0123456789bcdefghjkmnpqrstuvwxyz"

// Encode encodes c into a geohash of the given precision using the standard
// interleaved-bit algorithm. A precision below 1 uses CoarsePrecision.
func Encode(c Coordinates, precision int) string {
	if precision < 1 {
		precision = CoarsePrecision
	}
	c = c.Clamp()

	latRange := [2]float64{-90.0, 90.0}
	lngRange := [2]float64{-180.0, 180.0}

	var hash strings.Builder
	hash.Grow(precision)

	bits := 0
	var ch uint

	even := true
	for hash.Len() < precision {
		if even {
			mid := (lngRange[0] + lngRange[1]) / 2
			if c.Longitude > mid {
				ch |= 1 << (4 - bits)
				lngRange[0] = mid
			} else {
				lngRange[1] = mid
			}
		} else {
			mid := (latRange[0] + latRange[1]) / 2
			if c.Latitude > mid {
				ch |= 1 << (4 - bits)
				latRange[0] = mid
			} else {
				latRange[1] = mid
			}
		}

		even = !even
		bits++

		if bits == 5 {
			hash.WriteByte(base32[ch])
			bits = 0
			ch = 0
		}
	}

	return hash.String()
}

// Coarse returns the CoarsePrecision geohash of c, or "" when c is nil or
// invalid. Callers expose this instead of raw coordinates.
func Coarse(c *Coordinates) string {
	if c == nil || !c.Valid() {
		return ""
	}
	return Encode(*c, CoarsePrecision)
}
