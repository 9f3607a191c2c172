package engine

import "math"

// earthRadiusMiles matches the fleet team's historical constant.
const earthRadiusMiles = 3956.0

// Haversine returns the great-circle distance in miles between two points.
// Symmetric by construction.
func Haversine(a, b Coord) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusMiles * c
}

// DistanceCache memoizes pairwise distances for one request. It is an
// explicit object passed into the model builder rather than ambient state,
// so concurrent solves stay independent.
type DistanceCache struct {
	m map[[2]string]float64
}

func NewDistanceCache() *DistanceCache {
	return &DistanceCache{m: map[[2]string]float64{}}
}

// Between returns the distance in miles between two located entities.
// Missing coordinates on either side yield +Inf (undefined), which the
// model builder treats as a forced exclusion under an active max-hop cap.
func (dc *DistanceCache) Between(aID string, a *Coord, bID string, b *Coord) float64 {
	if a == nil || b == nil {
		return math.Inf(1)
	}
	k := [2]string{aID, bID}
	if bID < aID {
		k = [2]string{bID, aID}
	}
	if d, ok := dc.m[k]; ok {
		return d
	}
	d := Haversine(*a, *b)
	dc.m[k] = d
	return d
}

// Len reports the number of memoized pairs (diagnostics only).
func (dc *DistanceCache) Len() int { return len(dc.m) }
