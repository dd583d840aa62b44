package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// EarthRadiusMeters is the WGS-84 mean earth radius
const EarthRadiusMeters = 6371008.8

// Position is a point on the map with optional altitude
type Position struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
	Alt float64 `json:"alt,omitempty" yaml:"alt,omitempty"`
}

// NewPosition creates a position without altitude
func NewPosition(lat, lng float64) Position {
	return Position{Lat: lat, Lng: lng}
}

// String returns "lat,lng"
func (p Position) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)
}

// ParseRoute reads "lat,lng;lat,lng;..." into positions. An empty string is
// an empty route.
func ParseRoute(s string) ([]Position, error) {
	var route []Position
	for i, stop := range strings.Split(s, ";") {
		stop = strings.TrimSpace(stop)
		if stop == "" {
			continue
		}
		parts := strings.Split(stop, ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("stop %d: expected lat,lng, got %q", i+1, stop)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("stop %d: invalid latitude: %w", i+1, err)
		}
		lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("stop %d: invalid longitude: %w", i+1, err)
		}
		pos := NewPosition(lat, lng)
		if !pos.Valid() {
			return nil, fmt.Errorf("stop %d: %s is out of range", i+1, pos)
		}
		route = append(route, pos)
	}
	return route, nil
}

// Valid reports whether the coordinates are inside the usual bounds
func (p Position) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Distance returns the great-circle distance in meters between two positions.
// Altitude is ignored.
func Distance(a, b Position) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := toRadians(b.Lat - a.Lat)
	dLng := toRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)

	return 2 * EarthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Offset returns a position moved by the given meters north and east
func Offset(p Position, northMeters, eastMeters float64) Position {
	dLat := northMeters / EarthRadiusMeters
	dLng := eastMeters / (EarthRadiusMeters * math.Cos(toRadians(p.Lat)))
	return Position{
		Lat: p.Lat + toDegrees(dLat),
		Lng: p.Lng + toDegrees(dLng),
		Alt: p.Alt,
	}
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

func toDegrees(rad float64) float64 {
	return rad * 180 / math.Pi
}
