// Package geo resolves the physical location of a check-in client and measures
// distances between coordinates.
package geo

import (
	"errors"
	"math"
	"time"
)

const earthRadiusMeters = 6371000.0

// Source identifies where a reading came from.
type Source string

const (
	SourceGPS Source = "gps"
	SourceIP  Source = "ip"
)

// ErrLocationUnavailable is returned when neither the device nor IP geolocation
// produced a usable reading.
var ErrLocationUnavailable = errors.New("location unavailable")

// Point is a latitude/longitude pair in degrees.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Reading is a best-effort location with accuracy metadata.
type Reading struct {
	Latitude   float64   `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude  float64   `json:"longitude" validate:"gte=-180,lte=180"`
	Accuracy   float64   `json:"accuracy" validate:"gte=0"`
	Source     Source    `json:"source"`
	Address    string    `json:"address,omitempty"`
	Warning    string    `json:"warning,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

// Point returns the coordinates of the reading.
func (r Reading) Point() Point {
	return Point{Latitude: r.Latitude, Longitude: r.Longitude}
}

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b Point) float64 {
	lat1 := radians(a.Latitude)
	lat2 := radians(b.Latitude)
	dLat := radians(b.Latitude - a.Latitude)
	dLon := radians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
