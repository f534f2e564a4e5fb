package geo

import (
	"math"
	"testing"
)

func TestDistance(t *testing.T) {
	lagos := Point{Latitude: 6.5244, Longitude: 3.3792}

	cases := []struct {
		name     string
		a, b     Point
		min, max float64
	}{
		{"identical", lagos, lagos, 0, 0},
		{"lagos ~9km north-east", lagos, Point{Latitude: 6.6, Longitude: 3.4}, 8500, 9000},
		{"one degree of latitude", Point{0, 0}, Point{1, 0}, 111100, 111300},
		{"antipodal", Point{0, 0}, Point{0, 180}, math.Pi*earthRadiusMeters - 1, math.Pi*earthRadiusMeters + 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := Distance(tc.a, tc.b)
			if d < tc.min || d > tc.max {
				t.Fatalf("distance = %.1fm, want within [%.1f, %.1f]", d, tc.min, tc.max)
			}
			if back := Distance(tc.b, tc.a); math.Abs(back-d) > 1e-6 {
				t.Fatalf("distance not symmetric: %.6f vs %.6f", d, back)
			}
		})
	}
}
