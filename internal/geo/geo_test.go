package geo_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routewise/routewise/internal/geo"
)

func TestCoordinate_Validate(t *testing.T) {
	tests := []struct {
		name    string
		coord   geo.Coordinate
		wantErr bool
	}{
		{name: "origin", coord: geo.Coordinate{Lat: 0, Lon: 0}},
		{name: "amsterdam", coord: geo.Coordinate{Lat: 52.3676, Lon: 4.9041}},
		{name: "north pole", coord: geo.Coordinate{Lat: 90, Lon: 180}},
		{name: "south west corner", coord: geo.Coordinate{Lat: -90, Lon: -180}},
		{name: "latitude too high", coord: geo.Coordinate{Lat: 90.0001, Lon: 0}, wantErr: true},
		{name: "longitude too low", coord: geo.Coordinate{Lat: 0, Lon: -180.5}, wantErr: true},
		{name: "NaN latitude", coord: geo.Coordinate{Lat: math.NaN(), Lon: 0}, wantErr: true},
		{name: "infinite longitude", coord: geo.Coordinate{Lat: 0, Lon: math.Inf(1)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.coord.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, geo.ErrInvalidCoordinate)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestHaversine_Identity(t *testing.T) {
	points := []geo.Coordinate{
		{Lat: 0, Lon: 0},
		{Lat: 52.3676, Lon: 4.9041},
		{Lat: -33.8688, Lon: 151.2093},
		{Lat: 89.9, Lon: -179.9},
	}
	for _, p := range points {
		assert.Zero(t, geo.Haversine(p, p), "distance from %v to itself", p)
	}
}

func TestHaversine_Symmetry(t *testing.T) {
	a := geo.Coordinate{Lat: 52.3676, Lon: 4.9041}
	b := geo.Coordinate{Lat: 51.9244, Lon: 4.4777}

	assert.InDelta(t, geo.Haversine(a, b), geo.Haversine(b, a), 1e-9)
}

func TestHaversine_TriangleInequality(t *testing.T) {
	a := geo.Coordinate{Lat: 52.3676, Lon: 4.9041}
	b := geo.Coordinate{Lat: 52.0894, Lon: 5.1102}
	c := geo.Coordinate{Lat: 51.4416, Lon: 5.4697}

	ab := geo.Haversine(a, b)
	bc := geo.Haversine(b, c)
	ac := geo.Haversine(a, c)

	assert.LessOrEqual(t, ac, ab+bc+1e-6)
}

func TestHaversine_KnownDistances(t *testing.T) {
	// One degree of arc on a 6371 km sphere.
	oneDegree := 2 * math.Pi * geo.EarthRadiusMeters / 360

	tests := []struct {
		name     string
		a, b     geo.Coordinate
		expected float64
		delta    float64
	}{
		{
			name:     "one degree of latitude",
			a:        geo.Coordinate{Lat: 0, Lon: 0},
			b:        geo.Coordinate{Lat: 1, Lon: 0},
			expected: oneDegree,
			delta:    0.001,
		},
		{
			name:     "one degree of longitude at the equator",
			a:        geo.Coordinate{Lat: 0, Lon: 0},
			b:        geo.Coordinate{Lat: 0, Lon: 1},
			expected: oneDegree,
			delta:    0.001,
		},
		{
			name:     "amsterdam to rotterdam",
			a:        geo.Coordinate{Lat: 52.3676, Lon: 4.9041},
			b:        geo.Coordinate{Lat: 51.9244, Lon: 4.4777},
			expected: 57000,
			delta:    1500,
		},
		{
			name:     "antipodal points",
			a:        geo.Coordinate{Lat: 0, Lon: 0},
			b:        geo.Coordinate{Lat: 0, Lon: 180},
			expected: math.Pi * geo.EarthRadiusMeters,
			delta:    0.001,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, geo.Haversine(tt.a, tt.b), tt.delta)
		})
	}
}

func TestEstimateTravelTime(t *testing.T) {
	// 30 km at 30 km/h is one hour.
	assert.Equal(t, time.Hour, geo.EstimateTravelTime(30000))
	assert.InDelta(t, 60.0, geo.EstimateMinutes(30000), 1e-9)
	assert.InDelta(t, 2.0, geo.EstimateMinutes(1000), 1e-9)
	assert.Zero(t, geo.EstimateSeconds(0))
	assert.Zero(t, geo.EstimateSeconds(-10))
}
