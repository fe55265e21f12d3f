// Package geo provides coordinate validation and great-circle estimates.
package geo

import (
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	// EarthRadiusMeters is the mean Earth radius used by Haversine.
	EarthRadiusMeters = 6371000.0

	// FallbackSpeedKmh is the average speed assumed when estimating travel time
	// from a straight-line distance.
	FallbackSpeedKmh = 30.0
)

// ErrInvalidCoordinate is returned when a coordinate is out of range or not finite.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Coordinate is a WGS84 point in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// Validate reports whether the coordinate is finite and within range.
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Lat) || math.IsInf(c.Lat, 0) {
		return fmt.Errorf("%w: latitude is not a finite number", ErrInvalidCoordinate)
	}
	if math.IsNaN(c.Lon) || math.IsInf(c.Lon, 0) {
		return fmt.Errorf("%w: longitude is not a finite number", ErrInvalidCoordinate)
	}
	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("%w: latitude %f out of range [-90, 90]", ErrInvalidCoordinate, c.Lat)
	}
	if c.Lon < -180 || c.Lon > 180 {
		return fmt.Errorf("%w: longitude %f out of range [-180, 180]", ErrInvalidCoordinate, c.Lon)
	}
	return nil
}

// String formats the coordinate as "lat,lon".
func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
}

// Haversine returns the great-circle distance between a and b in meters.
func Haversine(a, b Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	sinDLat := math.Sin(dLat / 2)
	sinDLon := math.Sin(dLon / 2)

	h := sinDLat*sinDLat + math.Cos(lat1)*math.Cos(lat2)*sinDLon*sinDLon
	// Rounding can push h a hair above 1 for antipodal points.
	if h > 1 {
		h = 1
	}
	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h))
}

// EstimateTravelTime converts a distance in meters to a travel time at FallbackSpeedKmh.
func EstimateTravelTime(meters float64) time.Duration {
	return time.Duration(EstimateSeconds(meters) * float64(time.Second))
}

// EstimateSeconds converts a distance in meters to seconds at FallbackSpeedKmh.
func EstimateSeconds(meters float64) float64 {
	if meters <= 0 {
		return 0
	}
	return meters * 3600 / (FallbackSpeedKmh * 1000)
}

// EstimateMinutes converts a distance in meters to minutes at FallbackSpeedKmh.
func EstimateMinutes(meters float64) float64 {
	return EstimateSeconds(meters) / 60
}
