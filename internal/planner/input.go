package planner

import (
	"fmt"

	"github.com/routewise/routewise/internal/geo"
)

// Point is a coordinate as decoded from stop files and job messages. A nil
// field was absent from the input, which is not the same as zero.
type Point struct {
	Lat *float64 `json:"lat" yaml:"lat"`
	Lon *float64 `json:"lon" yaml:"lon"`
}

// PointAt returns a Point with both fields set.
func PointAt(c geo.Coordinate) *Point {
	lat, lon := c.Lat, c.Lon
	return &Point{Lat: &lat, Lon: &lon}
}

// StopInput is a stop as decoded from stop files and job messages.
type StopInput struct {
	ID         string `json:"id" yaml:"id"`
	Coordinate *Point `json:"coordinate" yaml:"coordinate"`
	Address    string `json:"address,omitempty" yaml:"address,omitempty"`
}

// RequestInput is a planning request before its coordinates are checked for
// presence.
type RequestInput struct {
	Depot   *Point      `json:"depot,omitempty" yaml:"depot,omitempty"`
	Stops   []StopInput `json:"stops" yaml:"stops"`
	Options Options     `json:"options" yaml:"options"`
}

// Request converts in into a Request. See ResolveStops.
func (in RequestInput) Request() (Request, error) {
	depot, stops, err := ResolveStops(in.Depot, in.Stops)
	if err != nil {
		return Request{}, err
	}
	return Request{Depot: depot, Stops: stops, Options: in.Options}, nil
}

// ResolveStops converts decoded stops and an optional depot into planner
// types. It returns a *ValidationError naming every missing coordinate, so a
// request with an absent latitude or longitude never reaches the distance
// service as 0.
func ResolveStops(depot *Point, in []StopInput) (*geo.Coordinate, []Stop, error) {
	verr := &ValidationError{}

	var depotCoord *geo.Coordinate
	if depot != nil {
		if c, ok := resolvePoint(verr, "depot", depot); ok {
			depotCoord = &c
		}
	}

	stops := make([]Stop, len(in))
	for i, s := range in {
		stops[i] = Stop{ID: s.ID, Address: s.Address}
		field := fmt.Sprintf("stops[%d].coordinate", i)
		if s.Coordinate == nil {
			verr.add(field, "is required")
			continue
		}
		if c, ok := resolvePoint(verr, field, s.Coordinate); ok {
			stops[i].Coordinate = c
		}
	}

	if len(verr.Fields) > 0 {
		return nil, nil, verr
	}
	return depotCoord, stops, nil
}

func resolvePoint(verr *ValidationError, field string, p *Point) (geo.Coordinate, bool) {
	if p.Lat == nil {
		verr.add(field+".lat", "is required")
	}
	if p.Lon == nil {
		verr.add(field+".lon", "is required")
	}
	if p.Lat == nil || p.Lon == nil {
		return geo.Coordinate{}, false
	}
	return geo.Coordinate{Lat: *p.Lat, Lon: *p.Lon}, true
}
