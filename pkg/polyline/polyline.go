// Package polyline encodes and decodes route geometries in Google's polyline format
// (precision 5, as returned by OpenRouteService).
// The algorithm is documented at: https://developers.google.com/maps/documentation/utilities/polylinealgorithm
package polyline

import (
	"errors"
	"math"

	"github.com/routewise/routewise/internal/geo"
)

// ErrTruncated is returned when an encoded string ends in the middle of a value.
var ErrTruncated = errors.New("polyline: truncated input")

const precision = 1e5

// Decode decodes a polyline-encoded string into coordinates.
func Decode(encoded string) ([]geo.Coordinate, error) {
	if encoded == "" {
		return nil, nil
	}

	var (
		coords   []geo.Coordinate
		index    int
		lat, lon int
	)

	for index < len(encoded) {
		latDelta, next, ok := decodeValue(encoded, index)
		if !ok {
			return nil, ErrTruncated
		}
		lonDelta, next, ok := decodeValue(encoded, next)
		if !ok {
			return nil, ErrTruncated
		}
		index = next
		lat += latDelta
		lon += lonDelta

		coords = append(coords, geo.Coordinate{
			Lat: float64(lat) / precision,
			Lon: float64(lon) / precision,
		})
	}

	return coords, nil
}

// decodeValue decodes one value starting at index. ok is false when the input
// ends before the value's final chunk.
func decodeValue(encoded string, index int) (value, next int, ok bool) {
	shift := 0
	result := 0

	for index < len(encoded) {
		b := int(encoded[index]) - 63
		index++
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			if result&1 != 0 {
				return ^(result >> 1), index, true
			}
			return result >> 1, index, true
		}
	}

	return 0, index, false
}

// Encode encodes coordinates into a polyline string.
func Encode(coords []geo.Coordinate) string {
	if len(coords) == 0 {
		return ""
	}

	encoded := make([]byte, 0, len(coords)*4)
	prevLat := 0
	prevLon := 0

	for _, coord := range coords {
		lat := int(math.Round(coord.Lat * precision))
		lon := int(math.Round(coord.Lon * precision))

		encoded = encodeValue(encoded, lat-prevLat)
		encoded = encodeValue(encoded, lon-prevLon)

		prevLat = lat
		prevLon = lon
	}

	return string(encoded)
}

func encodeValue(buf []byte, value int) []byte {
	if value < 0 {
		value = ^(value << 1)
	} else {
		value <<= 1
	}

	for value >= 0x20 {
		buf = append(buf, byte((value&0x1f)|0x20)+63)
		value >>= 5
	}
	return append(buf, byte(value)+63)
}

// Join concatenates per-leg geometries into one route geometry. A leg that
// starts where the previous one ended does not repeat the shared point.
// Empty legs are skipped.
func Join(legs ...string) (string, error) {
	var all []geo.Coordinate
	for _, leg := range legs {
		coords, err := Decode(leg)
		if err != nil {
			return "", err
		}
		if len(coords) == 0 {
			continue
		}
		if n := len(all); n > 0 && samePoint(all[n-1], coords[0]) {
			coords = coords[1:]
		}
		all = append(all, coords...)
	}
	return Encode(all), nil
}

func samePoint(a, b geo.Coordinate) bool {
	return math.Round(a.Lat*precision) == math.Round(b.Lat*precision) &&
		math.Round(a.Lon*precision) == math.Round(b.Lon*precision)
}

// Length returns the great-circle length of the path in meters.
func Length(coords []geo.Coordinate) float64 {
	var total float64
	for i := 1; i < len(coords); i++ {
		total += geo.Haversine(coords[i-1], coords[i])
	}
	return total
}
