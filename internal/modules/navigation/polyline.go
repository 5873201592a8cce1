// README: Coordinate normalizer turning engine polylines into (lat,lng) points and a (lng,lat) encoded string.
package navigation

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/twpayne/go-polyline"

	"navi/internal/types"
)

// SourceFormat names the polyline representation the routing engine returns.
// It is a property of the deployment, never sniffed from the payload.
type SourceFormat int

const (
	// FormatEncoded is a precision-6 encoded polyline string of (lat,lng) pairs.
	FormatEncoded SourceFormat = iota
	// FormatDecoded is an already decoded sequence of [lat,lng] pairs.
	FormatDecoded
)

// SourcePrecision is the decimal precision of FormatEncoded input.
const SourcePrecision = 6

// DefaultOutputPrecision matches the consumers of EncodedPolyline.
const DefaultOutputPrecision = 5

func ParseSourceFormat(s string) (SourceFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "encoded":
		return FormatEncoded, nil
	case "decoded", "":
		return FormatDecoded, nil
	default:
		return 0, fmt.Errorf("unknown polyline format %q", s)
	}
}

func (f SourceFormat) String() string {
	if f == FormatEncoded {
		return "encoded"
	}
	return "decoded"
}

// RawPolyline is the engine's geometry in whichever shape it produces.
type RawPolyline struct {
	Encoded string
	Points  [][2]float64 // [lat, lng]
}

type Normalized struct {
	Coordinates     []types.Point
	EncodedPolyline string
}

var ErrMalformedPolyline = errors.New("malformed polyline")

type Normalizer struct {
	Source          SourceFormat
	OutputPrecision int
}

func NewNormalizer(source SourceFormat, outputPrecision int) Normalizer {
	if outputPrecision <= 0 {
		outputPrecision = DefaultOutputPrecision
	}
	return Normalizer{Source: source, OutputPrecision: outputPrecision}
}

// Normalize produces ordered (lat,lng) coordinates and re-encodes them with the
// axes swapped to (lng,lat), which is what downstream polyline consumers expect.
func (n Normalizer) Normalize(raw RawPolyline) (Normalized, error) {
	var pairs [][2]float64
	switch n.Source {
	case FormatEncoded:
		if raw.Encoded == "" && len(raw.Points) > 0 {
			return Normalized{}, fmt.Errorf("%w: engine returned decoded points but the source format is encoded", ErrMalformedPolyline)
		}
		decoded, err := decodePairs(raw.Encoded, SourcePrecision)
		if err != nil {
			return Normalized{}, err
		}
		pairs = decoded
	case FormatDecoded:
		if len(raw.Points) == 0 && raw.Encoded != "" {
			return Normalized{}, fmt.Errorf("%w: engine returned an encoded string but the source format is decoded", ErrMalformedPolyline)
		}
		pairs = raw.Points
	default:
		return Normalized{}, fmt.Errorf("unsupported polyline source format %d", n.Source)
	}

	coords := make([]types.Point, 0, len(pairs))
	lngLat := make([][]float64, 0, len(pairs))
	for i, p := range pairs {
		pt := types.Point{Lat: p[0], Lng: p[1]}
		if !pt.Valid() {
			return Normalized{}, fmt.Errorf("%w: point %d (%v, %v) out of range", ErrMalformedPolyline, i, p[0], p[1])
		}
		coords = append(coords, pt)
		lngLat = append(lngLat, []float64{p[1], p[0]})
	}

	return Normalized{
		Coordinates:     coords,
		EncodedPolyline: string(codec(n.precision()).EncodeCoords(nil, lngLat)),
	}, nil
}

func (n Normalizer) precision() int {
	if n.OutputPrecision <= 0 {
		return DefaultOutputPrecision
	}
	return n.OutputPrecision
}

// DecodeEncodedPolyline reverses Normalize's EncodedPolyline back into (lat,lng) points.
func DecodeEncodedPolyline(encoded string, precision int) ([]types.Point, error) {
	pairs, err := decodePairs(encoded, precision)
	if err != nil {
		return nil, err
	}
	out := make([]types.Point, len(pairs))
	for i, p := range pairs {
		// pairs are stored (lng,lat) in the output encoding
		out[i] = types.Point{Lat: p[1], Lng: p[0]}
	}
	return out, nil
}

// PointsToPairs converts coordinates back into a decoded engine sequence.
func PointsToPairs(points []types.Point) [][2]float64 {
	out := make([][2]float64, len(points))
	for i, p := range points {
		out[i] = [2]float64{p.Lat, p.Lng}
	}
	return out
}

func decodePairs(encoded string, precision int) ([][2]float64, error) {
	if encoded == "" {
		return nil, nil
	}
	coords, rest, err := codec(precision).DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPolyline, err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedPolyline, len(rest))
	}
	out := make([][2]float64, len(coords))
	for i, c := range coords {
		out[i] = [2]float64{c[0], c[1]}
	}
	return out, nil
}

func codec(precision int) polyline.Codec {
	return polyline.Codec{Dim: 2, Scale: math.Pow10(precision)}
}
