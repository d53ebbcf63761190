package sqlite

import (
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/vbonduro/where2skate/internal/docstore"
)

// Typed values that JSON cannot carry are wrapped in single-key objects.
const (
	timeKey = "$ts"
	geoKey  = "$geo"
)

// encodeData resolves server timestamps to now and serializes the document.
func encodeData(data map[string]any, now time.Time) (string, error) {
	enc, err := encodeValue(data, now)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(enc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal document: %w", err)
	}
	return string(b), nil
}

func encodeValue(v any, now time.Time) (any, error) {
	switch val := v.(type) {
	case nil, string, bool, int64, float64:
		return val, nil
	case int:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case float32:
		return float64(val), nil
	case time.Time:
		return map[string]any{timeKey: val.UnixNano()}, nil
	case docstore.GeoPoint:
		return map[string]any{geoKey: []float64{val.Latitude, val.Longitude}}, nil
	case *docstore.GeoPoint:
		if val == nil {
			return nil, nil
		}
		return encodeValue(*val, now)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			enc, err := encodeValue(item, now)
			if err != nil {
				return nil, err
			}
			out[i] = enc
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if strings.HasPrefix(k, "$") {
				return nil, fmt.Errorf("field name %q is reserved", k)
			}
			enc, err := encodeValue(item, now)
			if err != nil {
				return nil, err
			}
			out[k] = enc
		}
		return out, nil
	default:
		if val == docstore.ServerTimestamp {
			return map[string]any{timeKey: now.UnixNano()}, nil
		}
		return nil, fmt.Errorf("unsupported field value of type %T", v)
	}
}

func decodeData(raw string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	out, err := decodeValue(m)
	if err != nil {
		return nil, err
	}
	data, _ := out.(map[string]any)
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

func decodeValue(v any) (any, error) {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", val, err)
		}
		return f, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			dec, err := decodeValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = dec
		}
		return out, nil
	case map[string]any:
		if ts, ok := val[timeKey]; ok && len(val) == 1 {
			n, ok := ts.(json.Number)
			if !ok {
				return nil, fmt.Errorf("malformed timestamp value")
			}
			nanos, err := n.Int64()
			if err != nil {
				return nil, fmt.Errorf("malformed timestamp value: %w", err)
			}
			return time.Unix(0, nanos).UTC(), nil
		}
		if g, ok := val[geoKey]; ok && len(val) == 1 {
			return decodeGeoPoint(g)
		}
		out := make(map[string]any, len(val))
		for k, item := range val {
			dec, err := decodeValue(item)
			if err != nil {
				return nil, err
			}
			out[k] = dec
		}
		return out, nil
	default:
		return val, nil
	}
}

func decodeGeoPoint(v any) (docstore.GeoPoint, error) {
	pair, ok := v.([]any)
	if !ok || len(pair) != 2 {
		return docstore.GeoPoint{}, fmt.Errorf("malformed geo point value")
	}
	var coords [2]float64
	for i, c := range pair {
		n, ok := c.(json.Number)
		if !ok {
			return docstore.GeoPoint{}, fmt.Errorf("malformed geo point value")
		}
		f, err := n.Float64()
		if err != nil {
			return docstore.GeoPoint{}, fmt.Errorf("malformed geo point value: %w", err)
		}
		coords[i] = f
	}
	return docstore.GeoPoint{Latitude: coords[0], Longitude: coords[1]}, nil
}
