// Package docstore defines the schema-less document store the skatepark data
// lives in. Documents are grouped into slash-separated collection paths
// ("skateparks", "skateparks/<id>/ratings") and every query or document can be
// watched for live changes.
package docstore

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrWatcherStopped is returned by Next after Stop has been called.
var ErrWatcherStopped = errors.New("watcher stopped")

// serverTimestamp is the type of the ServerTimestamp sentinel.
type serverTimestamp struct{}

// ServerTimestamp is replaced by the backend's clock when a document is
// written. Timestamps assigned by one store never go backwards.
var ServerTimestamp = serverTimestamp{}

// GeoPoint is a latitude/longitude pair stored as a single field value.
type GeoPoint struct {
	Latitude  float64
	Longitude float64
}

// Document is a single stored document. Data values are limited to string,
// bool, int64, float64, time.Time, GeoPoint, nil, []any and map[string]any.
type Document struct {
	ID   string
	Data map[string]any
}

type Direction int

const (
	Asc Direction = iota
	Desc
)

// Query selects every document of a collection ordered by one field.
// Documents that lack the field are not part of the result.
type Query struct {
	Collection string
	OrderBy    string
	Direction  Direction
}

// QueryWatcher delivers full result snapshots of a query.
type QueryWatcher interface {
	// Next blocks until the first snapshot or the next change.
	Next() ([]Document, error)
	Stop()
}

// DocumentWatcher delivers snapshots of one document. A nil document means it
// does not exist.
type DocumentWatcher interface {
	Next() (*Document, error)
	Stop()
}

type Store interface {
	Add(ctx context.Context, collection string, data map[string]any) (string, error)
	Set(ctx context.Context, collection, id string, data map[string]any) error
	Delete(ctx context.Context, collection, id string) error
	Get(ctx context.Context, collection, id string) (*Document, error)
	List(ctx context.Context, q Query) ([]Document, error)
	WatchQuery(ctx context.Context, q Query) QueryWatcher
	WatchDocument(ctx context.Context, collection, id string) DocumentWatcher
	Close() error
}

// SubCollection returns the path of a collection nested under a document.
func SubCollection(parent, id, name string) string {
	return strings.Join([]string{parent, id, name}, "/")
}

// Compare orders two field values of the same kind. Values of different
// kinds order by kind: nil, bool, number, time, string, geo point.
func Compare(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch av := a.(type) {
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	case int64, float64:
		return compareFloat(toFloat(a), toFloat(b))
	case time.Time:
		return av.Compare(b.(time.Time))
	case string:
		return strings.Compare(av, b.(string))
	case GeoPoint:
		bv := b.(GeoPoint)
		if c := compareFloat(av.Latitude, bv.Latitude); c != 0 {
			return c
		}
		return compareFloat(av.Longitude, bv.Longitude)
	}
	return 0
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case int64, float64:
		return 2
	case time.Time:
		return 3
	case string:
		return 4
	case GeoPoint:
		return 5
	default:
		return 6
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	}
	return 0
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
