package repository

import (
	"fmt"
	"math"
	"time"

	"github.com/vbonduro/where2skate/internal/docstore"
	"github.com/vbonduro/where2skate/internal/domain"
)

const (
	skateparksCollection = "skateparks"
	ratingsCollection    = "ratings"
)

// Document field names.
const (
	fieldName          = "name"
	fieldDescription   = "description"
	fieldLocation      = "location"
	fieldAddress       = "address"
	fieldCreatorID     = "creatorId"
	fieldCreatorName   = "creatorName"
	fieldCreatedAt     = "createdAt"
	fieldAverageRating = "averageRating"
	fieldRatingCount   = "ratingCount"

	fieldUserID   = "userId"
	fieldUserName = "userName"
	fieldRating   = "rating"
	fieldComment  = "comment"
	fieldRatedAt  = "ratedAt"
)

func ratingsPath(skateparkID string) string {
	return docstore.SubCollection(skateparksCollection, skateparkID, ratingsCollection)
}

// DecodeError reports a document field holding a value of the wrong type.
type DecodeError struct {
	DocumentID string
	Field      string
	Value      any
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("document %s: field %q has unexpected value of type %T", e.DocumentID, e.Field, e.Value)
}

// DecodeSkatepark maps a skateparks document to a record. Missing fields take
// their zero value (empty text, no location, zero time, 0 rating and count);
// a field of the wrong type fails the whole document.
func DecodeSkatepark(doc docstore.Document) (domain.Skatepark, error) {
	d := decoder{doc: doc}
	park := domain.Skatepark{
		ID:            doc.ID,
		Name:          d.string(fieldName),
		Description:   d.string(fieldDescription),
		Location:      d.geoPoint(fieldLocation),
		Address:       d.string(fieldAddress),
		CreatorID:     d.string(fieldCreatorID),
		CreatorName:   d.string(fieldCreatorName),
		CreatedAt:     d.time(fieldCreatedAt),
		AverageRating: d.float(fieldAverageRating),
		RatingCount:   d.int(fieldRatingCount),
	}
	if d.err != nil {
		return domain.Skatepark{}, d.err
	}
	return park, nil
}

// DecodeRating maps a ratings document to a record using the same rules as
// DecodeSkatepark.
func DecodeRating(skateparkID string, doc docstore.Document) (domain.Rating, error) {
	d := decoder{doc: doc}
	rating := domain.Rating{
		ID:          doc.ID,
		SkateparkID: skateparkID,
		UserID:      d.string(fieldUserID),
		UserName:    d.string(fieldUserName),
		Value:       d.float(fieldRating),
		Comment:     d.string(fieldComment),
		RatedAt:     d.time(fieldRatedAt),
	}
	if d.err != nil {
		return domain.Rating{}, d.err
	}
	return rating, nil
}

// encodeSkatepark builds the full document for a record. A zero CreatedAt
// asks the store to assign the timestamp.
func encodeSkatepark(park domain.Skatepark) map[string]any {
	data := map[string]any{
		fieldName:          park.Name,
		fieldCreatorID:     park.CreatorID,
		fieldAverageRating: park.AverageRating,
		fieldRatingCount:   int64(park.RatingCount),
	}
	putString(data, fieldDescription, park.Description)
	putString(data, fieldAddress, park.Address)
	putString(data, fieldCreatorName, park.CreatorName)
	if park.Location != nil {
		data[fieldLocation] = docstore.GeoPoint{Latitude: park.Location.Latitude, Longitude: park.Location.Longitude}
	}
	if park.CreatedAt.IsZero() {
		data[fieldCreatedAt] = docstore.ServerTimestamp
	} else {
		data[fieldCreatedAt] = park.CreatedAt
	}
	return data
}

func encodeRating(r domain.Rating) map[string]any {
	data := map[string]any{
		fieldUserID:  r.UserID,
		fieldRating:  r.Value,
		fieldRatedAt: docstore.ServerTimestamp,
	}
	putString(data, fieldUserName, r.UserName)
	putString(data, fieldComment, r.Comment)
	return data
}

func putString(data map[string]any, field, value string) {
	if value != "" {
		data[field] = value
	}
}

// decoder records the first type mismatch and keeps returning zero values.
type decoder struct {
	doc docstore.Document
	err error
}

func (d *decoder) lookup(field string) (any, bool) {
	v, ok := d.doc.Data[field]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func (d *decoder) fail(field string, v any) {
	if d.err == nil {
		d.err = &DecodeError{DocumentID: d.doc.ID, Field: field, Value: v}
	}
}

func (d *decoder) string(field string) string {
	v, ok := d.lookup(field)
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		d.fail(field, v)
	}
	return s
}

func (d *decoder) float(field string) float64 {
	v, ok := d.lookup(field)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	}
	d.fail(field, v)
	return 0
}

func (d *decoder) int(field string) int {
	v, ok := d.lookup(field)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int64:
		if n >= math.MinInt && n <= math.MaxInt {
			return int(n)
		}
	case float64:
		// float64(math.MaxInt) rounds up to 2^63, so the upper bound is exclusive.
		if n == math.Trunc(n) && n >= math.MinInt && n < math.MaxInt {
			return int(n)
		}
	}
	d.fail(field, v)
	return 0
}

func (d *decoder) time(field string) time.Time {
	v, ok := d.lookup(field)
	if !ok {
		return time.Time{}
	}
	t, ok := v.(time.Time)
	if !ok {
		d.fail(field, v)
	}
	return t
}

func (d *decoder) geoPoint(field string) *domain.GeoPoint {
	v, ok := d.lookup(field)
	if !ok {
		return nil
	}
	g, ok := v.(docstore.GeoPoint)
	if !ok {
		d.fail(field, v)
		return nil
	}
	return &domain.GeoPoint{Latitude: g.Latitude, Longitude: g.Longitude}
}
