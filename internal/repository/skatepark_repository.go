package repository

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/gookit/validate"

	"github.com/vbonduro/where2skate/internal/docstore"
	"github.com/vbonduro/where2skate/internal/domain"
	"github.com/vbonduro/where2skate/internal/identity"
)

// NewSkatepark is the caller-supplied part of a skatepark created by
// AddSkatepark. Creator fields come from the session.
type NewSkatepark struct {
	Name        string
	Description string
	Location    domain.GeoPoint
	Address     string
}

// skateparkInput carries the validation rules for NewSkatepark.
type skateparkInput struct {
	Name      string  `validate:"required"`
	Latitude  float64 `validate:"min:-90|max:90"`
	Longitude float64 `validate:"min:-180|max:180"`
}

// SkateparkRepository is the data access layer over the skateparks
// collection and its ratings sub-collections. It keeps no state of its own:
// each subscription reads straight from the store.
type SkateparkRepository struct {
	store    docstore.Store
	sessions identity.SessionProvider
	logger   *slog.Logger
	metrics  Metrics
}

type Option func(*SkateparkRepository)

func WithMetrics(m Metrics) Option {
	return func(r *SkateparkRepository) {
		if m != nil {
			r.metrics = m
		}
	}
}

func NewSkateparkRepository(store docstore.Store, sessions identity.SessionProvider, logger *slog.Logger, opts ...Option) *SkateparkRepository {
	r := &SkateparkRepository{
		store:    store,
		sessions: sessions,
		logger:   logger.With("component", "skatepark_repository"),
		metrics:  NopMetrics{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WithSessions returns a repository sharing the store but acting for the
// sessions of p.
func (r *SkateparkRepository) WithSessions(p identity.SessionProvider) *SkateparkRepository {
	cp := *r
	cp.sessions = p
	return &cp
}

// ListSkateparks watches every skatepark, newest first.
func (r *SkateparkRepository) ListSkateparks(ctx context.Context) *Subscription[[]domain.Skatepark] {
	const op = "list_skateparks"
	q := docstore.Query{Collection: skateparksCollection, OrderBy: fieldCreatedAt, Direction: docstore.Desc}

	return subscribe(ctx, op, r.logger, r.metrics, func(ctx context.Context) (func() ([]domain.Skatepark, error), func()) {
		w := r.store.WatchQuery(ctx, q)
		next := func() ([]domain.Skatepark, error) {
			docs, err := w.Next()
			if err != nil {
				return nil, err
			}
			parks := r.decodeSkateparks(docs)
			r.logger.Debug("skateparks snapshot", "count", len(parks))
			return parks, nil
		}
		return next, w.Stop
	})
}

// GetSkatepark watches one skatepark. nil is delivered while the document does
// not exist or cannot be decoded.
func (r *SkateparkRepository) GetSkatepark(ctx context.Context, id string) *Subscription[*domain.Skatepark] {
	const op = "get_skatepark"
	if strings.TrimSpace(id) == "" {
		return failed[*domain.Skatepark](&ValidationError{Op: op, Field: "id", Reason: "must not be empty"})
	}

	return subscribe(ctx, op, r.logger, r.metrics, func(ctx context.Context) (func() (*domain.Skatepark, error), func()) {
		w := r.store.WatchDocument(ctx, skateparksCollection, id)
		next := func() (*domain.Skatepark, error) {
			doc, err := w.Next()
			if err != nil {
				return nil, err
			}
			if doc == nil {
				r.logger.Debug("no such skatepark", "id", id)
				return nil, nil
			}
			park, err := DecodeSkatepark(*doc)
			if err != nil {
				r.logger.Error("failed to decode skatepark", "id", id, "error", err)
				return nil, nil
			}
			return &park, nil
		}
		return next, w.Stop
	})
}

// AddSkatepark creates a skatepark owned by the current user and returns the
// id the store assigned.
func (r *SkateparkRepository) AddSkatepark(ctx context.Context, in NewSkatepark) (id string, err error) {
	const op = "add_skatepark"
	defer r.observe(op, time.Now(), &err)

	sess, ok := r.sessions.Current()
	if !ok {
		r.logger.Warn("user not logged in", "op", op)
		return "", &AuthorizationError{Op: op}
	}

	in.Name = strings.TrimSpace(in.Name)
	if err := validateSkatepark(op, in); err != nil {
		return "", err
	}

	park := domain.Skatepark{
		Name:        in.Name,
		Description: in.Description,
		Location:    &domain.GeoPoint{Latitude: in.Location.Latitude, Longitude: in.Location.Longitude},
		Address:     in.Address,
		CreatorID:   sess.User.UID,
		CreatorName: sess.User.Name(),
	}

	id, err = r.store.Add(ctx, skateparksCollection, encodeSkatepark(park))
	if err != nil {
		r.logger.Error("failed to add skatepark", "error", err)
		return "", &RemoteServiceError{Op: op, Err: err}
	}

	r.logger.Info("skatepark added", "id", id, "creator_id", park.CreatorID)
	return id, nil
}

// UpdateSkatepark overwrites the whole document with park. Callers must pass
// the complete record; a zero CreatedAt is reassigned by the store.
func (r *SkateparkRepository) UpdateSkatepark(ctx context.Context, park domain.Skatepark) (err error) {
	const op = "update_skatepark"
	defer r.observe(op, time.Now(), &err)

	if strings.TrimSpace(park.ID) == "" {
		return &ValidationError{Op: op, Field: "id", Reason: "must not be empty"}
	}

	if err := r.store.Set(ctx, skateparksCollection, park.ID, encodeSkatepark(park)); err != nil {
		r.logger.Error("failed to update skatepark", "id", park.ID, "error", err)
		return &RemoteServiceError{Op: op, Err: err}
	}

	r.logger.Info("skatepark updated", "id", park.ID)
	return nil
}

// DeleteSkatepark removes the skatepark document. Its ratings are left in
// place.
func (r *SkateparkRepository) DeleteSkatepark(ctx context.Context, id string) (err error) {
	const op = "delete_skatepark"
	defer r.observe(op, time.Now(), &err)

	if strings.TrimSpace(id) == "" {
		return &ValidationError{Op: op, Field: "id", Reason: "must not be empty"}
	}

	if err := r.store.Delete(ctx, skateparksCollection, id); err != nil {
		r.logger.Error("failed to delete skatepark", "id", id, "error", err)
		return &RemoteServiceError{Op: op, Err: err}
	}

	r.logger.Info("skatepark deleted", "id", id)
	return nil
}

// AddRating appends a rating by the current user. The skatepark's
// averageRating and ratingCount are not updated; see SummarizeRatings.
func (r *SkateparkRepository) AddRating(ctx context.Context, skateparkID string, value float64, comment string) (err error) {
	const op = "add_rating"
	defer r.observe(op, time.Now(), &err)

	sess, ok := r.sessions.Current()
	if !ok {
		r.logger.Warn("user not logged in", "op", op)
		return &AuthorizationError{Op: op}
	}
	if strings.TrimSpace(skateparkID) == "" {
		return &ValidationError{Op: op, Field: "skateparkId", Reason: "must not be empty"}
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return &ValidationError{Op: op, Field: "rating", Reason: "must be a finite number"}
	}

	rating := domain.Rating{
		UserID:   sess.User.UID,
		UserName: sess.User.Name(),
		Value:    value,
		Comment:  comment,
	}

	if _, err := r.store.Add(ctx, ratingsPath(skateparkID), encodeRating(rating)); err != nil {
		r.logger.Error("failed to add rating", "skatepark_id", skateparkID, "error", err)
		return &RemoteServiceError{Op: op, Err: err}
	}

	r.logger.Info("rating added", "skatepark_id", skateparkID, "user_id", rating.UserID)
	return nil
}

// ListRatings watches the ratings of one skatepark, newest first.
func (r *SkateparkRepository) ListRatings(ctx context.Context, skateparkID string) *Subscription[[]domain.Rating] {
	const op = "list_ratings"
	if strings.TrimSpace(skateparkID) == "" {
		return failed[[]domain.Rating](&ValidationError{Op: op, Field: "skateparkId", Reason: "must not be empty"})
	}
	q := docstore.Query{Collection: ratingsPath(skateparkID), OrderBy: fieldRatedAt, Direction: docstore.Desc}

	return subscribe(ctx, op, r.logger, r.metrics, func(ctx context.Context) (func() ([]domain.Rating, error), func()) {
		w := r.store.WatchQuery(ctx, q)
		next := func() ([]domain.Rating, error) {
			docs, err := w.Next()
			if err != nil {
				return nil, err
			}
			return r.decodeRatings(skateparkID, docs), nil
		}
		return next, w.Stop
	})
}

// SummarizeRatings reads every rating of a skatepark and computes the count
// and mean. The stored aggregate fields are not touched.
func (r *SkateparkRepository) SummarizeRatings(ctx context.Context, skateparkID string) (summary domain.RatingSummary, err error) {
	const op = "summarize_ratings"
	defer r.observe(op, time.Now(), &err)

	if strings.TrimSpace(skateparkID) == "" {
		return domain.RatingSummary{}, &ValidationError{Op: op, Field: "skateparkId", Reason: "must not be empty"}
	}

	docs, err := r.store.List(ctx, docstore.Query{Collection: ratingsPath(skateparkID)})
	if err != nil {
		return domain.RatingSummary{}, &RemoteServiceError{Op: op, Err: err}
	}

	summary.SkateparkID = skateparkID
	var total float64
	for _, rating := range r.decodeRatings(skateparkID, docs) {
		total += rating.Value
		summary.Count++
	}
	if summary.Count > 0 {
		summary.Average = total / float64(summary.Count)
	}
	return summary, nil
}

func (r *SkateparkRepository) decodeSkateparks(docs []docstore.Document) []domain.Skatepark {
	parks := make([]domain.Skatepark, 0, len(docs))
	for _, doc := range docs {
		park, err := DecodeSkatepark(doc)
		if err != nil {
			r.logger.Error("error converting document", "id", doc.ID, "error", err)
			continue
		}
		parks = append(parks, park)
	}
	return parks
}

func (r *SkateparkRepository) decodeRatings(skateparkID string, docs []docstore.Document) []domain.Rating {
	ratings := make([]domain.Rating, 0, len(docs))
	for _, doc := range docs {
		rating, err := DecodeRating(skateparkID, doc)
		if err != nil {
			r.logger.Error("error converting document", "id", doc.ID, "error", err)
			continue
		}
		ratings = append(ratings, rating)
	}
	return ratings
}

func (r *SkateparkRepository) observe(op string, start time.Time, err *error) {
	r.metrics.ObserveOperation(op, time.Since(start), *err)
}

func validateSkatepark(op string, in NewSkatepark) error {
	v := validate.Struct(&skateparkInput{
		Name:      in.Name,
		Latitude:  in.Location.Latitude,
		Longitude: in.Location.Longitude,
	})
	if v.Validate() {
		return nil
	}
	for _, field := range []string{"Name", "Latitude", "Longitude"} {
		if v.Errors.HasField(field) {
			return &ValidationError{Op: op, Field: strings.ToLower(field), Reason: v.Errors.FieldOne(field)}
		}
	}
	return &ValidationError{Op: op, Field: "skatepark", Reason: v.Errors.One()}
}

// failed returns a subscription that has already ended with err.
func failed[T any](err error) *Subscription[T] {
	s := &Subscription[T]{
		updates: make(chan T),
		done:    make(chan struct{}),
		cancel:  func() {},
		stop:    func() {},
		err:     err,
	}
	close(s.updates)
	close(s.done)
	return s
}
