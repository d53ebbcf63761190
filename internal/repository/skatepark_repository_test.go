package repository

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/where2skate/internal/db"
	"github.com/vbonduro/where2skate/internal/docstore"
	"github.com/vbonduro/where2skate/internal/docstore/sqlite"
	"github.com/vbonduro/where2skate/internal/domain"
	"github.com/vbonduro/where2skate/internal/identity"
)

const waitTimeout = 2 * time.Second

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	d, err := db.OpenForTesting()
	require.NoError(t, err)
	s := sqlite.New(d, slog.Default())
	t.Cleanup(func() {
		_ = s.Close()
		_ = d.Close()
	})
	return s
}

func signedIn(uid, email, name string) identity.StaticSession {
	return identity.StaticSession{Session: &identity.Session{
		User: domain.User{UID: uid, Email: email, DisplayName: name},
	}}
}

func newTestRepo(t *testing.T, sessions identity.SessionProvider) (*SkateparkRepository, *sqlite.Store) {
	t.Helper()
	store := newTestStore(t)
	return NewSkateparkRepository(store, sessions, slog.Default()), store
}

// receive returns the next value of sub or fails the test.
func receive[T any](t *testing.T, sub *Subscription[T]) T {
	t.Helper()
	select {
	case v, ok := <-sub.Updates():
		if !ok {
			t.Fatalf("subscription ended: %v", sub.Err())
		}
		return v
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for update")
	}
	var zero T
	return zero
}

// receiveUntil reads values until match accepts one.
func receiveUntil[T any](t *testing.T, sub *Subscription[T], match func(T) bool) T {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case v, ok := <-sub.Updates():
			if !ok {
				t.Fatalf("subscription ended: %v", sub.Err())
			}
			if match(v) {
				return v
			}
		case <-deadline:
			t.Fatal("timed out waiting for matching update")
		}
	}
}

func waitDone[T any](t *testing.T, sub *Subscription[T]) {
	t.Helper()
	select {
	case <-sub.Done():
	case <-time.After(waitTimeout):
		t.Fatal("subscription did not end")
	}
}

// failingStore fails every write.
type failingStore struct {
	docstore.Store
}

var errUnavailable = errors.New("store unavailable")

func (failingStore) Add(context.Context, string, map[string]any) (string, error) {
	return "", errUnavailable
}

func (failingStore) Set(context.Context, string, string, map[string]any) error {
	return errUnavailable
}

func (failingStore) Delete(context.Context, string, string) error {
	return errUnavailable
}

func (failingStore) List(context.Context, docstore.Query) ([]docstore.Document, error) {
	return nil, errUnavailable
}

func TestListSkateparks_EmptyCollection(t *testing.T) {
	repo, _ := newTestRepo(t, identity.StaticSession{})

	sub := repo.ListSkateparks(context.Background())
	defer sub.Close()

	assert.Empty(t, receive(t, sub))
}

func TestAddSkatepark(t *testing.T) {
	repo, _ := newTestRepo(t, signedIn("u1", "tony@example.com", "Tony"))
	ctx := context.Background()

	sub := repo.ListSkateparks(ctx)
	defer sub.Close()
	require.Empty(t, receive(t, sub))

	id, err := repo.AddSkatepark(ctx, NewSkatepark{
		Name:        "  Venice Beach  ",
		Description: "Bowls by the sea",
		Location:    domain.GeoPoint{Latitude: 33.98, Longitude: -118.47},
		Address:     "1800 Ocean Front Walk",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	parks := receiveUntil(t, sub, func(p []domain.Skatepark) bool { return len(p) == 1 })
	park := parks[0]
	assert.Equal(t, id, park.ID)
	assert.Equal(t, "Venice Beach", park.Name)
	assert.Equal(t, "Bowls by the sea", park.Description)
	assert.Equal(t, &domain.GeoPoint{Latitude: 33.98, Longitude: -118.47}, park.Location)
	assert.Equal(t, "1800 Ocean Front Walk", park.Address)
	assert.Equal(t, "u1", park.CreatorID)
	assert.Equal(t, "Tony", park.CreatorName)
	assert.False(t, park.CreatedAt.IsZero())
	assert.Zero(t, park.AverageRating)
	assert.Zero(t, park.RatingCount)
}

func TestAddSkatepark_CreatorNameFallsBackToEmail(t *testing.T) {
	repo, store := newTestRepo(t, signedIn("u2", "rodney@example.com", ""))
	ctx := context.Background()

	id, err := repo.AddSkatepark(ctx, NewSkatepark{Name: "Plaza"})
	require.NoError(t, err)

	doc, err := store.Get(ctx, skateparksCollection, id)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "rodney@example.com", doc.Data[fieldCreatorName])
}

func TestAddSkatepark_NotSignedIn(t *testing.T) {
	repo, store := newTestRepo(t, identity.StaticSession{})
	ctx := context.Background()

	_, err := repo.AddSkatepark(ctx, NewSkatepark{Name: "Nowhere"})

	var authErr *AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "add_skatepark", authErr.Op)

	docs, err := store.List(ctx, docstore.Query{Collection: skateparksCollection})
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestAddSkatepark_Validation(t *testing.T) {
	repo, store := newTestRepo(t, signedIn("u1", "tony@example.com", "Tony"))
	ctx := context.Background()

	tests := []struct {
		name  string
		input NewSkatepark
		field string
	}{
		{"empty name", NewSkatepark{Name: ""}, "name"},
		{"blank name", NewSkatepark{Name: "   "}, "name"},
		{"latitude too high", NewSkatepark{Name: "A", Location: domain.GeoPoint{Latitude: 91}}, "latitude"},
		{"latitude too low", NewSkatepark{Name: "A", Location: domain.GeoPoint{Latitude: -91}}, "latitude"},
		{"longitude out of range", NewSkatepark{Name: "A", Location: domain.GeoPoint{Longitude: 181}}, "longitude"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := repo.AddSkatepark(ctx, tt.input)
			var valErr *ValidationError
			require.ErrorAs(t, err, &valErr)
			assert.Equal(t, tt.field, valErr.Field)
		})
	}

	docs, err := store.List(ctx, docstore.Query{Collection: skateparksCollection})
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestAddSkatepark_StoreFailure(t *testing.T) {
	store := newTestStore(t)
	repo := NewSkateparkRepository(failingStore{store}, signedIn("u1", "a@example.com", ""), slog.Default())

	_, err := repo.AddSkatepark(context.Background(), NewSkatepark{Name: "Broken"})

	var remoteErr *RemoteServiceError
	require.ErrorAs(t, err, &remoteErr)
	assert.ErrorIs(t, err, errUnavailable)
}

func TestListSkateparks_NewestFirst(t *testing.T) {
	repo, _ := newTestRepo(t, signedIn("u1", "tony@example.com", "Tony"))
	ctx := context.Background()

	for _, name := range []string{"First", "Second", "Third"} {
		_, err := repo.AddSkatepark(ctx, NewSkatepark{Name: name})
		require.NoError(t, err)
	}

	sub := repo.ListSkateparks(ctx)
	defer sub.Close()

	parks := receive(t, sub)
	require.Len(t, parks, 3)
	assert.Equal(t, "Third", parks[0].Name)
	assert.Equal(t, "Second", parks[1].Name)
	assert.Equal(t, "First", parks[2].Name)
}

func TestListSkateparks_SkipsUndecodableDocuments(t *testing.T) {
	repo, store := newTestRepo(t, signedIn("u1", "tony@example.com", "Tony"))
	ctx := context.Background()

	_, err := repo.AddSkatepark(ctx, NewSkatepark{Name: "Good"})
	require.NoError(t, err)
	_, err = store.Add(ctx, skateparksCollection, map[string]any{
		fieldName:      42.0,
		fieldCreatedAt: docstore.ServerTimestamp,
	})
	require.NoError(t, err)

	sub := repo.ListSkateparks(ctx)
	defer sub.Close()

	parks := receive(t, sub)
	require.Len(t, parks, 1)
	assert.Equal(t, "Good", parks[0].Name)
}

func TestListSkateparks_MissingFieldsTakeDefaults(t *testing.T) {
	repo, store := newTestRepo(t, identity.StaticSession{})
	ctx := context.Background()

	id, err := store.Add(ctx, skateparksCollection, map[string]any{fieldCreatedAt: docstore.ServerTimestamp})
	require.NoError(t, err)

	sub := repo.ListSkateparks(ctx)
	defer sub.Close()

	parks := receive(t, sub)
	require.Len(t, parks, 1)
	assert.Equal(t, id, parks[0].ID)
	assert.Empty(t, parks[0].Name)
	assert.Nil(t, parks[0].Location)
	assert.Zero(t, parks[0].RatingCount)
}

func TestGetSkatepark(t *testing.T) {
	repo, _ := newTestRepo(t, signedIn("u1", "tony@example.com", "Tony"))
	ctx := context.Background()

	id, err := repo.AddSkatepark(ctx, NewSkatepark{Name: "Burnside"})
	require.NoError(t, err)

	sub := repo.GetSkatepark(ctx, id)
	defer sub.Close()

	park := receive(t, sub)
	require.NotNil(t, park)
	assert.Equal(t, id, park.ID)
	assert.Equal(t, "Burnside", park.Name)
}

func TestGetSkatepark_Missing(t *testing.T) {
	repo, _ := newTestRepo(t, identity.StaticSession{})

	sub := repo.GetSkatepark(context.Background(), "does-not-exist")
	defer sub.Close()

	assert.Nil(t, receive(t, sub))
}

func TestGetSkatepark_UndecodableDocumentIsNil(t *testing.T) {
	repo, store := newTestRepo(t, identity.StaticSession{})
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, skateparksCollection, "bad", map[string]any{fieldRatingCount: "many"}))

	sub := repo.GetSkatepark(ctx, "bad")
	defer sub.Close()

	assert.Nil(t, receive(t, sub))
}

func TestGetSkatepark_EmptyID(t *testing.T) {
	repo, _ := newTestRepo(t, identity.StaticSession{})

	sub := repo.GetSkatepark(context.Background(), " ")

	_, ok := <-sub.Updates()
	assert.False(t, ok)
	var valErr *ValidationError
	assert.ErrorAs(t, sub.Err(), &valErr)
	sub.Close()
}

func TestUpdateSkatepark(t *testing.T) {
	repo, _ := newTestRepo(t, signedIn("u1", "tony@example.com", "Tony"))
	ctx := context.Background()

	id, err := repo.AddSkatepark(ctx, NewSkatepark{Name: "Old name"})
	require.NoError(t, err)

	sub := repo.GetSkatepark(ctx, id)
	defer sub.Close()
	park := receive(t, sub)
	require.NotNil(t, park)

	updated := *park
	updated.Name = "New name"
	updated.AverageRating = 4.5
	updated.RatingCount = 2
	require.NoError(t, repo.UpdateSkatepark(ctx, updated))

	got := receiveUntil(t, sub, func(p *domain.Skatepark) bool { return p != nil && p.Name == "New name" })
	assert.Equal(t, 4.5, got.AverageRating)
	assert.Equal(t, 2, got.RatingCount)
	assert.True(t, park.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, "u1", got.CreatorID)
}

func TestUpdateSkatepark_EmptyID(t *testing.T) {
	repo, _ := newTestRepo(t, identity.StaticSession{})

	err := repo.UpdateSkatepark(context.Background(), domain.Skatepark{Name: "x"})
	var valErr *ValidationError
	assert.ErrorAs(t, err, &valErr)
}

func TestDeleteSkatepark(t *testing.T) {
	repo, _ := newTestRepo(t, signedIn("u1", "tony@example.com", "Tony"))
	ctx := context.Background()

	id, err := repo.AddSkatepark(ctx, NewSkatepark{Name: "Short lived"})
	require.NoError(t, err)

	sub := repo.GetSkatepark(ctx, id)
	defer sub.Close()
	require.NotNil(t, receive(t, sub))

	require.NoError(t, repo.DeleteSkatepark(ctx, id))

	receiveUntil(t, sub, func(p *domain.Skatepark) bool { return p == nil })
}

func TestDeleteSkatepark_Errors(t *testing.T) {
	repo, _ := newTestRepo(t, identity.StaticSession{})

	var valErr *ValidationError
	assert.ErrorAs(t, repo.DeleteSkatepark(context.Background(), ""), &valErr)

	broken := NewSkateparkRepository(failingStore{newTestStore(t)}, identity.StaticSession{}, slog.Default())
	var remoteErr *RemoteServiceError
	assert.ErrorAs(t, broken.DeleteSkatepark(context.Background(), "p1"), &remoteErr)
}

func TestAddRatingAndListRatings(t *testing.T) {
	repo, _ := newTestRepo(t, signedIn("u1", "tony@example.com", "Tony"))
	ctx := context.Background()

	id, err := repo.AddSkatepark(ctx, NewSkatepark{Name: "FDR"})
	require.NoError(t, err)

	sub := repo.ListRatings(ctx, id)
	defer sub.Close()
	require.Empty(t, receive(t, sub))

	require.NoError(t, repo.AddRating(ctx, id, 4, "great transitions"))
	require.NoError(t, repo.AddRating(ctx, id, 2.5, ""))

	ratings := receiveUntil(t, sub, func(r []domain.Rating) bool { return len(r) == 2 })
	assert.Equal(t, 2.5, ratings[0].Value)
	assert.Empty(t, ratings[0].Comment)
	assert.Equal(t, 4.0, ratings[1].Value)
	assert.Equal(t, "great transitions", ratings[1].Comment)
	for _, r := range ratings {
		assert.Equal(t, id, r.SkateparkID)
		assert.Equal(t, "u1", r.UserID)
		assert.Equal(t, "Tony", r.UserName)
		assert.False(t, r.RatedAt.IsZero())
	}
}

func TestAddRating_DoesNotChangeAggregates(t *testing.T) {
	repo, _ := newTestRepo(t, signedIn("u1", "tony@example.com", "Tony"))
	ctx := context.Background()

	id, err := repo.AddSkatepark(ctx, NewSkatepark{Name: "Lincoln City"})
	require.NoError(t, err)
	require.NoError(t, repo.AddRating(ctx, id, 4.5, "great spot"))

	ratings := repo.ListRatings(ctx, id)
	defer ratings.Close()
	got := receiveUntil(t, ratings, func(r []domain.Rating) bool { return len(r) == 1 })
	assert.Equal(t, 4.5, got[0].Value)
	assert.Equal(t, "great spot", got[0].Comment)

	sub := repo.GetSkatepark(ctx, id)
	defer sub.Close()
	park := receive(t, sub)
	require.NotNil(t, park)
	assert.Zero(t, park.AverageRating)
	assert.Zero(t, park.RatingCount)
}

func TestAddRating_Errors(t *testing.T) {
	ctx := context.Background()

	anon, _ := newTestRepo(t, identity.StaticSession{})
	var authErr *AuthorizationError
	assert.ErrorAs(t, anon.AddRating(ctx, "p1", 3, ""), &authErr)

	repo, _ := newTestRepo(t, signedIn("u1", "tony@example.com", "Tony"))
	var valErr *ValidationError
	assert.ErrorAs(t, repo.AddRating(ctx, "", 3, ""), &valErr)
	assert.ErrorAs(t, repo.AddRating(ctx, "p1", math.NaN(), ""), &valErr)
	assert.ErrorAs(t, repo.AddRating(ctx, "p1", math.Inf(1), ""), &valErr)

	broken := NewSkateparkRepository(failingStore{newTestStore(t)}, signedIn("u1", "a@example.com", ""), slog.Default())
	var remoteErr *RemoteServiceError
	assert.ErrorAs(t, broken.AddRating(ctx, "p1", 3, ""), &remoteErr)
}

func TestAddRating_AuthCheckedFirst(t *testing.T) {
	repo, _ := newTestRepo(t, identity.StaticSession{})

	err := repo.AddRating(context.Background(), "", math.NaN(), "")
	var authErr *AuthorizationError
	assert.ErrorAs(t, err, &authErr)
}

func TestListRatings_EmptyID(t *testing.T) {
	repo, _ := newTestRepo(t, identity.StaticSession{})

	sub := repo.ListRatings(context.Background(), "")
	waitDone(t, sub)
	var valErr *ValidationError
	assert.ErrorAs(t, sub.Err(), &valErr)
}

func TestRatingsAreScopedToSkatepark(t *testing.T) {
	repo, _ := newTestRepo(t, signedIn("u1", "tony@example.com", "Tony"))
	ctx := context.Background()

	first, err := repo.AddSkatepark(ctx, NewSkatepark{Name: "One"})
	require.NoError(t, err)
	second, err := repo.AddSkatepark(ctx, NewSkatepark{Name: "Two"})
	require.NoError(t, err)

	require.NoError(t, repo.AddRating(ctx, first, 5, ""))

	sub := repo.ListRatings(ctx, second)
	defer sub.Close()
	assert.Empty(t, receive(t, sub))
}

func TestSummarizeRatings(t *testing.T) {
	repo, _ := newTestRepo(t, signedIn("u1", "tony@example.com", "Tony"))
	ctx := context.Background()

	id, err := repo.AddSkatepark(ctx, NewSkatepark{Name: "Marseille Bowl"})
	require.NoError(t, err)

	summary, err := repo.SummarizeRatings(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.RatingSummary{SkateparkID: id}, summary)

	for _, v := range []float64{5, 4, 3} {
		require.NoError(t, repo.AddRating(ctx, id, v, ""))
	}

	summary, err = repo.SummarizeRatings(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Count)
	assert.InDelta(t, 4.0, summary.Average, 1e-9)
}

func TestSummarizeRatings_Errors(t *testing.T) {
	repo, _ := newTestRepo(t, identity.StaticSession{})

	_, err := repo.SummarizeRatings(context.Background(), "")
	var valErr *ValidationError
	assert.ErrorAs(t, err, &valErr)

	broken := NewSkateparkRepository(failingStore{newTestStore(t)}, identity.StaticSession{}, slog.Default())
	_, err = broken.SummarizeRatings(context.Background(), "p1")
	var remoteErr *RemoteServiceError
	assert.ErrorAs(t, err, &remoteErr)
}

func TestWithSessions(t *testing.T) {
	anon, store := newTestRepo(t, identity.StaticSession{})
	ctx := context.Background()

	_, err := anon.AddSkatepark(ctx, NewSkatepark{Name: "Anon"})
	var authErr *AuthorizationError
	require.ErrorAs(t, err, &authErr)

	user := anon.WithSessions(signedIn("u9", "kyle@example.com", "Kyle"))
	id, err := user.AddSkatepark(ctx, NewSkatepark{Name: "Kyle's"})
	require.NoError(t, err)

	doc, err := store.Get(ctx, skateparksCollection, id)
	require.NoError(t, err)
	assert.Equal(t, "u9", doc.Data[fieldCreatorID])

	// anon itself still has no session.
	_, err = anon.AddSkatepark(ctx, NewSkatepark{Name: "Anon again"})
	assert.ErrorAs(t, err, &authErr)
}

func TestSubscriptionClose_ReleasesListener(t *testing.T) {
	repo, store := newTestRepo(t, signedIn("u1", "tony@example.com", "Tony"))
	ctx := context.Background()

	sub := repo.ListSkateparks(ctx)
	receive(t, sub)
	assert.Equal(t, 1, store.ActiveWatchers())

	sub.Close()
	sub.Close()

	assert.Equal(t, 0, store.ActiveWatchers())
	assert.NoError(t, sub.Err())

	_, ok := <-sub.Updates()
	assert.False(t, ok)
}

func TestSubscriptionErr_BlocksUntilEnded(t *testing.T) {
	repo, _ := newTestRepo(t, identity.StaticSession{})

	sub := repo.ListSkateparks(context.Background())
	receive(t, sub)

	errCh := make(chan error, 1)
	go func() { errCh <- sub.Err() }()

	select {
	case <-errCh:
		t.Fatal("Err returned while the subscription was live")
	case <-time.After(50 * time.Millisecond):
	}

	sub.Close()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("Err did not return after Close")
	}
}

func TestSubscriptionClose_WithPendingUpdate(t *testing.T) {
	repo, _ := newTestRepo(t, signedIn("u1", "tony@example.com", "Tony"))
	ctx := context.Background()

	sub := repo.ListSkateparks(ctx)
	receive(t, sub)

	// Leave the next snapshot undelivered.
	_, err := repo.AddSkatepark(ctx, NewSkatepark{Name: "Pending"})
	require.NoError(t, err)

	sub.Close()
	waitDone(t, sub)
	assert.NoError(t, sub.Err())
}

func TestSubscription_ContextCancel(t *testing.T) {
	repo, store := newTestRepo(t, identity.StaticSession{})
	ctx, cancel := context.WithCancel(context.Background())

	sub := repo.ListSkateparks(ctx)
	receive(t, sub)

	cancel()
	waitDone(t, sub)
	assert.NoError(t, sub.Err())
	assert.Equal(t, 0, store.ActiveWatchers())
}

func TestSubscription_StoreFailure(t *testing.T) {
	repo, store := newTestRepo(t, identity.StaticSession{})

	sub := repo.ListSkateparks(context.Background())
	receive(t, sub)

	require.NoError(t, store.Close())
	waitDone(t, sub)

	var remoteErr *RemoteServiceError
	require.ErrorAs(t, sub.Err(), &remoteErr)
	assert.Equal(t, "list_skateparks", remoteErr.Op)
	assert.ErrorIs(t, sub.Err(), sqlite.ErrClosed)
}

type recordingMetrics struct {
	NopMetrics
	ops []string
}

func (m *recordingMetrics) ObserveOperation(op string, _ time.Duration, err error) {
	m.ops = append(m.ops, op)
}

func TestWithMetrics(t *testing.T) {
	store := newTestStore(t)
	m := &recordingMetrics{}
	repo := NewSkateparkRepository(store, signedIn("u1", "a@example.com", ""), slog.Default(), WithMetrics(m))
	ctx := context.Background()

	id, err := repo.AddSkatepark(ctx, NewSkatepark{Name: "Measured"})
	require.NoError(t, err)
	require.NoError(t, repo.AddRating(ctx, id, 3, ""))
	require.NoError(t, repo.DeleteSkatepark(ctx, id))

	assert.Equal(t, []string{"add_skatepark", "add_rating", "delete_skatepark"}, m.ops)
}
