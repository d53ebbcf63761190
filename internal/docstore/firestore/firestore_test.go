package firestore

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genproto/googleapis/type/latlng"

	"github.com/vbonduro/where2skate/internal/docstore"
)

func TestToFirestoreConvertsTypedValues(t *testing.T) {
	out := toFirestoreMap(map[string]any{
		"location":  docstore.GeoPoint{Latitude: 1.5, Longitude: 2.5},
		"createdAt": docstore.ServerTimestamp,
		"count":     3,
		"nested":    map[string]any{"tags": []any{"bowl", 1}},
	})

	loc, ok := out["location"].(*latlng.LatLng)
	require.True(t, ok)
	assert.Equal(t, 1.5, loc.GetLatitude())
	assert.Equal(t, 2.5, loc.GetLongitude())
	assert.Equal(t, firestore.ServerTimestamp, out["createdAt"])
	assert.Equal(t, int64(3), out["count"])
	assert.Equal(t, map[string]any{"tags": []any{"bowl", int64(1)}}, out["nested"])
}

func TestFromFirestoreConvertsTypedValues(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600))
	out := fromFirestore(map[string]any{
		"location":  &latlng.LatLng{Latitude: -33.9, Longitude: 151.2},
		"createdAt": ts,
		"name":      "Bondi",
	}).(map[string]any)

	assert.Equal(t, docstore.GeoPoint{Latitude: -33.9, Longitude: 151.2}, out["location"])
	assert.Equal(t, ts.UTC(), out["createdAt"])
	assert.Equal(t, "Bondi", out["name"])
}

// TestEmulatorRoundTrip runs only against a local Firestore emulator.
func TestEmulatorRoundTrip(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	ctx := context.Background()

	s, err := New(ctx, "where2skate-test", slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	collection := "skateparks-" + time.Now().Format("150405.000000")
	w := s.WatchQuery(ctx, docstore.Query{Collection: collection, OrderBy: "createdAt", Direction: docstore.Desc})
	defer w.Stop()

	docs, err := w.Next()
	require.NoError(t, err)
	assert.Empty(t, docs)

	id, err := s.Add(ctx, collection, map[string]any{
		"name":      "Emulated",
		"location":  docstore.GeoPoint{Latitude: 1, Longitude: 2},
		"createdAt": docstore.ServerTimestamp,
	})
	require.NoError(t, err)

	docs, err = w.Next()
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, id, docs[0].ID)
	assert.Equal(t, docstore.GeoPoint{Latitude: 1, Longitude: 2}, docs[0].Data["location"])

	require.NoError(t, s.Delete(ctx, collection, id))
	doc, err := s.Get(ctx, collection, id)
	require.NoError(t, err)
	assert.Nil(t, doc)
}
