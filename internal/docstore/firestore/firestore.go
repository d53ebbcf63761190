// Package firestore backs docstore.Store with Google Cloud Firestore. Live
// watches use Firestore snapshot listeners.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/genproto/googleapis/type/latlng"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vbonduro/where2skate/internal/docstore"
)

type Store struct {
	client *firestore.Client
	logger *slog.Logger
}

// New connects to the Firestore database of projectID. Credentials are taken
// from the environment (or FIRESTORE_EMULATOR_HOST when set).
func New(ctx context.Context, projectID string, logger *slog.Logger) (*Store, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	return &Store{client: client, logger: logger.With("component", "docstore")}, nil
}

func (s *Store) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	ref, _, err := s.client.Collection(collection).Add(ctx, toFirestoreMap(data))
	if err != nil {
		return "", fmt.Errorf("failed to add document: %w", err)
	}
	s.logger.Debug("document added", "collection", collection, "id", ref.ID)
	return ref.ID, nil
}

func (s *Store) Set(ctx context.Context, collection, id string, data map[string]any) error {
	if _, err := s.client.Collection(collection).Doc(id).Set(ctx, toFirestoreMap(data)); err != nil {
		return fmt.Errorf("failed to set document: %w", err)
	}
	s.logger.Debug("document set", "collection", collection, "id", id)
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if _, err := s.client.Collection(collection).Doc(id).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	s.logger.Debug("document deleted", "collection", collection, "id", id)
	return nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	snap, err := s.client.Collection(collection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return fromSnapshot(snap), nil
}

func (s *Store) List(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	snaps, err := s.query(q).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return fromSnapshots(snaps), nil
}

func (s *Store) WatchQuery(ctx context.Context, q docstore.Query) docstore.QueryWatcher {
	s.logger.Debug("query watch started", "collection", q.Collection)
	return &queryWatcher{it: s.query(q).Snapshots(ctx)}
}

func (s *Store) WatchDocument(ctx context.Context, collection, id string) docstore.DocumentWatcher {
	s.logger.Debug("document watch started", "collection", collection, "id", id)
	return &documentWatcher{it: s.client.Collection(collection).Doc(id).Snapshots(ctx)}
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) query(q docstore.Query) firestore.Query {
	coll := s.client.Collection(q.Collection)
	if q.OrderBy == "" {
		return coll.Query
	}
	dir := firestore.Asc
	if q.Direction == docstore.Desc {
		dir = firestore.Desc
	}
	return coll.OrderBy(q.OrderBy, dir)
}

type queryWatcher struct {
	it *firestore.QuerySnapshotIterator
}

func (w *queryWatcher) Next() ([]docstore.Document, error) {
	snap, err := w.it.Next()
	if err != nil {
		return nil, watchError(err)
	}
	snaps, err := snap.Documents.GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return fromSnapshots(snaps), nil
}

func (w *queryWatcher) Stop() { w.it.Stop() }

type documentWatcher struct {
	it *firestore.DocumentSnapshotIterator
}

func (w *documentWatcher) Next() (*docstore.Document, error) {
	snap, err := w.it.Next()
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, watchError(err)
	}
	if !snap.Exists() {
		return nil, nil
	}
	return fromSnapshot(snap), nil
}

func (w *documentWatcher) Stop() { w.it.Stop() }

func watchError(err error) error {
	if errors.Is(err, iterator.Done) {
		return docstore.ErrWatcherStopped
	}
	if status.Code(err) == codes.Canceled {
		return context.Canceled
	}
	return fmt.Errorf("snapshot listener failed: %w", err)
}

func fromSnapshots(snaps []*firestore.DocumentSnapshot) []docstore.Document {
	docs := make([]docstore.Document, 0, len(snaps))
	for _, snap := range snaps {
		docs = append(docs, *fromSnapshot(snap))
	}
	return docs
}

func fromSnapshot(snap *firestore.DocumentSnapshot) *docstore.Document {
	data, _ := fromFirestore(snap.Data()).(map[string]any)
	if data == nil {
		data = map[string]any{}
	}
	return &docstore.Document{ID: snap.Ref.ID, Data: data}
}

func toFirestoreMap(data map[string]any) map[string]any {
	out, _ := toFirestore(data).(map[string]any)
	return out
}

func toFirestore(v any) any {
	switch val := v.(type) {
	case docstore.GeoPoint:
		return &latlng.LatLng{Latitude: val.Latitude, Longitude: val.Longitude}
	case *docstore.GeoPoint:
		if val == nil {
			return nil
		}
		return &latlng.LatLng{Latitude: val.Latitude, Longitude: val.Longitude}
	case int:
		return int64(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = toFirestore(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = toFirestore(item)
		}
		return out
	default:
		if v == docstore.ServerTimestamp {
			return firestore.ServerTimestamp
		}
		return v
	}
}

func fromFirestore(v any) any {
	switch val := v.(type) {
	case *latlng.LatLng:
		if val == nil {
			return nil
		}
		return docstore.GeoPoint{Latitude: val.GetLatitude(), Longitude: val.GetLongitude()}
	case time.Time:
		return val.UTC()
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = fromFirestore(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = fromFirestore(item)
		}
		return out
	default:
		return v
	}
}
