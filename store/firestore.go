package store

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/alimasry/go-delta/delta"
)

// FirestoreStore is a Firestore-backed implementation of DocumentStore.
// Deltas are stored in their encoded wire form.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreStore creates a new FirestoreStore using the given Firestore
// client. An empty collection defaults to "documents".
func NewFirestoreStore(client *firestore.Client, collection string) *FirestoreStore {
	if collection == "" {
		collection = "documents"
	}
	return &FirestoreStore{
		client:     client,
		collection: collection,
	}
}

func (s *FirestoreStore) docRef(id string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(id)
}

func (s *FirestoreStore) changesCollection(docID string) *firestore.CollectionRef {
	return s.docRef(docID).Collection("changes")
}

func zeroPad(version int) string {
	return fmt.Sprintf("%010d", version)
}

func (s *FirestoreStore) Create(ctx context.Context, id string, doc *delta.Document) error {
	raw, err := delta.Encode(doc)
	if err != nil {
		return err
	}
	now := time.Now()
	_, err = s.docRef(id).Create(ctx, map[string]interface{}{
		"delta":     string(raw),
		"version":   0,
		"createdAt": now,
		"updatedAt": now,
	})
	if status.Code(err) == codes.AlreadyExists {
		return fmt.Errorf("document %q: %w", id, ErrExists)
	}
	return err
}

func (s *FirestoreStore) Get(ctx context.Context, id string) (*DocumentInfo, error) {
	snap, err := s.docRef(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("document %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return snapshotToDocInfo(id, snap)
}

func snapshotToDocInfo(id string, snap *firestore.DocumentSnapshot) (*DocumentInfo, error) {
	data := snap.Data()
	raw, _ := data["delta"].(string)
	version, _ := data["version"].(int64)
	createdAt, _ := data["createdAt"].(time.Time)
	updatedAt, _ := data["updatedAt"].(time.Time)

	doc, err := delta.Decode([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("document %q: %w", id, err)
	}
	return &DocumentInfo{
		ID:        id,
		Delta:     doc,
		Version:   int(version),
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}

func (s *FirestoreStore) List(ctx context.Context) ([]DocumentInfo, error) {
	iter := s.client.Collection(s.collection).Documents(ctx)
	defer iter.Stop()

	var result []DocumentInfo
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		info, err := snapshotToDocInfo(snap.Ref.ID, snap)
		if err != nil {
			return nil, err
		}
		result = append(result, *info)
	}
	return result, nil
}

func (s *FirestoreStore) UpdateContent(ctx context.Context, id string, doc *delta.Document, version int) error {
	raw, err := delta.Encode(doc)
	if err != nil {
		return err
	}
	_, err = s.docRef(id).Update(ctx, []firestore.Update{
		{Path: "delta", Value: string(raw)},
		{Path: "version", Value: version},
		{Path: "updatedAt", Value: time.Now()},
	})
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("document %q: %w", id, ErrNotFound)
	}
	return err
}

func (s *FirestoreStore) AppendChange(ctx context.Context, id string, change *delta.Document, version int) error {
	raw, err := delta.Encode(change)
	if err != nil {
		return err
	}
	// Stored with a 0-based index: version 1 is index 0, matching MemoryStore's
	// history slice where GetChanges(fromVersion) returns history[fromVersion:].
	index := version - 1
	_, err = s.changesCollection(id).Doc(zeroPad(index)).Set(ctx, map[string]interface{}{
		"delta":   string(raw),
		"version": version,
	})
	return err
}

func (s *FirestoreStore) GetChanges(ctx context.Context, id string, fromVersion int) ([]*delta.Document, error) {
	// Verify document exists.
	_, err := s.docRef(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("document %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	iter := s.changesCollection(id).
		OrderBy(firestore.DocumentID, firestore.Asc).
		StartAt(zeroPad(fromVersion)).
		Documents(ctx)
	defer iter.Stop()

	var changes []*delta.Document
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		raw, ok := snap.Data()["delta"].(string)
		if !ok {
			return nil, fmt.Errorf("invalid delta field in change %s", snap.Ref.ID)
		}
		change, err := delta.Decode([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("change %s: %w", snap.Ref.ID, err)
		}
		changes = append(changes, change)
	}
	return changes, nil
}
