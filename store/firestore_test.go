package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/alimasry/go-delta/delta"
)

func testFirestoreClient(t *testing.T) *firestore.Client {
	t.Helper()
	projectID := os.Getenv("FIRESTORE_PROJECT")
	if projectID == "" {
		t.Skip("FIRESTORE_PROJECT not set, skipping Firestore tests")
	}
	client, err := firestore.NewClient(context.Background(), projectID)
	if err != nil {
		t.Fatalf("failed to create Firestore client: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// uniqueDocID returns a unique document ID for test isolation.
func uniqueDocID(t *testing.T) string {
	return fmt.Sprintf("test-%s-%d", t.Name(), time.Now().UnixNano())
}

// cleanupDoc deletes a document and its changes subcollection.
func cleanupDoc(t *testing.T, s *FirestoreStore, docID string) {
	t.Helper()
	ctx := context.Background()

	changes := s.changesCollection(docID).Documents(ctx)
	for {
		snap, err := changes.Next()
		if err != nil {
			break
		}
		snap.Ref.Delete(ctx)
	}

	s.docRef(docID).Delete(ctx)
}

func TestFirestoreStore_CreateAndGet(t *testing.T) {
	client := testFirestoreClient(t)
	s := NewFirestoreStore(client, "")
	ctx := context.Background()
	docID := uniqueDocID(t)
	t.Cleanup(func() { cleanupDoc(t, s, docID) })

	doc := delta.NewDocument(delta.NewInsert("hello", delta.Attributes{"bold": true}))
	if err := s.Create(ctx, docID, doc); err != nil {
		t.Fatal(err)
	}

	info, err := s.Get(ctx, docID)
	if err != nil {
		t.Fatal(err)
	}
	if !info.Delta.Equal(doc) || info.Version != 0 || info.ID != docID {
		t.Errorf("unexpected info: %+v", info)
	}
}

func TestFirestoreStore_CreateDuplicate(t *testing.T) {
	client := testFirestoreClient(t)
	s := NewFirestoreStore(client, "")
	ctx := context.Background()
	docID := uniqueDocID(t)
	t.Cleanup(func() { cleanupDoc(t, s, docID) })

	s.Create(ctx, docID, nil)
	if err := s.Create(ctx, docID, nil); !errors.Is(err, ErrExists) {
		t.Errorf("expected ErrExists, got %v", err)
	}
}

func TestFirestoreStore_GetNotFound(t *testing.T) {
	client := testFirestoreClient(t)
	s := NewFirestoreStore(client, "")
	_, err := s.Get(context.Background(), "nonexistent-doc-xyz")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFirestoreStore_List(t *testing.T) {
	client := testFirestoreClient(t)
	s := NewFirestoreStore(client, "")
	ctx := context.Background()

	ids := make([]string, 3)
	for i := range ids {
		ids[i] = uniqueDocID(t) + fmt.Sprintf("-%d", i)
		t.Cleanup(func() { cleanupDoc(t, s, ids[i]) })
		s.Create(ctx, ids[i], nil)
	}

	docs, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// At least our 3 docs should be present (there may be others from parallel tests).
	found := 0
	for _, d := range docs {
		for _, id := range ids {
			if d.ID == id {
				found++
			}
		}
	}
	if found != 3 {
		t.Errorf("found %d of our 3 docs in list", found)
	}
}

func TestFirestoreStore_UpdateContent(t *testing.T) {
	client := testFirestoreClient(t)
	s := NewFirestoreStore(client, "")
	ctx := context.Background()
	docID := uniqueDocID(t)
	t.Cleanup(func() { cleanupDoc(t, s, docID) })

	s.Create(ctx, docID, text("hello"))
	if err := s.UpdateContent(ctx, docID, text("hello world"), 1); err != nil {
		t.Fatal(err)
	}

	info, _ := s.Get(ctx, docID)
	if info.Delta.PlainText() != "hello world" || info.Version != 1 {
		t.Errorf("unexpected: text=%q version=%d", info.Delta.PlainText(), info.Version)
	}
}

func TestFirestoreStore_Changes(t *testing.T) {
	client := testFirestoreClient(t)
	s := NewFirestoreStore(client, "")
	ctx := context.Background()
	docID := uniqueDocID(t)
	t.Cleanup(func() { cleanupDoc(t, s, docID) })

	s.Create(ctx, docID, text("hello"))

	if err := s.AppendChange(ctx, docID, text(" world"), 1); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendChange(ctx, docID, text("!"), 2); err != nil {
		t.Fatal(err)
	}

	changes, err := s.GetChanges(ctx, docID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 2 {
		t.Fatalf("got %d changes, want 2", len(changes))
	}

	// Skip the first change.
	changes, err = s.GetChanges(ctx, docID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 1 || changes[0].PlainText() != "!" {
		t.Fatalf("got %v, want the second change", changes)
	}
}

func TestFirestoreStore_ChangesNotFound(t *testing.T) {
	client := testFirestoreClient(t)
	s := NewFirestoreStore(client, "")
	_, err := s.GetChanges(context.Background(), "nonexistent-doc-xyz", 0)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
