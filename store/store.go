package store

import (
	"context"
	"errors"
	"time"

	"github.com/alimasry/go-delta/delta"
)

var (
	ErrNotFound = errors.New("document not found")
	ErrExists   = errors.New("document already exists")
)

// DocumentInfo holds a document's current delta and metadata.
// Version counts the changes appended since creation.
type DocumentInfo struct {
	ID        string
	Delta     *delta.Document
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DocumentStore abstracts document persistence.
// Implementations: MemoryStore, FirestoreStore, and CachedStore in front of
// either. Deltas are immutable, so stores may keep the pointers they are given.
type DocumentStore interface {
	Create(ctx context.Context, id string, doc *delta.Document) error
	Get(ctx context.Context, id string) (*DocumentInfo, error)
	List(ctx context.Context) ([]DocumentInfo, error)
	UpdateContent(ctx context.Context, id string, doc *delta.Document, version int) error
	// AppendChange records the change that produced the given version.
	AppendChange(ctx context.Context, id string, change *delta.Document, version int) error
	// GetChanges returns the changes after fromVersion, oldest first.
	GetChanges(ctx context.Context, id string, fromVersion int) ([]*delta.Document, error)
}
