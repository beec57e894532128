package docstore

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Document is the field map of one stored document.
type Document map[string]any

// ErrNotFound is returned by Get when the document does not exist.
var ErrNotFound = errors.New("document not found")

// Store defines the document operations the gateway relies on.
type Store interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	// Set replaces the document's fields, creating it when missing.
	Set(ctx context.Context, collection, id string, fields Document) error
	// Add stores a new document under a generated id and returns the id.
	Add(ctx context.Context, collection string, fields Document) (string, error)
	// Delete removes the document. Deleting a missing document is not an error.
	Delete(ctx context.Context, collection, id string) error
}

func newID() string { return uuid.NewString() }

func clone(src Document) Document {
	if src == nil {
		return Document{}
	}
	dst := make(Document, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
