// Package store defines the path-addressed document store every entity is
// persisted through, and the helpers shared by its drivers.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Get and Update when no document lives at a path.
var ErrNotFound = errors.New("document not found")

// Document is one stored value and the path it lives at.
type Document struct {
	Path string
	Data json.RawMessage
}

// ID returns the last path segment.
func (d Document) ID() string {
	return LastSegment(d.Path)
}

// Change is delivered to subscribers. Data is nil when the document was removed.
type Change struct {
	Path string
	Data json.RawMessage
}

// DocumentStore is a realtime, merge-based document store.
type DocumentStore interface {
	// Get decodes the document at path into out.
	Get(ctx context.Context, path string, out any) error

	// Set overwrites the document at path. A nil value deletes it.
	Set(ctx context.Context, path string, value any) error

	// Update merges top-level fields into the document at path.
	Update(ctx context.Context, path string, fields map[string]any) error

	// Push stores value under a freshly generated, time-ordered key below
	// collection and returns that key.
	Push(ctx context.Context, collection string, value any) (string, error)

	// List returns every document below prefix, ordered by path.
	List(ctx context.Context, prefix string) ([]Document, error)

	// Subscribe calls fn for every change below prefix until the returned
	// cancel func is called or ctx is done.
	Subscribe(ctx context.Context, prefix string, fn func(Change)) (func(), error)
}

// Join builds a store path from segments.
func Join(segments ...string) string {
	clean := make([]string, 0, len(segments))
	for _, s := range segments {
		s = strings.Trim(s, "/")
		if s != "" {
			clean = append(clean, s)
		}
	}
	return strings.Join(clean, "/")
}

// LastSegment returns the final element of path.
func LastSegment(path string) string {
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// Under reports whether path lies at or below prefix.
func Under(path, prefix string) bool {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return true
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// NewKey returns a time-ordered unique key for Push.
func NewKey() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Merge applies fields on top of the JSON object in existing.
func Merge(existing json.RawMessage, fields map[string]any) (json.RawMessage, error) {
	doc := map[string]json.RawMessage{}
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &doc); err != nil {
			return nil, err
		}
	}
	for k, v := range fields {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		doc[k] = raw
	}
	return json.Marshal(doc)
}

// Decode unmarshals every document in docs into a slice of T.
func Decode[T any](docs []Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		var v T
		if err := json.Unmarshal(d.Data, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
