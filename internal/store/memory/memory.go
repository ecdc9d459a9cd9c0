// Package memory provides an in-process DocumentStore for tests and local runs.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/segyhp/vault-engine/internal/store"
)

type subscriber struct {
	prefix string
	fn     func(store.Change)
}

type Memory struct {
	mu     sync.RWMutex
	docs   map[string]json.RawMessage
	subs   map[int]subscriber
	nextID int
}

func New() *Memory {
	return &Memory{
		docs: make(map[string]json.RawMessage),
		subs: make(map[int]subscriber),
	}
}

func (m *Memory) Get(_ context.Context, path string, out any) error {
	m.mu.RLock()
	raw, ok := m.docs[store.Join(path)]
	m.mu.RUnlock()
	if !ok {
		return store.ErrNotFound
	}
	return json.Unmarshal(raw, out)
}

func (m *Memory) Set(_ context.Context, path string, value any) error {
	path = store.Join(path)
	if value == nil {
		m.mu.Lock()
		delete(m.docs, path)
		m.mu.Unlock()
		m.notify(store.Change{Path: path})
		return nil
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.docs[path] = raw
	m.mu.Unlock()
	m.notify(store.Change{Path: path, Data: raw})
	return nil
}

func (m *Memory) Update(_ context.Context, path string, fields map[string]any) error {
	path = store.Join(path)
	m.mu.Lock()
	existing, ok := m.docs[path]
	if !ok {
		m.mu.Unlock()
		return store.ErrNotFound
	}
	merged, err := store.Merge(existing, fields)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.docs[path] = merged
	m.mu.Unlock()
	m.notify(store.Change{Path: path, Data: merged})
	return nil
}

func (m *Memory) Push(ctx context.Context, collection string, value any) (string, error) {
	key, err := store.NewKey()
	if err != nil {
		return "", err
	}
	if err := m.Set(ctx, store.Join(collection, key), value); err != nil {
		return "", err
	}
	return key, nil
}

func (m *Memory) List(_ context.Context, prefix string) ([]store.Document, error) {
	prefix = store.Join(prefix)
	m.mu.RLock()
	defer m.mu.RUnlock()

	var docs []store.Document
	for path, raw := range m.docs {
		if path != prefix && store.Under(path, prefix) {
			docs = append(docs, store.Document{Path: path, Data: raw})
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	return docs, nil
}

// Subscribe delivers changes synchronously on the writer's goroutine.
func (m *Memory) Subscribe(ctx context.Context, prefix string, fn func(store.Change)) (func(), error) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = subscriber{prefix: prefix, fn: fn}
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			cancel()
		}()
	}
	return cancel, nil
}

func (m *Memory) notify(change store.Change) {
	m.mu.RLock()
	targets := make([]func(store.Change), 0, len(m.subs))
	for _, s := range m.subs {
		if store.Under(change.Path, s.prefix) {
			targets = append(targets, s.fn)
		}
	}
	m.mu.RUnlock()

	for _, fn := range targets {
		fn(change)
	}
}
