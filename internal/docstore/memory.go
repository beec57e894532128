package docstore

import (
	"context"
	"sync"
)

// Op names a store operation for call recording and failure injection.
type Op string

const (
	OpGet    Op = "get"
	OpSet    Op = "set"
	OpAdd    Op = "add"
	OpDelete Op = "delete"
)

// Call captures one operation executed against a MemoryStore.
type Call struct {
	Op         Op
	Collection string
	ID         string
	Fields     Document
}

// MemoryStore keeps documents in process memory. It records every call so
// tests can assert which backend operations were issued.
type MemoryStore struct {
	mu    sync.RWMutex
	docs  map[string]map[string]Document
	calls []Call
	fail  map[Op]error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]map[string]Document),
		fail: make(map[Op]error),
	}
}

// FailOn makes every following op return err. A nil err clears the failure.
func (m *MemoryStore) FailOn(op Op, err error) *MemoryStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, op)
	} else {
		m.fail[op] = err
	}
	return m
}

func (m *MemoryStore) Get(_ context.Context, collection, id string) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: OpGet, Collection: collection, ID: id})
	if err := m.fail[OpGet]; err != nil {
		return nil, err
	}
	doc, ok := m.docs[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(doc), nil
}

func (m *MemoryStore) Set(_ context.Context, collection, id string, fields Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: OpSet, Collection: collection, ID: id, Fields: clone(fields)})
	if err := m.fail[OpSet]; err != nil {
		return err
	}
	m.put(collection, id, fields)
	return nil
}

func (m *MemoryStore) Add(_ context.Context, collection string, fields Document) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := newID()
	m.calls = append(m.calls, Call{Op: OpAdd, Collection: collection, ID: id, Fields: clone(fields)})
	if err := m.fail[OpAdd]; err != nil {
		return "", err
	}
	m.put(collection, id, fields)
	return id, nil
}

func (m *MemoryStore) Delete(_ context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: OpDelete, Collection: collection, ID: id})
	if err := m.fail[OpDelete]; err != nil {
		return err
	}
	delete(m.docs[collection], id)
	return nil
}

func (m *MemoryStore) put(collection, id string, fields Document) {
	if m.docs[collection] == nil {
		m.docs[collection] = make(map[string]Document)
	}
	m.docs[collection][id] = clone(fields)
}

// Peek reads a document without recording a call.
func (m *MemoryStore) Peek(collection, id string) (Document, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[collection][id]
	if !ok {
		return nil, false
	}
	return clone(doc), true
}

// Calls returns a snapshot of recorded calls, optionally filtered by op.
func (m *MemoryStore) Calls(ops ...Op) []Call {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(ops) == 0 {
		return append([]Call(nil), m.calls...)
	}
	var out []Call
	for _, c := range m.calls {
		for _, op := range ops {
			if c.Op == op {
				out = append(out, c)
				break
			}
		}
	}
	return out
}
