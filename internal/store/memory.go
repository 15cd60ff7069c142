package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Memory is an in-process Store used by tests and local runs. Records
// are kept as JSON so the struct mapping matches what a remote document
// store would do. A single mutex serializes transactions, which gives
// the same per-record atomicity guarantee Firestore transactions do.
type Memory struct {
	mu   sync.Mutex
	docs map[string]json.RawMessage
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[string]json.RawMessage)}
}

func (m *Memory) Get(ctx context.Context, path string, dest any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return getDoc(m.docs, path, dest)
}

func (m *Memory) Set(ctx context.Context, path string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return setDoc(m.docs, path, value)
}

func (m *Memory) SetMerge(ctx context.Context, path string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return mergeDoc(m.docs, path, fields)
}

func (m *Memory) RunTransaction(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Stage writes on a copy so a failed transaction leaves no trace.
	staged := make(map[string]json.RawMessage, len(m.docs))
	for k, v := range m.docs {
		staged[k] = v
	}
	if err := fn(&memoryTx{docs: staged}); err != nil {
		return err
	}
	m.docs = staged
	return nil
}

type memoryTx struct {
	docs map[string]json.RawMessage
}

func (t *memoryTx) Get(path string, dest any) (bool, error) {
	return getDoc(t.docs, path, dest)
}

func (t *memoryTx) Set(path string, value any) error {
	return setDoc(t.docs, path, value)
}

func (t *memoryTx) SetMerge(path string, fields map[string]any) error {
	return mergeDoc(t.docs, path, fields)
}

func getDoc(docs map[string]json.RawMessage, path string, dest any) (bool, error) {
	raw, ok := docs[path]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("decode record %s: %w", path, err)
	}
	return true, nil
}

func setDoc(docs map[string]json.RawMessage, path string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", path, err)
	}
	docs[path] = raw
	return nil
}

func mergeDoc(docs map[string]json.RawMessage, path string, fields map[string]any) error {
	current := map[string]any{}
	if raw, ok := docs[path]; ok {
		if err := json.Unmarshal(raw, &current); err != nil {
			return fmt.Errorf("decode record %s: %w", path, err)
		}
	}
	for k, v := range fields {
		current[k] = v
	}
	return setDoc(docs, path, current)
}
