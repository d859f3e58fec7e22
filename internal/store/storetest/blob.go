// Package storetest provides an in-memory domain.DocumentBlob honoring
// conditional writes, for exercising gateway conflict and recovery paths in
// tests.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"papertrader/internal/domain"
)

// MemBlob is an in-memory DocumentBlob. The revision token is a monotonic
// per-store sequence, so any overwrite invalidates prior tokens.
type MemBlob struct {
	mu      sync.Mutex
	objects map[string]domain.BlobObject
	revSeq  int
	puts    int
}

// NewMemBlob creates an empty MemBlob.
func NewMemBlob() *MemBlob {
	return &MemBlob{objects: make(map[string]domain.BlobObject)}
}

// Get retrieves the object at key, or domain.ErrNotFound.
func (m *MemBlob) Get(_ context.Context, key string) (domain.BlobObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return domain.BlobObject{}, domain.ErrNotFound
	}
	return obj, nil
}

// Put stores data at key, honoring the conditional-write options.
func (m *MemBlob) Put(_ context.Context, key string, data []byte, opts domain.PutOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, exists := m.objects[key]
	if opts.IfAbsent && exists {
		return "", domain.ErrRevisionConflict
	}
	if opts.IfRevision != "" {
		if !exists {
			return "", domain.ErrNotFound
		}
		if cur.Revision != opts.IfRevision {
			return "", domain.ErrRevisionConflict
		}
	}

	m.revSeq++
	m.puts++
	rev := fmt.Sprintf("rev-%d", m.revSeq)
	m.objects[key] = domain.BlobObject{Data: append([]byte(nil), data...), Revision: rev}
	return rev, nil
}

// Overwrite simulates a concurrent external writer replacing an object,
// bypassing all conditions.
func (m *MemBlob) Overwrite(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revSeq++
	m.objects[key] = domain.BlobObject{Data: data, Revision: fmt.Sprintf("rev-%d", m.revSeq)}
}

// Delete removes the object at key, if present.
func (m *MemBlob) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
}

// PutCount reports how many writes have succeeded.
func (m *MemBlob) PutCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

// OverwriteDocument replaces the portfolio document the pointer object at
// pointerKey names, simulating an external writer corrupting the state.
func (m *MemBlob) OverwriteDocument(pointerKey string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ptrObj, ok := m.objects[pointerKey]
	if !ok {
		return fmt.Errorf("storetest: pointer object %s missing", pointerKey)
	}
	var ptr struct {
		DocumentKey string `json:"documentKey"`
	}
	if err := json.Unmarshal(ptrObj.Data, &ptr); err != nil {
		return fmt.Errorf("storetest: parse pointer: %w", err)
	}

	m.revSeq++
	m.objects[ptr.DocumentKey] = domain.BlobObject{Data: payload, Revision: fmt.Sprintf("rev-%d", m.revSeq)}
	return nil
}

var _ domain.DocumentBlob = (*MemBlob)(nil)
