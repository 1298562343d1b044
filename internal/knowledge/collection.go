// Package knowledge loads, holds and ranks the documents an agent can draw
// on when replying.
package knowledge

import (
	"errors"
	"slices"
	"sync"

	"persona/internal/domain"
)

// ErrFrozen is returned when extending a collection that is in use.
var ErrFrozen = errors.New("document collection is frozen")

// Collection is an append-only set of documents. It is frozen while the
// agent is running and thawed between sessions.
type Collection struct {
	mu     sync.RWMutex
	docs   []domain.Document
	frozen bool
}

func NewCollection() *Collection {
	return &Collection{}
}

func (c *Collection) Extend(docs ...domain.Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		return ErrFrozen
	}
	c.docs = append(c.docs, docs...)
	return nil
}

// Documents returns a snapshot. Chunk slices are shared and must not be
// modified.
func (c *Collection) Documents() []domain.Document {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.docs)
}

func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs)
}

// Chunks counts chunks across all documents.
func (c *Collection) Chunks() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, d := range c.docs {
		n += len(d.Chunks)
	}
	return n
}

func (c *Collection) Freeze() {
	c.mu.Lock()
	c.frozen = true
	c.mu.Unlock()
}

func (c *Collection) Thaw() {
	c.mu.Lock()
	c.frozen = false
	c.mu.Unlock()
}

func (c *Collection) Frozen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frozen
}
