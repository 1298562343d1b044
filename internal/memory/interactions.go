package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"persona/internal/domain"
)

// Interactions stores user and agent messages keyed by message id.
type Interactions struct {
	store *Store
	locks keyLocks
}

func NewInteractions(store *Store) *Interactions {
	return &Interactions{store: store}
}

// Put records msg under id. Writers of the same id are serialized.
func (in *Interactions) Put(ctx context.Context, id string, msg domain.InternalMessage) error {
	unlock := in.locks.lock(id)
	defer unlock()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode interaction %s: %w", id, err)
	}
	return in.store.Put(ctx, id, msg.ContextID, data)
}

// Get returns the message stored under id, wrapping domain.ErrNotFound.
func (in *Interactions) Get(ctx context.Context, id string) (domain.InternalMessage, error) {
	var msg domain.InternalMessage
	data, err := in.store.Get(ctx, id)
	if err != nil {
		return msg, err
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("decode interaction %s: %w", id, err)
	}
	return msg, nil
}

// Update applies fn to the stored message under the key lock and writes
// the result back.
func (in *Interactions) Update(ctx context.Context, id string, fn func(domain.InternalMessage) domain.InternalMessage) error {
	unlock := in.locks.lock(id)
	defer unlock()

	msg, err := in.Get(ctx, id)
	if err != nil {
		return err
	}
	msg = fn(msg)
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode interaction %s: %w", id, err)
	}
	return in.store.Put(ctx, id, msg.ContextID, data)
}

// Recent returns up to n messages from contextID, oldest first.
func (in *Interactions) Recent(ctx context.Context, contextID string, n int) ([]domain.InternalMessage, error) {
	if contextID == "" || n <= 0 {
		return nil, nil
	}
	values, err := in.store.Scan(ctx, contextID, n)
	if err != nil {
		return nil, fmt.Errorf("recent interactions in %s: %w", contextID, err)
	}
	msgs := make([]domain.InternalMessage, 0, len(values))
	for _, v := range values {
		var m domain.InternalMessage
		if err := json.Unmarshal(v, &m); err != nil {
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// keyLocks hands out one mutex per key, dropping it when unused.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyLocks) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
