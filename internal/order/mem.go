package order

import (
	"context"
	"sync"
)

// MemStore is an in-memory Store used by tests.
type MemStore struct {
	mu     sync.Mutex
	orders map[string]*Order
	paid   map[string]bool

	// PaidCount tracks how many MarkPaid calls actually completed payment.
	PaidCount map[string]int
}

// NewMemStore seeds a store with the provided orders.
func NewMemStore(orders ...*Order) *MemStore {
	s := &MemStore{
		orders:    map[string]*Order{},
		paid:      map[string]bool{},
		PaidCount: map[string]int{},
	}
	for _, o := range orders {
		s.Put(o)
	}
	return s
}

// Put inserts or replaces an order.
func (s *MemStore) Put(o *Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.Meta == nil {
		o.Meta = map[string]string{}
	}
	s.orders[o.ID] = o
}

// Get returns a copy of the stored order so callers always observe current
// state at read time.
func (s *MemStore) Get(_ context.Context, id string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	cp.Meta = map[string]string{}
	for k, v := range o.Meta {
		cp.Meta[k] = v
	}
	return &cp, nil
}

// SetMeta stores a metadata key with last-write-wins semantics.
func (s *MemStore) SetMeta(_ context.Context, id, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Meta[key] = value
	return nil
}

// MarkPaid completes payment once; replays are no-ops.
func (s *MemStore) MarkPaid(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	if s.paid[id] {
		return nil
	}
	s.paid[id] = true
	s.PaidCount[id]++
	o.Status = StatusPaid
	return nil
}

// SetStatus transitions the order status.
func (s *MemStore) SetStatus(_ context.Context, id, status, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = status
	return nil
}
