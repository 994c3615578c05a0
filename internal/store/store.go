package store

import (
	"sync"

	"github.com/utafrali/storefront/internal/domain"
)

// Store holds the current State and serializes every transition. Readers
// receive deep copies; subscribers receive the latest state after each
// change.
type Store struct {
	mu     sync.RWMutex
	state  State
	subs   map[uint64]chan State
	nextID uint64
}

// New returns a store with an empty catalog and cart.
func New() *Store {
	return &Store{
		state: State{
			Catalog: domain.Products{},
			Cart:    domain.Products{},
		},
		subs: make(map[uint64]chan State),
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// SetCatalog replaces the catalog.
func (s *Store) SetCatalog(items []domain.Product) State {
	st, _ := s.apply(func(cur State) (State, bool) { return SetCatalog(cur, items) })
	return st
}

// SetCatalogLoading sets the catalog loading flag.
func (s *Store) SetCatalogLoading(loading bool) State {
	st, _ := s.apply(func(cur State) (State, bool) { return SetCatalogLoading(cur, loading) })
	return st
}

// SetCartLoading sets the cart loading flag.
func (s *Store) SetCartLoading(loading bool) State {
	st, _ := s.apply(func(cur State) (State, bool) { return SetCartLoading(cur, loading) })
	return st
}

// AddToCart moves a catalog product into the cart.
func (s *Store) AddToCart(product domain.Product) (State, bool) {
	return s.apply(func(cur State) (State, bool) { return AddToCart(cur, product) })
}

// AdjustQuantity changes the units of a cart product.
func (s *Store) AdjustQuantity(product domain.Product, delta int) (State, bool) {
	return s.apply(func(cur State) (State, bool) { return AdjustQuantity(cur, product, delta) })
}

// ClearCart empties the cart.
func (s *Store) ClearCart() State {
	st, _ := s.apply(ClearCart)
	return st
}

// Subscribe returns a channel that receives the state after every change and
// a function that ends the subscription. Slow subscribers only see the most
// recent state.
func (s *Store) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (s *Store) apply(transition func(State) (State, bool)) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, changed := transition(s.state)
	if !changed {
		return s.state.Clone(), false
	}

	next.Version = s.state.Version + 1
	s.state = next

	for _, ch := range s.subs {
		publish(ch, next.Clone())
	}
	return next.Clone(), true
}

// publish replaces any undelivered state with st. Only apply sends on ch and
// it holds the lock, so the second send cannot block.
func publish(ch chan State, st State) {
	select {
	case ch <- st:
	default:
		select {
		case <-ch:
		default:
		}
		ch <- st
	}
}
