// Package cart implements the cart store: an ordered list of line items unique
// by product id, with derived subtotal and count.
//
// Every mutation recomputes the derived totals and notifies subscribers with a
// fresh snapshot. The captured email survives every item mutation, including
// Clear; only ForgetEmail drops it.
package cart

import (
	"sync"

	"github.com/shopspring/decimal"

	"storefront/internal/model"
	"storefront/internal/reconcile"
	"storefront/internal/validate"
)

// Listener receives the cart snapshot after each mutation.
type Listener func(model.Cart)

// Lookup resolves a product id to a catalog product.
type Lookup func(id int) (model.Product, error)

// Store holds the cart. Safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	items     []model.LineItem
	email     string
	listeners map[int]Listener
	nextSub   int
}

// New returns an empty cart.
func New() *Store {
	return &Store{listeners: make(map[int]Listener)}
}

// Add appends the product with quantity 1, or increments it when already present.
func (s *Store) Add(p model.Product) model.Cart {
	return s.mutate(func() error {
		if i := s.indexOf(p.ID); i >= 0 {
			s.items[i].Quantity++
			return nil
		}
		s.items = append(s.items, model.LineItem{
			ProductID:   p.ID,
			Name:        p.Name,
			Description: p.Description,
			Image:       p.Image,
			UnitPrice:   p.Price,
			Quantity:    1,
		})
		return nil
	})
}

// Increment adds one to an existing line item.
func (s *Store) Increment(id int) (model.Cart, error) {
	return s.mutateErr(func() error {
		i := s.indexOf(id)
		if i < 0 {
			return model.ErrItemNotFound
		}
		s.items[i].Quantity++
		return nil
	})
}

// Decrement subtracts one; an item at quantity 1 is removed.
func (s *Store) Decrement(id int) (model.Cart, error) {
	return s.mutateErr(func() error {
		i := s.indexOf(id)
		if i < 0 {
			return model.ErrItemNotFound
		}
		if s.items[i].Quantity <= 1 {
			s.removeAt(i)
			return nil
		}
		s.items[i].Quantity--
		return nil
	})
}

// Remove drops a line item regardless of quantity.
func (s *Store) Remove(id int) (model.Cart, error) {
	return s.mutateErr(func() error {
		i := s.indexOf(id)
		if i < 0 {
			return model.ErrItemNotFound
		}
		s.removeAt(i)
		return nil
	})
}

// Clear empties the cart. The captured email is kept.
func (s *Store) Clear() model.Cart {
	return s.mutate(func() error {
		s.items = nil
		return nil
	})
}

// Replace reconciles the cart to the desired state. Every product to add is
// resolved before anything changes, so an unknown id leaves the cart untouched.
func (s *Store) Replace(desired []reconcile.DesiredItem, lookup Lookup) (model.Cart, error) {
	return s.mutateErr(func() error {
		current := make([]reconcile.CurrentItem, len(s.items))
		for i, item := range s.items {
			current[i] = reconcile.CurrentItem{ProductID: item.ProductID, Quantity: item.Quantity}
		}
		diff := reconcile.DiffLineItems(current, desired)

		added := make([]model.LineItem, 0, len(diff.ToAdd))
		for _, add := range diff.ToAdd {
			p, err := lookup(add.ProductID)
			if err != nil {
				return err
			}
			added = append(added, model.LineItem{
				ProductID:   p.ID,
				Name:        p.Name,
				Description: p.Description,
				Image:       p.Image,
				UnitPrice:   p.Price,
				Quantity:    add.Quantity,
			})
		}

		// Remove → Update → Add
		for _, rm := range diff.ToRemove {
			s.removeAt(s.indexOf(rm.ProductID))
		}
		for _, up := range diff.ToUpdate {
			s.items[s.indexOf(up.ProductID)].Quantity = up.NewQuantity
		}
		s.items = append(s.items, added...)
		return nil
	})
}

// Restore loads persisted items and email, e.g. after a restart. Rows with a
// non-positive id or quantity are dropped and duplicate ids are merged, so a
// corrupted record can never break the cart invariants.
func (s *Store) Restore(items []model.LineItem, email string) model.Cart {
	return s.mutate(func() error {
		s.items = nil
		for _, item := range items {
			if item.ProductID <= 0 || item.Quantity < 1 {
				continue
			}
			if i := s.indexOf(item.ProductID); i >= 0 {
				s.items[i].Quantity += item.Quantity
				continue
			}
			s.items = append(s.items, item)
		}
		if email != "" {
			if clean, err := validate.Email(email); err == nil {
				s.email = clean
			}
		}
		return nil
	})
}

// SetEmail captures the shopper's email after a format check.
func (s *Store) SetEmail(email string) (model.Cart, error) {
	clean, err := validate.Email(email)
	if err != nil {
		return s.Snapshot(), err
	}
	return s.mutate(func() error {
		s.email = clean
		return nil
	}), nil
}

// ForgetEmail drops the captured email.
func (s *Store) ForgetEmail() model.Cart {
	return s.mutate(func() error {
		s.email = ""
		return nil
	})
}

// Email returns the captured email, or "" when none.
func (s *Store) Email() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.email
}

// Snapshot returns a copy of the cart with derived totals.
func (s *Store) Snapshot() model.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Total returns subtotal plus the shipping surcharge.
func (s *Store) Total(shipping model.Shipping) decimal.Decimal {
	return s.Snapshot().Total(shipping)
}

// Subscribe registers fn for mutation notifications.
// The returned func unregisters it.
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// =============================================================================
// INTERNALS
// =============================================================================

func (s *Store) mutate(fn func() error) model.Cart {
	snap, _ := s.mutateErr(fn)
	return snap
}

// mutateErr applies fn under the lock and, on success, notifies listeners
// outside the lock so they may read the store again.
func (s *Store) mutateErr(fn func() error) (model.Cart, error) {
	s.mu.Lock()
	if err := fn(); err != nil {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, err
	}
	snap := s.snapshotLocked()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
	return snap, nil
}

func (s *Store) snapshotLocked() model.Cart {
	items := make([]model.LineItem, len(s.items))
	copy(items, s.items)

	subtotal := decimal.Zero
	count := 0
	for _, item := range items {
		subtotal = subtotal.Add(item.LineTotal())
		count += item.Quantity
	}
	return model.Cart{Items: items, Subtotal: subtotal, Count: count, Email: s.email}
}

func (s *Store) indexOf(id int) int {
	for i, item := range s.items {
		if item.ProductID == id {
			return i
		}
	}
	return -1
}

func (s *Store) removeAt(i int) {
	s.items = append(s.items[:i], s.items[i+1:]...)
}
