// Package cart keeps a device's shopping cart: line items merged by
// product/variant identity and written through to a cache on every change.
package cart

// LineItem is one product, optionally a specific variant, in a cart.
type LineItem struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Unit      string `json:"unit"`
	Image     string `json:"image"`
	Quantity  int    `json:"quantity"`
}

// Key returns the identity key of the item.
func (i LineItem) Key() string {
	return KeyOf(i.ProductID, i.VariantID)
}

// KeyOf builds the identity key for a product and optional variant.
func KeyOf(productID, variantID string) string {
	if variantID == "" {
		return productID
	}
	return productID + ":" + variantID
}

// Store is the in-memory collection of line items for a single cart.
// It holds at most one entry per key and never an entry with quantity < 1.
type Store struct {
	items []LineItem
}

// NewStore builds a Store from previously persisted items, collapsing
// duplicates and dropping non-positive quantities.
func NewStore(items []LineItem) *Store {
	s := &Store{}
	for _, item := range items {
		if item.Quantity <= 0 {
			continue
		}
		s.Add(item)
	}
	return s
}

// Add merges the item into the cart. A repeat key only increases the quantity
// of the existing entry; its name, price and image are kept.
func (s *Store) Add(item LineItem) {
	if item.Quantity <= 0 {
		item.Quantity = 1
	}

	if i := s.index(item.Key()); i >= 0 {
		s.items[i].Quantity += item.Quantity
		return
	}
	s.items = append(s.items, item)
}

// Remove deletes the matching entry. Missing entries are ignored.
func (s *Store) Remove(productID, variantID string) {
	i := s.index(KeyOf(productID, variantID))
	if i < 0 {
		return
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
}

// SetQty replaces the quantity of an existing entry. A quantity of zero or
// less removes it; a missing entry is left missing.
func (s *Store) SetQty(productID string, qty int, variantID string) {
	if qty <= 0 {
		s.Remove(productID, variantID)
		return
	}
	if i := s.index(KeyOf(productID, variantID)); i >= 0 {
		s.items[i].Quantity = qty
	}
}

// Quantity returns the quantity of the matching entry, or zero.
func (s *Store) Quantity(productID, variantID string) int {
	if i := s.index(KeyOf(productID, variantID)); i >= 0 {
		return s.items[i].Quantity
	}
	return 0
}

// Clear empties the cart.
func (s *Store) Clear() {
	s.items = nil
}

// Items returns a copy of the entries in insertion order.
func (s *Store) Items() []LineItem {
	out := make([]LineItem, len(s.items))
	copy(out, s.items)
	return out
}

// Len is the number of distinct entries.
func (s *Store) Len() int {
	return len(s.items)
}

// Count is the number of units across all entries.
func (s *Store) Count() int {
	var n int
	for _, item := range s.items {
		n += item.Quantity
	}
	return n
}

// Total is the sum of price times quantity.
func (s *Store) Total() int64 {
	var total int64
	for _, item := range s.items {
		total += item.Price * int64(item.Quantity)
	}
	return total
}

func (s *Store) index(key string) int {
	for i := range s.items {
		if s.items[i].Key() == key {
			return i
		}
	}
	return -1
}
