package domain

// Products is an ordered product collection, unique by ID.
type Products []Product

// Index returns the position of the product with the given ID, or -1.
func (ps Products) Index(id ProductID) int {
	for i := range ps {
		if ps[i].ID == id {
			return i
		}
	}
	return -1
}

// Contains reports whether a product with the given ID is present.
func (ps Products) Contains(id ProductID) bool {
	return ps.Index(id) >= 0
}

// Find returns a copy of the product with the given ID.
func (ps Products) Find(id ProductID) (Product, bool) {
	if i := ps.Index(id); i >= 0 {
		return ps[i].Clone(), true
	}
	return Product{}, false
}

// Clone deep-copies the collection. A nil collection clones to an empty one.
func (ps Products) Clone() Products {
	out := make(Products, len(ps))
	for i := range ps {
		out[i] = ps[i].Clone()
	}
	return out
}

// IDs returns the product IDs in order.
func (ps Products) IDs() []ProductID {
	ids := make([]ProductID, len(ps))
	for i := range ps {
		ids[i] = ps[i].ID
	}
	return ids
}

// ItemCount returns the total number of units.
func (ps Products) ItemCount() int {
	var count int
	for _, p := range ps {
		count += p.Units
	}
	return count
}

// TotalAmount returns the sum of price times units.
func (ps Products) TotalAmount() float64 {
	var total float64
	for _, p := range ps {
		total += p.Price * float64(p.Units)
	}
	return total
}
