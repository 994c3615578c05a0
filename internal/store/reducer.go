package store

import "github.com/utafrali/storefront/internal/domain"

// State is an immutable snapshot of the storefront. A product is either in
// the catalog or in the cart, never both. Cart entries always hold at least
// one unit.
type State struct {
	Catalog        domain.Products `json:"catalog"`
	Cart           domain.Products `json:"cart"`
	CatalogLoading bool            `json:"catalog_loading"`
	CartLoading    bool            `json:"cart_loading"`
	Version        uint64          `json:"version"`
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	out := s
	out.Catalog = s.Catalog.Clone()
	out.Cart = s.Cart.Clone()
	return out
}

// The functions below are the only transitions. They never modify their
// input and report whether the returned state differs from it.

// SetCatalog replaces the catalog. Entries already in the cart are skipped,
// duplicate IDs keep their first occurrence, and units are reset to zero.
func SetCatalog(s State, items []domain.Product) (State, bool) {
	catalog := make(domain.Products, 0, len(items))
	for _, item := range items {
		if s.Cart.Contains(item.ID) || catalog.Contains(item.ID) {
			continue
		}
		p := item.Clone()
		p.Units = 0
		catalog = append(catalog, p)
	}

	s.Catalog = catalog
	return s, true
}

// SetCatalogLoading sets the catalog loading flag.
func SetCatalogLoading(s State, loading bool) (State, bool) {
	if s.CatalogLoading == loading {
		return s, false
	}
	s.CatalogLoading = loading
	return s, true
}

// SetCartLoading sets the cart loading flag.
func SetCartLoading(s State, loading bool) (State, bool) {
	if s.CartLoading == loading {
		return s, false
	}
	s.CartLoading = loading
	return s, true
}

// AddToCart moves the catalog entry with the product's ID into the cart with
// one unit. It is a no-op when the product is not in the catalog or is
// already in the cart.
func AddToCart(s State, product domain.Product) (State, bool) {
	idx := s.Catalog.Index(product.ID)
	if idx < 0 || s.Cart.Contains(product.ID) {
		return s, false
	}

	item := s.Catalog[idx].Clone()
	item.Units = 1

	cart := make(domain.Products, 0, len(s.Cart)+1)
	cart = append(cart, s.Cart...)
	cart = append(cart, item)

	catalog := make(domain.Products, 0, len(s.Catalog)-1)
	catalog = append(catalog, s.Catalog[:idx]...)
	catalog = append(catalog, s.Catalog[idx+1:]...)

	s.Cart = cart
	s.Catalog = catalog
	return s, true
}

// AdjustQuantity adds delta to the units of the matching cart entry and
// drops every cart entry left with fewer than one unit. A catalog entry with
// the same ID, if any, mirrors the new unit count. Removed entries do not
// return to the catalog.
func AdjustQuantity(s State, product domain.Product, delta int) (State, bool) {
	idx := s.Cart.Index(product.ID)
	if idx < 0 || delta == 0 {
		return s, false
	}

	units := s.Cart[idx].Units + delta

	cart := make(domain.Products, 0, len(s.Cart))
	for i, item := range s.Cart {
		if i == idx {
			item.Units = units
		}
		if item.Units > 0 {
			cart = append(cart, item)
		}
	}

	if c := s.Catalog.Index(product.ID); c >= 0 {
		catalog := make(domain.Products, len(s.Catalog))
		copy(catalog, s.Catalog)
		catalog[c].Units = max(units, 0)
		s.Catalog = catalog
	}

	s.Cart = cart
	return s, true
}

// ClearCart empties the cart.
func ClearCart(s State) (State, bool) {
	if len(s.Cart) == 0 && s.Cart != nil {
		return s, false
	}
	s.Cart = domain.Products{}
	return s, true
}
