package store

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/storefront/internal/domain"
)

func sampleCatalog() []domain.Product {
	return []domain.Product{
		{ID: "1", Name: "A", Price: 1},
		{ID: "2", Name: "B", Price: 2},
		{ID: "3", Name: "C", Price: 3},
	}
}

func emptyState() State {
	return State{Catalog: domain.Products{}, Cart: domain.Products{}}
}

func assertDisjoint(t *testing.T, s State) {
	t.Helper()
	for _, item := range s.Cart {
		assert.False(t, s.Catalog.Contains(item.ID), "product %s in both catalog and cart", item.ID)
		assert.GreaterOrEqual(t, item.Units, 1, "cart product %s has no units", item.ID)
	}
}

func TestSetCatalog_ResetsUnitsAndCopies(t *testing.T) {
	items := sampleCatalog()
	items[0].Units = 5

	s, changed := SetCatalog(emptyState(), items)
	require.True(t, changed)
	require.Len(t, s.Catalog, 3)
	assert.Zero(t, s.Catalog[0].Units)

	items[1].Name = "mutated"
	assert.Equal(t, "B", s.Catalog[1].Name)
}

func TestSetCatalog_Idempotent(t *testing.T) {
	once, _ := SetCatalog(emptyState(), sampleCatalog())
	twice, _ := SetCatalog(once, sampleCatalog())
	assert.Equal(t, once.Catalog, twice.Catalog)
}

func TestSetCatalog_SkipsDuplicatesAndCartEntries(t *testing.T) {
	s, _ := SetCatalog(emptyState(), sampleCatalog())
	s, _ = AddToCart(s, domain.Product{ID: "2"})

	items := append(sampleCatalog(), domain.Product{ID: "1", Name: "dup"})
	s, _ = SetCatalog(s, items)

	assert.Equal(t, []domain.ProductID{"1", "3"}, s.Catalog.IDs())
	assert.Equal(t, "A", s.Catalog[0].Name)
	assertDisjoint(t, s)
}

func TestSetLoadingFlags(t *testing.T) {
	s, changed := SetCatalogLoading(emptyState(), true)
	assert.True(t, changed)
	assert.True(t, s.CatalogLoading)

	_, changed = SetCatalogLoading(s, true)
	assert.False(t, changed)

	s, changed = SetCartLoading(s, true)
	assert.True(t, changed)
	assert.True(t, s.CartLoading)
	assert.True(t, s.CatalogLoading)
}

// Scenario A: a fresh add moves the product with one unit.
func TestAddToCart_MovesProduct(t *testing.T) {
	s, _ := SetCatalog(emptyState(), sampleCatalog())

	next, changed := AddToCart(s, domain.Product{ID: "2"})
	require.True(t, changed)

	assert.Equal(t, []domain.ProductID{"1", "3"}, next.Catalog.IDs())
	require.Len(t, next.Cart, 1)
	assert.Equal(t, domain.ProductID("2"), next.Cart[0].ID)
	assert.Equal(t, "B", next.Cart[0].Name)
	assert.Equal(t, 1, next.Cart[0].Units)
	assertDisjoint(t, next)

	// the input state is untouched
	assert.Len(t, s.Catalog, 3)
	assert.Empty(t, s.Cart)
}

// Scenario B: adding twice equals adding once.
func TestAddToCart_Idempotent(t *testing.T) {
	s, _ := SetCatalog(emptyState(), sampleCatalog())
	once, _ := AddToCart(s, domain.Product{ID: "2"})

	twice, changed := AddToCart(once, domain.Product{ID: "2"})
	assert.False(t, changed)
	assert.Equal(t, once, twice)
}

func TestAddToCart_UnknownProduct(t *testing.T) {
	s, _ := SetCatalog(emptyState(), sampleCatalog())
	next, changed := AddToCart(s, domain.Product{ID: "42"})
	assert.False(t, changed)
	assert.Equal(t, s, next)
}

func TestAddToCart_PreservesOrder(t *testing.T) {
	s, _ := SetCatalog(emptyState(), sampleCatalog())
	s, _ = AddToCart(s, domain.Product{ID: "3"})
	s, _ = AddToCart(s, domain.Product{ID: "1"})

	assert.Equal(t, []domain.ProductID{"3", "1"}, s.Cart.IDs())
	assert.Equal(t, []domain.ProductID{"2"}, s.Catalog.IDs())
}

func TestAddToCart_KeepsAttributes(t *testing.T) {
	var p domain.Product
	require.NoError(t, json.Unmarshal([]byte(`{"id":9,"name":"X","price":1,"sku":"abc"}`), &p))

	s, _ := SetCatalog(emptyState(), []domain.Product{p})
	s, _ = AddToCart(s, domain.Product{ID: "9"})

	require.Len(t, s.Cart, 1)
	assert.JSONEq(t, `"abc"`, string(s.Cart[0].Attributes["sku"]))
}

// Scenario C: increment then decrement twice removes the product.
func TestAdjustQuantity_IncrementAndRemove(t *testing.T) {
	s, _ := SetCatalog(emptyState(), sampleCatalog())
	s, _ = AddToCart(s, domain.Product{ID: "2"})

	s, changed := AdjustQuantity(s, domain.Product{ID: "2"}, 1)
	require.True(t, changed)
	require.Len(t, s.Cart, 1)
	assert.Equal(t, 2, s.Cart[0].Units)

	s, _ = AdjustQuantity(s, domain.Product{ID: "2"}, -1)
	assert.Equal(t, 1, s.Cart[0].Units)

	s, _ = AdjustQuantity(s, domain.Product{ID: "2"}, -1)
	assert.Empty(t, s.Cart)
	// removed products do not return to the catalog
	assert.Equal(t, []domain.ProductID{"1", "3"}, s.Catalog.IDs())
	assertDisjoint(t, s)
}

func TestAdjustQuantity_LargeNegativeDeltaRemoves(t *testing.T) {
	s, _ := SetCatalog(emptyState(), sampleCatalog())
	s, _ = AddToCart(s, domain.Product{ID: "1"})
	s, _ = AddToCart(s, domain.Product{ID: "2"})

	s, changed := AdjustQuantity(s, domain.Product{ID: "1"}, -10)
	require.True(t, changed)
	assert.Equal(t, []domain.ProductID{"2"}, s.Cart.IDs())
}

func TestAdjustQuantity_NoOps(t *testing.T) {
	s, _ := SetCatalog(emptyState(), sampleCatalog())
	s, _ = AddToCart(s, domain.Product{ID: "1"})

	next, changed := AdjustQuantity(s, domain.Product{ID: "3"}, 1)
	assert.False(t, changed)
	assert.Equal(t, s, next)

	next, changed = AdjustQuantity(s, domain.Product{ID: "1"}, 0)
	assert.False(t, changed)
	assert.Equal(t, s, next)
}

func TestAdjustQuantity_MirrorsOntoCatalogEntry(t *testing.T) {
	// Not reachable through AddToCart; built by hand to pin the mirror rule.
	s := State{
		Catalog: domain.Products{{ID: "1", Name: "A"}},
		Cart:    domain.Products{{ID: "1", Name: "A", Units: 1}},
	}

	next, _ := AdjustQuantity(s, domain.Product{ID: "1"}, 2)
	assert.Equal(t, 3, next.Catalog[0].Units)
	assert.Zero(t, s.Catalog[0].Units)

	next, _ = AdjustQuantity(next, domain.Product{ID: "1"}, -5)
	assert.Zero(t, next.Catalog[0].Units)
	assert.Empty(t, next.Cart)
}

func TestClearCart(t *testing.T) {
	s, _ := SetCatalog(emptyState(), sampleCatalog())
	s, _ = AddToCart(s, domain.Product{ID: "1"})

	cleared, changed := ClearCart(s)
	assert.True(t, changed)
	assert.Empty(t, cleared.Cart)
	assert.NotNil(t, cleared.Cart)
	assert.Len(t, s.Cart, 1)

	_, changed = ClearCart(cleared)
	assert.False(t, changed)
}

func TestState_CloneIsDeep(t *testing.T) {
	s, _ := SetCatalog(emptyState(), sampleCatalog())
	c := s.Clone()
	c.Catalog[0].Name = "changed"
	assert.Equal(t, "A", s.Catalog[0].Name)
}
