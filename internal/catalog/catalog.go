// Package catalog provides the product list the cart draws from.
// Rendering the catalog is a view concern; this package only answers
// "what products exist and what do they cost".
package catalog

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"storefront/internal/model"
)

// Catalog is an ordered, read-only product list.
type Catalog struct {
	products []model.Product
	byID     map[int]model.Product
}

// New builds a catalog from products. IDs must be positive and unique.
func New(products []model.Product) (*Catalog, error) {
	c := &Catalog{byID: make(map[int]model.Product, len(products))}
	for _, p := range products {
		if p.ID <= 0 {
			return nil, fmt.Errorf("product %q: id must be positive", p.Name)
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate product id %d", p.ID)
		}
		if p.Price.IsNegative() {
			return nil, fmt.Errorf("product %d: negative price", p.ID)
		}
		c.byID[p.ID] = p
		c.products = append(c.products, p)
	}
	return c, nil
}

// Load reads a JSON array of products from path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var products []model.Product
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return New(products)
}

// Default returns the built-in poster catalog.
func Default() *Catalog {
	price := decimal.RequireFromString("0.50")
	c, _ := New([]model.Product{
		{ID: 1, Name: "Christ in Gethsemane", Description: "Powerful depiction of Christ's prayer in Gethsemane", Price: price, Image: "assets/poster1.jpg"},
		{ID: 2, Name: "The First Vision", Description: "Sacred moment of Joseph Smith's first vision", Price: price, Image: "assets/poster2.jpg"},
		{ID: 3, Name: "The Living Christ", Description: "Inspiring representation of the resurrected Christ", Price: price, Image: "assets/poster3.jpg"},
		{ID: 4, Name: "The Restoration", Description: "Symbolic representation of the Restoration", Price: price, Image: "assets/poster4.jpg"},
		{ID: 5, Name: "The Plan of Salvation", Description: "Beautiful visualization of God's plan", Price: price, Image: "assets/poster5.jpg"},
	})
	return c
}

// List returns the products in catalog order.
func (c *Catalog) List() []model.Product {
	out := make([]model.Product, len(c.products))
	copy(out, c.products)
	return out
}

// Lookup returns the product with the given id.
func (c *Catalog) Lookup(id int) (model.Product, error) {
	p, ok := c.byID[id]
	if !ok {
		return model.Product{}, fmt.Errorf("product %d: %w", id, model.ErrProductNotFound)
	}
	return p, nil
}
