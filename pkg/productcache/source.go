// Package productcache serves product metadata for draft context through a
// TTL read-through cache backed by the interaction database.
package productcache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound means the source has no such product
	ErrNotFound = errors.New("product not found")
	// ErrUnreachable means the source could not be queried
	ErrUnreachable = errors.New("product source unreachable")
)

// Product is the public metadata of one product
type Product struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Brand       string            `json:"brand,omitempty"`
	Category    string            `json:"category,omitempty"`
	Description string            `json:"description,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Summary renders the product as a few lines of prompt context
func (p Product) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Product: %s", p.Name)
	if p.Brand != "" {
		fmt.Fprintf(&b, " (%s)", p.Brand)
	}
	if p.Category != "" {
		fmt.Fprintf(&b, "\nCategory: %s", p.Category)
	}
	if p.Description != "" {
		fmt.Fprintf(&b, "\nDescription: %s", p.Description)
	}

	keys := make([]string, 0, len(p.Attributes))
	for k := range p.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %s", k, p.Attributes[k])
	}
	return b.String()
}

// Source fetches product metadata from its origin
type Source interface {
	Fetch(ctx context.Context, productID string) (Product, error)
}
