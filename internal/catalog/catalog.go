// Package catalog holds the static content catalog used to shape gateway
// responses. The catalog is loaded once at startup and injected; it is never
// mutated afterwards.
package catalog

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Content types.
const (
	TypeBook    = "Book"
	TypeArticle = "Article"
	TypeVideo   = "Video"
)

// ErrInvalidCatalog is returned when a catalog file fails validation.
var ErrInvalidCatalog = errors.New("invalid catalog")

// Item is one catalog entry.
type Item struct {
	ID          string `yaml:"id" json:"id"`
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description" json:"description"`
	Type        string `yaml:"type" json:"type"`
	Link        string `yaml:"link" json:"link"`
}

type file struct {
	Items []Item `yaml:"items"`
}

// Catalog is an immutable, ordered set of items. A nil *Catalog is empty.
type Catalog struct {
	items []Item
	byID  map[string]int
}

// New builds a Catalog from items. IDs must be unique and non-empty and the
// type must be Book, Article or Video.
func New(items []Item) (*Catalog, error) {
	c := &Catalog{items: make([]Item, 0, len(items)), byID: make(map[string]int, len(items))}
	for i, it := range items {
		if it.ID == "" {
			return nil, fmt.Errorf("%w: item %d has no id", ErrInvalidCatalog, i)
		}
		if _, dup := c.byID[it.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidCatalog, it.ID)
		}
		switch it.Type {
		case TypeBook, TypeArticle, TypeVideo:
		default:
			return nil, fmt.Errorf("%w: item %q has unknown type %q", ErrInvalidCatalog, it.ID, it.Type)
		}
		c.byID[it.ID] = len(c.items)
		c.items = append(c.items, it)
	}
	return c, nil
}

// Parse decodes a YAML catalog of the form "items: [...]".
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return New(f.Items)
}

// LoadFile reads and parses the catalog at path.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Len returns the number of items.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.items)
}

// Lookup returns the item with the given id.
func (c *Catalog) Lookup(id string) (Item, bool) {
	if c == nil {
		return Item{}, false
	}
	i, ok := c.byID[id]
	if !ok {
		return Item{}, false
	}
	return c.items[i], true
}

// Select returns, in catalog order, the items whose id is in ids.
func (c *Catalog) Select(ids []string) []Item {
	out := []Item{}
	if c == nil || len(ids) == 0 {
		return out
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	for _, it := range c.items {
		if _, ok := want[it.ID]; ok {
			out = append(out, it)
		}
	}
	return out
}
