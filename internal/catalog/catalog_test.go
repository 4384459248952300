package catalog_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-teammate/contentgate/internal/catalog"
)

const sample = `
items:
  - id: article-1
    title: Homeopathy Basics
    type: Article
    link: /private/articles/homeopathy-basics.pdf
  - id: book-1
    title: The Complete Homeopathy Book
    type: Book
    link: /private/books/complete-homeopathy.pdf
  - id: video-1
    title: Tissue Salts Workshop
    type: Video
    link: /private/videos/tissue-salts.mp4
`

func TestParse(t *testing.T) {
	c, err := catalog.Parse([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, 3, c.Len())

	it, ok := c.Lookup("book-1")
	require.True(t, ok)
	assert.Equal(t, "/private/books/complete-homeopathy.pdf", it.Link)
	assert.Equal(t, catalog.TypeBook, it.Type)

	_, ok = c.Lookup("book-2")
	assert.False(t, ok)
}

func TestSelect_KeepsCatalogOrder(t *testing.T) {
	c, err := catalog.Parse([]byte(sample))
	require.NoError(t, err)

	got := c.Select([]string{"video-1", "unknown", "article-1"})
	require.Len(t, got, 2)
	assert.Equal(t, "article-1", got[0].ID)
	assert.Equal(t, "video-1", got[1].ID)

	assert.Equal(t, []catalog.Item{}, c.Select(nil))
}

func TestNilCatalogIsEmpty(t *testing.T) {
	var c *catalog.Catalog
	assert.Equal(t, 0, c.Len())
	_, ok := c.Lookup("x")
	assert.False(t, ok)
	assert.Empty(t, c.Select([]string{"x"}))
}

func TestNew_Rejects(t *testing.T) {
	tests := map[string][]catalog.Item{
		"missing id":   {{Type: catalog.TypeBook}},
		"duplicate id": {{ID: "a", Type: catalog.TypeBook}, {ID: "a", Type: catalog.TypeVideo}},
		"unknown type": {{ID: "a", Type: "Podcast"}},
	}
	for name, items := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := catalog.New(items)
			assert.True(t, errors.Is(err, catalog.ErrInvalidCatalog), "got %v", err)
		})
	}
}

func TestParse_BadYAML(t *testing.T) {
	_, err := catalog.Parse([]byte("items: [unterminated"))
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	c, err := catalog.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Len())

	_, err = catalog.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadFile_RepositoryCatalog(t *testing.T) {
	c, err := catalog.LoadFile(filepath.Join("..", "..", "catalog.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 4, c.Len())
}
