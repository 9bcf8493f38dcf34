package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	t.Run("array", func(t *testing.T) {
		path := writeFile(t, "catalog.json", `[{"product_id":"p1","name":"Water","sku":"WTR-500"}]`)
		entries, err := LoadFile(path)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "WTR-500", entries[0].SKU)
	})

	t.Run("wrapped", func(t *testing.T) {
		path := writeFile(t, "catalog.json", `{"products":[{"product_id":"p1","name":"Water","synonyms":["agua"]}]}`)
		entries, err := LoadFile(path)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, []string{"agua"}, entries[0].Synonyms)
	})

	t.Run("wrong extension", func(t *testing.T) {
		path := writeFile(t, "catalog.yaml", `[]`)
		_, err := LoadFile(path)
		assert.ErrorContains(t, err, ".json")
	})

	t.Run("missing id", func(t *testing.T) {
		path := writeFile(t, "catalog.json", `[{"name":"Water"}]`)
		_, err := LoadFile(path)
		assert.ErrorContains(t, err, "product_id")
	})

	t.Run("duplicate id", func(t *testing.T) {
		path := writeFile(t, "catalog.json", `[{"product_id":"p1","name":"A"},{"product_id":"p1","name":"B"}]`)
		_, err := LoadFile(path)
		assert.ErrorContains(t, err, "duplicate")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "nope.json"))
		assert.Error(t, err)
	})
}

func TestStaticSource(t *testing.T) {
	src := StaticSource(testCatalog())
	got, err := src.Products(context.Background())
	require.NoError(t, err)
	got[0].Name = "changed"
	assert.Equal(t, "Water 500ml", src[0].Name)
}
