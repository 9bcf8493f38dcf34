// Package catalog maps free-text classifier labels onto the fixed product
// catalog.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Entry is one read-only catalog product.
type Entry struct {
	ProductID string   `json:"product_id"`
	Name      string   `json:"name"`
	SKU       string   `json:"sku"`
	Brand     string   `json:"brand,omitempty"`
	Synonyms  []string `json:"synonyms,omitempty"`
}

// Source supplies the current catalog.
type Source interface {
	Products(ctx context.Context) ([]Entry, error)
}

// StaticSource serves a fixed in-memory catalog.
type StaticSource []Entry

// Products returns a copy of the static catalog.
func (s StaticSource) Products(context.Context) ([]Entry, error) {
	out := make([]Entry, len(s))
	copy(out, s)
	return out, nil
}

const maxCatalogFileSize = 8 * 1024 * 1024

// LoadFile reads a catalog from a JSON file. The file holds either an array
// of entries or an object with a "products" array.
func LoadFile(path string) ([]Entry, error) {
	if ext := filepath.Ext(path); ext != ".json" {
		return nil, fmt.Errorf("catalog file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat catalog file: %w", err)
	}
	if info.Size() > maxCatalogFileSize {
		return nil, fmt.Errorf("catalog file too large: %d bytes (max %d)", info.Size(), maxCatalogFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return parseEntries(data)
}

func parseEntries(data []byte) ([]Entry, error) {
	trimmed := strings.TrimSpace(string(data))
	var entries []Entry
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("failed to parse catalog: %w", err)
		}
	} else {
		var wrapper struct {
			Products []Entry `json:"products"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return nil, fmt.Errorf("failed to parse catalog: %w", err)
		}
		entries = wrapper.Products
	}

	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		if e.ProductID == "" {
			return nil, fmt.Errorf("catalog entry %d: product_id is required", i)
		}
		if e.Name == "" {
			return nil, fmt.Errorf("catalog entry %q: name is required", e.ProductID)
		}
		if seen[e.ProductID] {
			return nil, fmt.Errorf("catalog entry %q: duplicate product_id", e.ProductID)
		}
		seen[e.ProductID] = true
	}
	return entries, nil
}
