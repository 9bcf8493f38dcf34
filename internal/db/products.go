package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/banshee-data/cartvision/internal/catalog"
	"github.com/banshee-data/cartvision/internal/reconcile"
)

// UpsertProduct inserts or replaces a catalog entry. New products are
// appended to the catalog order; existing ones keep their position.
func (db *DB) UpsertProduct(ctx context.Context, e catalog.Entry) error {
	if e.ProductID == "" || e.Name == "" {
		return fmt.Errorf("product_id and name are required")
	}
	synonyms := e.Synonyms
	if synonyms == nil {
		synonyms = []string{}
	}
	syn, err := json.Marshal(synonyms)
	if err != nil {
		return fmt.Errorf("failed to encode synonyms: %w", err)
	}
	return retryOnBusy(func() error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO products (product_id, position, name, sku, brand, synonyms, updated_at)
			VALUES (?, (SELECT COALESCE(MAX(position), 0) + 1 FROM products), ?, ?, ?, ?, ?)
			ON CONFLICT(product_id) DO UPDATE SET
				name = excluded.name,
				sku = excluded.sku,
				brand = excluded.brand,
				synonyms = excluded.synonyms,
				updated_at = excluded.updated_at`,
			e.ProductID, e.Name, e.SKU, e.Brand, string(syn), time.Now().UnixNano())
		return err
	})
}

// ImportProducts upserts entries in order, stopping at the first failure.
func (db *DB) ImportProducts(ctx context.Context, entries []catalog.Entry) error {
	for _, e := range entries {
		if err := db.UpsertProduct(ctx, e); err != nil {
			return fmt.Errorf("product %q: %w", e.ProductID, err)
		}
	}
	return nil
}

// DeleteProduct removes a catalog entry.
func (db *DB) DeleteProduct(ctx context.Context, productID string) error {
	return retryOnBusy(func() error {
		res, err := db.ExecContext(ctx, `DELETE FROM products WHERE product_id = ?`, productID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Products returns the catalog in insertion order. It implements
// catalog.Source.
func (db *DB) Products(ctx context.Context) ([]catalog.Entry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT product_id, name, sku, brand, synonyms
		FROM products ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []catalog.Entry
	for rows.Next() {
		var e catalog.Entry
		var syn string
		if err := rows.Scan(&e.ProductID, &e.Name, &e.SKU, &e.Brand, &syn); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(syn), &e.Synonyms); err != nil {
			return nil, fmt.Errorf("product %q: bad synonyms: %w", e.ProductID, err)
		}
		if len(e.Synonyms) == 0 {
			e.Synonyms = nil
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ReplaceManifest stores lines as the full content of manifestID.
func (db *DB) ReplaceManifest(ctx context.Context, manifestID string, lines []reconcile.ManifestLine) error {
	if manifestID == "" {
		return fmt.Errorf("manifest id is required")
	}
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM manifest_lines WHERE manifest_id = ?`, manifestID); err != nil {
			return err
		}
		for i, l := range lines {
			priority := l.Priority
			if priority == "" {
				priority = reconcile.PriorityNormal
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO manifest_lines (manifest_id, position, product_id, expected_quantity, priority)
				VALUES (?, ?, ?, ?, ?)`,
				manifestID, i, l.ProductID, l.ExpectedQuantity, string(priority)); err != nil {
				return fmt.Errorf("line %d: %w", i, err)
			}
		}
		return nil
	})
}

// Manifest returns the lines of manifestID in their stored order, or
// ErrNotFound.
func (db *DB) Manifest(ctx context.Context, manifestID string) ([]reconcile.ManifestLine, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT product_id, expected_quantity, priority
		FROM manifest_lines WHERE manifest_id = ? ORDER BY position`, manifestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reconcile.ManifestLine
	for rows.Next() {
		var l reconcile.ManifestLine
		var priority string
		if err := rows.Scan(&l.ProductID, &l.ExpectedQuantity, &priority); err != nil {
			return nil, err
		}
		l.Priority = reconcile.Priority(priority)
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("manifest %q: %w", manifestID, ErrNotFound)
	}
	return out, nil
}
