package storage

import (
	"context"
	"fmt"

	"github.com/catalog-importer/internal/models"
)

// ProductRepository handles product persistence, including the bulk
// insert-or-overwrite primitive used by the ingestion pipeline.
type ProductRepository struct {
	db *PostgresDB
}

// NewProductRepository creates a new product repository
func NewProductRepository(db *PostgresDB) *ProductRepository {
	return &ProductRepository{db: db}
}

// upsertBatchQuery applies a whole batch in one statement. The statement is
// the store's atomic insert-or-update-on-conflict primitive: no read-check-
// write, so concurrent jobs writing overlapping keys serialize on the unique
// sku_norm index and the result equals some serial application order.
// (xmax = 0) distinguishes fresh inserts from overwritten rows.
const upsertBatchQuery = `
	WITH incoming AS (
		SELECT * FROM unnest(
			$1::text[], $2::text[], $3::text[], $4::text[],
			($5::text[])::numeric[], $6::int[], $7::text[], $8::text[], $9::boolean[]
		) AS t(sku, sku_norm, name, description, price, stock, category, country_of_origin, active)
	), upserted AS (
		INSERT INTO products (
			sku, sku_norm, name, description, price, stock,
			category, country_of_origin, active, created_at, updated_at
		)
		SELECT sku, sku_norm, name, description, price, stock,
		       category, country_of_origin, active, now(), now()
		FROM incoming
		ON CONFLICT (sku_norm) DO UPDATE SET
			sku               = EXCLUDED.sku,
			name              = EXCLUDED.name,
			description       = EXCLUDED.description,
			price             = EXCLUDED.price,
			stock             = EXCLUDED.stock,
			category          = EXCLUDED.category,
			country_of_origin = EXCLUDED.country_of_origin,
			active            = EXCLUDED.active,
			updated_at        = now()
		RETURNING (xmax = 0) AS inserted
	)
	SELECT
		count(*) FILTER (WHERE inserted)     AS inserted_count,
		count(*) FILTER (WHERE NOT inserted) AS updated_count
	FROM upserted
`

// UpsertBatch applies an ordered batch of validated products atomically.
// Rows sharing a sku_norm within the batch collapse to the last occurrence;
// the earlier ones are reported as superseded, not errors. Re-applying an
// identical batch reports zero inserted and everything updated.
func (r *ProductRepository) UpsertBatch(ctx context.Context, batch []*models.Product) (models.UpsertResult, error) {
	var result models.UpsertResult
	if len(batch) == 0 {
		return result, nil
	}

	deduped, superseded := dedupeByNormKey(batch)
	result.Superseded = superseded

	n := len(deduped)
	skus := make([]string, n)
	norms := make([]string, n)
	names := make([]string, n)
	descriptions := make([]*string, n)
	prices := make([]string, n)
	stocks := make([]int32, n)
	categories := make([]*string, n)
	origins := make([]*string, n)
	actives := make([]bool, n)

	for i, p := range deduped {
		skus[i] = p.SKU
		norms[i] = p.SKUNorm
		names[i] = p.Name
		descriptions[i] = p.Description
		prices[i] = p.Price.String()
		stocks[i] = int32(p.Stock) // #nosec G115 - stock validated non-negative
		categories[i] = p.Category
		origins[i] = p.CountryOfOrigin
		actives[i] = p.Active
	}

	err := r.db.Pool().QueryRow(ctx, upsertBatchQuery,
		skus, norms, names, descriptions, prices, stocks, categories, origins, actives,
	).Scan(&result.Inserted, &result.Updated)
	if err != nil {
		return models.UpsertResult{}, fmt.Errorf("failed to upsert product batch: %w", err)
	}

	return result, nil
}

// dedupeByNormKey collapses intra-batch duplicates, keeping the later row by
// input order, and reports how many rows were superseded.
func dedupeByNormKey(batch []*models.Product) ([]*models.Product, int) {
	last := make(map[string]int, len(batch))
	for i, p := range batch {
		last[p.SKUNorm] = i
	}
	if len(last) == len(batch) {
		return batch, 0
	}

	deduped := make([]*models.Product, 0, len(last))
	for i, p := range batch {
		if last[p.SKUNorm] == i {
			deduped = append(deduped, p)
		}
	}
	return deduped, len(batch) - len(deduped)
}

// Count returns the number of stored products.
func (r *ProductRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.Pool().QueryRow(ctx, `SELECT count(*) FROM products`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}
	return count, nil
}

// DeleteBatch removes up to limit products and returns how many were
// deleted. Bulk deletes chew through the table in bounded chunks so the
// delete job can report progress.
func (r *ProductRepository) DeleteBatch(ctx context.Context, limit int) (int64, error) {
	query := `
		DELETE FROM products
		WHERE id IN (SELECT id FROM products ORDER BY id LIMIT $1)
	`

	tag, err := r.db.Pool().Exec(ctx, query, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete product batch: %w", err)
	}
	return tag.RowsAffected(), nil
}
