package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// NormalizeSKU lowercases and trims a SKU into its identity form. Two SKUs
// with the same normalized form refer to the same product.
func NormalizeSKU(sku string) string {
	return strings.ToLower(strings.TrimSpace(sku))
}

// Product represents a catalog item keyed by a case-insensitive SKU.
// SKU keeps the display casing of the most recently applied row; SKUNorm
// is the lowercased, trimmed form enforced unique by the store.
type Product struct {
	ID              int64           `json:"id" db:"id"`
	SKU             string          `json:"sku" db:"sku"`
	SKUNorm         string          `json:"skuNorm" db:"sku_norm"`
	Name            string          `json:"name" db:"name"`
	Description     *string         `json:"description,omitempty" db:"description"`
	Price           decimal.Decimal `json:"price" db:"price"`
	Stock           int             `json:"stock" db:"stock"`
	Category        *string         `json:"category,omitempty" db:"category"`
	CountryOfOrigin *string         `json:"countryOfOrigin,omitempty" db:"country_of_origin"`
	Active          bool            `json:"active" db:"active"`
	CreatedAt       time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time       `json:"updatedAt" db:"updated_at"`
}

// UpsertResult reports the outcome of applying one batch to the store.
type UpsertResult struct {
	Inserted   int `json:"inserted"`
	Updated    int `json:"updated"`
	Superseded int `json:"superseded"`
}
