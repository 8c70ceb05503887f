package importer

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	apperrors "github.com/catalog-importer/internal/errors"
	"github.com/catalog-importer/internal/models"
)

const (
	maxNameLength     = 255
	maxCategoryLength = 100
	maxOriginLength   = 100
)

// ValidateRow turns a raw record into a Product ready for the upsert batch.
// A rejected row returns a ValidationError carrying the row number and every
// reason found; the pipeline records it and keeps streaming.
func ValidateRow(rec *Record) (*models.Product, error) {
	var reasons []string

	sku := strings.TrimSpace(rec.Get("SKU"))
	name := strings.TrimSpace(rec.Get("Name"))
	rawPrice := strings.TrimSpace(rec.Get("Price"))
	rawStock := strings.TrimSpace(rec.Get("Stock"))

	if sku == "" {
		reasons = append(reasons, "missing SKU")
	}
	if name == "" {
		reasons = append(reasons, "missing Name")
	}

	var price decimal.Decimal
	if rawPrice == "" {
		reasons = append(reasons, "missing Price")
	} else {
		parsed, err := parsePrice(rawPrice)
		if err != nil {
			reasons = append(reasons, "invalid Price "+strconv.Quote(rawPrice))
		} else if parsed.IsNegative() {
			reasons = append(reasons, "negative Price "+parsed.String())
		} else {
			price = parsed
		}
	}

	var stock int
	if rawStock == "" {
		reasons = append(reasons, "missing Stock")
	} else {
		parsed, err := strconv.Atoi(rawStock)
		if err != nil {
			reasons = append(reasons, "invalid Stock "+strconv.Quote(rawStock))
		} else if parsed < 0 {
			reasons = append(reasons, "negative Stock "+rawStock)
		} else {
			stock = parsed
		}
	}

	active := true
	if rawActive := strings.TrimSpace(rec.Get("Active")); rawActive != "" {
		parsed, ok := parseActive(rawActive)
		if !ok {
			reasons = append(reasons, "invalid Active "+strconv.Quote(rawActive))
		} else {
			active = parsed
		}
	}

	if len(reasons) > 0 {
		return nil, apperrors.NewValidationError(rec.Line, strings.Join(reasons, "; "))
	}

	return &models.Product{
		SKU:             sku,
		SKUNorm:         models.NormalizeSKU(sku),
		Name:            truncate(name, maxNameLength),
		Description:     optional(rec.Get("Description"), 0),
		Price:           price,
		Stock:           stock,
		Category:        optional(rec.Get("Category"), maxCategoryLength),
		CountryOfOrigin: optional(rec.Get("Country of Origin"), maxOriginLength),
		Active:          active,
	}, nil
}

// parsePrice accepts currency-formatted values like "$1,299.99".
func parsePrice(raw string) (decimal.Decimal, error) {
	cleaned := strings.ReplaceAll(raw, "$", "")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.TrimSpace(cleaned)
	return decimal.NewFromString(cleaned)
}

func parseActive(raw string) (bool, bool) {
	switch strings.ToLower(raw) {
	case "true", "t", "1", "yes", "y":
		return true, true
	case "false", "f", "0", "no", "n":
		return false, true
	default:
		return false, false
	}
}

func optional(raw string, limit int) *string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	if limit > 0 {
		trimmed = truncate(trimmed, limit)
	}
	return &trimmed
}

// truncate keeps at most limit characters. Cutting by bytes could split a
// multi-byte rune and produce invalid UTF-8 the store would reject.
func truncate(s string, limit int) string {
	count := 0
	for i := range s {
		if count == limit {
			return s[:i]
		}
		count++
	}
	return s
}
