package services

import (
	"context"
	"errors"
	"strings"

	domain "github.com/merchantdesk/api/internal/domain"
	"github.com/merchantdesk/api/internal/repositories"
)

type catalogMatcher struct {
	products repositories.ProductRepository
}

var _ CatalogMatcher = (*catalogMatcher)(nil)

// CatalogMatcherDeps bundles collaborators required to construct a catalog matcher.
type CatalogMatcherDeps struct {
	Products repositories.ProductRepository
}

// NewCatalogMatcher assembles the SKU lookup used by order conversion and backfill.
func NewCatalogMatcher(deps CatalogMatcherDeps) (CatalogMatcher, error) {
	if deps.Products == nil {
		return nil, errors.New("catalog matcher: product repository is required")
	}
	return &catalogMatcher{products: deps.Products}, nil
}

// FindBySKU resolves a storefront SKU against the catalog barcode field. A
// blank SKU and a catalog miss both report (zero, false, nil); only
// infrastructure failures surface as errors.
func (m *catalogMatcher) FindBySKU(ctx context.Context, sku string) (domain.Product, bool, error) {
	if ctx == nil {
		return domain.Product{}, false, errors.New("catalog matcher: context is required")
	}

	sku = strings.TrimSpace(sku)
	if sku == "" {
		return domain.Product{}, false, nil
	}

	product, err := m.products.FindBySKU(ctx, sku)
	if err != nil {
		if isNotFound(err) {
			return domain.Product{}, false, nil
		}
		return domain.Product{}, false, err
	}
	return product, true, nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}
