package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/merchantdesk/api/internal/domain"
)

type stubProductRepo struct {
	findByIDFn  func(ctx context.Context, productID string) (domain.Product, error)
	findBySKUFn func(ctx context.Context, sku string) (domain.Product, error)
}

func (s *stubProductRepo) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if s.findByIDFn != nil {
		return s.findByIDFn(ctx, productID)
	}
	return domain.Product{}, errRepoNotFound
}

func (s *stubProductRepo) FindBySKU(ctx context.Context, sku string) (domain.Product, error) {
	if s.findBySKUFn != nil {
		return s.findBySKUFn(ctx, sku)
	}
	return domain.Product{}, errRepoNotFound
}

func TestCatalogMatcherFindsBySKU(t *testing.T) {
	want := domain.Product{ID: "pr_keyboard", Name: "Mechanical Keyboard", SKU: "KB-100", Price: 12500}
	var lookedUp []string
	repo := &stubProductRepo{
		findBySKUFn: func(_ context.Context, sku string) (domain.Product, error) {
			lookedUp = append(lookedUp, sku)
			return want, nil
		},
	}
	matcher, err := NewCatalogMatcher(CatalogMatcherDeps{Products: repo})
	if err != nil {
		t.Fatalf("new catalog matcher: %v", err)
	}

	product, ok, err := matcher.FindBySKU(context.Background(), "  KB-100  ")
	if err != nil {
		t.Fatalf("find by sku: %v", err)
	}
	if !ok || product != want {
		t.Fatalf("expected catalog hit, got ok=%v product=%+v", ok, product)
	}
	if len(lookedUp) != 1 || lookedUp[0] != "KB-100" {
		t.Fatalf("expected trimmed sku lookup, got %v", lookedUp)
	}
}

func TestCatalogMatcherBlankSKUIsAMissWithoutLookup(t *testing.T) {
	repo := &stubProductRepo{
		findBySKUFn: func(context.Context, string) (domain.Product, error) {
			t.Fatalf("blank sku must not hit the repository")
			return domain.Product{}, nil
		},
	}
	matcher, err := NewCatalogMatcher(CatalogMatcherDeps{Products: repo})
	if err != nil {
		t.Fatalf("new catalog matcher: %v", err)
	}

	_, ok, err := matcher.FindBySKU(context.Background(), "   ")
	if err != nil || ok {
		t.Fatalf("expected silent miss, got ok=%v err=%v", ok, err)
	}
}

func TestCatalogMatcherMissIsNotAnError(t *testing.T) {
	matcher, err := NewCatalogMatcher(CatalogMatcherDeps{Products: &stubProductRepo{}})
	if err != nil {
		t.Fatalf("new catalog matcher: %v", err)
	}

	_, ok, err := matcher.FindBySKU(context.Background(), "GONE-1")
	if err != nil || ok {
		t.Fatalf("expected miss without error, got ok=%v err=%v", ok, err)
	}
}

func TestCatalogMatcherPropagatesInfrastructureFailures(t *testing.T) {
	wantErr := repoErr{unavailable: true}
	repo := &stubProductRepo{
		findBySKUFn: func(context.Context, string) (domain.Product, error) {
			return domain.Product{}, wantErr
		},
	}
	matcher, err := NewCatalogMatcher(CatalogMatcherDeps{Products: repo})
	if err != nil {
		t.Fatalf("new catalog matcher: %v", err)
	}

	_, _, err = matcher.FindBySKU(context.Background(), "KB-100")
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected repository failure surfaced, got %v", err)
	}
}
