package service

import (
	"context"
	"fmt"
	"shopify-x402/internal/domain"
	"shopify-x402/internal/repo"
)

type ShopService interface {
	GetConfig(ctx context.Context, shopDomain string) (*domain.Shop, error)
	UpdateConfig(ctx context.Context, shopDomain string, update domain.ShopUpdate) (*domain.Shop, error)
	// CompleteInstall stores the credentials obtained from the OAuth callback.
	CompleteInstall(ctx context.Context, shopDomain, accessToken, scope string) (*domain.Shop, error)
}

type shopService struct {
	shopRepo repo.ShopRepo
}

func NewShopService(shopRepo repo.ShopRepo) ShopService {
	return &shopService{shopRepo: shopRepo}
}

func missing(field string) error {
	return fmt.Errorf("%w: %s", domain.ErrMissingField, field)
}

func (s *shopService) GetConfig(ctx context.Context, shopDomain string) (*domain.Shop, error) {
	if shopDomain == "" {
		return nil, missing("shop")
	}
	return s.shopRepo.FindByDomain(ctx, shopDomain)
}

func (s *shopService) UpdateConfig(ctx context.Context, shopDomain string, update domain.ShopUpdate) (*domain.Shop, error) {
	if shopDomain == "" {
		return nil, missing("shop")
	}
	return s.shopRepo.Update(ctx, shopDomain, update)
}

func (s *shopService) CompleteInstall(ctx context.Context, shopDomain, accessToken, scope string) (*domain.Shop, error) {
	if shopDomain == "" {
		return nil, missing("shop")
	}
	if accessToken == "" {
		return nil, missing("access token")
	}
	return s.shopRepo.Upsert(ctx, shopDomain, accessToken, scope)
}
