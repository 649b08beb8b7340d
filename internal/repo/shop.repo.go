package repo

import (
	"context"
	"database/sql"
	"errors"
	"shopify-x402/internal/domain"
	"time"

	"github.com/google/uuid"
)

type ShopRepo interface {
	// FindByDomain returns domain.ErrShopNotFound when no row matches.
	FindByDomain(ctx context.Context, shopDomain string) (*domain.Shop, error)
	// Upsert stores OAuth credentials, creating the shop on first install.
	Upsert(ctx context.Context, shopDomain, accessToken, scope string) (*domain.Shop, error)
	// Update applies the non-nil payment settings.
	Update(ctx context.Context, shopDomain string, update domain.ShopUpdate) (*domain.Shop, error)
}

type shopRepo struct {
	db *sql.DB
}

func NewShopRepo(db *sql.DB) ShopRepo {
	return &shopRepo{db: db}
}

const shopColumns = `id, shop_domain, access_token, scope, wallet_address, accepted_token, accepted_network, is_x402_enabled, created_at, updated_at`

func scanShop(row interface{ Scan(dest ...any) error }) (*domain.Shop, error) {
	var s domain.Shop
	err := row.Scan(
		&s.ID,
		&s.ShopDomain,
		&s.AccessToken,
		&s.Scope,
		&s.WalletAddress,
		&s.AcceptedToken,
		&s.AcceptedNetwork,
		&s.IsX402Enabled,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrShopNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *shopRepo) FindByDomain(ctx context.Context, shopDomain string) (*domain.Shop, error) {
	query := `SELECT ` + shopColumns + ` FROM shops WHERE shop_domain = $1`
	return scanShop(r.db.QueryRowContext(ctx, query, shopDomain))
}

func (r *shopRepo) Upsert(ctx context.Context, shopDomain, accessToken, scope string) (*domain.Shop, error) {
	query := `
		INSERT INTO shops (id, shop_domain, access_token, scope, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (shop_domain) DO UPDATE
		SET access_token = EXCLUDED.access_token,
		    scope = EXCLUDED.scope,
		    updated_at = EXCLUDED.updated_at
		RETURNING ` + shopColumns
	return scanShop(r.db.QueryRowContext(ctx, query, uuid.New(), shopDomain, accessToken, scope, time.Now()))
}

func (r *shopRepo) Update(ctx context.Context, shopDomain string, update domain.ShopUpdate) (*domain.Shop, error) {
	query := `
		UPDATE shops
		SET wallet_address = COALESCE($2, wallet_address),
		    accepted_token = COALESCE($3, accepted_token),
		    accepted_network = COALESCE($4, accepted_network),
		    is_x402_enabled = COALESCE($5, is_x402_enabled),
		    updated_at = now()
		WHERE shop_domain = $1
		RETURNING ` + shopColumns
	return scanShop(r.db.QueryRowContext(
		ctx,
		query,
		shopDomain,
		update.WalletAddress,
		update.AcceptedToken,
		update.AcceptedNetwork,
		update.IsX402Enabled,
	))
}
