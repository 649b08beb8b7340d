package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"shopify-x402/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

type PaymentRepo interface {
	// CreatePayment returns domain.ErrDuplicateTransaction when the tx hash is already recorded.
	CreatePayment(ctx context.Context, payment *domain.Payment) error
	// FindById returns domain.ErrPaymentNotFound when no payment has id.
	FindById(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	// FindByShop lists the newest payments of a shop first.
	FindByShop(ctx context.Context, shopID uuid.UUID, limit int) ([]domain.Payment, error)
}

type paymentRepo struct {
	db *sql.DB
}

func NewPaymentRepo(db *sql.DB) PaymentRepo {
	return &paymentRepo{db: db}
}

const paymentColumns = `id, shop_id, product_id, product_title, amount, tx_hash, from_address, to_address, token_address, network, facilitator_status, verification_data, status, created_at, updated_at`

func (r *paymentRepo) CreatePayment(ctx context.Context, payment *domain.Payment) error {
	query := `INSERT INTO payments (` + paymentColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	var verificationData any
	if len(payment.VerificationData) > 0 {
		verificationData = string(payment.VerificationData)
	}

	_, err := r.db.ExecContext(
		ctx, query,
		payment.ID,
		payment.ShopID,
		payment.ProductID,
		payment.ProductTitle,
		payment.Amount,
		payment.TxHash,
		payment.FromAddress,
		payment.ToAddress,
		payment.TokenAddress,
		payment.Network,
		payment.FacilitatorStatus,
		verificationData,
		payment.Status,
		payment.CreatedAt,
		payment.UpdatedAt,
	)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("tx %s: %w", payment.TxHash, domain.ErrDuplicateTransaction)
	}
	return err
}

func scanPayment(row interface{ Scan(dest ...any) error }) (*domain.Payment, error) {
	var (
		p                domain.Payment
		verificationData []byte
	)
	err := row.Scan(
		&p.ID,
		&p.ShopID,
		&p.ProductID,
		&p.ProductTitle,
		&p.Amount,
		&p.TxHash,
		&p.FromAddress,
		&p.ToAddress,
		&p.TokenAddress,
		&p.Network,
		&p.FacilitatorStatus,
		&verificationData,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.VerificationData = verificationData
	return &p, nil
}

func (r *paymentRepo) FindById(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	p, err := scanPayment(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPaymentNotFound
	}
	return p, err
}

func (r *paymentRepo) FindByShop(ctx context.Context, shopID uuid.UUID, limit int) ([]domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + ` FROM payments
		WHERE shop_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, shopID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := []domain.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}
