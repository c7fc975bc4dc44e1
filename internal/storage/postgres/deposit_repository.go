package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type depositRepository struct {
	q querier
}

const depositColumns = `gateway_order_id, user_id, receipt, amount, status, gateway_payment_id, created_at, completed_at`

func scanDeposit(row rowScanner) (domain.Deposit, error) {
	var (
		d           domain.Deposit
		status      string
		completedAt sql.NullTime
	)
	if err := row.Scan(&d.GatewayOrderID, &d.UserID, &d.Receipt, &d.Amount, &status, &d.GatewayPaymentID, &d.CreatedAt, &completedAt); err != nil {
		return domain.Deposit{}, err
	}
	d.Status = domain.DepositStatus(status)
	d.CompletedAt = timePtr(completedAt)
	return d, nil
}

func (r *depositRepository) Create(ctx context.Context, deposit domain.Deposit) error {
	if deposit.GatewayOrderID == "" || deposit.UserID == "" {
		return domain.ErrInvalidInput.Withf("deposit gateway order and user are required")
	}
	if deposit.Status == "" {
		deposit.Status = domain.DepositStatusPending
	}
	if deposit.CreatedAt.IsZero() {
		deposit.CreatedAt = time.Now().UTC()
	}

	ctx, cancel := opContext(ctx)
	defer cancel()

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO wallet_deposits (`+depositColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`,
		deposit.GatewayOrderID, deposit.UserID, deposit.Receipt, deposit.Amount, string(deposit.Status),
		deposit.GatewayPaymentID, deposit.CreatedAt.UTC(), nullTime(deposit.CompletedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDepositMismatch.Withf("deposit %s already exists", deposit.GatewayOrderID)
		}
		return fmt.Errorf("insert deposit: %w", err)
	}
	return nil
}

func (r *depositRepository) Get(ctx context.Context, gatewayOrderID string) (domain.Deposit, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	d, err := scanDeposit(r.q.QueryRowContext(ctx, `SELECT `+depositColumns+` FROM wallet_deposits WHERE gateway_order_id = $1`, gatewayOrderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Deposit{}, domain.ErrDepositNotFound
		}
		return domain.Deposit{}, fmt.Errorf("get deposit: %w", err)
	}
	return d, nil
}

// Complete переводит пополнение из PENDING условным UPDATE.
func (r *depositRepository) Complete(ctx context.Context, gatewayOrderID, paymentID string, at time.Time) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE wallet_deposits
		SET status = 'COMPLETED',
		    gateway_payment_id = $2,
		    completed_at = $3
		WHERE gateway_order_id = $1 AND status = 'PENDING'
	`, gatewayOrderID, paymentID, at.UTC())
	if err != nil {
		return fmt.Errorf("complete deposit: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deposit rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	if _, err := r.Get(ctx, gatewayOrderID); err != nil {
		return err
	}
	return domain.ErrDepositMismatch.Withf("deposit %s is already completed", gatewayOrderID)
}

var _ domain.DepositRepository = (*depositRepository)(nil)
