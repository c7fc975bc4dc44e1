package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type walletRepository struct {
	q querier
}

// Get возвращает кошелёк с журналом; отсутствующий кошелёк отдаётся пустым.
func (r *walletRepository) Get(ctx context.Context, userID string) (domain.Wallet, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	wallet := domain.Wallet{UserID: userID, Balance: decimal.Zero}
	err := r.q.QueryRowContext(ctx, `
		SELECT balance, updated_at FROM wallets WHERE user_id = $1
	`, userID).Scan(&wallet.Balance, &wallet.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return wallet, nil
		}
		return domain.Wallet{}, fmt.Errorf("get wallet: %w", err)
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT id, type, amount, reason, description, order_id, reference, created_at
		FROM wallet_transactions
		WHERE user_id = $1
		ORDER BY created_at ASC, id ASC
	`, userID)
	if err != nil {
		return domain.Wallet{}, fmt.Errorf("load wallet transactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			tx          domain.WalletTransaction
			typ, reason string
		)
		if err := rows.Scan(&tx.ID, &typ, &tx.Amount, &reason, &tx.Description, &tx.OrderID, &tx.Reference, &tx.CreatedAt); err != nil {
			return domain.Wallet{}, fmt.Errorf("scan wallet transaction: %w", err)
		}
		tx.Type = domain.TransactionType(typ)
		tx.Reason = domain.TransactionReason(reason)
		wallet.Transactions = append(wallet.Transactions, tx)
	}
	if err := rows.Err(); err != nil {
		return domain.Wallet{}, fmt.Errorf("iterate wallet transactions: %w", err)
	}

	return wallet, nil
}

// Apply меняет баланс условным UPDATE (balance + delta >= 0) и пишет запись журнала.
func (r *walletRepository) Apply(ctx context.Context, userID string, tx domain.WalletTransaction) (domain.Wallet, error) {
	if userID == "" {
		return domain.Wallet{}, domain.ErrInvalidInput.Withf("wallet user_id is required")
	}
	if !tx.Amount.IsPositive() {
		return domain.Wallet{}, domain.ErrInvalidInput.Withf("wallet transaction amount must be positive")
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	ctx, cancel := opContext(ctx)
	defer cancel()

	err := atomic(ctx, r.q, func(q querier) error {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO wallets (user_id, balance, updated_at)
			VALUES ($1, 0, $2)
			ON CONFLICT (user_id) DO NOTHING
		`, userID, tx.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("ensure wallet: %w", err)
		}

		if tx.Reference != "" {
			var exists bool
			if err := q.QueryRowContext(ctx, `
				SELECT EXISTS (SELECT 1 FROM wallet_transactions WHERE reference = $1)
			`, tx.Reference).Scan(&exists); err != nil {
				return fmt.Errorf("check wallet reference: %w", err)
			}
			if exists {
				return domain.ErrDuplicateWalletReference
			}
		}

		res, err := q.ExecContext(ctx, `
			UPDATE wallets
			SET balance = balance + $2,
			    updated_at = $3
			WHERE user_id = $1 AND balance + $2 >= 0
		`, userID, tx.Signed(), tx.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("update wallet balance: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("wallet rows affected: %w", err)
		}
		if affected == 0 {
			return domain.ErrInsufficientBalance
		}

		if _, err := q.ExecContext(ctx, `
			INSERT INTO wallet_transactions (id, user_id, type, amount, reason, description, order_id, reference, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`,
			tx.ID, userID, string(tx.Type), tx.Amount, string(tx.Reason),
			tx.Description, tx.OrderID, tx.Reference, tx.CreatedAt.UTC(),
		); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrDuplicateWalletReference
			}
			return fmt.Errorf("insert wallet transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Wallet{}, err
	}

	return r.Get(ctx, userID)
}

var _ domain.WalletRepository = (*walletRepository)(nil)
