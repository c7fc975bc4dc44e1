package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type returnRequestRepository struct {
	q querier
}

const returnColumns = `id, order_id, item_id, user_id, reason, status, processed_at, created_at`

func scanReturn(row rowScanner) (domain.ReturnRequest, error) {
	var (
		rr          domain.ReturnRequest
		status      string
		processedAt sql.NullTime
	)
	if err := row.Scan(&rr.ID, &rr.OrderID, &rr.ItemID, &rr.UserID, &rr.Reason, &status, &processedAt, &rr.CreatedAt); err != nil {
		return domain.ReturnRequest{}, err
	}
	rr.Status = domain.ReturnStatus(status)
	rr.ProcessedAt = timePtr(processedAt)
	return rr, nil
}

// Create сохраняет заявку; вторая PENDING-заявка по позиции упирается в частичный уникальный индекс.
func (r *returnRequestRepository) Create(ctx context.Context, request domain.ReturnRequest) error {
	if request.ID == "" {
		return domain.ErrInvalidInput.Withf("return request id is required")
	}
	if request.Status == "" {
		request.Status = domain.ReturnStatusPending
	}
	if request.CreatedAt.IsZero() {
		request.CreatedAt = time.Now().UTC()
	}

	ctx, cancel := opContext(ctx)
	defer cancel()

	var pending bool
	if err := r.q.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM return_requests
			WHERE order_id = $1 AND item_id = $2 AND status = 'PENDING'
		)
	`, request.OrderID, request.ItemID).Scan(&pending); err != nil {
		return fmt.Errorf("check pending return: %w", err)
	}
	if pending {
		return domain.ErrReturnAlreadyRequested
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO return_requests (`+returnColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`,
		request.ID, request.OrderID, request.ItemID, request.UserID, request.Reason,
		string(request.Status), nullTime(request.ProcessedAt), request.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrReturnAlreadyRequested
		}
		return fmt.Errorf("insert return request: %w", err)
	}
	return nil
}

func (r *returnRequestRepository) Get(ctx context.Context, id string) (domain.ReturnRequest, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	rr, err := scanReturn(r.q.QueryRowContext(ctx, `SELECT `+returnColumns+` FROM return_requests WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ReturnRequest{}, domain.ErrReturnRequestNotFound
		}
		return domain.ReturnRequest{}, fmt.Errorf("get return request: %w", err)
	}
	return rr, nil
}

// Resolve переводит заявку из PENDING; повторное решение даёт ErrReturnAlreadyProcessed.
func (r *returnRequestRepository) Resolve(ctx context.Context, id string, status domain.ReturnStatus, at time.Time) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE return_requests
		SET status = $2,
		    processed_at = $3
		WHERE id = $1 AND status = 'PENDING'
	`, id, string(status), at.UTC())
	if err != nil {
		return fmt.Errorf("resolve return request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("return request rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return domain.ErrReturnAlreadyProcessed
}

// ListPending возвращает PENDING-заявки, старые первыми.
func (r *returnRequestRepository) ListPending(ctx context.Context, limit int) ([]domain.ReturnRequest, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	query := `SELECT ` + returnColumns + `
		FROM return_requests
		WHERE status = 'PENDING'
		ORDER BY created_at ASC, id ASC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending returns: %w", err)
	}
	defer rows.Close()

	var result []domain.ReturnRequest
	for rows.Next() {
		rr, err := scanReturn(rows)
		if err != nil {
			return nil, fmt.Errorf("scan return request: %w", err)
		}
		result = append(result, rr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate return requests: %w", err)
	}
	return result, nil
}

var _ domain.ReturnRequestRepository = (*returnRequestRepository)(nil)
