package memory

import (
	"context"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type depositRepository struct{ v view }

func (r *depositRepository) Create(_ context.Context, deposit domain.Deposit) error {
	if deposit.GatewayOrderID == "" || deposit.UserID == "" {
		return domain.ErrInvalidInput.Withf("deposit gateway order and user are required")
	}
	return r.v.write(func(st *state) error {
		if _, ok := st.deposits[deposit.GatewayOrderID]; ok {
			return domain.ErrDepositMismatch.Withf("deposit %s already exists", deposit.GatewayOrderID)
		}
		st.deposits[deposit.GatewayOrderID] = cloneDeposit(deposit)
		return nil
	})
}

func (r *depositRepository) Get(_ context.Context, gatewayOrderID string) (domain.Deposit, error) {
	var deposit domain.Deposit
	err := r.v.read(func(st *state) error {
		d, ok := st.deposits[gatewayOrderID]
		if !ok {
			return domain.ErrDepositNotFound
		}
		deposit = cloneDeposit(d)
		return nil
	})
	return deposit, err
}

// Complete переводит пополнение в COMPLETED только из PENDING.
func (r *depositRepository) Complete(_ context.Context, gatewayOrderID, paymentID string, at time.Time) error {
	return r.v.write(func(st *state) error {
		d, ok := st.deposits[gatewayOrderID]
		if !ok {
			return domain.ErrDepositNotFound
		}
		d = cloneDeposit(d)
		if err := d.Complete(paymentID, at); err != nil {
			return err
		}
		st.deposits[gatewayOrderID] = d
		return nil
	})
}

func cloneDeposit(d domain.Deposit) domain.Deposit {
	if d.CompletedAt != nil {
		at := *d.CompletedAt
		d.CompletedAt = &at
	}
	return d
}

var _ domain.DepositRepository = (*depositRepository)(nil)
