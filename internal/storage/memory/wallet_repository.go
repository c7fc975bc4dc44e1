package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type walletRepository struct{ v view }

// Get возвращает кошелёк; если его ещё нет, пустой кошелёк с нулевым балансом.
func (r *walletRepository) Get(_ context.Context, userID string) (domain.Wallet, error) {
	var wallet domain.Wallet
	err := r.v.read(func(st *state) error {
		w, ok := st.wallets[userID]
		if !ok {
			wallet = domain.Wallet{UserID: userID}
			return nil
		}
		wallet = w.Clone()
		return nil
	})
	return wallet, err
}

// Apply проводит операцию под эксклюзивной блокировкой: проверка баланса и запись журнала атомарны.
func (r *walletRepository) Apply(_ context.Context, userID string, tx domain.WalletTransaction) (domain.Wallet, error) {
	if userID == "" {
		return domain.Wallet{}, domain.ErrInvalidInput.Withf("wallet user_id is required")
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	var result domain.Wallet
	err := r.v.write(func(st *state) error {
		w, ok := st.wallets[userID]
		if !ok {
			w = domain.Wallet{UserID: userID}
		}
		w = w.Clone()
		if referenceUsed(st, tx.Reference) {
			result = w
			return domain.ErrDuplicateWalletReference
		}
		if err := w.Apply(tx); err != nil {
			return err
		}
		st.wallets[userID] = w
		result = w.Clone()
		return nil
	})
	return result, err
}

// referenceUsed ищет reference во всех кошельках.
func referenceUsed(st *state, ref string) bool {
	for _, w := range st.wallets {
		if w.HasReference(ref) {
			return true
		}
	}
	return false
}

var _ domain.WalletRepository = (*walletRepository)(nil)
