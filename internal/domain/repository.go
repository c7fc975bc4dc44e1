package domain

import (
	"context"
	"time"
)

// CatalogRepository — чтение каталога и атомарное изменение остатков.
type CatalogRepository interface {
	GetProduct(ctx context.Context, id string) (Product, error)
	GetCategory(ctx context.Context, id string) (Category, error)
	SaveProduct(ctx context.Context, product Product) error
	SaveCategory(ctx context.Context, category Category) error
	// AdjustStock атомарно меняет остаток на delta; ErrInsufficientStock, если результат ушёл бы в минус.
	AdjustStock(ctx context.Context, productID string, delta int) error
}

// CartRepository хранит корзины пользователей.
type CartRepository interface {
	// Get возвращает корзину или ErrCartNotFound.
	Get(ctx context.Context, userID string) (Cart, error)
	// Save сохраняет корзину с учётом optimistic locking и увеличивает cart.Version.
	Save(ctx context.Context, cart *Cart) error
}

// CouponRepository хранит купоны и журнал их использования.
type CouponRepository interface {
	Get(ctx context.Context, id string) (Coupon, error)
	GetByCode(ctx context.Context, code string) (Coupon, error)
	Save(ctx context.Context, coupon Coupon) error
	RecordUsage(ctx context.Context, couponID string, usage CouponUsage) error
}

// AddressRepository хранит адреса доставки.
type AddressRepository interface {
	Get(ctx context.Context, id string) (Address, error)
	Save(ctx context.Context, address Address) error
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ошибку, если запись с таким ID уже существует.
	Create(ctx context.Context, order *Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// ListByUser возвращает заказы пользователя (новые первыми) с опциональным ограничением.
	ListByUser(ctx context.Context, userID string, limit int) ([]Order, error)
	// ListAwaitingPayment возвращает GATEWAY-заказы в PENDING, созданные раньше before.
	ListAwaitingPayment(ctx context.Context, before time.Time, limit int) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking и увеличивает order.Version.
	Save(ctx context.Context, order *Order) error
}

// WalletRepository проводит операции по кошельку атомарно на уровне хранилища.
type WalletRepository interface {
	// Get возвращает кошелёк; отсутствующий кошелёк отдаётся пустым.
	Get(ctx context.Context, userID string) (Wallet, error)
	// Apply атомарно меняет баланс и пишет запись журнала.
	// Дебет сверх баланса даёт ErrInsufficientBalance, повтор Reference даёт ErrDuplicateWalletReference.
	Apply(ctx context.Context, userID string, tx WalletTransaction) (Wallet, error)
}

// DepositRepository хранит пополнения кошелька, созданные через шлюз.
type DepositRepository interface {
	Create(ctx context.Context, deposit Deposit) error
	// Get возвращает пополнение по gateway order id или ErrDepositNotFound.
	Get(ctx context.Context, gatewayOrderID string) (Deposit, error)
	// Complete переводит PENDING-пополнение в COMPLETED; иначе ErrDepositMismatch.
	Complete(ctx context.Context, gatewayOrderID, paymentID string, at time.Time) error
}

// ReturnRequestRepository хранит заявки на возврат.
type ReturnRequestRepository interface {
	// Create сохраняет заявку; ErrReturnAlreadyRequested при наличии PENDING по той же позиции.
	Create(ctx context.Context, request ReturnRequest) error
	Get(ctx context.Context, id string) (ReturnRequest, error)
	// Resolve переводит PENDING-заявку в итоговый статус; иначе ErrReturnAlreadyProcessed.
	Resolve(ctx context.Context, id string, status ReturnStatus, at time.Time) error
	ListPending(ctx context.Context, limit int) ([]ReturnRequest, error)
}

// Repositories — набор репозиториев, привязанных к одной транзакции (или к хранилищу целиком).
type Repositories struct {
	Catalog  CatalogRepository
	Carts    CartRepository
	Coupons  CouponRepository
	Address  AddressRepository
	Orders   OrderRepository
	Wallets  WalletRepository
	Deposits DepositRepository
	Returns  ReturnRequestRepository
	Outbox   OutboxRepository
	Timeline TimelineRepository
}

// UnitOfWork выполняет fn атомарно: либо применяются все изменения, либо ни одно.
type UnitOfWork interface {
	Repositories() Repositories
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}
