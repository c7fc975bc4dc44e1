package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// state — всё состояние витрины; транзакция работает над его копией.
type state struct {
	products   map[string]domain.Product
	categories map[string]domain.Category
	carts      map[string]domain.Cart
	coupons    map[string]domain.Coupon
	addresses  map[string]domain.Address
	orders     map[string]domain.Order
	wallets    map[string]domain.Wallet
	deposits   map[string]domain.Deposit
	returns    map[string]domain.ReturnRequest
	outbox     map[string]outboxRecord
	timeline   map[string][]domain.TimelineEvent
	seq        int64
}

func newState() *state {
	return &state{
		products:   make(map[string]domain.Product),
		categories: make(map[string]domain.Category),
		carts:      make(map[string]domain.Cart),
		coupons:    make(map[string]domain.Coupon),
		addresses:  make(map[string]domain.Address),
		orders:     make(map[string]domain.Order),
		wallets:    make(map[string]domain.Wallet),
		deposits:   make(map[string]domain.Deposit),
		returns:    make(map[string]domain.ReturnRequest),
		outbox:     make(map[string]outboxRecord),
		timeline:   make(map[string][]domain.TimelineEvent),
	}
}

func (s *state) clone() *state {
	cp := newState()
	for k, v := range s.products {
		cp.products[k] = v
	}
	for k, v := range s.categories {
		cp.categories[k] = v
	}
	for k, v := range s.carts {
		cp.carts[k] = v.Clone()
	}
	for k, v := range s.coupons {
		cp.coupons[k] = v.Clone()
	}
	for k, v := range s.addresses {
		cp.addresses[k] = v
	}
	for k, v := range s.orders {
		cp.orders[k] = v.Clone()
	}
	for k, v := range s.wallets {
		cp.wallets[k] = v.Clone()
	}
	for k, v := range s.deposits {
		cp.deposits[k] = cloneDeposit(v)
	}
	for k, v := range s.returns {
		cp.returns[k] = v
	}
	for k, v := range s.outbox {
		cp.outbox[k] = v
	}
	for k, v := range s.timeline {
		cp.timeline[k] = append([]domain.TimelineEvent(nil), v...)
	}
	cp.seq = s.seq
	return cp
}

// Store — транзакционное in-memory хранилище для локальной разработки и тестов.
// WithinTx держит эксклюзивную блокировку и работает над копией состояния:
// при ошибке копия отбрасывается, при успехе подменяет текущее состояние.
// Внутри fn можно пользоваться только переданными репозиториями.
type Store struct {
	mu    sync.RWMutex
	state *state
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{state: newState()}
}

// Repositories возвращает репозитории вне транзакции.
func (s *Store) Repositories() domain.Repositories {
	return s.bind(view{store: s})
}

// WithinTx выполняет fn атомарно.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repos domain.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := s.state.clone()
	if err := fn(ctx, s.bind(view{store: s, tx: tx})); err != nil {
		return err
	}
	s.state = tx
	return nil
}

func (s *Store) bind(v view) domain.Repositories {
	return domain.Repositories{
		Catalog:  &catalogRepository{v},
		Carts:    &cartRepository{v},
		Coupons:  &couponRepository{v},
		Address:  &addressRepository{v},
		Orders:   &orderRepository{v},
		Wallets:  &walletRepository{v},
		Deposits: &depositRepository{v},
		Returns:  &returnRequestRepository{v},
		Outbox:   &outboxRepository{v},
		Timeline: &timelineRepository{v},
	}
}

// view — доступ к состоянию: либо к транзакционной копии, либо к общему состоянию под блокировкой.
type view struct {
	store *Store
	tx    *state
}

func (v view) read(fn func(st *state) error) error {
	if v.tx != nil {
		return fn(v.tx)
	}
	v.store.mu.RLock()
	defer v.store.mu.RUnlock()
	return fn(v.store.state)
}

func (v view) write(fn func(st *state) error) error {
	if v.tx != nil {
		return fn(v.tx)
	}
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	return fn(v.store.state)
}

var _ domain.UnitOfWork = (*Store)(nil)
