package balance

import (
	"context"

	"github.com/iurnickita/creditmart/internal/model"
	"github.com/iurnickita/creditmart/internal/store"
)

// Balance - внутренний баланс клиентов площадки.
// Transfer позволяет использовать его как платежную систему для расчетов по лотам
type Balance interface {
	Increase(ctx context.Context, customer string, reference string, points int64) error
	Decrease(ctx context.Context, customer string, reference string, points int64) error
	Transfer(ctx context.Context, from string, to string, points int64, reference string) error
	Get(ctx context.Context, customer string) (model.Balance, error)
	GetWithdrawals(ctx context.Context, customer string) ([]model.Balance, error)
	GetHistory(ctx context.Context, customer string) ([]model.Balance, error)
}

type balance struct {
	store store.Store
}

func NewBalance(store store.Store) Balance {
	balance := balance{store: store}
	return &balance
}

func (balance *balance) Get(ctx context.Context, customer string) (model.Balance, error) {
	return balance.store.BalanceGetActual(ctx, customer)
}

func (balance *balance) GetWithdrawals(ctx context.Context, customer string) ([]model.Balance, error) {
	return balance.store.BalanceGetWithdrawals(ctx, customer)
}

func (balance *balance) GetHistory(ctx context.Context, customer string) ([]model.Balance, error) {
	return balance.store.BalanceGetHistory(ctx, customer)
}

func (balance *balance) Increase(ctx context.Context, customer string, reference string, points int64) error {
	return balance.store.BalanceIncrease(ctx, customer, reference, points)
}

func (balance *balance) Decrease(ctx context.Context, customer string, reference string, points int64) error {
	return balance.store.BalanceDecrease(ctx, customer, reference, points)
}

func (balance *balance) Transfer(ctx context.Context, from string, to string, points int64, reference string) error {
	return balance.store.BalanceTransfer(ctx, from, to, reference, points)
}
