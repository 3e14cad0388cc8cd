package service

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/theplant/luhn"
	"go.uber.org/zap"

	"github.com/iurnickita/creditmart/internal/balance"
	"github.com/iurnickita/creditmart/internal/locker"
	"github.com/iurnickita/creditmart/internal/metrics"
	"github.com/iurnickita/creditmart/internal/model"
	"github.com/iurnickita/creditmart/internal/notify"
	"github.com/iurnickita/creditmart/internal/service/config"
	"github.com/iurnickita/creditmart/internal/service/payclient"
	"github.com/iurnickita/creditmart/internal/store"
)

type Service interface {
	List(ctx context.Context, caller string, creditType string, amount int64, pricePerUnit int64) (int64, error)
	Purchase(ctx context.Context, caller string, id int64, amount int64, payment int64) (model.Purchase, error)
	Delist(ctx context.Context, caller string, id int64) error
	GetDetails(ctx context.Context, id int64) (model.Listing, error)
	GetListings(ctx context.Context) ([]model.Listing, error)
	GetBalance(ctx context.Context, customer string) (model.Balance, error)
	PostDeposit(ctx context.Context, customer string, points int64) error
	PostWithdraw(ctx context.Context, customer string, order string, points int64) error
	GetWithdrawals(ctx context.Context, customer string) ([]model.Balance, error)
	GetHistory(ctx context.Context, customer string) ([]model.Balance, error)
}

// PaymentRail переводит деньги между счетами. Ошибка означает, что перевод не состоялся
type PaymentRail interface {
	Transfer(ctx context.Context, from string, to string, amount int64, reference string) error
}

var (
	ErrInsufficientData    = errors.New("insufficient data")
	ErrUnprocessableEntity = errors.New("unprocessable entity")
	ErrInsufficientFunds   = errors.New("insufficient funds")

	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInvalidPrice          = errors.New("invalid price")
	ErrNotFound              = errors.New("listing not found")
	ErrNotListed             = errors.New("listing is not for sale")
	ErrAlreadyDelisted       = errors.New("listing already delisted")
	ErrSelfTrade             = errors.New("cannot buy own listing")
	ErrInsufficientSupply    = errors.New("insufficient supply")
	ErrInsufficientPayment   = errors.New("insufficient payment")
	ErrUnauthorized          = errors.New("not the listing owner")
	ErrPaymentTransferFailed = errors.New("payment transfer failed")
	ErrConcurrentUpdate      = errors.New("listing changed concurrently, retry")
)

type service struct {
	cfg      config.Config
	store    store.Store
	balance  balance.Balance
	rail     PaymentRail
	notifier notify.Notifier
	locks    *locker.Locker[int64]
	zaplog   *zap.Logger
}

func NewService(cfg config.Config, store store.Store, notifier notify.Notifier, zaplog *zap.Logger) (Service, error) {
	// Внешняя платежная система, если задана. Иначе расчеты идут по внутреннему балансу
	var rail PaymentRail
	if cfg.PaymentAddr != "" {
		rail = payclient.NewPayClient(cfg.PaymentAddr)
	}

	service := newService(store, rail, notifier, zaplog)
	service.cfg = cfg
	return service, nil
}

func newService(store store.Store, rail PaymentRail, notifier notify.Notifier, zaplog *zap.Logger) *service {
	balance := balance.NewBalance(store)
	if rail == nil {
		rail = balance
	}

	return &service{
		store:    store,
		balance:  balance,
		rail:     rail,
		notifier: notifier,
		locks:    locker.New[int64](),
		zaplog:   zaplog,
	}
}

func (service *service) GetBalance(ctx context.Context, customer string) (model.Balance, error) {
	if customer == "" {
		return model.Balance{}, ErrInsufficientData
	}

	return service.balance.Get(ctx, customer)
}

func (service *service) PostDeposit(ctx context.Context, customer string, points int64) error {
	if customer == "" {
		return ErrInsufficientData
	}
	if points <= 0 {
		return ErrInsufficientData
	}

	err := service.balance.Increase(ctx, customer, uuid.NewString(), points)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrBalanceOverflow):
			return ErrUnprocessableEntity
		default:
			return err
		}
	}
	return nil
}

func (service *service) PostWithdraw(ctx context.Context, customer string, order string, points int64) error {
	if order == "" {
		return ErrInsufficientData
	}
	if customer == "" {
		return ErrInsufficientData
	}
	if points <= 0 {
		return ErrInsufficientData
	}
	// Проверка по алгоритму Луна
	number, err := strconv.Atoi(order)
	if err != nil || !luhn.Valid(number) {
		return ErrUnprocessableEntity
	}

	err = service.balance.Decrease(ctx, customer, order, points)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrInsufficientFunds):
			return ErrInsufficientFunds
		default:
			return err
		}
	}
	return nil
}

func (service *service) GetWithdrawals(ctx context.Context, customer string) ([]model.Balance, error) {
	if customer == "" {
		return nil, ErrInsufficientData
	}

	return service.balance.GetWithdrawals(ctx, customer)
}

func (service *service) GetHistory(ctx context.Context, customer string) ([]model.Balance, error) {
	if customer == "" {
		return nil, ErrInsufficientData
	}

	return service.balance.GetHistory(ctx, customer)
}

// notify публикует событие после фиксации изменений.
// Ошибка канала уведомлений не отменяет уже выполненную операцию
func (service *service) notify(ctx context.Context, event model.Event) {
	if err := service.notifier.Notify(ctx, event); err != nil {
		service.zaplog.Error("listing event not delivered",
			zap.String("type", string(event.Type)),
			zap.Int64("listing", event.ListingID),
			zap.Error(err))
	}
}

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrInsufficientData, "insufficient_data"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrInvalidPrice, "invalid_price"},
	{ErrNotFound, "not_found"},
	{ErrNotListed, "not_listed"},
	{ErrAlreadyDelisted, "already_delisted"},
	{ErrSelfTrade, "self_trade"},
	{ErrInsufficientSupply, "insufficient_supply"},
	{ErrInsufficientPayment, "insufficient_payment"},
	{ErrUnauthorized, "unauthorized"},
	{ErrPaymentTransferFailed, "payment_transfer_failed"},
	{ErrConcurrentUpdate, "concurrent_update"},
	{ErrUnprocessableEntity, "unprocessable_entity"},
	{ErrInsufficientFunds, "insufficient_funds"},
}

func observe(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "internal"
		for _, k := range errorKinds {
			if errors.Is(err, k.err) {
				result = k.kind
				break
			}
		}
	}
	metrics.Observe(operation, result)
}
