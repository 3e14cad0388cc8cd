package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iurnickita/creditmart/internal/metrics"
	"github.com/iurnickita/creditmart/internal/model"
	"github.com/iurnickita/creditmart/internal/store"
)

// Purchase покупает amount единиц лота id, предлагая payment.
//
// Порядок расчета: сначала все переводы, затем списание остатка лота.
//  1. оплата покупателя целиком переводится на счет площадки (escrow);
//  2. продавцу переводится amount * pricePerUnit;
//  3. излишек возвращается покупателю.
//
// Выполненные переводы записываются в журнал. Если какой-либо шаг не удался,
// журнал откатывается встречными переводами и лот не меняется.
// Все шаги выполняются под блокировкой лота.
func (service *service) Purchase(ctx context.Context, caller string, id int64, amount int64, payment int64) (purchase model.Purchase, err error) {
	defer func() { observe("purchase", err) }()

	if caller == "" {
		return model.Purchase{}, ErrInsufficientData
	}

	unlock := service.locks.Lock(id)
	defer unlock()

	listing, err := service.getListing(ctx, id)
	if err != nil {
		return model.Purchase{}, err
	}
	if !listing.Data.IsListed {
		return model.Purchase{}, ErrNotListed
	}
	if listing.Data.Owner == caller {
		return model.Purchase{}, ErrSelfTrade
	}
	if amount <= 0 {
		return model.Purchase{}, ErrInvalidAmount
	}
	if amount > listing.Data.Amount {
		return model.Purchase{}, ErrInsufficientSupply
	}
	totalPrice, ok := multiply(amount, listing.Data.PricePerUnit)
	if !ok {
		return model.Purchase{}, ErrInvalidAmount
	}
	if payment < totalPrice {
		return model.Purchase{}, ErrInsufficientPayment
	}
	refund := payment - totalPrice

	s := newSettlement(service.rail, uuid.NewString())

	// Переводы
	err = s.transfer(ctx, caller, model.EscrowAccount, payment)
	if err == nil {
		err = s.transfer(ctx, model.EscrowAccount, listing.Data.Owner, totalPrice)
	}
	if err == nil && refund > 0 {
		err = s.transfer(ctx, model.EscrowAccount, caller, refund)
	}
	if err != nil {
		return model.Purchase{}, service.abort(ctx, s, id, fmt.Errorf("%w: %w", ErrPaymentTransferFailed, err))
	}

	// Списание остатка. Лот мог изменить другой экземпляр сервиса с тем же хранилищем
	prev := listing
	listing.Data.Amount -= amount
	if listing.Data.Amount == 0 {
		listing.Data.IsListed = false
	}
	if err = service.store.ListingUpdate(ctx, prev, listing); err != nil {
		if errors.Is(err, store.ErrConflict) {
			err = service.purchaseConflict(ctx, id, amount)
		}
		return model.Purchase{}, service.abort(ctx, s, id, err)
	}

	metrics.SettledCredits.Add(float64(amount))
	metrics.SettledValue.Add(float64(totalPrice))

	service.notify(ctx, model.Event{
		Type:       model.EventPurchased,
		ListingID:  id,
		Owner:      listing.Data.Owner,
		Buyer:      caller,
		CreditType: listing.Data.CreditType,
		Amount:     amount,
		TotalPrice: totalPrice,
		Timestamp:  time.Now(),
	})

	return model.Purchase{
		ListingID:  id,
		Amount:     amount,
		TotalPrice: totalPrice,
		Refund:     refund,
		Reference:  s.reference,
	}, nil
}

// purchaseConflict объясняет, почему лот уже нельзя купить в прежнем объеме
func (service *service) purchaseConflict(ctx context.Context, id int64, amount int64) error {
	current, err := service.getListing(ctx, id)
	if err != nil {
		return err
	}
	switch {
	case !current.Data.IsListed:
		return ErrNotListed
	case amount > current.Data.Amount:
		return ErrInsufficientSupply
	default:
		return ErrConcurrentUpdate
	}
}

// abort откатывает выполненные переводы и возвращает cause,
// дополненную ошибками отката, если он не удался
func (service *service) abort(ctx context.Context, s *settlement, id int64, cause error) error {
	// откат выполняется даже при отмененном контексте запроса
	rollbackErr := s.rollback(context.WithoutCancel(ctx))
	if rollbackErr != nil {
		metrics.Compensations.WithLabelValues("failed").Inc()
		service.zaplog.Error("settlement rollback failed",
			zap.Int64("listing", id),
			zap.String("reference", s.reference),
			zap.NamedError("cause", cause),
			zap.Error(rollbackErr))
		return errors.Join(cause, fmt.Errorf("rollback: %w", rollbackErr))
	}

	metrics.Compensations.WithLabelValues("ok").Inc()
	service.zaplog.Warn("settlement aborted",
		zap.Int64("listing", id),
		zap.String("reference", s.reference),
		zap.Error(cause))
	return cause
}

// multiply возвращает a*b для положительных a и b; ok=false при переполнении int64
func multiply(a int64, b int64) (int64, bool) {
	if a <= 0 || b <= 0 {
		return 0, false
	}
	if a > math.MaxInt64/b {
		return 0, false
	}
	return a * b, true
}

// Журнал переводов одного расчета

type transfer struct {
	from      string
	to        string
	amount    int64
	reference string
}

type settlement struct {
	rail      PaymentRail
	reference string
	done      []transfer
}

func newSettlement(rail PaymentRail, reference string) *settlement {
	return &settlement{rail: rail, reference: reference}
}

func (s *settlement) transfer(ctx context.Context, from string, to string, amount int64) error {
	// у каждого перевода свой номер: внешняя система использует его как ключ идемпотентности
	t := transfer{
		from:      from,
		to:        to,
		amount:    amount,
		reference: fmt.Sprintf("%s-%d", s.reference, len(s.done)+1),
	}
	if err := s.rail.Transfer(ctx, t.from, t.to, t.amount, t.reference); err != nil {
		return err
	}
	s.done = append(s.done, t)
	return nil
}

// rollback выполняет встречные переводы в обратном порядке
func (s *settlement) rollback(ctx context.Context) error {
	var errs []error
	for i := len(s.done) - 1; i >= 0; i-- {
		t := s.done[i]
		if err := s.rail.Transfer(ctx, t.to, t.from, t.amount, t.reference+"-rollback"); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.reference, err))
		}
	}
	s.done = nil
	return errors.Join(errs...)
}
