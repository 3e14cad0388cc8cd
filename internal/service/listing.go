package service

import (
	"context"
	"errors"
	"time"

	"github.com/iurnickita/creditmart/internal/model"
	"github.com/iurnickita/creditmart/internal/store"
)

// List выставляет новый лот от имени caller и возвращает его номер
func (service *service) List(ctx context.Context, caller string, creditType string, amount int64, pricePerUnit int64) (id int64, err error) {
	defer func() { observe("list", err) }()

	if caller == "" {
		return 0, ErrInsufficientData
	}
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	if pricePerUnit <= 0 {
		return 0, ErrInvalidPrice
	}

	// Новый номер ни с кем не пересекается, блокировка лота не нужна
	id, err = service.store.ListingAllocate(ctx)
	if err != nil {
		return 0, err
	}

	listing := model.Listing{
		ID: id,
		Data: model.ListingData{
			Owner:        caller,
			CreditType:   creditType,
			Amount:       amount,
			PricePerUnit: pricePerUnit,
			IsListed:     true,
			CreatedAt:    time.Now(),
		},
	}
	if err = service.store.ListingPut(ctx, listing); err != nil {
		return 0, err
	}

	service.notify(ctx, model.Event{
		Type:         model.EventListed,
		ListingID:    id,
		Owner:        caller,
		CreditType:   creditType,
		Amount:       amount,
		PricePerUnit: pricePerUnit,
		Timestamp:    time.Now(),
	})

	return id, nil
}

// Delist снимает лот с продажи. Остаток сохраняется, но купить его больше нельзя
func (service *service) Delist(ctx context.Context, caller string, id int64) (err error) {
	defer func() { observe("delist", err) }()

	if caller == "" {
		return ErrInsufficientData
	}

	unlock := service.locks.Lock(id)
	defer unlock()

	// Повтор, если лот успели изменить через другой экземпляр сервиса
	var listing model.Listing
	for {
		listing, err = service.getListing(ctx, id)
		if err != nil {
			return err
		}
		if listing.Data.Owner != caller {
			return ErrUnauthorized
		}
		if !listing.Data.IsListed {
			return ErrAlreadyDelisted
		}

		next := listing
		next.Data.IsListed = false
		err = service.store.ListingUpdate(ctx, listing, next)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return err
		}
		break
	}

	service.notify(ctx, model.Event{
		Type:      model.EventDelisted,
		ListingID: id,
		Owner:     listing.Data.Owner,
		Timestamp: time.Now(),
	})

	return nil
}

// GetDetails возвращает текущее состояние лота. Для невыданного номера - ErrNotFound
func (service *service) GetDetails(ctx context.Context, id int64) (model.Listing, error) {
	return service.getListing(ctx, id)
}

// GetListings возвращает лоты, доступные для покупки
func (service *service) GetListings(ctx context.Context) ([]model.Listing, error) {
	return service.store.ListingGetActive(ctx)
}

func (service *service) getListing(ctx context.Context, id int64) (model.Listing, error) {
	if id <= 0 {
		return model.Listing{}, ErrNotFound
	}

	listing, err := service.store.ListingGet(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return model.Listing{}, ErrNotFound
		default:
			return model.Listing{}, err
		}
	}
	return listing, nil
}
