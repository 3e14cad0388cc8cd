package store

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/iurnickita/creditmart/internal/model"
)

// memStore хранит все данные в памяти процесса. Используется без DATABASE_URI и в тестах
type memStore struct {
	mu sync.RWMutex

	auth       map[string]memAuthRow
	lastUser   int
	listings   map[int64]model.Listing
	lastID     int64
	balance    map[string][]model.Balance
	lastOperID int64
}

type memAuthRow struct {
	userCode     string
	passwordHash string
}

func NewMemStore() Store {
	return &memStore{
		auth:     make(map[string]memAuthRow),
		listings: make(map[int64]model.Listing),
		balance:  make(map[string][]model.Balance),
	}
}

func (store *memStore) Close() error {
	return nil
}

func (store *memStore) AuthRegister(_ context.Context, login string, passwordHash string) (string, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	if _, ok := store.auth[login]; ok {
		return "", ErrAlreadyExists
	}
	store.lastUser++
	row := memAuthRow{userCode: strconv.Itoa(store.lastUser), passwordHash: passwordHash}
	store.auth[login] = row
	return row.userCode, nil
}

func (store *memStore) AuthLogin(_ context.Context, login string) (string, string, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	row, ok := store.auth[login]
	if !ok {
		return "", "", ErrNoRows
	}
	return row.userCode, row.passwordHash, nil
}

func (store *memStore) ListingAllocate(_ context.Context) (int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.lastID++
	return store.lastID, nil
}

func (store *memStore) ListingGet(_ context.Context, id int64) (model.Listing, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	listing, ok := store.listings[id]
	if !ok {
		return model.Listing{}, ErrNotFound
	}
	return listing, nil
}

func (store *memStore) ListingGetActive(_ context.Context) ([]model.Listing, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	var listings []model.Listing
	for _, listing := range store.listings {
		if listing.Data.IsListed {
			listings = append(listings, listing)
		}
	}
	sort.Slice(listings, func(i, j int) bool { return listings[i].ID < listings[j].ID })
	return listings, nil
}

func (store *memStore) ListingPut(_ context.Context, listing model.Listing) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	// Как и в Postgres: при обновлении меняются только остаток и признак продажи
	if current, ok := store.listings[listing.ID]; ok {
		current.Data.Amount = listing.Data.Amount
		current.Data.IsListed = listing.Data.IsListed
		listing = current
	}
	store.listings[listing.ID] = listing
	return nil
}

func (store *memStore) ListingUpdate(_ context.Context, prev model.Listing, next model.Listing) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	current, ok := store.listings[prev.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Data.Amount != prev.Data.Amount || current.Data.IsListed != prev.Data.IsListed {
		return ErrConflict
	}
	current.Data.Amount = next.Data.Amount
	current.Data.IsListed = next.Data.IsListed
	store.listings[prev.ID] = current
	return nil
}

func (store *memStore) BalanceGetActual(_ context.Context, customer string) (model.Balance, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	return store.actual(customer), nil
}

func (store *memStore) actual(customer string) model.Balance {
	history := store.balance[customer]
	if len(history) == 0 {
		return model.Balance{Key: model.BalanceKey{Customer: customer}}
	}
	return history[len(history)-1]
}

func (store *memStore) BalanceGetWithdrawals(_ context.Context, customer string) ([]model.Balance, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	var withdrawals []model.Balance
	for _, balanceRow := range store.balance[customer] {
		if balanceRow.Data.Kind == model.BalanceKindWithdraw {
			withdrawals = append(withdrawals, balanceRow)
		}
	}
	return withdrawals, nil
}

func (store *memStore) BalanceGetHistory(_ context.Context, customer string) ([]model.Balance, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	return append([]model.Balance(nil), store.balance[customer]...), nil
}

func (store *memStore) BalanceIncrease(_ context.Context, customer string, reference string, points int64) error {
	if points <= 0 {
		return ErrPointsIncorrect
	}
	store.mu.Lock()
	defer store.mu.Unlock()

	row, err := store.next(customer, model.BalanceKindDeposit, reference, points, 0)
	if err != nil {
		return err
	}
	store.append(row)
	return nil
}

func (store *memStore) BalanceDecrease(_ context.Context, customer string, reference string, points int64) error {
	if points <= 0 {
		return ErrPointsIncorrect
	}
	store.mu.Lock()
	defer store.mu.Unlock()

	row, err := store.next(customer, model.BalanceKindWithdraw, reference, -points, points)
	if err != nil {
		return err
	}
	store.append(row)
	return nil
}

func (store *memStore) BalanceTransfer(_ context.Context, from string, to string, reference string, points int64) error {
	if points <= 0 {
		return ErrPointsIncorrect
	}
	store.mu.Lock()
	defer store.mu.Unlock()

	// при ошибке зачисления списание отменяется
	fromRow, err := store.next(from, model.BalanceKindTransfer, reference, -points, 0)
	if err != nil {
		return err
	}
	store.append(fromRow)
	toRow, err := store.next(to, model.BalanceKindTransfer, reference, points, 0)
	if err != nil {
		store.balance[from] = store.balance[from][:len(store.balance[from])-1]
		return err
	}
	store.append(toRow)
	return nil
}

func (store *memStore) next(customer string, kind string, reference string, difference int64, withdrawn int64) (model.Balance, error) {
	balanceRow := store.actual(customer)

	data, err := nextBalance(balanceRow.Data, difference, withdrawn)
	if err != nil {
		return model.Balance{}, err
	}
	data.Kind = kind
	data.Timestamp = time.Now()
	data.Reference = reference

	balanceRow.Key.Customer = customer
	balanceRow.Data = data
	return balanceRow, nil
}

func (store *memStore) append(balanceRow model.Balance) {
	store.lastOperID++
	balanceRow.Key.Operation = store.lastOperID
	store.balance[balanceRow.Key.Customer] = append(store.balance[balanceRow.Key.Customer], balanceRow)
}
