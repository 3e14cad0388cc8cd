package service

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iurnickita/creditmart/internal/model"
	"github.com/iurnickita/creditmart/internal/store"
)

func TestConcurrentPurchasesNeverOversell(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	id, err := env.service.List(ctx, seller, "Carbon", 20, 5)
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		sold int64
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.service.Purchase(ctx, "buyer"+strconv.Itoa(i), id, 1, 5)
			if err == nil {
				mu.Lock()
				sold++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrNotListed) && !errors.Is(err, ErrInsufficientSupply) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, int64(20), sold)
	listing, err := env.service.GetDetails(ctx, id)
	require.NoError(t, err)
	require.Equal(t, int64(0), listing.Data.Amount)
	require.False(t, listing.Data.IsListed)
	require.Equal(t, int64(100), env.rail.net(seller))
}

// Два экземпляра сервиса над одним хранилищем: блокировки лота у каждого свои,
// перепродажу предотвращает условное обновление в хранилище
func TestPurchaseAcrossInstancesNeverOversells(t *testing.T) {
	ctx := context.Background()
	shared := store.NewMemStore()

	slow := func(int, string, string, int64, string) error {
		time.Sleep(20 * time.Millisecond)
		return nil
	}
	railA := &fakeRail{fail: slow}
	railB := &fakeRail{fail: slow}
	serviceA := newService(shared, railA, &fakeNotifier{}, zap.NewNop())
	serviceB := newService(shared, railB, &fakeNotifier{}, zap.NewNop())

	id, err := serviceA.List(ctx, seller, "Carbon", 10, 10)
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		errA error
		errB error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errA = serviceA.Purchase(ctx, buyer, id, 10, 100)
	}()
	go func() {
		defer wg.Done()
		_, errB = serviceB.Purchase(ctx, buyer2, id, 10, 100)
	}()
	wg.Wait()

	// ровно одна покупка проходит
	if errA == nil {
		require.Error(t, errB)
	} else {
		require.NoError(t, errB)
	}
	for _, err := range []error{errA, errB} {
		if err != nil {
			require.True(t, errors.Is(err, ErrNotListed) || errors.Is(err, ErrInsufficientSupply), err)
		}
	}

	listing, err := serviceB.GetDetails(ctx, id)
	require.NoError(t, err)
	require.Equal(t, int64(0), listing.Data.Amount)
	require.False(t, listing.Data.IsListed)

	// проигравшему все возвращено, продавец получил оплату один раз
	require.Equal(t, int64(100), railA.net(seller)+railB.net(seller))
	require.Equal(t, int64(-100), railA.net(buyer)+railB.net(buyer2))
	require.Equal(t, int64(0), railA.net(model.EscrowAccount)+railB.net(model.EscrowAccount))
}

func TestDelistAcrossInstances(t *testing.T) {
	ctx := context.Background()
	shared := store.NewMemStore()
	serviceA := newService(shared, &fakeRail{}, &fakeNotifier{}, zap.NewNop())
	serviceB := newService(shared, &fakeRail{}, &fakeNotifier{}, zap.NewNop())

	id, err := serviceA.List(ctx, seller, "Carbon", 10, 10)
	require.NoError(t, err)

	// второй экземпляр видит состояние, изменённое первым
	_, err = serviceB.Purchase(ctx, buyer, id, 4, 40)
	require.NoError(t, err)
	require.NoError(t, serviceA.Delist(ctx, seller, id))
	require.ErrorIs(t, serviceB.Delist(ctx, seller, id), ErrAlreadyDelisted)

	listing, err := serviceA.GetDetails(ctx, id)
	require.NoError(t, err)
	require.Equal(t, int64(6), listing.Data.Amount)
	require.False(t, listing.Data.IsListed)
}

// Случайная последовательность операций не нарушает инварианты лотов
func TestRandomOperationsKeepInvariants(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	rnd := rand.New(rand.NewSource(42))
	accounts := []string{"a", "b", "c", "d"}

	// примерно каждый пятый перевод отклоняется, откаты проходят всегда
	env.rail.fail = func(_ int, _ string, _ string, _ int64, reference string) error {
		if !strings.HasSuffix(reference, "-rollback") && rnd.Intn(5) == 0 {
			return errors.New("declined")
		}
		return nil
	}

	var (
		maxID   int64
		history = map[int64]model.Listing{}
	)
	for step := 0; step < 1000; step++ {
		caller := accounts[rnd.Intn(len(accounts))]
		switch rnd.Intn(3) {
		case 0:
			id, err := env.service.List(ctx, caller, "Carbon", rnd.Int63n(20)-2, rnd.Int63n(10)-1)
			if err == nil {
				require.Greater(t, id, maxID)
				maxID = id
			}
		case 1:
			if maxID == 0 {
				continue
			}
			id := rnd.Int63n(maxID+1) + 1
			before, getErr := env.service.GetDetails(ctx, id)
			amount := rnd.Int63n(25) - 1
			payment := rnd.Int63n(200)
			_, err := env.service.Purchase(ctx, caller, id, amount, payment)
			if err != nil && getErr == nil {
				after, _ := env.service.GetDetails(ctx, id)
				require.Equal(t, before, after, "failed purchase changed listing")
			}
		case 2:
			if maxID == 0 {
				continue
			}
			_ = env.service.Delist(ctx, caller, rnd.Int63n(maxID)+1)
		}

		for id := int64(1); id <= maxID; id++ {
			listing, err := env.service.GetDetails(ctx, id)
			require.NoError(t, err)
			require.GreaterOrEqual(t, listing.Data.Amount, int64(0))
			if listing.Data.Amount == 0 {
				require.False(t, listing.Data.IsListed)
			}
			if prev, ok := history[id]; ok {
				require.Equal(t, prev.Data.PricePerUnit, listing.Data.PricePerUnit)
				require.Equal(t, prev.Data.Owner, listing.Data.Owner)
				require.LessOrEqual(t, listing.Data.Amount, prev.Data.Amount)
				// снятый лот обратно не выставляется
				if !prev.Data.IsListed {
					require.False(t, listing.Data.IsListed)
				}
			}
			history[id] = listing
		}
	}

	// деньги площадки не оседают на счете escrow
	require.Equal(t, int64(0), env.rail.net(model.EscrowAccount))
}

// Расчеты через внутренний баланс клиентов
func TestPurchaseWithBalanceRail(t *testing.T) {
	ctx := context.Background()
	svc := newService(store.NewMemStore(), nil, &fakeNotifier{}, zap.NewNop())

	id, err := svc.List(ctx, seller, "Carbon", 100, 5)
	require.NoError(t, err)

	require.NoError(t, svc.PostDeposit(ctx, buyer, 500))

	purchase, err := svc.Purchase(ctx, buyer, id, 60, 305)
	require.NoError(t, err)
	require.Equal(t, int64(5), purchase.Refund)

	balance, err := svc.GetBalance(ctx, buyer)
	require.NoError(t, err)
	require.Equal(t, int64(200), balance.Data.Balance)

	balance, err = svc.GetBalance(ctx, seller)
	require.NoError(t, err)
	require.Equal(t, int64(300), balance.Data.Balance)

	balance, err = svc.GetBalance(ctx, model.EscrowAccount)
	require.NoError(t, err)
	require.Equal(t, int64(0), balance.Data.Balance)

	// оплата больше баланса: перевод не проходит, лот не меняется
	_, err = svc.Purchase(ctx, buyer, id, 40, 201)
	require.ErrorIs(t, err, ErrPaymentTransferFailed)
	require.ErrorIs(t, err, store.ErrInsufficientFunds)

	listing, err := svc.GetDetails(ctx, id)
	require.NoError(t, err)
	require.Equal(t, int64(40), listing.Data.Amount)

	balance, err = svc.GetBalance(ctx, buyer)
	require.NoError(t, err)
	require.Equal(t, int64(200), balance.Data.Balance)
}

func TestPostWithdraw(t *testing.T) {
	ctx := context.Background()
	svc := newService(store.NewMemStore(), nil, &fakeNotifier{}, zap.NewNop())

	require.NoError(t, svc.PostDeposit(ctx, buyer, 100))
	require.ErrorIs(t, svc.PostDeposit(ctx, buyer, 0), ErrInsufficientData)

	require.ErrorIs(t, svc.PostWithdraw(ctx, buyer, "12345678901", 10), ErrUnprocessableEntity)
	require.ErrorIs(t, svc.PostWithdraw(ctx, buyer, "abc", 10), ErrUnprocessableEntity)
	require.ErrorIs(t, svc.PostWithdraw(ctx, buyer, "12345678903", 101), ErrInsufficientFunds)
	require.ErrorIs(t, svc.PostWithdraw(ctx, buyer, "", 10), ErrInsufficientData)

	require.NoError(t, svc.PostWithdraw(ctx, buyer, "12345678903", 30))

	withdrawals, err := svc.GetWithdrawals(ctx, buyer)
	require.NoError(t, err)
	require.Len(t, withdrawals, 1)

	history, err := svc.GetHistory(ctx, buyer)
	require.NoError(t, err)
	require.Len(t, history, 2)
}

func TestPostDepositOverflow(t *testing.T) {
	ctx := context.Background()
	svc := newService(store.NewMemStore(), nil, &fakeNotifier{}, zap.NewNop())

	require.NoError(t, svc.PostDeposit(ctx, buyer, math.MaxInt64))
	require.ErrorIs(t, svc.PostDeposit(ctx, buyer, 2), ErrUnprocessableEntity)

	balance, err := svc.GetBalance(ctx, buyer)
	require.NoError(t, err)
	require.Equal(t, int64(math.MaxInt64), balance.Data.Balance)
}

// Зачисление продавцу переполнило бы его баланс: расчет откатывается
func TestPurchaseSellerBalanceOverflow(t *testing.T) {
	ctx := context.Background()
	svc := newService(store.NewMemStore(), nil, &fakeNotifier{}, zap.NewNop())

	require.NoError(t, svc.PostDeposit(ctx, seller, math.MaxInt64-10))
	require.NoError(t, svc.PostDeposit(ctx, buyer, 100))

	id, err := svc.List(ctx, seller, "Carbon", 10, 5)
	require.NoError(t, err)

	_, err = svc.Purchase(ctx, buyer, id, 4, 30)
	require.ErrorIs(t, err, ErrPaymentTransferFailed)
	require.ErrorIs(t, err, store.ErrBalanceOverflow)

	balance, err := svc.GetBalance(ctx, buyer)
	require.NoError(t, err)
	require.Equal(t, int64(100), balance.Data.Balance)

	balance, err = svc.GetBalance(ctx, seller)
	require.NoError(t, err)
	require.Equal(t, int64(math.MaxInt64-10), balance.Data.Balance)

	listing, err := svc.GetDetails(ctx, id)
	require.NoError(t, err)
	require.Equal(t, int64(10), listing.Data.Amount)
}
