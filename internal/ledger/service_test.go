package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftmarket/backend/internal/apperr"
	"github.com/craftmarket/backend/internal/catalog"
	"github.com/craftmarket/backend/internal/database"
	"github.com/craftmarket/backend/internal/events"
	"github.com/craftmarket/backend/internal/models"
	"github.com/craftmarket/backend/internal/repository/memory"
)

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

type fakeCache struct {
	mu          sync.Mutex
	values      map[uuid.UUID]int64
	invalidated []uuid.UUID
}

func newFakeCache() *fakeCache { return &fakeCache{values: map[uuid.UUID]int64{}} }

func (c *fakeCache) Get(_ context.Context, id uuid.UUID) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[id]
	return v, ok, nil
}

func (c *fakeCache) Set(_ context.Context, id uuid.UUID, v int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[id] = v
	return nil
}

func (c *fakeCache) Invalidate(_ context.Context, ids ...uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.values, id)
	}
	c.invalidated = append(c.invalidated, ids...)
	return nil
}

type fixture struct {
	store *memory.Store
	svc   Service
	cache *fakeCache
	rec   *events.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	rec := &events.Recorder{}
	cache := newFakeCache()
	acc := catalog.NewAccessor(store, store.Products(), store.Orders(), store.Users(), store.Files(), rec, nil)
	svc := NewService(store, store.Users(), store.Balance(), acc, cache, rec, nil)
	return &fixture{store: store, svc: svc, cache: cache, rec: rec}
}

func (f *fixture) balance(t *testing.T, id uuid.UUID) int64 {
	t.Helper()
	b, err := f.svc.GetBalance(context.Background(), id)
	require.NoError(t, err)
	return b
}

func (f *fixture) topUp(t *testing.T, id uuid.UUID, amount int64) {
	t.Helper()
	_, err := f.svc.TopUp(context.Background(), id, amount)
	require.NoError(t, err)
}

func (f *fixture) order(t *testing.T, ownerID uuid.UUID, price int64) *models.Order {
	t.Helper()
	o := &models.Order{ID: uuid.New(), OwnerID: ownerID, Name: "order", Price: price, CompleteTill: time.Now().Add(time.Hour)}
	err := database.WithUnit(context.Background(), f.store, func(u *database.Unit) error {
		return f.store.Orders().CreateTx(context.Background(), u.Tx, o)
	})
	require.NoError(t, err)
	return o
}

// expectedBalance sums the raw entries the way the ledger defines a balance.
func (f *fixture) expectedBalance(id uuid.UUID) int64 {
	var total int64
	for _, e := range f.store.Entries() {
		if e.ToID != nil && *e.ToID == id && !e.IsPending {
			total += e.Amount
		}
		if e.FromID != nil && *e.FromID == id {
			total -= e.Amount
		}
	}
	return total
}

// ---------------------------------------------------------------------------
// Balance and top-up
// ---------------------------------------------------------------------------

func TestGetBalance_FreshUserIsZero(t *testing.T) {
	f := newFixture(t)
	u := f.store.AddUser(models.UserRoleBuyer)
	assert.Equal(t, int64(0), f.balance(t, u.ID))
}

func TestGetBalance_UnknownUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetBalance(context.Background(), uuid.New())
	assert.ErrorIs(t, err, apperr.ErrUserNotFound)
}

func TestTopUp(t *testing.T) {
	f := newFixture(t)
	u := f.store.AddUser(models.UserRoleBuyer)
	ctx := context.Background()

	entry, err := f.svc.TopUp(ctx, u.ID, 100)
	require.NoError(t, err)
	assert.True(t, entry.IsTopUp)
	assert.False(t, entry.IsPending)
	assert.Nil(t, entry.FromID)
	assert.Equal(t, u.ID, *entry.ToID)
	assert.Equal(t, int64(100), f.balance(t, u.ID))
	assert.Equal(t, []string{events.BalanceToppedUp}, f.rec.Types())

	_, err = f.svc.TopUp(ctx, u.ID, 0)
	assert.ErrorIs(t, err, apperr.ErrInvalidAmount)
	_, err = f.svc.TopUp(ctx, u.ID, -5)
	assert.ErrorIs(t, err, apperr.ErrInvalidAmount)
	_, err = f.svc.TopUp(ctx, uuid.New(), 10)
	assert.ErrorIs(t, err, apperr.ErrUserNotFound)
}

func TestGetBalance_CacheReadThroughAndInvalidation(t *testing.T) {
	f := newFixture(t)
	u := f.store.AddUser(models.UserRoleBuyer)

	assert.Equal(t, int64(0), f.balance(t, u.ID))
	v, ok, _ := f.cache.Get(context.Background(), u.ID)
	require.True(t, ok)
	assert.Equal(t, int64(0), v)

	f.topUp(t, u.ID, 70)
	_, ok, _ = f.cache.Get(context.Background(), u.ID)
	assert.False(t, ok, "commit must drop the cached balance")
	assert.Equal(t, int64(70), f.balance(t, u.ID))
}

// ---------------------------------------------------------------------------
// PayForProduct
// ---------------------------------------------------------------------------

func TestPayForProduct_FreshUserNotEnoughBalance(t *testing.T) {
	f := newFixture(t)
	seller := f.store.AddUser(models.UserRoleSeller)
	buyer := f.store.AddUser(models.UserRoleBuyer)
	p := f.store.AddProduct(seller.ID, 10)

	_, err := f.svc.PayForProduct(context.Background(), buyer.ID, p.ID)
	assert.ErrorIs(t, err, apperr.ErrNotEnoughBalance)
	assert.Empty(t, f.store.Entries())
}

func TestPayForProduct_OwnerCannotBuy(t *testing.T) {
	f := newFixture(t)
	seller := f.store.AddUser(models.UserRoleSeller)
	f.topUp(t, seller.ID, 100)
	p := f.store.AddProduct(seller.ID, 10)

	_, err := f.svc.PayForProduct(context.Background(), seller.ID, p.ID)
	assert.ErrorIs(t, err, apperr.ErrOwnerUnableToBuyProduct)
	assert.Equal(t, int64(100), f.balance(t, seller.ID))
}

func TestPayForProduct_UnknownProduct(t *testing.T) {
	f := newFixture(t)
	buyer := f.store.AddUser(models.UserRoleBuyer)
	_, err := f.svc.PayForProduct(context.Background(), buyer.ID, uuid.New())
	assert.ErrorIs(t, err, apperr.ErrProductNotFound)
}

func TestPayForProduct_DebitsExactlyPrice(t *testing.T) {
	f := newFixture(t)
	seller := f.store.AddUser(models.UserRoleSeller)
	buyer := f.store.AddUser(models.UserRoleBuyer)
	f.topUp(t, buyer.ID, 50)
	p := f.store.AddProduct(seller.ID, 30)

	entry, err := f.svc.PayForProduct(context.Background(), buyer.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(30), entry.Amount)
	assert.Equal(t, p.ID, *entry.ProductID)
	assert.False(t, entry.IsPending)

	assert.Equal(t, int64(20), f.balance(t, buyer.ID))
	assert.Equal(t, int64(30), f.balance(t, seller.ID))
	assert.ElementsMatch(t, []uuid.UUID{buyer.ID, seller.ID}, f.cache.invalidated[len(f.cache.invalidated)-2:])
}

func TestPayForProduct_ExactBalanceSucceeds(t *testing.T) {
	f := newFixture(t)
	seller := f.store.AddUser(models.UserRoleSeller)
	buyer := f.store.AddUser(models.UserRoleBuyer)
	f.topUp(t, buyer.ID, 30)
	p := f.store.AddProduct(seller.ID, 30)

	_, err := f.svc.PayForProduct(context.Background(), buyer.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), f.balance(t, buyer.ID))
}

func TestPayForProduct_DuplicateReportedBeforeBalance(t *testing.T) {
	f := newFixture(t)
	seller := f.store.AddUser(models.UserRoleSeller)
	buyer := f.store.AddUser(models.UserRoleBuyer)
	f.topUp(t, buyer.ID, 30)
	p := f.store.AddProduct(seller.ID, 30)
	ctx := context.Background()

	_, err := f.svc.PayForProduct(ctx, buyer.ID, p.ID)
	require.NoError(t, err)

	_, err = f.svc.PayForProduct(ctx, buyer.ID, p.ID)
	assert.ErrorIs(t, err, apperr.ErrDuplicateBuy)

	f.topUp(t, buyer.ID, 100)
	_, err = f.svc.PayForProduct(ctx, buyer.ID, p.ID)
	assert.ErrorIs(t, err, apperr.ErrDuplicateBuy)
	assert.Equal(t, int64(100), f.balance(t, buyer.ID))

	ids, err := f.svc.ListPurchasedProductIDs(ctx, buyer.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{p.ID}, ids)
}

func TestPayForProduct_LocksUsersInUUIDOrder(t *testing.T) {
	f := newFixture(t)
	seller := f.store.AddUser(models.UserRoleSeller)
	buyer := f.store.AddUser(models.UserRoleBuyer)
	f.topUp(t, buyer.ID, 30)
	p := f.store.AddProduct(seller.ID, 10)
	f.store.Locked = nil

	_, err := f.svc.PayForProduct(context.Background(), buyer.ID, p.ID)
	require.NoError(t, err)

	want := []uuid.UUID{buyer.ID, seller.ID}
	sort.Slice(want, func(i, j int) bool { return want[i].String() < want[j].String() })
	assert.Equal(t, want, f.store.Locked)
}

func TestPayForProduct_ConcurrentDuplicatesSucceedOnce(t *testing.T) {
	f := newFixture(t)
	seller := f.store.AddUser(models.UserRoleSeller)
	buyer := f.store.AddUser(models.UserRoleBuyer)
	f.topUp(t, buyer.ID, 1000)
	p := f.store.AddProduct(seller.ID, 10)

	var wg sync.WaitGroup
	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.PayForProduct(context.Background(), buyer.ID, p.ID)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, dup int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, apperr.ErrDuplicateBuy):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 7, dup)
	assert.Equal(t, int64(990), f.balance(t, buyer.ID))
}

// ---------------------------------------------------------------------------
// Order reservation and settlement
// ---------------------------------------------------------------------------

func (f *fixture) inUnit(t *testing.T, fn func(u *database.Unit) error) error {
	t.Helper()
	return database.WithUnit(context.Background(), f.store, fn)
}

func TestReserveSettleOrder(t *testing.T) {
	f := newFixture(t)
	buyer := f.store.AddUser(models.UserRoleBuyer)
	worker := f.store.AddUser(models.UserRoleWorker)
	f.topUp(t, buyer.ID, 100)
	o := f.order(t, buyer.ID, 50)
	ctx := context.Background()

	err := f.inUnit(t, func(u *database.Unit) error {
		e, err := f.svc.ReserveForOrder(ctx, u, buyer.ID, worker.ID, o)
		if err == nil {
			assert.True(t, e.IsPending)
			assert.Equal(t, o.ID, *e.OrderID)
		}
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(50), f.balance(t, buyer.ID))
	assert.Equal(t, int64(0), f.balance(t, worker.ID), "pending credit is not spendable")

	err = f.inUnit(t, func(u *database.Unit) error {
		_, err := f.svc.SettleOrder(ctx, u, buyer.ID, o.ID)
		return err
	})
	assert.ErrorIs(t, err, apperr.ErrUnauthorizedForAction)

	err = f.inUnit(t, func(u *database.Unit) error {
		e, err := f.svc.SettleOrder(ctx, u, worker.ID, o.ID)
		if err == nil {
			assert.False(t, e.IsPending)
		}
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(50), f.balance(t, buyer.ID))
	assert.Equal(t, int64(50), f.balance(t, worker.ID))

	err = f.inUnit(t, func(u *database.Unit) error {
		_, err := f.svc.SettleOrder(ctx, u, worker.ID, o.ID)
		return err
	})
	assert.ErrorIs(t, err, apperr.ErrBalanceHistoryNotFound)
}

func TestReserveForOrder_NotEnoughBalance(t *testing.T) {
	f := newFixture(t)
	buyer := f.store.AddUser(models.UserRoleBuyer)
	worker := f.store.AddUser(models.UserRoleWorker)
	f.topUp(t, buyer.ID, 40)
	o := f.order(t, buyer.ID, 50)

	err := f.inUnit(t, func(u *database.Unit) error {
		_, err := f.svc.ReserveForOrder(context.Background(), u, buyer.ID, worker.ID, o)
		return err
	})
	assert.ErrorIs(t, err, apperr.ErrNotEnoughBalance)
	assert.Equal(t, int64(40), f.balance(t, buyer.ID))
}

func TestReserveForOrder_SecondPendingRejected(t *testing.T) {
	f := newFixture(t)
	buyer := f.store.AddUser(models.UserRoleBuyer)
	worker := f.store.AddUser(models.UserRoleWorker)
	f.topUp(t, buyer.ID, 200)
	o := f.order(t, buyer.ID, 50)
	ctx := context.Background()

	reserve := func(u *database.Unit) error {
		_, err := f.svc.ReserveForOrder(ctx, u, buyer.ID, worker.ID, o)
		return err
	}
	require.NoError(t, f.inUnit(t, reserve))
	assert.ErrorIs(t, f.inUnit(t, reserve), apperr.ErrOrderHasActiveJob)
	assert.Equal(t, int64(150), f.balance(t, buyer.ID))
}

func TestSettleOrder_MissingOrder(t *testing.T) {
	f := newFixture(t)
	worker := f.store.AddUser(models.UserRoleWorker)
	err := f.inUnit(t, func(u *database.Unit) error {
		_, err := f.svc.SettleOrder(context.Background(), u, worker.ID, uuid.New())
		return err
	})
	assert.ErrorIs(t, err, apperr.ErrOrderNotFound)
}

func TestReverseOrderReservation(t *testing.T) {
	f := newFixture(t)
	buyer := f.store.AddUser(models.UserRoleBuyer)
	worker := f.store.AddUser(models.UserRoleWorker)
	f.topUp(t, buyer.ID, 100)
	o := f.order(t, buyer.ID, 60)
	ctx := context.Background()

	require.NoError(t, f.inUnit(t, func(u *database.Unit) error {
		_, err := f.svc.ReserveForOrder(ctx, u, buyer.ID, worker.ID, o)
		return err
	}))
	assert.Equal(t, int64(40), f.balance(t, buyer.ID))

	require.NoError(t, f.inUnit(t, func(u *database.Unit) error {
		return f.svc.ReverseOrderReservation(ctx, u, o.ID)
	}))
	assert.Equal(t, int64(100), f.balance(t, buyer.ID))

	err := f.inUnit(t, func(u *database.Unit) error {
		return f.svc.ReverseOrderReservation(ctx, u, o.ID)
	})
	assert.ErrorIs(t, err, apperr.ErrBalanceHistoryNotFound)
}

func TestRolledBackReservationLeavesNoEntry(t *testing.T) {
	f := newFixture(t)
	buyer := f.store.AddUser(models.UserRoleBuyer)
	worker := f.store.AddUser(models.UserRoleWorker)
	f.topUp(t, buyer.ID, 100)
	o := f.order(t, buyer.ID, 60)
	invalidations := len(f.cache.invalidated)
	boom := errors.New("later step failed")

	err := f.inUnit(t, func(u *database.Unit) error {
		if _, err := f.svc.ReserveForOrder(context.Background(), u, buyer.ID, worker.ID, o); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Len(t, f.store.Entries(), 1, "only the top-up remains")
	assert.Len(t, f.cache.invalidated, invalidations, "no invalidation without commit")
	assert.Equal(t, int64(100), f.balance(t, buyer.ID))
}

// ---------------------------------------------------------------------------
// Properties
// ---------------------------------------------------------------------------

func TestBalanceMatchesLedgerSum(t *testing.T) {
	f := newFixture(t)
	a := f.store.AddUser(models.UserRoleBuyer)
	b := f.store.AddUser(models.UserRoleSeller)
	c := f.store.AddUser(models.UserRoleWorker)
	ctx := context.Background()

	f.topUp(t, a.ID, 500)
	f.topUp(t, b.ID, 80)
	for _, price := range []int64{10, 25, 40} {
		p := f.store.AddProduct(b.ID, price)
		_, err := f.svc.PayForProduct(ctx, a.ID, p.ID)
		require.NoError(t, err)
	}
	pc := f.store.AddProduct(c.ID, 70)
	_, err := f.svc.PayForProduct(ctx, b.ID, pc.ID)
	require.NoError(t, err)

	settled := f.order(t, a.ID, 90)
	pending := f.order(t, a.ID, 45)
	require.NoError(t, f.inUnit(t, func(u *database.Unit) error {
		if _, err := f.svc.ReserveForOrder(ctx, u, a.ID, c.ID, settled); err != nil {
			return err
		}
		if _, err := f.svc.ReserveForOrder(ctx, u, a.ID, c.ID, pending); err != nil {
			return err
		}
		_, err := f.svc.SettleOrder(ctx, u, c.ID, settled.ID)
		return err
	}))

	for _, u := range []models.User{a, b, c} {
		assert.Equal(t, f.expectedBalance(u.ID), f.balance(t, u.ID), "user %s", u.ID)
	}
	assert.Equal(t, int64(500-75-90-45), f.balance(t, a.ID))
	assert.Equal(t, int64(80+75-70), f.balance(t, b.ID))
	assert.Equal(t, int64(70+90), f.balance(t, c.ID))

	hist, err := f.svc.History(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, hist, 6)
}
