package repository_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftmarket/backend/internal/apperr"
	"github.com/craftmarket/backend/internal/catalog"
	"github.com/craftmarket/backend/internal/events"
	"github.com/craftmarket/backend/internal/guard"
	"github.com/craftmarket/backend/internal/ledger"
	"github.com/craftmarket/backend/internal/lifecycle"
	"github.com/craftmarket/backend/internal/migrations"
	"github.com/craftmarket/backend/internal/models"
	"github.com/craftmarket/backend/internal/repository"
)

// =============================================================================
// Setup
// =============================================================================

type pgFixture struct {
	pool      *pgxpool.Pool
	users     *repository.UserRepo
	balance   *repository.BalanceRepo
	ledger    ledger.Service
	lifecycle lifecycle.Service
}

func newPG(t *testing.T) *pgFixture {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping postgres integration test")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	db := stdlib.OpenDBFromPool(pool)
	require.NoError(t, migrations.Apply(ctx, db))
	require.NoError(t, db.Close())

	users := repository.NewUserRepo(pool)
	products := repository.NewProductRepo(pool)
	orders := repository.NewOrderRepo(pool)
	offers := repository.NewOfferRepo(pool)
	jobs := repository.NewJobRepo(pool)
	balance := repository.NewBalanceRepo(pool)
	files := repository.NewFileRepo(pool)

	rec := &events.Recorder{}
	acc := catalog.NewAccessor(pool, products, orders, users, files, rec, nil)
	led := ledger.NewService(pool, users, balance, acc, nil, rec, nil)
	life := lifecycle.NewService(pool, guard.New(users, orders, offers, jobs), lifecycle.Repos{
		Orders:   orders,
		Offers:   offers,
		Jobs:     jobs,
		Progress: repository.NewProgressRepo(pool),
		Files:    files,
	}, led, rec, nil)

	return &pgFixture{pool: pool, users: users, balance: balance, ledger: led, lifecycle: life}
}

func (f *pgFixture) user(t *testing.T, role string) uuid.UUID {
	t.Helper()
	u := &models.User{ID: uuid.New(), Email: uuid.NewString() + "@it.example.com", Role: role, PasswordHash: "x"}
	require.NoError(t, f.users.Create(context.Background(), u))
	return u.ID
}

// =============================================================================
// Tests
// =============================================================================

func TestPostgres_DuplicateEmailIsUniqueViolation(t *testing.T) {
	f := newPG(t)
	ctx := context.Background()

	email := uuid.NewString() + "@it.example.com"
	require.NoError(t, f.users.Create(ctx, &models.User{ID: uuid.New(), Email: email, Role: models.UserRoleBuyer, PasswordHash: "x"}))
	err := f.users.Create(ctx, &models.User{ID: uuid.New(), Email: email, Role: models.UserRoleBuyer, PasswordHash: "x"})
	assert.True(t, repository.IsUniqueViolation(err, repository.ConstraintUserEmail), "got %v", err)
}

func TestPostgres_SettleTwiceReportsNoRows(t *testing.T) {
	f := newPG(t)
	ctx := context.Background()
	buyer := f.user(t, models.UserRoleBuyer)
	worker := f.user(t, models.UserRoleWorker)

	_, err := f.ledger.TopUp(ctx, buyer, 100)
	require.NoError(t, err)
	order, err := f.lifecycle.PostOrder(ctx, buyer, lifecycle.OrderSpec{Name: "it", Price: 60, CompleteTill: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	offer, err := f.lifecycle.PostOffer(ctx, worker, order.ID, lifecycle.OfferSpec{CompleteTill: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	_, err = f.lifecycle.AcceptOffer(ctx, buyer, offer.ID, order.ID)
	require.NoError(t, err)

	tx, err := f.pool.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	pending, err := f.balance.PendingByOrderTx(ctx, tx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(60), pending.Amount)

	require.NoError(t, f.balance.SettleTx(ctx, tx, pending.ID))
	assert.ErrorIs(t, f.balance.SettleTx(ctx, tx, pending.ID), pgx.ErrNoRows)
	assert.ErrorIs(t, f.balance.DeletePendingTx(ctx, tx, pending.ID), pgx.ErrNoRows)
}

func TestPostgres_FullCommission(t *testing.T) {
	f := newPG(t)
	ctx := context.Background()
	buyer := f.user(t, models.UserRoleBuyer)
	worker := f.user(t, models.UserRoleWorker)

	_, err := f.ledger.TopUp(ctx, buyer, 500)
	require.NoError(t, err)

	order, err := f.lifecycle.PostOrder(ctx, buyer, lifecycle.OrderSpec{Name: "it", Price: 200, CompleteTill: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	offer, err := f.lifecycle.PostOffer(ctx, worker, order.ID, lifecycle.OfferSpec{CompleteTill: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	job, err := f.lifecycle.AcceptOffer(ctx, buyer, offer.ID, order.ID)
	require.NoError(t, err)

	_, err = f.lifecycle.SetJobCompletion(ctx, worker, job.ID, nil, "done")
	require.NoError(t, err)
	approved, err := f.lifecycle.ApproveOrder(ctx, order.ID, buyer)
	require.NoError(t, err)
	assert.True(t, approved.Approved)

	bb, err := f.ledger.GetBalance(ctx, buyer)
	require.NoError(t, err)
	wb, err := f.ledger.GetBalance(ctx, worker)
	require.NoError(t, err)
	assert.Equal(t, int64(300), bb)
	assert.Equal(t, int64(200), wb)

	assert.ErrorIs(t, f.lifecycle.RemoveOrder(ctx, buyer, order.ID), apperr.ErrOrderAlreadyApproved)
	trail, err := f.lifecycle.ListJobProgress(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, trail, 1)
}

func TestPostgres_RemoveOrderDropsJobFiles(t *testing.T) {
	f := newPG(t)
	ctx := context.Background()
	buyer := f.user(t, models.UserRoleBuyer)
	worker := f.user(t, models.UserRoleWorker)

	_, err := f.ledger.TopUp(ctx, buyer, 50)
	require.NoError(t, err)
	order, err := f.lifecycle.PostOrder(ctx, buyer, lifecycle.OrderSpec{Name: "it", Price: 50, CompleteTill: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	offer, err := f.lifecycle.PostOffer(ctx, worker, order.ID, lifecycle.OfferSpec{CompleteTill: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	job, err := f.lifecycle.AcceptOffer(ctx, buyer, offer.ID, order.ID)
	require.NoError(t, err)
	_, err = f.lifecycle.SetJobCompletion(ctx, worker, job.ID, []models.FileMeta{{Name: "a.zip", StorageKey: "jobs/a.zip"}}, "draft")
	require.NoError(t, err)
	_, err = f.lifecycle.WorkerAbandonJob(ctx, worker, job.ID)
	require.NoError(t, err)

	require.NoError(t, f.lifecycle.RemoveOrder(ctx, buyer, order.ID))

	left, err := repository.NewFileRepo(f.pool).ListByOwner(ctx, models.FileOwnerJob, job.ID)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestPostgres_ConcurrentPurchasesNeverOverspend(t *testing.T) {
	f := newPG(t)
	ctx := context.Background()
	seller := f.user(t, models.UserRoleSeller)
	buyer := f.user(t, models.UserRoleBuyer)

	_, err := f.ledger.TopUp(ctx, buyer, 100)
	require.NoError(t, err)

	acc := catalog.NewAccessor(f.pool, repository.NewProductRepo(f.pool), repository.NewOrderRepo(f.pool), f.users, repository.NewFileRepo(f.pool), &events.Recorder{}, nil)
	var productIDs []uuid.UUID
	for i := 0; i < 5; i++ {
		p, err := acc.CreateProduct(ctx, seller, catalog.ProductSpec{Name: "p", Price: 40})
		require.NoError(t, err)
		productIDs = append(productIDs, p.ID)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		bought   int
		rejected int
	)
	for _, id := range productIDs {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			_, err := f.ledger.PayForProduct(ctx, buyer, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				bought++
			case assert.ErrorIs(t, err, apperr.ErrNotEnoughBalance):
				rejected++
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 2, bought)
	assert.Equal(t, 3, rejected)
	bal, err := f.ledger.GetBalance(ctx, buyer)
	require.NoError(t, err)
	assert.Equal(t, int64(20), bal)
}
