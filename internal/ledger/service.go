// Package ledger is the only writer of balance_history. Balances are derived
// from the entries: settled credits minus every debit, pending debits included.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/samber/lo"

	"github.com/craftmarket/backend/internal/apperr"
	"github.com/craftmarket/backend/internal/database"
	"github.com/craftmarket/backend/internal/events"
	"github.com/craftmarket/backend/internal/metrics"
	"github.com/craftmarket/backend/internal/models"
	"github.com/craftmarket/backend/internal/repository"
)

type Service interface {
	GetBalance(ctx context.Context, userID uuid.UUID) (int64, error)
	TopUp(ctx context.Context, userID uuid.UUID, amount int64) (*models.BalanceEntry, error)
	PayForProduct(ctx context.Context, buyerID, productID uuid.UUID) (*models.BalanceEntry, error)
	ReserveForOrder(ctx context.Context, u *database.Unit, payerID, recipientID uuid.UUID, order *models.Order) (*models.BalanceEntry, error)
	SettleOrder(ctx context.Context, u *database.Unit, workerID, orderID uuid.UUID) (*models.BalanceEntry, error)
	ReverseOrderReservation(ctx context.Context, u *database.Unit, orderID uuid.UUID) error
	ListPurchasedProductIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	History(ctx context.Context, userID uuid.UUID) ([]*models.BalanceEntry, error)
}

// UserRepo is the minimal user repository interface for balance locking.
type UserRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.User, error)
}

// EntryRepo is the balance_history store.
type EntryRepo interface {
	Balance(ctx context.Context, userID uuid.UUID) (int64, error)
	BalanceTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (int64, error)
	CreateTx(ctx context.Context, tx pgx.Tx, e *models.BalanceEntry) error
	PendingByOrderTx(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) (*models.BalanceEntry, error)
	SettleTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
	DeletePendingTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
	HasPurchaseTx(ctx context.Context, tx pgx.Tx, buyerID, productID uuid.UUID) (bool, error)
	ListPurchasedProductIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.BalanceEntry, error)
}

// Catalog resolves prices and order references. Implemented by catalog.Accessor.
type Catalog interface {
	GetProductTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Product, error)
	GetOrderTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Order, error)
}

type service struct {
	db        database.TxBeginner
	users     UserRepo
	entries   EntryRepo
	catalog   Catalog
	cache     BalanceCache
	publisher events.Publisher
	logger    *slog.Logger
}

func NewService(
	db database.TxBeginner,
	users UserRepo,
	entries EntryRepo,
	catalog Catalog,
	cache BalanceCache,
	publisher events.Publisher,
	logger *slog.Logger,
) Service {
	if cache == nil {
		cache = NopCache{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &service{
		db:        db,
		users:     users,
		entries:   entries,
		catalog:   catalog,
		cache:     cache,
		publisher: publisher,
		logger:    logger,
	}
}

var _ Service = (*service)(nil)

func (s *service) GetBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	if v, ok, err := s.cache.Get(ctx, userID); err != nil {
		s.logger.Warn("balance cache read failed", "user_id", userID, "error", err)
	} else if ok {
		return v, nil
	}
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperr.ErrUserNotFound
		}
		return 0, fmt.Errorf("load user: %w", err)
	}
	balance, err := s.entries.Balance(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("sum balance: %w", err)
	}
	// A write committing between the sum and this Set can leave the old value
	// cached until the TTL expires. Spend checks never read the cache.
	if err := s.cache.Set(ctx, userID, balance); err != nil {
		s.logger.Warn("balance cache write failed", "user_id", userID, "error", err)
	}
	return balance, nil
}

func (s *service) TopUp(ctx context.Context, userID uuid.UUID, amount int64) (*models.BalanceEntry, error) {
	if amount <= 0 {
		return nil, apperr.ErrInvalidAmount
	}
	var entry *models.BalanceEntry
	err := database.WithUnit(ctx, s.db, func(u *database.Unit) error {
		if err := s.lockUsers(ctx, u.Tx, userID); err != nil {
			return err
		}
		entry = &models.BalanceEntry{
			ID:      uuid.New(),
			ToID:    &userID,
			Amount:  amount,
			IsTopUp: true,
		}
		if err := s.entries.CreateTx(ctx, u.Tx, entry); err != nil {
			return fmt.Errorf("insert top-up: %w", err)
		}
		ev := events.New(events.BalanceToppedUp, entry.ID, userID)
		ev.Amount = amount
		if err := s.publisher.Publish(ctx, u.Tx, ev); err != nil {
			return err
		}
		s.afterWrite(u, entry, userID)
		return nil
	})
	if err != nil {
		return nil, s.reject("top_up", err)
	}
	return entry, nil
}

// PayForProduct checks, in order: product exists, buyer is not the owner,
// no prior purchase, enough balance. A repeat purchase therefore always
// reports ErrDuplicateBuy.
func (s *service) PayForProduct(ctx context.Context, buyerID, productID uuid.UUID) (*models.BalanceEntry, error) {
	var entry *models.BalanceEntry
	err := database.WithUnit(ctx, s.db, func(u *database.Unit) error {
		product, err := s.catalog.GetProductTx(ctx, u.Tx, productID)
		if err != nil {
			return err
		}
		if product.OwnerID == buyerID {
			return apperr.ErrOwnerUnableToBuyProduct
		}
		if err := s.lockUsers(ctx, u.Tx, buyerID, product.OwnerID); err != nil {
			return err
		}
		bought, err := s.entries.HasPurchaseTx(ctx, u.Tx, buyerID, productID)
		if err != nil {
			return fmt.Errorf("check purchase: %w", err)
		}
		if bought {
			return apperr.ErrDuplicateBuy
		}
		if err := s.requireBalance(ctx, u.Tx, buyerID, product.Price); err != nil {
			return err
		}
		entry = &models.BalanceEntry{
			ID:        uuid.New(),
			FromID:    &buyerID,
			ToID:      &product.OwnerID,
			Amount:    product.Price,
			ProductID: &product.ID,
		}
		if err := s.entries.CreateTx(ctx, u.Tx, entry); err != nil {
			if repository.IsUniqueViolation(err, repository.ConstraintOnePurchasePerBuyer) {
				return apperr.ErrDuplicateBuy
			}
			return fmt.Errorf("insert purchase: %w", err)
		}
		ev := events.New(events.ProductPurchased, product.ID, buyerID)
		ev.Amount = product.Price
		if err := s.publisher.Publish(ctx, u.Tx, ev); err != nil {
			return err
		}
		s.afterWrite(u, entry, buyerID, product.OwnerID)
		return nil
	})
	if err != nil {
		return nil, s.reject("pay_for_product", err)
	}
	return entry, nil
}

// ReserveForOrder places a pending entry for order.Price from payer to
// recipient. Runs in the caller's unit, which must already hold the order lock.
func (s *service) ReserveForOrder(ctx context.Context, u *database.Unit, payerID, recipientID uuid.UUID, order *models.Order) (*models.BalanceEntry, error) {
	if order.Price <= 0 {
		return nil, apperr.ErrInvalidAmount
	}
	if err := s.lockUsers(ctx, u.Tx, payerID, recipientID); err != nil {
		return nil, err
	}
	if err := s.requireBalance(ctx, u.Tx, payerID, order.Price); err != nil {
		return nil, err
	}
	entry := &models.BalanceEntry{
		ID:        uuid.New(),
		FromID:    &payerID,
		ToID:      &recipientID,
		Amount:    order.Price,
		IsPending: true,
		OrderID:   &order.ID,
	}
	if err := s.entries.CreateTx(ctx, u.Tx, entry); err != nil {
		if repository.IsUniqueViolation(err, repository.ConstraintOnePendingPerOrder) {
			return nil, apperr.ErrOrderHasActiveJob
		}
		return nil, fmt.Errorf("insert reservation: %w", err)
	}
	s.afterWrite(u, entry, payerID)
	return entry, nil
}

// SettleOrder releases the order's pending entry to the worker.
func (s *service) SettleOrder(ctx context.Context, u *database.Unit, workerID, orderID uuid.UUID) (*models.BalanceEntry, error) {
	if _, err := s.catalog.GetOrderTx(ctx, u.Tx, orderID); err != nil {
		return nil, err
	}
	entry, err := s.pendingForOrder(ctx, u.Tx, orderID)
	if err != nil {
		return nil, err
	}
	if entry.ToID == nil || *entry.ToID != workerID {
		return nil, apperr.ErrUnauthorizedForAction
	}
	parties := entryParties(entry)
	if err := s.lockUsers(ctx, u.Tx, parties...); err != nil {
		return nil, err
	}
	if err := s.entries.SettleTx(ctx, u.Tx, entry.ID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrBalanceHistoryNotFound
		}
		return nil, fmt.Errorf("settle entry: %w", err)
	}
	entry.IsPending = false
	s.afterWrite(u, entry, parties...)
	return entry, nil
}

// ReverseOrderReservation deletes the order's pending entry, returning the funds to the payer.
func (s *service) ReverseOrderReservation(ctx context.Context, u *database.Unit, orderID uuid.UUID) error {
	entry, err := s.pendingForOrder(ctx, u.Tx, orderID)
	if err != nil {
		return err
	}
	parties := entryParties(entry)
	if err := s.lockUsers(ctx, u.Tx, parties...); err != nil {
		return err
	}
	if err := s.entries.DeletePendingTx(ctx, u.Tx, entry.ID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.ErrBalanceHistoryNotFound
		}
		return fmt.Errorf("delete reservation: %w", err)
	}
	u.AfterCommit(func(ctx context.Context) {
		metrics.RecordLedgerEntry("order_reversal", entry.Amount)
		s.invalidate(ctx, parties...)
	})
	return nil
}

func (s *service) ListPurchasedProductIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	ids, err := s.entries.ListPurchasedProductIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	return lo.Uniq(ids), nil
}

func (s *service) History(ctx context.Context, userID uuid.UUID) ([]*models.BalanceEntry, error) {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	list, err := s.entries.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return list, nil
}

// lockUsers takes FOR UPDATE locks on the given users in UUID order so
// concurrent transfers between the same users cannot deadlock.
func (s *service) lockUsers(ctx context.Context, tx pgx.Tx, ids ...uuid.UUID) error {
	ids = lo.Uniq(ids)
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	for _, id := range ids {
		if _, err := s.users.GetByIDForUpdate(ctx, tx, id); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperr.ErrUserNotFound
			}
			return fmt.Errorf("lock user %s: %w", id, err)
		}
	}
	return nil
}

// requireBalance recomputes the balance from the ledger. The cache is never consulted here.
func (s *service) requireBalance(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) error {
	balance, err := s.entries.BalanceTx(ctx, tx, userID)
	if err != nil {
		return fmt.Errorf("sum balance: %w", err)
	}
	if balance < amount {
		return apperr.ErrNotEnoughBalance
	}
	return nil
}

func (s *service) pendingForOrder(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) (*models.BalanceEntry, error) {
	entry, err := s.entries.PendingByOrderTx(ctx, tx, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrBalanceHistoryNotFound
		}
		return nil, fmt.Errorf("load reservation: %w", err)
	}
	return entry, nil
}

func entryParties(e *models.BalanceEntry) []uuid.UUID {
	var ids []uuid.UUID
	if e.FromID != nil {
		ids = append(ids, *e.FromID)
	}
	if e.ToID != nil {
		ids = append(ids, *e.ToID)
	}
	return ids
}

// afterWrite schedules cache invalidation and metrics for after commit.
func (s *service) afterWrite(u *database.Unit, entry *models.BalanceEntry, userIDs ...uuid.UUID) {
	kind, amount := entry.Kind(), entry.Amount
	u.AfterCommit(func(ctx context.Context) {
		metrics.RecordLedgerEntry(kind, amount)
		s.invalidate(ctx, userIDs...)
	})
}

func (s *service) invalidate(ctx context.Context, userIDs ...uuid.UUID) {
	if err := s.cache.Invalidate(ctx, userIDs...); err != nil {
		s.logger.Warn("balance cache invalidation failed", "user_ids", userIDs, "error", err)
	}
}

func (s *service) reject(op string, err error) error {
	if apperr.IsBusiness(err) {
		metrics.RecordRejection(op)
	} else {
		s.logger.Error("ledger operation failed", "operation", op, "error", err)
	}
	return err
}
