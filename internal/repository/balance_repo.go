package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/craftmarket/backend/internal/models"
)

const balanceColumns = `id, from_id, to_id, amount, is_pending, is_top_up, last_time, order_id, product_id`

// Partial unique indexes on balance_history.
const (
	ConstraintOnePendingPerOrder  = "balance_history_one_pending_per_order"
	ConstraintOnePurchasePerBuyer = "balance_history_one_purchase_per_buyer"
)

type BalanceRepo struct {
	pool *pgxpool.Pool
}

func NewBalanceRepo(pool *pgxpool.Pool) *BalanceRepo {
	return &BalanceRepo{pool: pool}
}

func scanEntry(row pgx.Row) (*models.BalanceEntry, error) {
	var e models.BalanceEntry
	if err := row.Scan(&e.ID, &e.FromID, &e.ToID, &e.Amount, &e.IsPending, &e.IsTopUp, &e.CreatedAt, &e.OrderID, &e.ProductID); err != nil {
		return nil, err
	}
	return &e, nil
}

// sumBalance computes settled credits minus every debit, pending debits included.
func sumBalance(ctx context.Context, db DBTX, userID uuid.UUID) (int64, error) {
	var balance int64
	err := db.QueryRow(ctx, `
		SELECT
			COALESCE((SELECT SUM(amount) FROM balance_history WHERE to_id = $1 AND NOT is_pending), 0)
			- COALESCE((SELECT SUM(amount) FROM balance_history WHERE from_id = $1), 0)
	`, userID).Scan(&balance)
	return balance, err
}

func (r *BalanceRepo) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	return sumBalance(ctx, r.pool, userID)
}

// BalanceTx recomputes the balance inside the caller's transaction. Hold the user lock first.
func (r *BalanceRepo) BalanceTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (int64, error) {
	return sumBalance(ctx, tx, userID)
}

func (r *BalanceRepo) CreateTx(ctx context.Context, tx pgx.Tx, e *models.BalanceEntry) error {
	return tx.QueryRow(ctx, `
		INSERT INTO balance_history (id, from_id, to_id, amount, is_pending, is_top_up, order_id, product_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING last_time
	`, e.ID, e.FromID, e.ToID, e.Amount, e.IsPending, e.IsTopUp, e.OrderID, e.ProductID).Scan(&e.CreatedAt)
}

// PendingByOrderTx returns the order's pending reservation or pgx.ErrNoRows.
func (r *BalanceRepo) PendingByOrderTx(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) (*models.BalanceEntry, error) {
	return scanEntry(tx.QueryRow(ctx, `
		SELECT `+balanceColumns+` FROM balance_history WHERE order_id = $1 AND is_pending FOR UPDATE
	`, orderID))
}

// SettleTx flips a pending entry to settled.
func (r *BalanceRepo) SettleTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	tag, err := tx.Exec(ctx, `UPDATE balance_history SET is_pending = false, last_time = now() WHERE id = $1 AND is_pending`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// DeletePendingTx removes a pending entry. Settled entries are never deleted.
func (r *BalanceRepo) DeletePendingTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	tag, err := tx.Exec(ctx, `DELETE FROM balance_history WHERE id = $1 AND is_pending`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *BalanceRepo) HasPurchaseTx(ctx context.Context, tx pgx.Tx, buyerID, productID uuid.UUID) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM balance_history
			WHERE from_id = $1 AND product_id = $2 AND NOT is_pending
		)
	`, buyerID, productID).Scan(&exists)
	return exists, err
}

func (r *BalanceRepo) ListPurchasedProductIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT product_id FROM balance_history
		WHERE from_id = $1 AND product_id IS NOT NULL AND NOT is_pending
		ORDER BY last_time DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListByUser returns every entry the user is party to, newest first.
func (r *BalanceRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.BalanceEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+balanceColumns+` FROM balance_history
		WHERE from_id = $1 OR to_id = $1
		ORDER BY last_time DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.BalanceEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}
