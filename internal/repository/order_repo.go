package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/craftmarket/backend/internal/models"
)

const orderColumns = `id, owner_id, name, description, price, created_at, complete_till, approved`

type OrderRepo struct {
	pool *pgxpool.Pool
}

func NewOrderRepo(pool *pgxpool.Pool) *OrderRepo {
	return &OrderRepo{pool: pool}
}

func scanOrder(row pgx.Row) (*models.Order, error) {
	var o models.Order
	if err := row.Scan(&o.ID, &o.OwnerID, &o.Name, &o.Description, &o.Price, &o.CreatedAt, &o.CompleteTill, &o.Approved); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OrderRepo) CreateTx(ctx context.Context, tx pgx.Tx, o *models.Order) error {
	return tx.QueryRow(ctx, `
		INSERT INTO orders (id, owner_id, name, description, price, complete_till)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, approved
	`, o.ID, o.OwnerID, o.Name, o.Description, o.Price, o.CompleteTill).Scan(&o.CreatedAt, &o.Approved)
}

func (r *OrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

func (r *OrderRepo) GetByIDTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Order, error) {
	return scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

// GetByIDForUpdate locks the order row. Every lifecycle mutation takes this lock first.
func (r *OrderRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Order, error) {
	return scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
}

func (r *OrderRepo) List(ctx context.Context) ([]*models.Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC`)
}

func (r *OrderRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
}

func (r *OrderRepo) list(ctx context.Context, sql string, args ...any) ([]*models.Order, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, o)
	}
	return list, rows.Err()
}

func (r *OrderRepo) SetApprovedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	_, err := tx.Exec(ctx, `UPDATE orders SET approved = true WHERE id = $1`, id)
	return err
}

// DeleteTx removes the order together with its offers and the file metadata of
// its jobs. Jobs and join rows cascade.
func (r *OrderRepo) DeleteTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		DELETE FROM files
		WHERE owner_kind = $2 AND owner_id IN (SELECT id FROM jobs WHERE order_id = $1)
	`, id, models.FileOwnerJob)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		DELETE FROM offers WHERE id IN (SELECT offer_id FROM order_offers WHERE order_id = $1)
	`, id)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
	return err
}
