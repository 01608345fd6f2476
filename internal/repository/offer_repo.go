package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/craftmarket/backend/internal/models"
)

const offerSelect = `
	SELECT f.id, oo.order_id, f.user_id, f.description, f.created_at, f.complete_till
	FROM offers f JOIN order_offers oo ON oo.offer_id = f.id`

type OfferRepo struct {
	pool *pgxpool.Pool
}

func NewOfferRepo(pool *pgxpool.Pool) *OfferRepo {
	return &OfferRepo{pool: pool}
}

func scanOffer(row pgx.Row) (*models.Offer, error) {
	var o models.Offer
	if err := row.Scan(&o.ID, &o.OrderID, &o.UserID, &o.Description, &o.CreatedAt, &o.CompleteTill); err != nil {
		return nil, err
	}
	return &o, nil
}

// CreateTx inserts the offer and its order_offers join row.
func (r *OfferRepo) CreateTx(ctx context.Context, tx pgx.Tx, o *models.Offer) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO offers (id, user_id, description, complete_till)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, o.ID, o.UserID, o.Description, o.CompleteTill).Scan(&o.CreatedAt)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `INSERT INTO order_offers (order_id, offer_id) VALUES ($1, $2)`, o.OrderID, o.ID)
	return err
}

func (r *OfferRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Offer, error) {
	return scanOffer(r.pool.QueryRow(ctx, offerSelect+` WHERE f.id = $1`, id))
}

func (r *OfferRepo) GetByIDTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Offer, error) {
	return scanOffer(tx.QueryRow(ctx, offerSelect+` WHERE f.id = $1`, id))
}

func (r *OfferRepo) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*models.Offer, error) {
	rows, err := r.pool.Query(ctx, offerSelect+` WHERE oo.order_id = $1 ORDER BY f.created_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, o)
	}
	return list, rows.Err()
}

func (r *OfferRepo) DeleteTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	_, err := tx.Exec(ctx, `DELETE FROM offers WHERE id = $1`, id)
	return err
}
