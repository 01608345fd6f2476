package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/craftmarket/backend/internal/models"
)

const productColumns = `id, owner_id, name, description, price, created_at`

type ProductRepo struct {
	pool *pgxpool.Pool
}

func NewProductRepo(pool *pgxpool.Pool) *ProductRepo {
	return &ProductRepo{pool: pool}
}

func scanProduct(row pgx.Row) (*models.Product, error) {
	var p models.Product
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description, &p.Price, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ProductRepo) CreateTx(ctx context.Context, tx pgx.Tx, p *models.Product) error {
	return tx.QueryRow(ctx, `
		INSERT INTO products (id, owner_id, name, description, price)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, p.ID, p.OwnerID, p.Name, p.Description, p.Price).Scan(&p.CreatedAt)
}

func (r *ProductRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	return scanProduct(r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

func (r *ProductRepo) GetByIDTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Product, error) {
	return scanProduct(tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

func (r *ProductRepo) List(ctx context.Context) ([]*models.Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}
