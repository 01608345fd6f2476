package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/craftmarket/backend/internal/models"
)

const jobColumns = `id, order_id, offer_id, progress, active, need_changes, completed, created_at, completed_at`

// ConstraintOneActiveJob is the partial unique index allowing one active job per order.
const ConstraintOneActiveJob = "jobs_one_active_per_order"

type JobRepo struct {
	pool *pgxpool.Pool
}

func NewJobRepo(pool *pgxpool.Pool) *JobRepo {
	return &JobRepo{pool: pool}
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	if err := row.Scan(&j.ID, &j.OrderID, &j.OfferID, &j.Progress, &j.Active, &j.NeedChanges, &j.Completed, &j.CreatedAt, &j.CompletedAt); err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *JobRepo) CreateTx(ctx context.Context, tx pgx.Tx, j *models.Job) error {
	return tx.QueryRow(ctx, `
		INSERT INTO jobs (id, order_id, offer_id, progress, active, need_changes, completed)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, j.ID, j.OrderID, j.OfferID, j.Progress, j.Active, j.NeedChanges, j.Completed).Scan(&j.CreatedAt)
}

func (r *JobRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
}

func (r *JobRepo) GetByIDTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Job, error) {
	return scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
}

// GetActiveByOrderTx returns the order's active job or pgx.ErrNoRows.
func (r *JobRepo) GetActiveByOrderTx(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) (*models.Job, error) {
	return scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE order_id = $1 AND active`, orderID))
}

func (r *JobRepo) GetActiveByOrder(ctx context.Context, orderID uuid.UUID) (*models.Job, error) {
	return scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE order_id = $1 AND active`, orderID))
}

// ExistsForOfferTx reports whether any job, active or not, was created from the offer.
func (r *JobRepo) ExistsForOfferTx(ctx context.Context, tx pgx.Tx, offerID uuid.UUID) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE offer_id = $1)`, offerID).Scan(&exists)
	return exists, err
}

func (r *JobRepo) UpdateTx(ctx context.Context, tx pgx.Tx, j *models.Job) error {
	_, err := tx.Exec(ctx, `
		UPDATE jobs SET progress = $2, active = $3, need_changes = $4, completed = $5, completed_at = $6
		WHERE id = $1
	`, j.ID, j.Progress, j.Active, j.NeedChanges, j.Completed, j.CompletedAt)
	return err
}
