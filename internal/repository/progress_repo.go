package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/craftmarket/backend/internal/models"
)

type ProgressRepo struct {
	pool *pgxpool.Pool
}

func NewProgressRepo(pool *pgxpool.Pool) *ProgressRepo {
	return &ProgressRepo{pool: pool}
}

func (r *ProgressRepo) CreateTx(ctx context.Context, tx pgx.Tx, p *models.JobProgress) error {
	return tx.QueryRow(ctx, `
		INSERT INTO progresses (id, job_id, user_id, description, progress)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, p.ID, p.JobID, p.UserID, p.Description, p.Progress).Scan(&p.CreatedAt)
}

func (r *ProgressRepo) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.JobProgress, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, job_id, user_id, description, progress, created_at
		FROM progresses WHERE job_id = $1 ORDER BY created_at
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.JobProgress
	for rows.Next() {
		var p models.JobProgress
		if err := rows.Scan(&p.ID, &p.JobID, &p.UserID, &p.Description, &p.Progress, &p.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &p)
	}
	return list, rows.Err()
}
