package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/craftmarket/backend/internal/models"
)

type FileRepo struct {
	pool *pgxpool.Pool
}

func NewFileRepo(pool *pgxpool.Pool) *FileRepo {
	return &FileRepo{pool: pool}
}

// CreateTx inserts metadata rows for files owned by (kind, ownerID). IDs are assigned when missing.
func (r *FileRepo) CreateTx(ctx context.Context, tx pgx.Tx, kind string, ownerID uuid.UUID, files []models.FileMeta) error {
	for i := range files {
		f := &files[i]
		if f.ID == uuid.Nil {
			f.ID = uuid.New()
		}
		f.OwnerKind = kind
		f.OwnerID = ownerID
		err := tx.QueryRow(ctx, `
			INSERT INTO files (id, owner_kind, owner_id, name, size, format, storage_key)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING created_at
		`, f.ID, f.OwnerKind, f.OwnerID, f.Name, f.Size, f.Format, f.StorageKey).Scan(&f.CreatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *FileRepo) ListByOwner(ctx context.Context, kind string, ownerID uuid.UUID) ([]models.FileMeta, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, owner_kind, owner_id, name, size, format, storage_key, created_at
		FROM files WHERE owner_kind = $1 AND owner_id = $2 ORDER BY created_at
	`, kind, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.FileMeta
	for rows.Next() {
		var f models.FileMeta
		if err := rows.Scan(&f.ID, &f.OwnerKind, &f.OwnerID, &f.Name, &f.Size, &f.Format, &f.StorageKey, &f.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, f)
	}
	return list, rows.Err()
}

// DeleteByOwnerTx removes metadata for every file attached to (kind, ownerID).
func (r *FileRepo) DeleteByOwnerTx(ctx context.Context, tx pgx.Tx, kind string, ownerID uuid.UUID) error {
	_, err := tx.Exec(ctx, `DELETE FROM files WHERE owner_kind = $1 AND owner_id = $2`, kind, ownerID)
	return err
}
