// Package catalog is the read side for products and orders that the ledger
// prices against, plus product creation.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/craftmarket/backend/internal/apperr"
	"github.com/craftmarket/backend/internal/database"
	"github.com/craftmarket/backend/internal/events"
	"github.com/craftmarket/backend/internal/models"
)

type ProductRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, p *models.Product) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Product, error)
	GetByIDTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Product, error)
	List(ctx context.Context) ([]*models.Product, error)
}

type OrderRepo interface {
	GetByIDTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Order, error)
}

type UserRepo interface {
	GetByIDTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.User, error)
}

type FileRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, kind string, ownerID uuid.UUID, files []models.FileMeta) error
	ListByOwner(ctx context.Context, kind string, ownerID uuid.UUID) ([]models.FileMeta, error)
}

// ProductSpec is the input for CreateProduct.
type ProductSpec struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Price       int64             `json:"price"`
	Files       []models.FileMeta `json:"files"`
}

type Accessor struct {
	db        database.TxBeginner
	products  ProductRepo
	orders    OrderRepo
	users     UserRepo
	files     FileRepo
	publisher events.Publisher
	log       *slog.Logger
}

func NewAccessor(db database.TxBeginner, products ProductRepo, orders OrderRepo, users UserRepo, files FileRepo, publisher events.Publisher, log *slog.Logger) *Accessor {
	if log == nil {
		log = slog.Default()
	}
	return &Accessor{db: db, products: products, orders: orders, users: users, files: files, publisher: publisher, log: log}
}

func (a *Accessor) GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	p, err := a.products.GetByID(ctx, id)
	if err != nil {
		return nil, mapNotFound(err, apperr.ErrProductNotFound)
	}
	files, err := a.files.ListByOwner(ctx, models.FileOwnerProduct, id)
	if err != nil {
		return nil, fmt.Errorf("list product files: %w", err)
	}
	p.Files = files
	return p, nil
}

func (a *Accessor) GetProductTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Product, error) {
	p, err := a.products.GetByIDTx(ctx, tx, id)
	if err != nil {
		return nil, mapNotFound(err, apperr.ErrProductNotFound)
	}
	return p, nil
}

func (a *Accessor) GetOrderTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Order, error) {
	o, err := a.orders.GetByIDTx(ctx, tx, id)
	if err != nil {
		return nil, mapNotFound(err, apperr.ErrOrderNotFound)
	}
	return o, nil
}

func (a *Accessor) ListProducts(ctx context.Context) ([]*models.Product, error) {
	list, err := a.products.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return list, nil
}

// CreateProduct stores the product and its file metadata in one unit of work.
func (a *Accessor) CreateProduct(ctx context.Context, ownerID uuid.UUID, spec ProductSpec) (*models.Product, error) {
	if spec.Price < 0 {
		return nil, apperr.ErrInvalidAmount
	}
	p := &models.Product{
		ID:          uuid.New(),
		OwnerID:     ownerID,
		Name:        spec.Name,
		Description: spec.Description,
		Price:       spec.Price,
	}
	err := database.WithUnit(ctx, a.db, func(u *database.Unit) error {
		if _, err := a.users.GetByIDTx(ctx, u.Tx, ownerID); err != nil {
			return mapNotFound(err, apperr.ErrUserNotFound)
		}
		if err := a.products.CreateTx(ctx, u.Tx, p); err != nil {
			return fmt.Errorf("insert product: %w", err)
		}
		if len(spec.Files) > 0 {
			p.Files = append([]models.FileMeta(nil), spec.Files...)
			if err := a.files.CreateTx(ctx, u.Tx, models.FileOwnerProduct, p.ID, p.Files); err != nil {
				return fmt.Errorf("insert product files: %w", err)
			}
		}
		ev := events.New(events.ProductCreated, p.ID, ownerID)
		ev.Amount = p.Price
		return a.publisher.Publish(ctx, u.Tx, ev)
	})
	if err != nil {
		return nil, err
	}
	a.log.Info("product created", "product_id", p.ID, "owner_id", ownerID)
	return p, nil
}

func mapNotFound(err, sentinel error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return sentinel
	}
	return err
}
