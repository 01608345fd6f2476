// Package guard resolves the entities a lifecycle call names and checks that
// the caller may act on them. Lookups run inside the caller's transaction.
package guard

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/craftmarket/backend/internal/apperr"
	"github.com/craftmarket/backend/internal/models"
)

type UserRepo interface {
	GetByIDTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.User, error)
}

type OrderRepo interface {
	GetByIDTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Order, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Order, error)
}

type OfferRepo interface {
	GetByIDTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Offer, error)
}

type JobRepo interface {
	GetByIDTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Job, error)
}

type Guard struct {
	users  UserRepo
	orders OrderRepo
	offers OfferRepo
	jobs   JobRepo
}

func New(users UserRepo, orders OrderRepo, offers OfferRepo, jobs JobRepo) *Guard {
	return &Guard{users: users, orders: orders, offers: offers, jobs: jobs}
}

// notFound turns pgx.ErrNoRows into the given sentinel and wraps anything else.
func notFound(err error, sentinel error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return sentinel
	}
	return fmt.Errorf("load %s: %w", what, err)
}

func (g *Guard) RequireUser(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.User, error) {
	u, err := g.users.GetByIDTx(ctx, tx, id)
	if err != nil {
		return nil, notFound(err, apperr.ErrUserNotFound, "user")
	}
	return u, nil
}

// RequireOrder loads the order, taking the row lock when forUpdate is set.
func (g *Guard) RequireOrder(ctx context.Context, tx pgx.Tx, id uuid.UUID, forUpdate bool) (*models.Order, error) {
	var (
		o   *models.Order
		err error
	)
	if forUpdate {
		o, err = g.orders.GetByIDForUpdate(ctx, tx, id)
	} else {
		o, err = g.orders.GetByIDTx(ctx, tx, id)
	}
	if err != nil {
		return nil, notFound(err, apperr.ErrOrderNotFound, "order")
	}
	return o, nil
}

func (g *Guard) RequireOrderOwner(o *models.Order, userID uuid.UUID) error {
	if o.OwnerID != userID {
		return apperr.ErrUnauthorizedForAction
	}
	return nil
}

func (g *Guard) RequireOffer(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Offer, error) {
	o, err := g.offers.GetByIDTx(ctx, tx, id)
	if err != nil {
		return nil, notFound(err, apperr.ErrOfferNotFound, "offer")
	}
	return o, nil
}

// RequireOfferOnOrder fails with ErrOfferNotFound when the offer was placed on a different order.
func (g *Guard) RequireOfferOnOrder(offer *models.Offer, orderID uuid.UUID) error {
	if offer.OrderID != orderID {
		return apperr.ErrOfferNotFound
	}
	return nil
}

func (g *Guard) RequireJob(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Job, error) {
	j, err := g.jobs.GetByIDTx(ctx, tx, id)
	if err != nil {
		return nil, notFound(err, apperr.ErrJobNotFound, "job")
	}
	return j, nil
}

func (g *Guard) RequireOfferBidder(offer *models.Offer, userID uuid.UUID) error {
	if offer.UserID != userID {
		return apperr.ErrUnauthorizedForAction
	}
	return nil
}
