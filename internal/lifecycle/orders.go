package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/craftmarket/backend/internal/apperr"
	"github.com/craftmarket/backend/internal/database"
	"github.com/craftmarket/backend/internal/events"
	"github.com/craftmarket/backend/internal/models"
)

// PostOrder creates an order. No funds are reserved until an offer is accepted.
func (s *service) PostOrder(ctx context.Context, ownerID uuid.UUID, spec OrderSpec) (*models.Order, error) {
	if spec.Price <= 0 {
		return nil, apperr.ErrInvalidAmount
	}
	o := &models.Order{
		ID:           uuid.New(),
		OwnerID:      ownerID,
		Name:         spec.Name,
		Description:  spec.Description,
		Price:        spec.Price,
		CompleteTill: spec.CompleteTill,
	}
	err := s.run(ctx, "post_order", func(u *database.Unit) error {
		if _, err := s.guard.RequireUser(ctx, u.Tx, ownerID); err != nil {
			return err
		}
		if err := s.repos.Orders.CreateTx(ctx, u.Tx, o); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		if len(spec.Files) > 0 {
			o.Files = append([]models.FileMeta(nil), spec.Files...)
			if err := s.repos.Files.CreateTx(ctx, u.Tx, models.FileOwnerOrder, o.ID, o.Files); err != nil {
				return fmt.Errorf("insert order files: %w", err)
			}
		}
		return s.publish(ctx, u, events.OrderPosted, o.ID, ownerID, o.ID, o.Price)
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (s *service) GetOrders(ctx context.Context) ([]*models.Order, error) {
	return s.repos.Orders.List(ctx)
}

func (s *service) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	o, err := s.repos.Orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, notFound(err, apperr.ErrOrderNotFound)
	}
	files, err := s.repos.Files.ListByOwner(ctx, models.FileOwnerOrder, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order files: %w", err)
	}
	o.Files = files
	return o, nil
}

func (s *service) ListOrdersByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Order, error) {
	return s.repos.Orders.ListByOwner(ctx, ownerID)
}

// RemoveOrder deletes an order without an active job. A leftover pending
// reservation is returned to the payer in the same unit. Approved orders stay:
// their job and progress trail back a settled payment.
func (s *service) RemoveOrder(ctx context.Context, userID, orderID uuid.UUID) error {
	return s.run(ctx, "remove_order", func(u *database.Unit) error {
		o, err := s.guard.RequireOrder(ctx, u.Tx, orderID, true)
		if err != nil {
			return err
		}
		if err := s.guard.RequireOrderOwner(o, userID); err != nil {
			return err
		}
		if o.Approved {
			return apperr.ErrOrderAlreadyApproved
		}
		active, err := s.activeJob(ctx, u.Tx, orderID)
		if err != nil {
			return err
		}
		if active != nil {
			return apperr.ErrCantRemoveOrderIsActive
		}
		if err := s.ledger.ReverseOrderReservation(ctx, u, orderID); err != nil && !errors.Is(err, apperr.ErrBalanceHistoryNotFound) {
			return err
		}
		if err := s.repos.Files.DeleteByOwnerTx(ctx, u.Tx, models.FileOwnerOrder, orderID); err != nil {
			return fmt.Errorf("delete order files: %w", err)
		}
		if err := s.repos.Orders.DeleteTx(ctx, u.Tx, orderID); err != nil {
			return fmt.Errorf("delete order: %w", err)
		}
		return s.publish(ctx, u, events.OrderRemoved, orderID, userID, orderID, 0)
	})
}

// ApproveOrder settles the reservation to the worker and closes the job.
func (s *service) ApproveOrder(ctx context.Context, orderID, ownerID uuid.UUID) (*models.Order, error) {
	var order *models.Order
	err := s.run(ctx, "approve_order", func(u *database.Unit) error {
		o, err := s.guard.RequireOrder(ctx, u.Tx, orderID, true)
		if err != nil {
			return err
		}
		if err := s.guard.RequireOrderOwner(o, ownerID); err != nil {
			return err
		}
		if o.Approved {
			return apperr.ErrOrderAlreadyApproved
		}
		j, err := s.activeJob(ctx, u.Tx, orderID)
		if err != nil {
			return err
		}
		if j == nil {
			return apperr.ErrJobNotFound
		}
		if !j.Completed {
			return apperr.ErrJobNotCompleted
		}
		offer, err := s.guard.RequireOffer(ctx, u.Tx, j.OfferID)
		if err != nil {
			return err
		}
		if _, err := s.ledger.SettleOrder(ctx, u, offer.UserID, orderID); err != nil {
			return err
		}
		if err := s.repos.Orders.SetApprovedTx(ctx, u.Tx, orderID); err != nil {
			return fmt.Errorf("approve order: %w", err)
		}
		j.Active = false
		if err := s.repos.Jobs.UpdateTx(ctx, u.Tx, j); err != nil {
			return fmt.Errorf("close job: %w", err)
		}
		o.Approved = true
		order = o
		return s.publish(ctx, u, events.OrderApproved, orderID, ownerID, orderID, o.Price)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *service) IsOrderJobActive(ctx context.Context, orderID uuid.UUID) (bool, error) {
	if _, err := s.repos.Orders.GetByID(ctx, orderID); err != nil {
		return false, notFound(err, apperr.ErrOrderNotFound)
	}
	_, err := s.repos.Jobs.GetActiveByOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *service) IsOrderOwner(ctx context.Context, userID, orderID uuid.UUID) (bool, error) {
	o, err := s.repos.Orders.GetByID(ctx, orderID)
	if err != nil {
		return false, notFound(err, apperr.ErrOrderNotFound)
	}
	return o.OwnerID == userID, nil
}
