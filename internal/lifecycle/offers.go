package lifecycle

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/craftmarket/backend/internal/apperr"
	"github.com/craftmarket/backend/internal/database"
	"github.com/craftmarket/backend/internal/events"
	"github.com/craftmarket/backend/internal/models"
	"github.com/craftmarket/backend/internal/repository"
)

func (s *service) PostOffer(ctx context.Context, bidderID, orderID uuid.UUID, spec OfferSpec) (*models.Offer, error) {
	offer := &models.Offer{
		ID:           uuid.New(),
		OrderID:      orderID,
		UserID:       bidderID,
		Description:  spec.Description,
		CompleteTill: spec.CompleteTill,
	}
	err := s.run(ctx, "post_offer", func(u *database.Unit) error {
		o, err := s.guard.RequireOrder(ctx, u.Tx, orderID, true)
		if err != nil {
			return err
		}
		if _, err := s.guard.RequireUser(ctx, u.Tx, bidderID); err != nil {
			return err
		}
		if o.OwnerID == bidderID {
			return apperr.ErrUnauthorizedForAction
		}
		if o.Approved {
			return apperr.ErrOrderAlreadyApproved
		}
		if err := s.repos.Offers.CreateTx(ctx, u.Tx, offer); err != nil {
			return fmt.Errorf("insert offer: %w", err)
		}
		return s.publish(ctx, u, events.OfferPosted, offer.ID, bidderID, orderID, 0)
	})
	if err != nil {
		return nil, err
	}
	return offer, nil
}

func (s *service) ListOffers(ctx context.Context, orderID uuid.UUID) ([]*models.Offer, error) {
	if _, err := s.repos.Orders.GetByID(ctx, orderID); err != nil {
		return nil, notFound(err, apperr.ErrOrderNotFound)
	}
	return s.repos.Offers.ListByOrder(ctx, orderID)
}

// AcceptOffer reserves order.Price from the owner to the bidder and starts
// the job. An order holds at most one active job.
func (s *service) AcceptOffer(ctx context.Context, ownerID, offerID, orderID uuid.UUID) (*models.Job, error) {
	var job *models.Job
	err := s.run(ctx, "accept_offer", func(u *database.Unit) error {
		o, err := s.guard.RequireOrder(ctx, u.Tx, orderID, true)
		if err != nil {
			return err
		}
		offer, err := s.guard.RequireOffer(ctx, u.Tx, offerID)
		if err != nil {
			return err
		}
		if err := s.guard.RequireOfferOnOrder(offer, orderID); err != nil {
			return err
		}
		if err := s.guard.RequireOrderOwner(o, ownerID); err != nil {
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
			return apperr.ErrOrderHasActiveJob
		}
		consumed, err := s.repos.Jobs.ExistsForOfferTx(ctx, u.Tx, offerID)
		if err != nil {
			return fmt.Errorf("check offer: %w", err)
		}
		if consumed {
			return apperr.ErrOfferAlreadyAccepted
		}
		if _, err := s.ledger.ReserveForOrder(ctx, u, ownerID, offer.UserID, o); err != nil {
			return err
		}
		job = &models.Job{
			ID:      uuid.New(),
			OrderID: orderID,
			OfferID: offerID,
			Active:  true,
		}
		if err := s.repos.Jobs.CreateTx(ctx, u.Tx, job); err != nil {
			if repository.IsUniqueViolation(err, repository.ConstraintOneActiveJob) {
				return apperr.ErrOrderHasActiveJob
			}
			return fmt.Errorf("insert job: %w", err)
		}
		return s.publish(ctx, u, events.OfferAccepted, offerID, ownerID, orderID, o.Price)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("offer accepted", "order_id", orderID, "offer_id", offerID, "job_id", job.ID)
	return job, nil
}

// DeclineOffer deletes an offer that has not been accepted.
func (s *service) DeclineOffer(ctx context.Context, ownerID, offerID uuid.UUID) (*models.Offer, error) {
	var declined *models.Offer
	err := s.run(ctx, "decline_offer", func(u *database.Unit) error {
		offer, err := s.guard.RequireOffer(ctx, u.Tx, offerID)
		if err != nil {
			return err
		}
		o, err := s.guard.RequireOrder(ctx, u.Tx, offer.OrderID, true)
		if err != nil {
			return err
		}
		if offer, err = s.guard.RequireOffer(ctx, u.Tx, offerID); err != nil {
			return err
		}
		if err := s.guard.RequireOrderOwner(o, ownerID); err != nil {
			return err
		}
		consumed, err := s.repos.Jobs.ExistsForOfferTx(ctx, u.Tx, offerID)
		if err != nil {
			return fmt.Errorf("check offer: %w", err)
		}
		if consumed {
			return apperr.ErrOfferAlreadyAccepted
		}
		if err := s.repos.Offers.DeleteTx(ctx, u.Tx, offerID); err != nil {
			return fmt.Errorf("delete offer: %w", err)
		}
		declined = offer
		return s.publish(ctx, u, events.OfferDeclined, offerID, ownerID, o.ID, 0)
	})
	if err != nil {
		return nil, err
	}
	return declined, nil
}
