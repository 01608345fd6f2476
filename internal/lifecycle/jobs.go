package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/craftmarket/backend/internal/apperr"
	"github.com/craftmarket/backend/internal/database"
	"github.com/craftmarket/backend/internal/events"
	"github.com/craftmarket/backend/internal/models"
)

func (s *service) GetJob(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	j, err := s.repos.Jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, notFound(err, apperr.ErrJobNotFound)
	}
	files, err := s.repos.Files.ListByOwner(ctx, models.FileOwnerJob, jobID)
	if err != nil {
		return nil, fmt.Errorf("list job files: %w", err)
	}
	j.Files = files
	return j, nil
}

// SetJobProgress overwrites the job's percentage and appends a progress entry.
// Completed work is frozen until the owner requests changes.
func (s *service) SetJobProgress(ctx context.Context, workerID, jobID uuid.UUID, percent int, comment string) (*models.Job, error) {
	if percent < models.MinProgress || percent > models.MaxProgress {
		return nil, apperr.ErrInvalidProgress
	}
	var job *models.Job
	err := s.run(ctx, "set_job_progress", func(u *database.Unit) error {
		j, _, offer, err := s.lockJob(ctx, u, jobID)
		if err != nil {
			return err
		}
		if err := s.guard.RequireOfferBidder(offer, workerID); err != nil {
			return err
		}
		if !j.Active {
			return apperr.ErrJobNotActive
		}
		if j.Completed {
			return apperr.ErrJobAlreadyCompleted
		}
		j.Progress = percent
		if err := s.repos.Jobs.UpdateTx(ctx, u.Tx, j); err != nil {
			return fmt.Errorf("update job: %w", err)
		}
		if err := s.appendProgress(ctx, u, j, workerID, comment); err != nil {
			return err
		}
		job = j
		return s.publish(ctx, u, events.JobProgressed, j.ID, workerID, j.OrderID, 0)
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *service) ListJobProgress(ctx context.Context, jobID uuid.UUID) ([]*models.JobProgress, error) {
	if _, err := s.repos.Jobs.GetByID(ctx, jobID); err != nil {
		return nil, notFound(err, apperr.ErrJobNotFound)
	}
	return s.repos.Progress.ListByJob(ctx, jobID)
}

// SetJobCompletion hands the work in: files are attached and the job waits for approval.
func (s *service) SetJobCompletion(ctx context.Context, workerID, jobID uuid.UUID, files []models.FileMeta, comment string) (*models.Job, error) {
	var job *models.Job
	err := s.run(ctx, "set_job_completion", func(u *database.Unit) error {
		j, _, offer, err := s.lockJob(ctx, u, jobID)
		if err != nil {
			return err
		}
		if err := s.guard.RequireOfferBidder(offer, workerID); err != nil {
			return err
		}
		if !j.Active {
			return apperr.ErrJobNotActive
		}
		if len(files) > 0 {
			j.Files = append([]models.FileMeta(nil), files...)
			if err := s.repos.Files.CreateTx(ctx, u.Tx, models.FileOwnerJob, j.ID, j.Files); err != nil {
				return fmt.Errorf("insert job files: %w", err)
			}
		}
		now := s.now()
		j.Completed = true
		j.NeedChanges = false
		j.Progress = models.MaxProgress
		j.CompletedAt = &now
		if err := s.repos.Jobs.UpdateTx(ctx, u.Tx, j); err != nil {
			return fmt.Errorf("update job: %w", err)
		}
		if err := s.appendProgress(ctx, u, j, workerID, comment); err != nil {
			return err
		}
		job = j
		return s.publish(ctx, u, events.JobCompleted, j.ID, workerID, j.OrderID, 0)
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// RequestJobChanges sends completed work back to the worker. The job stays active.
func (s *service) RequestJobChanges(ctx context.Context, ownerID, jobID uuid.UUID, comment string) (*models.Job, error) {
	var job *models.Job
	err := s.run(ctx, "request_job_changes", func(u *database.Unit) error {
		j, o, _, err := s.lockJob(ctx, u, jobID)
		if err != nil {
			return err
		}
		if err := s.guard.RequireOrderOwner(o, ownerID); err != nil {
			return err
		}
		if !j.Active {
			return apperr.ErrJobNotActive
		}
		if !j.Completed {
			return apperr.ErrJobNotCompleted
		}
		j.NeedChanges = true
		j.Completed = false
		j.CompletedAt = nil
		if err := s.repos.Jobs.UpdateTx(ctx, u.Tx, j); err != nil {
			return fmt.Errorf("update job: %w", err)
		}
		if err := s.appendProgress(ctx, u, j, ownerID, comment); err != nil {
			return err
		}
		job = j
		return s.publish(ctx, u, events.JobChangesRequested, j.ID, ownerID, j.OrderID, 0)
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// WorkerAbandonJob deactivates the job and returns the reserved funds to the
// order owner, so the order can take another offer or be removed.
func (s *service) WorkerAbandonJob(ctx context.Context, workerID, jobID uuid.UUID) (*models.Job, error) {
	var job *models.Job
	err := s.run(ctx, "worker_abandon_job", func(u *database.Unit) error {
		j, o, offer, err := s.lockJob(ctx, u, jobID)
		if err != nil {
			return err
		}
		if err := s.guard.RequireOfferBidder(offer, workerID); err != nil {
			return err
		}
		if o.Approved {
			return apperr.ErrOrderAlreadyApproved
		}
		if !j.Active {
			return apperr.ErrJobNotActive
		}
		j.Active = false
		if err := s.repos.Jobs.UpdateTx(ctx, u.Tx, j); err != nil {
			return fmt.Errorf("update job: %w", err)
		}
		if err := s.ledger.ReverseOrderReservation(ctx, u, o.ID); err != nil && !errors.Is(err, apperr.ErrBalanceHistoryNotFound) {
			return err
		}
		job = j
		return s.publish(ctx, u, events.JobAbandoned, j.ID, workerID, o.ID, o.Price)
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}
