// Package lifecycle runs the order, offer and job state machine. Every
// mutation is one unit of work that locks the order row before anything else;
// money moves only through the ledger, inside the same unit.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/craftmarket/backend/internal/apperr"
	"github.com/craftmarket/backend/internal/database"
	"github.com/craftmarket/backend/internal/events"
	"github.com/craftmarket/backend/internal/guard"
	"github.com/craftmarket/backend/internal/metrics"
	"github.com/craftmarket/backend/internal/models"
)

type Service interface {
	PostOrder(ctx context.Context, ownerID uuid.UUID, spec OrderSpec) (*models.Order, error)
	GetOrders(ctx context.Context) ([]*models.Order, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ListOrdersByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Order, error)
	RemoveOrder(ctx context.Context, userID, orderID uuid.UUID) error
	PostOffer(ctx context.Context, bidderID, orderID uuid.UUID, spec OfferSpec) (*models.Offer, error)
	ListOffers(ctx context.Context, orderID uuid.UUID) ([]*models.Offer, error)
	AcceptOffer(ctx context.Context, ownerID, offerID, orderID uuid.UUID) (*models.Job, error)
	DeclineOffer(ctx context.Context, ownerID, offerID uuid.UUID) (*models.Offer, error)
	GetJob(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
	SetJobProgress(ctx context.Context, workerID, jobID uuid.UUID, percent int, comment string) (*models.Job, error)
	ListJobProgress(ctx context.Context, jobID uuid.UUID) ([]*models.JobProgress, error)
	SetJobCompletion(ctx context.Context, workerID, jobID uuid.UUID, files []models.FileMeta, comment string) (*models.Job, error)
	RequestJobChanges(ctx context.Context, ownerID, jobID uuid.UUID, comment string) (*models.Job, error)
	ApproveOrder(ctx context.Context, orderID, ownerID uuid.UUID) (*models.Order, error)
	WorkerAbandonJob(ctx context.Context, workerID, jobID uuid.UUID) (*models.Job, error)
	IsOrderJobActive(ctx context.Context, orderID uuid.UUID) (bool, error)
	IsOrderOwner(ctx context.Context, userID, orderID uuid.UUID) (bool, error)
}

type OrderSpec struct {
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	Price        int64             `json:"price"`
	CompleteTill time.Time         `json:"complete_till"`
	Files        []models.FileMeta `json:"files"`
}

type OfferSpec struct {
	Description  string    `json:"description"`
	CompleteTill time.Time `json:"complete_till"`
}

// Ledger is the part of ledger.Service the lifecycle moves money through.
type Ledger interface {
	ReserveForOrder(ctx context.Context, u *database.Unit, payerID, recipientID uuid.UUID, order *models.Order) (*models.BalanceEntry, error)
	SettleOrder(ctx context.Context, u *database.Unit, workerID, orderID uuid.UUID) (*models.BalanceEntry, error)
	ReverseOrderReservation(ctx context.Context, u *database.Unit, orderID uuid.UUID) error
}

type OrderRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, o *models.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	List(ctx context.Context) ([]*models.Order, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Order, error)
	SetApprovedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
	DeleteTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
}

type OfferRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, o *models.Offer) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*models.Offer, error)
	DeleteTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
}

type JobRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, j *models.Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	GetActiveByOrder(ctx context.Context, orderID uuid.UUID) (*models.Job, error)
	GetActiveByOrderTx(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) (*models.Job, error)
	ExistsForOfferTx(ctx context.Context, tx pgx.Tx, offerID uuid.UUID) (bool, error)
	UpdateTx(ctx context.Context, tx pgx.Tx, j *models.Job) error
}

type ProgressRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, p *models.JobProgress) error
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.JobProgress, error)
}

type FileRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, kind string, ownerID uuid.UUID, files []models.FileMeta) error
	ListByOwner(ctx context.Context, kind string, ownerID uuid.UUID) ([]models.FileMeta, error)
	DeleteByOwnerTx(ctx context.Context, tx pgx.Tx, kind string, ownerID uuid.UUID) error
}

// Repos groups the stores the lifecycle writes.
type Repos struct {
	Orders   OrderRepo
	Offers   OfferRepo
	Jobs     JobRepo
	Progress ProgressRepo
	Files    FileRepo
}

type service struct {
	db        database.TxBeginner
	guard     *guard.Guard
	repos     Repos
	ledger    Ledger
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(db database.TxBeginner, g *guard.Guard, repos Repos, ledger Ledger, publisher events.Publisher, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &service{
		db:        db,
		guard:     g,
		repos:     repos,
		ledger:    ledger,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

var _ Service = (*service)(nil)

// run executes fn as one unit of work and accounts for the outcome.
func (s *service) run(ctx context.Context, op string, fn func(u *database.Unit) error) error {
	err := database.WithUnit(ctx, s.db, fn)
	if err == nil {
		return nil
	}
	if apperr.IsBusiness(err) {
		metrics.RecordRejection(op)
	} else {
		s.logger.Error("lifecycle operation failed", "operation", op, "error", err)
	}
	return err
}

func (s *service) publish(ctx context.Context, u *database.Unit, typ string, subjectID, actorID, orderID uuid.UUID, amount int64) error {
	ev := events.New(typ, subjectID, actorID)
	ev.OrderID = orderID
	ev.Amount = amount
	if err := s.publisher.Publish(ctx, u.Tx, ev); err != nil {
		return err
	}
	u.AfterCommit(func(context.Context) { metrics.RecordTransition(typ) })
	return nil
}

// lockJob resolves a job, locks its order and re-reads the job under that
// lock. The offer is returned so callers can check the bidder.
func (s *service) lockJob(ctx context.Context, u *database.Unit, jobID uuid.UUID) (*models.Job, *models.Order, *models.Offer, error) {
	j, err := s.guard.RequireJob(ctx, u.Tx, jobID)
	if err != nil {
		return nil, nil, nil, err
	}
	order, err := s.guard.RequireOrder(ctx, u.Tx, j.OrderID, true)
	if err != nil {
		return nil, nil, nil, err
	}
	if j, err = s.guard.RequireJob(ctx, u.Tx, jobID); err != nil {
		return nil, nil, nil, err
	}
	offer, err := s.guard.RequireOffer(ctx, u.Tx, j.OfferID)
	if err != nil {
		return nil, nil, nil, err
	}
	return j, order, offer, nil
}

func (s *service) appendProgress(ctx context.Context, u *database.Unit, j *models.Job, authorID uuid.UUID, comment string) error {
	p := &models.JobProgress{
		ID:          uuid.New(),
		JobID:       j.ID,
		UserID:      authorID,
		Description: comment,
		Progress:    j.Progress,
	}
	if err := s.repos.Progress.CreateTx(ctx, u.Tx, p); err != nil {
		return fmt.Errorf("insert progress: %w", err)
	}
	return nil
}

// activeJob returns the order's active job, or nil when there is none.
func (s *service) activeJob(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) (*models.Job, error) {
	j, err := s.repos.Jobs.GetActiveByOrderTx(ctx, tx, orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load active job: %w", err)
	}
	return j, nil
}

func notFound(err, sentinel error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return sentinel
	}
	return err
}
