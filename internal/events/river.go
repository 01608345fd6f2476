package events

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
)

// NotifyArgs is the River job carrying one Event to the sink.
type NotifyArgs struct {
	Event Event `json:"event"`
}

func (NotifyArgs) Kind() string { return "market_event" }

// InsertTxFunc inserts a job in tx. Wired to river.Client.InsertTx in main.
type InsertTxFunc func(ctx context.Context, tx pgx.Tx, args river.JobArgs) error

// RiverPublisher writes events to the River job table in the caller's transaction.
type RiverPublisher struct {
	insert InsertTxFunc
}

func NewRiverPublisher(insert InsertTxFunc) *RiverPublisher {
	return &RiverPublisher{insert: insert}
}

var _ Publisher = (*RiverPublisher)(nil)

func (p *RiverPublisher) Publish(ctx context.Context, tx pgx.Tx, ev Event) error {
	if err := p.insert(ctx, tx, NotifyArgs{Event: ev}); err != nil {
		return fmt.Errorf("enqueue %s event: %w", ev.Type, err)
	}
	return nil
}

// Sink receives events after commit.
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

type NotifyWorker struct {
	river.WorkerDefaults[NotifyArgs]
	sink Sink
}

func NewNotifyWorker(sink Sink) *NotifyWorker {
	return &NotifyWorker{sink: sink}
}

// Work forwards the event. A sink error makes River retry the job.
func (w *NotifyWorker) Work(ctx context.Context, job *river.Job[NotifyArgs]) error {
	if err := w.sink.Send(ctx, job.Args.Event); err != nil {
		return fmt.Errorf("deliver %s event: %w", job.Args.Event.Type, err)
	}
	return nil
}
