// Package database provides the unit of work every ledger and lifecycle
// operation runs in.
package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// TxBeginner is satisfied by *pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Unit is one open transaction plus the hooks to run once it commits.
type Unit struct {
	Tx pgx.Tx

	afterCommit []func(ctx context.Context)
}

// NewUnit wraps an already open transaction. Callers own commit and rollback.
func NewUnit(tx pgx.Tx) *Unit {
	return &Unit{Tx: tx}
}

// AfterCommit registers fn to run after a successful commit. Hooks never run on rollback.
func (u *Unit) AfterCommit(fn func(ctx context.Context)) {
	u.afterCommit = append(u.afterCommit, fn)
}

// Commit commits the transaction and then runs the registered hooks in order.
func (u *Unit) Commit(ctx context.Context) error {
	if err := u.Tx.Commit(ctx); err != nil {
		return err
	}
	for _, fn := range u.afterCommit {
		fn(ctx)
	}
	u.afterCommit = nil
	return nil
}

// WithUnit begins a transaction, runs fn and commits. Any error from fn rolls back.
func WithUnit(ctx context.Context, db TxBeginner, fn func(u *Unit) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	u := NewUnit(tx)
	if err := fn(u); err != nil {
		return err
	}
	if err := u.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
