// Package dbtest provides pgx.Tx and TxBeginner fakes for service tests that
// keep their state in memory.
package dbtest

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrCommitFailed is returned by Tx.Commit when FailCommit is set.
var ErrCommitFailed = errors.New("dbtest: commit failed")

// Tx satisfies pgx.Tx. Only Commit and Rollback do anything; they are counted.
type Tx struct {
	mu         sync.Mutex
	done       bool
	FailCommit bool
	Commits    int
	Rollbacks  int
}

func (t *Tx) Begin(context.Context) (pgx.Tx, error) { return t, nil }

func (t *Tx) Commit(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.FailCommit {
		return ErrCommitFailed
	}
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.Commits++
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.Rollbacks++
	return nil
}

func (*Tx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (*Tx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (*Tx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (*Tx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (*Tx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (*Tx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (*Tx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (*Tx) Conn() *pgx.Conn { return nil }

// Pool hands out a fresh Tx per Begin and keeps them for inspection.
type Pool struct {
	mu         sync.Mutex
	FailCommit bool
	Txs        []*Tx
}

func (p *Pool) Begin(context.Context) (pgx.Tx, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tx := &Tx{FailCommit: p.FailCommit}
	p.Txs = append(p.Txs, tx)
	return tx, nil
}

// Last returns the most recently started Tx, or nil.
func (p *Pool) Last() *Tx {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Txs) == 0 {
		return nil
	}
	return p.Txs[len(p.Txs)-1]
}
