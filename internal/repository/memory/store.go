// Package memory is an in-memory stand-in for the Postgres repositories used
// by service tests. Begin snapshots the whole store and Rollback restores it,
// so a failed unit of work leaves no trace. Units are serialized.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/craftmarket/backend/internal/database/dbtest"
	"github.com/craftmarket/backend/internal/models"
)

type state struct {
	users     map[uuid.UUID]models.User
	products  map[uuid.UUID]models.Product
	orders    map[uuid.UUID]models.Order
	offers    map[uuid.UUID]models.Offer
	jobs      map[uuid.UUID]models.Job
	progress  map[uuid.UUID]models.JobProgress
	entries   map[uuid.UUID]models.BalanceEntry
	files     map[uuid.UUID]models.FileMeta
	clockTick int64
}

func (s state) clone() state {
	return state{
		users:     cloneMap(s.users),
		products:  cloneMap(s.products),
		orders:    cloneMap(s.orders),
		offers:    cloneMap(s.offers),
		jobs:      cloneMap(s.jobs),
		progress:  cloneMap(s.progress),
		entries:   cloneMap(s.entries),
		files:     cloneMap(s.files),
		clockTick: s.clockTick,
	}
}

func cloneMap[V any](m map[uuid.UUID]V) map[uuid.UUID]V {
	out := make(map[uuid.UUID]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type Store struct {
	unitMu sync.Mutex
	mu     sync.Mutex
	st     state

	// Locked records every FOR UPDATE lookup in call order.
	Locked []uuid.UUID
}

func New() *Store {
	return &Store{st: state{
		users:    map[uuid.UUID]models.User{},
		products: map[uuid.UUID]models.Product{},
		orders:   map[uuid.UUID]models.Order{},
		offers:   map[uuid.UUID]models.Offer{},
		jobs:     map[uuid.UUID]models.Job{},
		progress: map[uuid.UUID]models.JobProgress{},
		entries:  map[uuid.UUID]models.BalanceEntry{},
		files:    map[uuid.UUID]models.FileMeta{},
	}}
}

type tx struct {
	*dbtest.Tx
	store    *Store
	snapshot state
	done     bool
}

// Begin satisfies database.TxBeginner.
func (s *Store) Begin(context.Context) (pgx.Tx, error) {
	s.unitMu.Lock()
	s.mu.Lock()
	snap := s.st.clone()
	s.mu.Unlock()
	return &tx{Tx: &dbtest.Tx{}, store: s, snapshot: snap}, nil
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.store.unitMu.Unlock()
	return t.Tx.Commit(ctx)
}

func (t *tx) Rollback(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.store.mu.Lock()
	t.store.st = t.snapshot
	t.store.mu.Unlock()
	t.store.unitMu.Unlock()
	return t.Tx.Rollback(ctx)
}

// now returns strictly increasing timestamps so ordering by time is stable.
func (s *Store) now() time.Time {
	s.st.clockTick++
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(s.st.clockTick) * time.Millisecond)
}

func uniqueViolation(constraint string) error {
	return &pgconn.PgError{Code: "23505", ConstraintName: constraint}
}

// AddUser seeds a user directly.
func (s *Store) AddUser(role string) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := models.User{ID: uuid.New(), Email: uuid.NewString() + "@example.com", Role: role, CreatedAt: s.now()}
	s.st.users[u.ID] = u
	return u
}

// AddProduct seeds a product directly.
func (s *Store) AddProduct(ownerID uuid.UUID, price int64) models.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := models.Product{ID: uuid.New(), OwnerID: ownerID, Name: "product", Price: price, CreatedAt: s.now()}
	s.st.products[p.ID] = p
	return p
}

// Entries returns a copy of every ledger entry.
func (s *Store) Entries() []models.BalanceEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.BalanceEntry, 0, len(s.st.entries))
	for _, e := range s.st.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) Users() *Users       { return &Users{s} }
func (s *Store) Products() *Products { return &Products{s} }
func (s *Store) Orders() *Orders     { return &Orders{s} }
func (s *Store) Offers() *Offers     { return &Offers{s} }
func (s *Store) Jobs() *Jobs         { return &Jobs{s} }
func (s *Store) Progress() *Progress { return &Progress{s} }
func (s *Store) Balance() *Balance   { return &Balance{s} }
func (s *Store) Files() *Files       { return &Files{s} }

