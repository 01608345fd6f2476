package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/craftmarket/backend/internal/models"
	"github.com/craftmarket/backend/internal/repository"
)

type Users struct{ s *Store }

func (r *Users) Create(_ context.Context, u *models.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.st.users {
		if existing.Email == u.Email {
			return uniqueViolation(repository.ConstraintUserEmail)
		}
	}
	u.CreatedAt = r.s.now()
	r.s.st.users[u.ID] = *u
	return nil
}

func (r *Users) get(id uuid.UUID) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.st.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &u, nil
}

func (r *Users) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) { return r.get(id) }

func (r *Users) GetByEmail(_ context.Context, email string) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.st.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *Users) GetByIDTx(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.User, error) {
	return r.get(id)
}

func (r *Users) GetByIDForUpdate(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.User, error) {
	u, err := r.get(id)
	if err == nil {
		r.s.mu.Lock()
		r.s.Locked = append(r.s.Locked, id)
		r.s.mu.Unlock()
	}
	return u, err
}

type Products struct{ s *Store }

func (r *Products) CreateTx(_ context.Context, _ pgx.Tx, p *models.Product) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p.CreatedAt = r.s.now()
	stored := *p
	stored.Files = nil
	r.s.st.products[p.ID] = stored
	return nil
}

func (r *Products) get(id uuid.UUID) (*models.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.st.products[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &p, nil
}

func (r *Products) GetByID(_ context.Context, id uuid.UUID) (*models.Product, error) { return r.get(id) }

func (r *Products) GetByIDTx(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.Product, error) {
	return r.get(id)
}

func (r *Products) List(context.Context) ([]*models.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var list []*models.Product
	for _, p := range r.s.st.products {
		list = append(list, &p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list, nil
}

type Orders struct{ s *Store }

func (r *Orders) CreateTx(_ context.Context, _ pgx.Tx, o *models.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o.CreatedAt = r.s.now()
	stored := *o
	stored.Files = nil
	r.s.st.orders[o.ID] = stored
	return nil
}

func (r *Orders) get(id uuid.UUID) (*models.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.st.orders[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &o, nil
}

func (r *Orders) GetByID(_ context.Context, id uuid.UUID) (*models.Order, error) { return r.get(id) }

func (r *Orders) GetByIDTx(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.Order, error) {
	return r.get(id)
}

func (r *Orders) GetByIDForUpdate(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.Order, error) {
	o, err := r.get(id)
	if err == nil {
		r.s.mu.Lock()
		r.s.Locked = append(r.s.Locked, id)
		r.s.mu.Unlock()
	}
	return o, err
}

func (r *Orders) List(context.Context) ([]*models.Order, error) {
	return r.filter(func(models.Order) bool { return true }), nil
}

func (r *Orders) ListByOwner(_ context.Context, ownerID uuid.UUID) ([]*models.Order, error) {
	return r.filter(func(o models.Order) bool { return o.OwnerID == ownerID }), nil
}

func (r *Orders) filter(keep func(models.Order) bool) []*models.Order {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var list []*models.Order
	for _, o := range r.s.st.orders {
		if keep(o) {
			list = append(list, &o)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list
}

func (r *Orders) SetApprovedTx(_ context.Context, _ pgx.Tx, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.st.orders[id]
	if !ok {
		return nil
	}
	o.Approved = true
	r.s.st.orders[id] = o
	return nil
}

// DeleteTx mirrors the schema's cascades: offers on the order, its jobs with
// their progress and file metadata go; ledger entries keep their row with
// order_id cleared.
func (r *Orders) DeleteTx(_ context.Context, _ pgx.Tx, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for offerID, of := range r.s.st.offers {
		if of.OrderID == id {
			delete(r.s.st.offers, offerID)
		}
	}
	for jobID, j := range r.s.st.jobs {
		if j.OrderID != id {
			continue
		}
		for pid, p := range r.s.st.progress {
			if p.JobID == jobID {
				delete(r.s.st.progress, pid)
			}
		}
		for fid, f := range r.s.st.files {
			if f.OwnerKind == models.FileOwnerJob && f.OwnerID == jobID {
				delete(r.s.st.files, fid)
			}
		}
		delete(r.s.st.jobs, jobID)
	}
	for eid, e := range r.s.st.entries {
		if e.OrderID != nil && *e.OrderID == id {
			e.OrderID = nil
			r.s.st.entries[eid] = e
		}
	}
	delete(r.s.st.orders, id)
	return nil
}

type Offers struct{ s *Store }

func (r *Offers) CreateTx(_ context.Context, _ pgx.Tx, o *models.Offer) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o.CreatedAt = r.s.now()
	r.s.st.offers[o.ID] = *o
	return nil
}

func (r *Offers) get(id uuid.UUID) (*models.Offer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.st.offers[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &o, nil
}

func (r *Offers) GetByID(_ context.Context, id uuid.UUID) (*models.Offer, error) { return r.get(id) }

func (r *Offers) GetByIDTx(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.Offer, error) {
	return r.get(id)
}

func (r *Offers) ListByOrder(_ context.Context, orderID uuid.UUID) ([]*models.Offer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var list []*models.Offer
	for _, o := range r.s.st.offers {
		if o.OrderID == orderID {
			list = append(list, &o)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list, nil
}

func (r *Offers) DeleteTx(_ context.Context, _ pgx.Tx, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.st.offers, id)
	for jobID, j := range r.s.st.jobs {
		if j.OfferID == id {
			delete(r.s.st.jobs, jobID)
		}
	}
	return nil
}

type Jobs struct{ s *Store }

func (r *Jobs) CreateTx(_ context.Context, _ pgx.Tx, j *models.Job) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.st.jobs {
		if j.Active && existing.Active && existing.OrderID == j.OrderID {
			return uniqueViolation(repository.ConstraintOneActiveJob)
		}
		if existing.OfferID == j.OfferID {
			return uniqueViolation("jobs_offer_id_key")
		}
	}
	j.CreatedAt = r.s.now()
	stored := *j
	stored.Files = nil
	r.s.st.jobs[j.ID] = stored
	return nil
}

func (r *Jobs) get(id uuid.UUID) (*models.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j, ok := r.s.st.jobs[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &j, nil
}

func (r *Jobs) GetByID(_ context.Context, id uuid.UUID) (*models.Job, error) { return r.get(id) }

func (r *Jobs) GetByIDTx(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.Job, error) {
	return r.get(id)
}

func (r *Jobs) activeByOrder(orderID uuid.UUID) (*models.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, j := range r.s.st.jobs {
		if j.OrderID == orderID && j.Active {
			return &j, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *Jobs) GetActiveByOrder(_ context.Context, orderID uuid.UUID) (*models.Job, error) {
	return r.activeByOrder(orderID)
}

func (r *Jobs) GetActiveByOrderTx(_ context.Context, _ pgx.Tx, orderID uuid.UUID) (*models.Job, error) {
	return r.activeByOrder(orderID)
}

func (r *Jobs) ExistsForOfferTx(_ context.Context, _ pgx.Tx, offerID uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, j := range r.s.st.jobs {
		if j.OfferID == offerID {
			return true, nil
		}
	}
	return false, nil
}

func (r *Jobs) UpdateTx(_ context.Context, _ pgx.Tx, j *models.Job) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.st.jobs[j.ID]
	if !ok {
		return nil
	}
	stored.Progress = j.Progress
	stored.Active = j.Active
	stored.NeedChanges = j.NeedChanges
	stored.Completed = j.Completed
	stored.CompletedAt = j.CompletedAt
	r.s.st.jobs[j.ID] = stored
	return nil
}

type Progress struct{ s *Store }

func (r *Progress) CreateTx(_ context.Context, _ pgx.Tx, p *models.JobProgress) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p.CreatedAt = r.s.now()
	r.s.st.progress[p.ID] = *p
	return nil
}

func (r *Progress) ListByJob(_ context.Context, jobID uuid.UUID) ([]*models.JobProgress, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var list []*models.JobProgress
	for _, p := range r.s.st.progress {
		if p.JobID == jobID {
			list = append(list, &p)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list, nil
}

type Balance struct{ s *Store }

func (r *Balance) sum(userID uuid.UUID) int64 {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var total int64
	for _, e := range r.s.st.entries {
		if e.ToID != nil && *e.ToID == userID && !e.IsPending {
			total += e.Amount
		}
		if e.FromID != nil && *e.FromID == userID {
			total -= e.Amount
		}
	}
	return total
}

func (r *Balance) Balance(_ context.Context, userID uuid.UUID) (int64, error) {
	return r.sum(userID), nil
}

func (r *Balance) BalanceTx(_ context.Context, _ pgx.Tx, userID uuid.UUID) (int64, error) {
	return r.sum(userID), nil
}

func (r *Balance) CreateTx(_ context.Context, _ pgx.Tx, e *models.BalanceEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.st.entries {
		if e.IsPending && existing.IsPending && sameID(e.OrderID, existing.OrderID) {
			return uniqueViolation(repository.ConstraintOnePendingPerOrder)
		}
		if e.ProductID != nil && !e.IsPending && !existing.IsPending &&
			sameID(e.ProductID, existing.ProductID) && sameID(e.FromID, existing.FromID) {
			return uniqueViolation(repository.ConstraintOnePurchasePerBuyer)
		}
	}
	e.CreatedAt = r.s.now()
	r.s.st.entries[e.ID] = *e
	return nil
}

func sameID(a, b *uuid.UUID) bool {
	return a != nil && b != nil && *a == *b
}

func (r *Balance) PendingByOrderTx(_ context.Context, _ pgx.Tx, orderID uuid.UUID) (*models.BalanceEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.st.entries {
		if e.IsPending && e.OrderID != nil && *e.OrderID == orderID {
			return &e, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *Balance) SettleTx(_ context.Context, _ pgx.Tx, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.st.entries[id]
	if !ok || !e.IsPending {
		return pgx.ErrNoRows
	}
	e.IsPending = false
	e.CreatedAt = r.s.now()
	r.s.st.entries[id] = e
	return nil
}

func (r *Balance) DeletePendingTx(_ context.Context, _ pgx.Tx, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.st.entries[id]
	if !ok || !e.IsPending {
		return pgx.ErrNoRows
	}
	delete(r.s.st.entries, id)
	return nil
}

func (r *Balance) HasPurchaseTx(_ context.Context, _ pgx.Tx, buyerID, productID uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.st.entries {
		if !e.IsPending && sameID(e.FromID, &buyerID) && sameID(e.ProductID, &productID) {
			return true, nil
		}
	}
	return false, nil
}

func (r *Balance) ListPurchasedProductIDs(_ context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, e := range r.s.Entries() {
		if !e.IsPending && e.ProductID != nil && sameID(e.FromID, &userID) {
			ids = append(ids, *e.ProductID)
		}
	}
	return ids, nil
}

func (r *Balance) ListByUser(_ context.Context, userID uuid.UUID) ([]*models.BalanceEntry, error) {
	all := r.s.Entries()
	var list []*models.BalanceEntry
	for i := len(all) - 1; i >= 0; i-- {
		e := all[i]
		if sameID(e.FromID, &userID) || sameID(e.ToID, &userID) {
			list = append(list, &e)
		}
	}
	return list, nil
}

type Files struct{ s *Store }

func (r *Files) CreateTx(_ context.Context, _ pgx.Tx, kind string, ownerID uuid.UUID, files []models.FileMeta) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range files {
		f := &files[i]
		if f.ID == uuid.Nil {
			f.ID = uuid.New()
		}
		f.OwnerKind = kind
		f.OwnerID = ownerID
		f.CreatedAt = r.s.now()
		r.s.st.files[f.ID] = *f
	}
	return nil
}

func (r *Files) ListByOwner(_ context.Context, kind string, ownerID uuid.UUID) ([]models.FileMeta, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var list []models.FileMeta
	for _, f := range r.s.st.files {
		if f.OwnerKind == kind && f.OwnerID == ownerID {
			list = append(list, f)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list, nil
}

func (r *Files) DeleteByOwnerTx(_ context.Context, _ pgx.Tx, kind string, ownerID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, f := range r.s.st.files {
		if f.OwnerKind == kind && f.OwnerID == ownerID {
			delete(r.s.st.files, id)
		}
	}
	return nil
}
