// Package memstore is an in-process ledger with the same atomicity guarantees
// as the Postgres store: every conditional mutation runs under one lock.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"payments-service/internal/model"
)

type Store struct {
	mu       sync.Mutex
	tenants  map[uuid.UUID]*model.Tenant
	payments map[uuid.UUID]*model.Payment
	orphans  map[string]*model.OrphanCallback
}

func New() *Store {
	return &Store{
		tenants:  make(map[uuid.UUID]*model.Tenant),
		payments: make(map[uuid.UUID]*model.Payment),
		orphans:  make(map[string]*model.OrphanCallback),
	}
}

type TenantStore struct{ *Store }

type PaymentStore struct{ *Store }

type OrphanStore struct{ *Store }

func (s *Store) Tenants() *TenantStore { return &TenantStore{s} }

func (s *Store) Payments() *PaymentStore { return &PaymentStore{s} }

func (s *Store) Orphans() *OrphanStore { return &OrphanStore{s} }

func (s *TenantStore) Create(_ context.Context, t *model.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkTenantUnique(t); err != nil {
		return err
	}
	if _, ok := s.tenants[t.ID]; ok {
		return errors.Wrap(model.ErrConflict, "tenant id exists")
	}
	s.tenants[t.ID] = cloneTenant(t)
	return nil
}

func (s *TenantStore) EnsureTenant(_ context.Context, t *model.Tenant) (*model.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.tenants[t.ID]; ok {
		return cloneTenant(existing), nil
	}
	if err := s.checkTenantUnique(t); err != nil {
		return nil, err
	}
	s.tenants[t.ID] = cloneTenant(t)
	return cloneTenant(t), nil
}

func (s *TenantStore) GetActiveByCredential(_ context.Context, credential string) (*model.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tenants {
		if t.Credential == credential && t.Active {
			return cloneTenant(t), nil
		}
	}
	return nil, model.ErrNotFound
}

func (s *TenantStore) Deactivate(_ context.Context, displayName string) (*model.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tenants {
		if t.DisplayName == displayName {
			t.Active = false
			return cloneTenant(t), nil
		}
	}
	return nil, model.ErrNotFound
}

func (s *TenantStore) checkTenantUnique(t *model.Tenant) error {
	for _, existing := range s.tenants {
		if existing.ID == t.ID {
			continue
		}
		if existing.DisplayName == t.DisplayName {
			return errors.Wrapf(model.ErrConflict, "display name %q exists", t.DisplayName)
		}
		if existing.Credential == t.Credential {
			return errors.Wrap(model.ErrConflict, "credential exists")
		}
	}
	return nil
}

func (s *PaymentStore) Create(_ context.Context, p *model.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.payments {
		if p.GatewayReceipt != "" && existing.GatewayReceipt == p.GatewayReceipt {
			return errors.Wrapf(model.ErrReceiptConflict, "receipt %s", p.GatewayReceipt)
		}
		if p.Kind == model.KindSolicited && existing.Kind == model.KindSolicited &&
			p.CheckoutID != "" && existing.CheckoutID == p.CheckoutID {
			return errors.Wrapf(model.ErrDuplicateCorrelation, "checkout id %s", p.CheckoutID)
		}
	}
	s.payments[p.ID] = clonePayment(p)
	return nil
}

func (s *PaymentStore) GetByID(_ context.Context, id uuid.UUID) (*model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return clonePayment(p), nil
}

func (s *PaymentStore) GetByCheckoutID(_ context.Context, checkoutID string) (*model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.byCheckoutID(checkoutID)
	if p == nil {
		return nil, model.ErrNotFound
	}
	return clonePayment(p), nil
}

func (s *PaymentStore) GetByReceipt(_ context.Context, receipt string) (*model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.payments {
		if receipt != "" && p.GatewayReceipt == receipt {
			return clonePayment(p), nil
		}
	}
	return nil, model.ErrNotFound
}

func (s *PaymentStore) Settle(_ context.Context, checkoutID string, settlement model.Settlement) (*model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.byCheckoutID(checkoutID)
	if p == nil {
		return nil, model.ErrNotFound
	}
	if p.Status.Terminal() {
		return clonePayment(p), model.ErrAlreadyFinal
	}
	if settlement.Receipt != "" {
		for _, other := range s.payments {
			if other.ID != p.ID && other.GatewayReceipt == settlement.Receipt {
				return nil, errors.Wrapf(model.ErrReceiptConflict, "receipt %s", settlement.Receipt)
			}
		}
	}

	p.Status = settlement.Status
	p.GatewayReceipt = settlement.Receipt
	p.ConflictReceipt = settlement.ConflictReceipt
	p.FailureReason = settlement.FailureReason
	p.RawNotification = append([]byte(nil), settlement.RawNotification...)
	p.UpdatedAt = time.Now()
	return clonePayment(p), nil
}

func (s *PaymentStore) Find(_ context.Context, filter model.PaymentFilter) (*model.Payment, error) {
	if filter.Lookup.Empty() {
		return nil, errors.Wrap(model.ErrValidation, "empty lookup")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var matches []*model.Payment
	for _, p := range s.payments {
		if !ownedByAny(p, filter.Owners) {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if matchesLookup(p, filter.Lookup) {
			matches = append(matches, p)
		}
	}
	if len(matches) == 0 {
		return nil, model.ErrNotFound
	}

	sort.Slice(matches, func(i, j int) bool {
		if filter.UnclaimedFirst && matches[i].Claimed != matches[j].Claimed {
			return !matches[i].Claimed
		}
		if matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].ID.String() < matches[j].ID.String()
		}
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})
	return clonePayment(matches[0]), nil
}

func (s *PaymentStore) Claim(_ context.Context, id, tenantID, bucketID uuid.UUID, at time.Time) (*model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	if p.Claimed {
		return nil, model.ErrAlreadyClaimed
	}
	if p.Status != model.StatusSuccess || !ownedByAny(p, []uuid.UUID{tenantID, bucketID}) {
		return nil, model.ErrNotFound
	}

	p.Claimed = true
	claimedAt := at
	p.ClaimedAt = &claimedAt
	if p.OwnedBy(bucketID) {
		owner := tenantID
		p.TenantID = &owner
	}
	p.UpdatedAt = time.Now()
	return clonePayment(p), nil
}

func (s *OrphanStore) Park(_ context.Context, orphan model.OrphanCallback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orphans[orphan.CheckoutID]; !ok {
		s.orphans[orphan.CheckoutID] = &orphan
	}
	return nil
}

func (s *OrphanStore) Take(_ context.Context, checkoutID string) (*model.OrphanCallback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	orphan, ok := s.orphans[checkoutID]
	if !ok {
		return nil, model.ErrNotFound
	}
	delete(s.orphans, checkoutID)
	return orphan, nil
}

func (s *OrphanStore) Purge(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	for checkoutID, orphan := range s.orphans {
		if orphan.ReceivedAt.Before(cutoff) {
			delete(s.orphans, checkoutID)
			purged++
		}
	}
	return purged, nil
}

func (s *PaymentStore) byCheckoutID(checkoutID string) *model.Payment {
	for _, p := range s.payments {
		if p.Kind == model.KindSolicited && p.CheckoutID == checkoutID {
			return p
		}
	}
	return nil
}

func ownedByAny(p *model.Payment, owners []uuid.UUID) bool {
	for _, owner := range owners {
		if p.OwnedBy(owner) {
			return true
		}
	}
	return false
}

func matchesLookup(p *model.Payment, l model.Lookup) bool {
	switch {
	case l.CheckoutID != "":
		return p.CheckoutID == l.CheckoutID
	case l.Receipt != "":
		return p.GatewayReceipt == l.Receipt
	default:
		return p.ExternalReference == l.Reference
	}
}

func cloneTenant(t *model.Tenant) *model.Tenant {
	c := *t
	return &c
}

func clonePayment(p *model.Payment) *model.Payment {
	c := *p
	if p.TenantID != nil {
		owner := *p.TenantID
		c.TenantID = &owner
	}
	if p.ClaimedAt != nil {
		at := *p.ClaimedAt
		c.ClaimedAt = &at
	}
	c.RawNotification = append([]byte(nil), p.RawNotification...)
	return &c
}
