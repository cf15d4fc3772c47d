// Package memstore is an in-memory implementation of every storefront store,
// used for local development (STORE_BACKEND=memory) and tests.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"storefront/models"
)

// Store keeps every collection in maps guarded by one mutex, so each method
// is atomic the way a single-document Mongo write is.
type Store struct {
	mu          sync.RWMutex
	carts       map[string]models.Cart // by user id
	products    map[string]models.Product
	variations  map[string]models.Variation
	coupons     map[string]models.Coupon // by upper-cased code
	users       map[string]models.User
	orders      map[string]models.Order
	counters    map[string]int64
	payments    map[string]models.Payment // by merchant transaction id
	idempotency map[string]models.IdempotencyRecord
}

func New() *Store {
	return &Store{
		carts:       make(map[string]models.Cart),
		products:    make(map[string]models.Product),
		variations:  make(map[string]models.Variation),
		coupons:     make(map[string]models.Coupon),
		users:       make(map[string]models.User),
		orders:      make(map[string]models.Order),
		counters:    make(map[string]int64),
		payments:    make(map[string]models.Payment),
		idempotency: make(map[string]models.IdempotencyRecord),
	}
}

// --- seeding helpers ---

func (s *Store) PutProduct(p models.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *Store) PutVariation(v models.Variation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variations[v.ID] = v
}

func (s *Store) PutCoupon(c models.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coupons[codeKey(c.Code)] = c
}

func (s *Store) PutUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.UserID] = u
}

// --- users ---

func (s *Store) FindUser(_ context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &u, nil
}

// --- carts ---

func (s *Store) FindCart(_ context.Context, userID string) (*models.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.carts[userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	c.Items = append([]models.CartItem(nil), c.Items...)
	return &c, nil
}

func (s *Store) SaveCart(_ context.Context, cart *models.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *cart
	c.Items = append([]models.CartItem(nil), cart.Items...)
	s.carts[cart.UserID] = c
	return nil
}

func (s *Store) ClearCart(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[userID]
	if !ok {
		return nil
	}
	c.Clear()
	c.UpdatedAt = time.Now()
	s.carts[userID] = c
	return nil
}

// --- catalog / inventory ---

func (s *Store) FindProduct(_ context.Context, id string) (*models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &p, nil
}

func (s *Store) FindVariation(_ context.Context, id string) (*models.Variation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.variations[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &v, nil
}

func (s *Store) DecrementStock(_ context.Context, variationID string, qty int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variations[variationID]
	if !ok || v.Quantity < qty {
		return false, nil
	}
	v.Quantity -= qty
	v.UpdatedAt = time.Now()
	s.variations[variationID] = v
	return true, nil
}

func (s *Store) IncrementStock(_ context.Context, variationID string, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variations[variationID]
	if !ok {
		return models.ErrNotFound
	}
	v.Quantity += qty
	v.UpdatedAt = time.Now()
	s.variations[variationID] = v
	return nil
}

// --- coupons ---

func (s *Store) FindCouponByCode(_ context.Context, code string) (*models.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.coupons[codeKey(code)]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &c, nil
}

func (s *Store) IncrementCouponUsage(_ context.Context, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coupons[codeKey(code)]
	if !ok {
		return false, nil
	}
	if c.UsageLimit > 0 && c.UsageCount >= c.UsageLimit {
		return false, nil
	}
	c.UsageCount++
	s.coupons[codeKey(code)] = c
	return true, nil
}

func (s *Store) DecrementCouponUsage(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coupons[codeKey(code)]
	if !ok {
		return models.ErrNotFound
	}
	if c.UsageCount > 0 {
		c.UsageCount--
	}
	s.coupons[codeKey(code)] = c
	return nil
}

// codeKey folds case the way the coupon index collation does.
func codeKey(code string) string {
	return strings.ToUpper(code)
}

// --- orders ---

func (s *Store) NextOrderSequence(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[key]++
	return s.counters[key], nil
}

func (s *Store) InsertOrder(_ context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[order.ID]; ok {
		return models.ErrDuplicate
	}
	for _, o := range s.orders {
		if o.OrderNumber == order.OrderNumber {
			return models.ErrDuplicate
		}
	}
	o := *order
	o.Items = append([]models.OrderItem(nil), order.Items...)
	s.orders[order.ID] = o
	return nil
}

func (s *Store) FindOrder(_ context.Context, id string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &o, nil
}

func (s *Store) ListOrdersByUser(_ context.Context, userID string) ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Order{}
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) UpdateOrderStatus(_ context.Context, id string, change models.StatusChange) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return false, models.ErrNotFound
	}
	if !change.Matches(&o) {
		return false, nil
	}
	if change.Status != "" {
		o.Status = change.Status
	}
	if change.PaymentStatus != "" {
		o.PaymentStatus = change.PaymentStatus
	}
	o.UpdatedAt = time.Now()
	s.orders[id] = o
	return true, nil
}

// --- payments ---

func (s *Store) InsertPayment(_ context.Context, p *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payments[p.MerchantTransactionID]; ok {
		return models.ErrDuplicate
	}
	s.payments[p.MerchantTransactionID] = *p
	return nil
}

func (s *Store) FindPaymentByTransactionID(_ context.Context, txnID string) (*models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[txnID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &p, nil
}

func (s *Store) FindPaymentByGatewayOrderID(_ context.Context, gatewayOrderID string) (*models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.payments {
		if p.Kind == models.KindCharge && p.GatewayOrderID == gatewayOrderID {
			return &p, nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *Store) AdvancePayment(_ context.Context, txnID string, adv models.PaymentAdvance) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[txnID]
	if !ok {
		return false, models.ErrNotFound
	}
	if !p.Status.ReplaceableBy(adv.Status) {
		return false, nil
	}
	p.Status = adv.Status
	p.GatewayState = adv.GatewayState
	if adv.GatewayPaymentID != "" {
		p.GatewayPaymentID = adv.GatewayPaymentID
	}
	p.GatewayResponse = adv.GatewayResponse
	p.UpdatedAt = adv.At
	if adv.Status.Terminal() {
		at := adv.At
		p.CompletedAt = &at
	}
	s.payments[txnID] = p
	return true, nil
}

func (s *Store) ListCharges(_ context.Context, orderID string) ([]models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Payment{}
	for _, p := range s.payments {
		if p.Kind == models.KindCharge && p.OrderID == orderID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) ListRefunds(_ context.Context, parentTxnID string) ([]models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Payment{}
	for _, p := range s.payments {
		if p.Kind == models.KindRefund && p.ParentTransactionID == parentTxnID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// CountPayments returns the number of stored payment records.
func (s *Store) CountPayments() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.payments)
}

// --- idempotency ---

func (s *Store) ReserveKey(_ context.Context, rec models.IdempotencyRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.idempotency[rec.Key]; ok && existing.ExpiresAt.After(time.Now()) {
		return false, nil
	}
	s.idempotency[rec.Key] = rec
	return true, nil
}

func (s *Store) FindKey(_ context.Context, key string) (*models.IdempotencyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.idempotency[key]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &rec, nil
}

func (s *Store) SaveKeyResponse(_ context.Context, key string, resp models.StoredResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.idempotency[key]
	if !ok {
		return models.ErrNotFound
	}
	rec.Response = &resp
	s.idempotency[key] = rec
	return nil
}

func (s *Store) ReleaseKey(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.idempotency, key)
	return nil
}
