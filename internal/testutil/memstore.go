// Package testutil はusecaseテスト用のインメモリ実装。
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"ec-checkout/internal/domain/model"
	repo "ec-checkout/internal/repository"
)

type state struct {
	seq       int64
	carts     map[int64]model.Cart
	cartItems map[int64][]model.CartItem
	sessions  map[string]model.CheckoutSession
	coupons   map[string]model.Coupon
	orders    map[int64]model.Order
	items     map[int64][]model.OrderItem
	payments  map[int64]model.Payment
	shipments map[int64]model.Shipment
	addresses map[int64]model.Address
	events    map[int64]model.PaymentEvent
	audit     []model.AuditLog
}

func newState() state {
	return state{
		carts:     map[int64]model.Cart{},
		cartItems: map[int64][]model.CartItem{},
		sessions:  map[string]model.CheckoutSession{},
		coupons:   map[string]model.Coupon{},
		orders:    map[int64]model.Order{},
		items:     map[int64][]model.OrderItem{},
		payments:  map[int64]model.Payment{},
		shipments: map[int64]model.Shipment{},
		addresses: map[int64]model.Address{},
		events:    map[int64]model.PaymentEvent{},
	}
}

func (s state) clone() state {
	c := newState()
	c.seq = s.seq
	for k, v := range s.carts {
		c.carts[k] = v
	}
	for k, v := range s.cartItems {
		c.cartItems[k] = append([]model.CartItem(nil), v...)
	}
	for k, v := range s.sessions {
		c.sessions[k] = v
	}
	for k, v := range s.coupons {
		c.coupons[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.items {
		c.items[k] = append([]model.OrderItem(nil), v...)
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.shipments {
		c.shipments[k] = v
	}
	for k, v := range s.addresses {
		c.addresses[k] = v
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	c.audit = append([]model.AuditLog(nil), s.audit...)
	return c
}

func (s *state) nextID() int64 {
	s.seq++
	return s.seq
}

// Store はリポジトリ一式とTransactionManagerのインメモリ実装。
// WithinTxはロックを持ったまま実行し、エラーなら丸ごと巻き戻す。
type Store struct {
	mu       sync.Mutex
	st       state
	failures map[string]error
	txCount  int
}

func NewStore() *Store {
	return &Store{st: newState(), failures: map[string]error{}}
}

// op（例: "Payments.Create"）を失敗させる
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

func (s *Store) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = map[string]error{}
}

func (s *Store) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txCount++

	snapshot := s.st.clone()
	if err := fn(&view{s: s, locked: true}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// 何回トランザクションが開かれたか
func (s *Store) TxCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txCount
}

// トランザクション外のリポジトリ
func (s *Store) Carts() repo.CartRepository                       { return (&view{s: s}).Carts() }
func (s *Store) CartItems() repo.CartItemRepository               { return (&view{s: s}).CartItems() }
func (s *Store) CheckoutSessions() repo.CheckoutSessionRepository { return (&view{s: s}).CheckoutSessions() }
func (s *Store) Coupons() repo.CouponRepository                   { return couponRepo{v: &view{s: s}} }
func (s *Store) Orders() repo.OrderRepository                     { return (&view{s: s}).Orders() }
func (s *Store) OrderItems() repo.OrderItemRepository             { return (&view{s: s}).OrderItems() }
func (s *Store) Payments() repo.PaymentRepository                 { return (&view{s: s}).Payments() }
func (s *Store) Shipments() repo.ShipmentRepository               { return (&view{s: s}).Shipments() }
func (s *Store) Addresses() repo.AddressRepository                { return (&view{s: s}).Addresses() }
func (s *Store) PaymentEvents() repo.PaymentEventRepository       { return (&view{s: s}).PaymentEvents() }
func (s *Store) AuditLogs() repo.AuditLogRepository               { return auditRepo{v: &view{s: s}} }

// ---- seed / inspect ----

func (s *Store) SeedCart(userID int64, items ...model.CartItem) model.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	c := model.Cart{ID: s.st.nextID(), UserID: userID, Status: model.CartStatusOpen, CreatedAt: now, UpdatedAt: now}
	s.st.carts[c.ID] = c
	for _, it := range items {
		it.ID = s.st.nextID()
		it.CartID = c.ID
		s.st.cartItems[c.ID] = append(s.st.cartItems[c.ID], it)
	}
	return c
}

func (s *Store) SeedCoupon(c model.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.st.nextID()
	}
	s.st.coupons[c.Code] = c
}

func (s *Store) SeedSession(cs model.CheckoutSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.sessions[cs.ID] = cs
}

func (s *Store) SetCart(c model.Cart) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.carts[c.ID] = c
}

func (s *Store) DeleteCart(cartID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.st.carts, cartID)
	delete(s.st.cartItems, cartID)
}

func (s *Store) Cart(cartID int64) (model.Cart, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.st.carts[cartID]
	return c, ok
}

func (s *Store) Session(id string) (model.CheckoutSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.st.sessions[id]
	return cs, ok
}

func (s *Store) SessionList() []model.CheckoutSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.CheckoutSession, 0, len(s.st.sessions))
	for _, cs := range s.st.sessions {
		out = append(out, cs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) OrderList() []model.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Order, 0, len(s.st.orders))
	for _, o := range s.st.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) OrderItemList(orderID int64) []model.OrderItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.OrderItem(nil), s.st.items[orderID]...)
}

func (s *Store) PaymentList() []model.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Payment, 0, len(s.st.payments))
	for _, p := range s.st.payments {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) ShipmentList() []model.Shipment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Shipment, 0, len(s.st.shipments))
	for _, sh := range s.st.shipments {
		out = append(out, sh)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) AddressList() []model.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Address, 0, len(s.st.addresses))
	for _, a := range s.st.addresses {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) EventList() []model.PaymentEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.PaymentEvent, 0, len(s.st.events))
	for _, e := range s.st.events {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) AuditLogList() []model.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.AuditLog(nil), s.st.audit...)
}

// 書き込み件数の比較用（再送で増えていないか）
type Counts struct {
	Sessions, Orders, OrderItems, Payments, Shipments, Addresses, Events int
}

func (s *Store) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, v := range s.st.items {
		n += len(v)
	}
	return Counts{
		Sessions:   len(s.st.sessions),
		Orders:     len(s.st.orders),
		OrderItems: n,
		Payments:   len(s.st.payments),
		Shipments:  len(s.st.shipments),
		Addresses:  len(s.st.addresses),
		Events:     len(s.st.events),
	}
}

// ---- view ----

// locked=trueならWithinTx中（ロック済み）
type view struct {
	s      *Store
	locked bool
}

func (v *view) lock() func() {
	if v.locked {
		return func() {}
	}
	v.s.mu.Lock()
	return v.s.mu.Unlock
}

func (v *view) fail(op string) error {
	if err, ok := v.s.failures[op]; ok {
		return err
	}
	return nil
}

func (v *view) Carts() repo.CartRepository                       { return cartRepo{v: v} }
func (v *view) CartItems() repo.CartItemRepository               { return cartItemRepo{v: v} }
func (v *view) CheckoutSessions() repo.CheckoutSessionRepository { return sessionRepo{v: v} }
func (v *view) Orders() repo.OrderRepository                     { return orderRepo{v: v} }
func (v *view) OrderItems() repo.OrderItemRepository             { return orderItemRepo{v: v} }
func (v *view) Payments() repo.PaymentRepository                 { return paymentRepo{v: v} }
func (v *view) Shipments() repo.ShipmentRepository               { return shipmentRepo{v: v} }
func (v *view) Addresses() repo.AddressRepository                { return addressRepo{v: v} }
func (v *view) PaymentEvents() repo.PaymentEventRepository       { return eventRepo{v: v} }

// ---- carts ----

type cartRepo struct{ v *view }

func (r cartRepo) FindByID(ctx context.Context, cartID int64) (model.Cart, error) {
	defer r.v.lock()()
	if err := r.v.fail("Carts.FindByID"); err != nil {
		return model.Cart{}, err
	}
	c, ok := r.v.s.st.carts[cartID]
	if !ok {
		return model.Cart{}, repo.ErrNotFound
	}
	return c, nil
}

func (r cartRepo) FindCurrentByUserID(ctx context.Context, userID int64) (model.Cart, error) {
	defer r.v.lock()()
	if err := r.v.fail("Carts.FindCurrentByUserID"); err != nil {
		return model.Cart{}, err
	}
	var found model.Cart
	for _, c := range r.v.s.st.carts {
		if c.UserID != userID || !c.IsCheckoutable() {
			continue
		}
		if found.ID == 0 || c.ID > found.ID {
			found = c
		}
	}
	if found.ID == 0 {
		return model.Cart{}, repo.ErrNotFound
	}
	return found, nil
}

func (r cartRepo) ClaimForCheckout(ctx context.Context, cartID int64, now time.Time, staleBefore time.Time) (bool, error) {
	defer r.v.lock()()
	if err := r.v.fail("Carts.ClaimForCheckout"); err != nil {
		return false, err
	}
	c, ok := r.v.s.st.carts[cartID]
	if !ok {
		return false, nil
	}
	claimable := c.Status == model.CartStatusOpen ||
		(c.Status == model.CartStatusCheckoutPending && c.PendingSince != nil && c.PendingSince.Before(staleBefore))
	if !claimable || len(r.v.s.st.cartItems[cartID]) == 0 {
		return false, nil
	}
	c.Status = model.CartStatusCheckoutPending
	c.PendingSince = &now
	c.UpdatedAt = now
	r.v.s.st.carts[cartID] = c
	return true, nil
}

func (r cartRepo) TransitionStatus(ctx context.Context, cartID int64, from model.CartStatus, to model.CartStatus) (bool, error) {
	defer r.v.lock()()
	if err := r.v.fail("Carts.TransitionStatus"); err != nil {
		return false, err
	}
	c, ok := r.v.s.st.carts[cartID]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	if to != model.CartStatusCheckoutPending {
		c.PendingSince = nil
	}
	r.v.s.st.carts[cartID] = c
	return true, nil
}

type cartItemRepo struct{ v *view }

func (r cartItemRepo) ListByCartID(ctx context.Context, cartID int64) ([]model.CartItem, error) {
	defer r.v.lock()()
	if err := r.v.fail("CartItems.ListByCartID"); err != nil {
		return nil, err
	}
	return append([]model.CartItem(nil), r.v.s.st.cartItems[cartID]...), nil
}

// ---- sessions ----

type sessionRepo struct{ v *view }

func (r sessionRepo) Create(ctx context.Context, cs model.CheckoutSession) error {
	defer r.v.lock()()
	if err := r.v.fail("CheckoutSessions.Create"); err != nil {
		return err
	}
	if _, ok := r.v.s.st.sessions[cs.ID]; ok {
		return repo.ErrDuplicate
	}
	for _, other := range r.v.s.st.sessions {
		if other.Provider == cs.Provider && other.ExternalRef == cs.ExternalRef {
			return repo.ErrDuplicate
		}
	}
	r.v.s.st.sessions[cs.ID] = cs
	return nil
}

func (r sessionRepo) FindByID(ctx context.Context, sessionID string) (model.CheckoutSession, error) {
	defer r.v.lock()()
	if err := r.v.fail("CheckoutSessions.FindByID"); err != nil {
		return model.CheckoutSession{}, err
	}
	cs, ok := r.v.s.st.sessions[sessionID]
	if !ok {
		return model.CheckoutSession{}, repo.ErrNotFound
	}
	return cs, nil
}

func (r sessionRepo) FindByExternalRef(ctx context.Context, provider string, externalRef string) (model.CheckoutSession, error) {
	defer r.v.lock()()
	if err := r.v.fail("CheckoutSessions.FindByExternalRef"); err != nil {
		return model.CheckoutSession{}, err
	}
	for _, cs := range r.v.s.st.sessions {
		if cs.Provider == provider && cs.ExternalRef == externalRef {
			return cs, nil
		}
	}
	return model.CheckoutSession{}, repo.ErrNotFound
}

func (r sessionRepo) TransitionStatus(ctx context.Context, sessionID string, from model.CheckoutSessionStatus, to model.CheckoutSessionStatus, at time.Time) (bool, error) {
	defer r.v.lock()()
	if err := r.v.fail("CheckoutSessions.TransitionStatus"); err != nil {
		return false, err
	}
	cs, ok := r.v.s.st.sessions[sessionID]
	if !ok || cs.Status != from {
		return false, nil
	}
	cs.Status = to
	cs.UpdatedAt = at
	if to == model.CheckoutSessionCompleted {
		cs.CompletedAt = &at
	}
	r.v.s.st.sessions[sessionID] = cs
	return true, nil
}

func (r sessionRepo) ExpirePendingByCartID(ctx context.Context, cartID int64, at time.Time) (int64, error) {
	defer r.v.lock()()
	if err := r.v.fail("CheckoutSessions.ExpirePendingByCartID"); err != nil {
		return 0, err
	}
	var n int64
	for id, cs := range r.v.s.st.sessions {
		if cs.CartID == cartID && cs.Status == model.CheckoutSessionPending {
			cs.Status = model.CheckoutSessionExpired
			cs.UpdatedAt = at
			r.v.s.st.sessions[id] = cs
			n++
		}
	}
	return n, nil
}

func (r sessionRepo) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]model.CheckoutSession, error) {
	defer r.v.lock()()
	if err := r.v.fail("CheckoutSessions.ListExpiredPending"); err != nil {
		return nil, err
	}
	var out []model.CheckoutSession
	for _, cs := range r.v.s.st.sessions {
		if cs.IsStale(now) {
			out = append(out, cs)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- coupons ----

type couponRepo struct{ v *view }

func (r couponRepo) FindByCode(ctx context.Context, code string) (model.Coupon, error) {
	defer r.v.lock()()
	if err := r.v.fail("Coupons.FindByCode"); err != nil {
		return model.Coupon{}, err
	}
	c, ok := r.v.s.st.coupons[code]
	if !ok {
		return model.Coupon{}, repo.ErrNotFound
	}
	return c, nil
}

// ---- orders ----

type orderRepo struct{ v *view }

func (r orderRepo) Create(ctx context.Context, o model.Order) (int64, error) {
	defer r.v.lock()()
	if err := r.v.fail("Orders.Create"); err != nil {
		return 0, err
	}
	for _, other := range r.v.s.st.orders {
		if other.CheckoutSessionID == o.CheckoutSessionID {
			return 0, repo.ErrDuplicate
		}
	}
	o.ID = r.v.s.st.nextID()
	r.v.s.st.orders[o.ID] = o
	return o.ID, nil
}

func (r orderRepo) FindByID(ctx context.Context, orderID int64) (model.Order, error) {
	defer r.v.lock()()
	o, ok := r.v.s.st.orders[orderID]
	if !ok {
		return model.Order{}, repo.ErrNotFound
	}
	return o, nil
}

func (r orderRepo) FindByCheckoutSessionID(ctx context.Context, sessionID string) (model.Order, bool, error) {
	defer r.v.lock()()
	if err := r.v.fail("Orders.FindByCheckoutSessionID"); err != nil {
		return model.Order{}, false, err
	}
	for _, o := range r.v.s.st.orders {
		if o.CheckoutSessionID == sessionID {
			return o, true, nil
		}
	}
	return model.Order{}, false, nil
}

func (r orderRepo) CountByUserID(ctx context.Context, userID int64) (int64, error) {
	defer r.v.lock()()
	var n int64
	for _, o := range r.v.s.st.orders {
		if o.UserID == userID {
			n++
		}
	}
	return n, nil
}

type orderItemRepo struct{ v *view }

func (r orderItemRepo) CreateBulk(ctx context.Context, orderID int64, items []model.OrderItem) error {
	defer r.v.lock()()
	if err := r.v.fail("OrderItems.CreateBulk"); err != nil {
		return err
	}
	for _, it := range items {
		it.ID = r.v.s.st.nextID()
		it.OrderID = orderID
		r.v.s.st.items[orderID] = append(r.v.s.st.items[orderID], it)
	}
	return nil
}

func (r orderItemRepo) ListByOrderID(ctx context.Context, orderID int64) ([]model.OrderItem, error) {
	defer r.v.lock()()
	if err := r.v.fail("OrderItems.ListByOrderID"); err != nil {
		return nil, err
	}
	return append([]model.OrderItem(nil), r.v.s.st.items[orderID]...), nil
}

type paymentRepo struct{ v *view }

func (r paymentRepo) Create(ctx context.Context, p model.Payment) (int64, error) {
	defer r.v.lock()()
	if err := r.v.fail("Payments.Create"); err != nil {
		return 0, err
	}
	for _, other := range r.v.s.st.payments {
		if other.CheckoutSessionID == p.CheckoutSessionID {
			return 0, repo.ErrDuplicate
		}
	}
	p.ID = r.v.s.st.nextID()
	r.v.s.st.payments[p.ID] = p
	return p.ID, nil
}

func (r paymentRepo) FindByOrderID(ctx context.Context, orderID int64) (model.Payment, error) {
	defer r.v.lock()()
	for _, p := range r.v.s.st.payments {
		if p.OrderID == orderID {
			return p, nil
		}
	}
	return model.Payment{}, repo.ErrNotFound
}

type shipmentRepo struct{ v *view }

func (r shipmentRepo) Create(ctx context.Context, sh model.Shipment) (int64, error) {
	defer r.v.lock()()
	if err := r.v.fail("Shipments.Create"); err != nil {
		return 0, err
	}
	sh.ID = r.v.s.st.nextID()
	r.v.s.st.shipments[sh.ID] = sh
	return sh.ID, nil
}

func (r shipmentRepo) FindByOrderID(ctx context.Context, orderID int64) (model.Shipment, error) {
	defer r.v.lock()()
	for _, sh := range r.v.s.st.shipments {
		if sh.OrderID == orderID {
			return sh, nil
		}
	}
	return model.Shipment{}, repo.ErrNotFound
}

type addressRepo struct{ v *view }

func (r addressRepo) Create(ctx context.Context, a model.Address) (int64, error) {
	defer r.v.lock()()
	if err := r.v.fail("Addresses.Create"); err != nil {
		return 0, err
	}
	a.ID = r.v.s.st.nextID()
	r.v.s.st.addresses[a.ID] = a
	return a.ID, nil
}

func (r addressRepo) FindByID(ctx context.Context, addressID int64) (model.Address, error) {
	defer r.v.lock()()
	a, ok := r.v.s.st.addresses[addressID]
	if !ok {
		return model.Address{}, repo.ErrNotFound
	}
	return a, nil
}

// ---- payment events ----

type eventRepo struct{ v *view }

func (r eventRepo) FindByProviderEventID(ctx context.Context, provider string, providerEventID string) (model.PaymentEvent, bool, error) {
	defer r.v.lock()()
	if err := r.v.fail("PaymentEvents.FindByProviderEventID"); err != nil {
		return model.PaymentEvent{}, false, err
	}
	for _, e := range r.v.s.st.events {
		if e.Provider == provider && e.ProviderEventID == providerEventID {
			return e, true, nil
		}
	}
	return model.PaymentEvent{}, false, nil
}

func (r eventRepo) Create(ctx context.Context, ev model.PaymentEvent) (int64, error) {
	defer r.v.lock()()
	if err := r.v.fail("PaymentEvents.Create"); err != nil {
		return 0, err
	}
	for _, e := range r.v.s.st.events {
		if e.Provider == ev.Provider && e.ProviderEventID == ev.ProviderEventID {
			return 0, repo.ErrDuplicate
		}
	}
	ev.ID = r.v.s.st.nextID()
	r.v.s.st.events[ev.ID] = ev
	return ev.ID, nil
}

func (r eventRepo) UpdateStatus(ctx context.Context, eventID int64, u repo.PaymentEventUpdate) (bool, error) {
	defer r.v.lock()()
	if err := r.v.fail("PaymentEvents.UpdateStatus"); err != nil {
		return false, err
	}
	e, ok := r.v.s.st.events[eventID]
	if !ok || e.Status != model.PaymentEventReceived {
		return false, nil
	}
	e.Status = u.Status
	if u.CheckoutSessionID != nil {
		id := *u.CheckoutSessionID
		e.CheckoutSessionID = &id
	}
	if u.ProcessedAt != nil {
		at := *u.ProcessedAt
		e.ProcessedAt = &at
	}
	r.v.s.st.events[eventID] = e
	return true, nil
}

func (r eventRepo) RecordError(ctx context.Context, eventID int64, msg string) error {
	defer r.v.lock()()
	if err := r.v.fail("PaymentEvents.RecordError"); err != nil {
		return err
	}
	e, ok := r.v.s.st.events[eventID]
	if !ok {
		return repo.ErrNotFound
	}
	e.LastError = msg
	r.v.s.st.events[eventID] = e
	return nil
}

func (r eventRepo) ListReceivedBefore(ctx context.Context, before time.Time, limit int) ([]model.PaymentEvent, error) {
	defer r.v.lock()()
	var out []model.PaymentEvent
	for _, e := range r.v.s.st.events {
		if e.Status == model.PaymentEventReceived && e.ReceivedAt.Before(before) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- audit ----

type auditRepo struct{ v *view }

func (r auditRepo) Create(ctx context.Context, l model.AuditLog) error {
	defer r.v.lock()()
	if err := r.v.fail("AuditLogs.Create"); err != nil {
		return err
	}
	l.ID = r.v.s.st.nextID()
	r.v.s.st.audit = append(r.v.s.st.audit, l)
	return nil
}

func (r auditRepo) List(ctx context.Context, f repo.AuditLogFilter) ([]model.AuditLog, error) {
	defer r.v.lock()()
	var out []model.AuditLog
	for _, l := range r.v.s.st.audit {
		if f.Action != nil && l.Action != *f.Action {
			continue
		}
		if f.UserID != nil && l.UserID != *f.UserID {
			continue
		}
		if f.CheckoutSessionID != nil && l.CheckoutSessionID != *f.CheckoutSessionID {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}
