package repository

import (
	"context"

	repo "ec-checkout/internal/repository"

	"gorm.io/gorm"
)

type txReposGorm struct {
	carts         *CartGormRepository
	sessions      repo.CheckoutSessionRepository
	orders        repo.OrderRepository
	orderItems    repo.OrderItemRepository
	payments      repo.PaymentRepository
	shipments     repo.ShipmentRepository
	addresses     repo.AddressRepository
	paymentEvents repo.PaymentEventRepository
}

func newTxReposGorm(db *gorm.DB) *txReposGorm {
	return &txReposGorm{
		carts:         NewCartGormRepository(db),
		sessions:      NewCheckoutSessionGormRepository(db),
		orders:        NewOrderGormRepository(db),
		orderItems:    NewOrderItemGormRepository(db),
		payments:      NewPaymentGormRepository(db),
		shipments:     NewShipmentGormRepository(db),
		addresses:     NewAddressGormRepository(db),
		paymentEvents: NewPaymentEventGormRepository(db),
	}
}

func (r *txReposGorm) Carts() repo.CartRepository                       { return r.carts }
func (r *txReposGorm) CartItems() repo.CartItemRepository               { return r.carts }
func (r *txReposGorm) CheckoutSessions() repo.CheckoutSessionRepository { return r.sessions }
func (r *txReposGorm) Orders() repo.OrderRepository                     { return r.orders }
func (r *txReposGorm) OrderItems() repo.OrderItemRepository             { return r.orderItems }
func (r *txReposGorm) Payments() repo.PaymentRepository                 { return r.payments }
func (r *txReposGorm) Shipments() repo.ShipmentRepository               { return r.shipments }
func (r *txReposGorm) Addresses() repo.AddressRepository                { return r.addresses }
func (r *txReposGorm) PaymentEvents() repo.PaymentEventRepository       { return r.paymentEvents }

type TxManagerGorm struct {
	db *gorm.DB
}

func NewTxManagerGorm(db *gorm.DB) *TxManagerGorm {
	return &TxManagerGorm{db: db}
}

func (tm *TxManagerGorm) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	return tm.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		//repoはtxを持ったDBで作り直す
		return fn(newTxReposGorm(tx))
	})
}

// Tx外で使うリポジトリ一式（main / CLIで使う）
type Repos struct {
	Carts         *CartGormRepository
	Sessions      repo.CheckoutSessionRepository
	Coupons       repo.CouponRepository
	PaymentEvents repo.PaymentEventRepository
	AuditLogs     repo.AuditLogRepository
	Tx            *TxManagerGorm
}

func NewRepos(db *gorm.DB) Repos {
	return Repos{
		Carts:         NewCartGormRepository(db),
		Sessions:      NewCheckoutSessionGormRepository(db),
		Coupons:       NewCouponGormRepository(db),
		PaymentEvents: NewPaymentEventGormRepository(db),
		AuditLogs:     NewAuditLogGormRepository(db),
		Tx:            NewTxManagerGorm(db),
	}
}
