package repository

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"ec-checkout/internal/domain/model"
	"ec-checkout/internal/infra/db"
	repo "ec-checkout/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"
)

var (
	testDB      *gorm.DB
	testDBError error
)

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	container, err := startPostgres(ctx)
	if err != nil {
		testDBError = err
		os.Exit(m.Run())
	}

	code := m.Run()
	if err := container.Terminate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to terminate container: %s\n", err)
	}
	os.Exit(code)
}

func startPostgres(ctx context.Context) (*postgres.PostgresContainer, error) {
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("checkout_test"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, err
	}

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return pgContainer, err
	}
	gdb, err := db.Open(dsn)
	if err != nil {
		return pgContainer, err
	}
	if err := db.Migrate(ctx, gdb); err != nil {
		return pgContainer, err
	}
	testDB = gdb
	return pgContainer, nil
}

// テストごとに空のDBを返す
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in -short mode")
	}
	if testDBError != nil || testDB == nil {
		t.Skipf("postgres container unavailable: %v", testDBError)
	}

	require.NoError(t, testDB.Exec(`TRUNCATE audit_logs, payment_events, shipments, addresses, payments,
		order_items, orders, checkout_sessions, coupons, cart_items, carts RESTART IDENTITY CASCADE`).Error)
	return testDB
}

func seedCart(t *testing.T, gdb *gorm.DB, userID int64, status model.CartStatus) model.Cart {
	t.Helper()
	now := time.Now().UTC()
	c := model.Cart{UserID: userID, Status: status, CreatedAt: now, UpdatedAt: now}
	if status == model.CartStatusCheckoutPending {
		c.PendingSince = &now
	}
	require.NoError(t, gdb.Create(&c).Error)
	require.NoError(t, gdb.Create(&model.CartItem{CartID: c.ID, VariantID: 11, Quantity: 2, UnitPriceSnapshot: 2500}).Error)
	return c
}

func newSession(cartID int64, ref string, expiresAt time.Time) model.CheckoutSession {
	now := time.Now().UTC()
	return model.CheckoutSession{
		ID:          uuid.NewString(),
		CartID:      cartID,
		UserID:      1,
		Provider:    "stripe",
		ExternalRef: ref,
		Status:      model.CheckoutSessionPending,
		Subtotal:    5000,
		Amount:      5000,
		Currency:    "usd",
		ItemsJSON:   `[{"variant_id":11,"quantity":2,"unit_price":2500}]`,
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ===== carts =====

func TestCartGorm_ClaimForCheckout(t *testing.T) {
	gdb := setupTestDB(t)
	ctx := context.Background()
	carts := NewCartGormRepository(gdb)
	c := seedCart(t, gdb, 1, model.CartStatusOpen)

	now := time.Now().UTC()
	ok, err := carts.ClaimForCheckout(ctx, c.ID, now, now.Add(-30*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	// 2回目は取れない
	ok, err = carts.ClaimForCheckout(ctx, c.ID, now, now.Add(-30*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	// pending_sinceがstaleBeforeより古ければ取り直せる
	ok, err = carts.ClaimForCheckout(ctx, c.ID, now.Add(time.Hour), now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := carts.FindCurrentByUserID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.CartStatusCheckoutPending, got.Status)
	require.NotNil(t, got.PendingSince)

	items, err := carts.ListByCartID(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(5000), items[0].LineTotal())
}

func TestCartGorm_ClaimForCheckout_EmptyCart(t *testing.T) {
	gdb := setupTestDB(t)
	ctx := context.Background()
	carts := NewCartGormRepository(gdb)
	c := seedCart(t, gdb, 12, model.CartStatusOpen)
	require.NoError(t, gdb.Where("cart_id = ?", c.ID).Delete(&model.CartItem{}).Error)

	now := time.Now().UTC()
	ok, err := carts.ClaimForCheckout(ctx, c.ID, now, now.Add(-30*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := carts.FindByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CartStatusOpen, got.Status)
	assert.Nil(t, got.PendingSince)
}

func TestCartGorm_ConcurrentClaimOneWins(t *testing.T) {
	gdb := setupTestDB(t)
	carts := NewCartGormRepository(gdb)
	c := seedCart(t, gdb, 2, model.CartStatusOpen)

	const n = 8
	var wg sync.WaitGroup
	results := make(chan bool, n)
	now := time.Now().UTC()
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := carts.ClaimForCheckout(context.Background(), c.ID, now, now.Add(-30*time.Minute))
			assert.NoError(t, err)
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for ok := range results {
		if ok {
			wins++
		}
	}
	assert.Equal(t, 1, wins)
}

func TestCartGorm_TransitionStatusClearsPendingSince(t *testing.T) {
	gdb := setupTestDB(t)
	ctx := context.Background()
	carts := NewCartGormRepository(gdb)
	c := seedCart(t, gdb, 3, model.CartStatusCheckoutPending)

	ok, err := carts.TransitionStatus(ctx, c.ID, model.CartStatusOpen, model.CartStatusConverted)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = carts.TransitionStatus(ctx, c.ID, model.CartStatusCheckoutPending, model.CartStatusOpen)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := carts.FindByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CartStatusOpen, got.Status)
	assert.Nil(t, got.PendingSince)

	_, err = carts.FindByID(ctx, 9999)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

// ===== checkout sessions =====

func TestCheckoutSessionGorm_Lifecycle(t *testing.T) {
	gdb := setupTestDB(t)
	ctx := context.Background()
	sessions := NewCheckoutSessionGormRepository(gdb)
	c := seedCart(t, gdb, 4, model.CartStatusCheckoutPending)

	s := newSession(c.ID, "cs_1", time.Now().UTC().Add(30*time.Minute))
	require.NoError(t, sessions.Create(ctx, s))

	dup := newSession(c.ID+1, "cs_1", time.Now().UTC().Add(30*time.Minute))
	assert.ErrorIs(t, sessions.Create(ctx, dup), repo.ErrDuplicate)

	got, err := sessions.FindByExternalRef(ctx, "stripe", "cs_1")
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)

	at := time.Now().UTC()
	ok, err := sessions.TransitionStatus(ctx, s.ID, model.CheckoutSessionPending, model.CheckoutSessionCompleted, at)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = sessions.TransitionStatus(ctx, s.ID, model.CheckoutSessionPending, model.CheckoutSessionFailed, at)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err = sessions.FindByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CheckoutSessionCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)

	_, err = sessions.FindByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestCheckoutSessionGorm_ExpiryQueries(t *testing.T) {
	gdb := setupTestDB(t)
	ctx := context.Background()
	sessions := NewCheckoutSessionGormRepository(gdb)
	now := time.Now().UTC()

	c1 := seedCart(t, gdb, 5, model.CartStatusCheckoutPending)
	c2 := seedCart(t, gdb, 6, model.CartStatusCheckoutPending)
	stale := newSession(c1.ID, "cs_stale", now.Add(-time.Minute))
	fresh := newSession(c2.ID, "cs_fresh", now.Add(time.Hour))
	require.NoError(t, sessions.Create(ctx, stale))
	require.NoError(t, sessions.Create(ctx, fresh))

	list, err := sessions.ListExpiredPending(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, stale.ID, list[0].ID)

	n, err := sessions.ExpirePendingByCartID(ctx, c2.ID, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := sessions.FindByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CheckoutSessionExpired, got.Status)
}

// ===== payment events =====

func TestPaymentEventGorm_Idempotency(t *testing.T) {
	gdb := setupTestDB(t)
	ctx := context.Background()
	events := NewPaymentEventGormRepository(gdb)
	received := time.Now().UTC().Add(-time.Hour)

	ev := model.PaymentEvent{
		Provider:        "stripe",
		ProviderEventID: "evt_1",
		EventType:       "checkout.session.completed",
		PayloadDigest:   "abc",
		RawPayload:      "{}",
		Status:          model.PaymentEventReceived,
		ReceivedAt:      received,
	}
	id, err := events.Create(ctx, ev)
	require.NoError(t, err)

	_, err = events.Create(ctx, ev)
	assert.ErrorIs(t, err, repo.ErrDuplicate)

	pending, err := events.ListReceivedBefore(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, events.RecordError(ctx, id, "db timeout"))
	assert.ErrorIs(t, events.RecordError(ctx, 9999, "x"), repo.ErrNotFound)

	at := time.Now().UTC()
	ok, err := events.UpdateStatus(ctx, id, repo.PaymentEventUpdate{Status: model.PaymentEventProcessed, ProcessedAt: &at})
	require.NoError(t, err)
	assert.True(t, ok)

	// 判定は一度きり
	ok, err = events.UpdateStatus(ctx, id, repo.PaymentEventUpdate{Status: model.PaymentEventDuplicate})
	require.NoError(t, err)
	assert.False(t, ok)

	got, found, err := events.FindByProviderEventID(ctx, "stripe", "evt_1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, model.PaymentEventProcessed, got.Status)
	assert.Equal(t, "db timeout", got.LastError)

	pending, err = events.ListReceivedBefore(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

// ===== transaction =====

func TestTxManagerGorm_RollbackAndUniqueOrder(t *testing.T) {
	gdb := setupTestDB(t)
	ctx := context.Background()
	tm := NewTxManagerGorm(gdb)
	c := seedCart(t, gdb, 7, model.CartStatusCheckoutPending)
	s := newSession(c.ID, "cs_tx", time.Now().UTC().Add(time.Hour))
	require.NoError(t, NewCheckoutSessionGormRepository(gdb).Create(ctx, s))

	boom := errors.New("boom")
	err := tm.WithinTx(ctx, func(r repo.TxRepos) error {
		if _, err := r.Orders().Create(ctx, model.Order{
			UserID: 1, CheckoutSessionID: s.ID, Status: model.OrderStatusCreated,
			Subtotal: 5000, TotalPrice: 5000, Currency: "usd",
		}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, found, err := NewOrderGormRepository(gdb).FindByCheckoutSessionID(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, found)

	err = tm.WithinTx(ctx, func(r repo.TxRepos) error {
		orderID, err := r.Orders().Create(ctx, model.Order{
			UserID: 1, CheckoutSessionID: s.ID, Status: model.OrderStatusCreated,
			Subtotal: 5000, TotalPrice: 5000, Currency: "usd",
		})
		if err != nil {
			return err
		}
		if err := r.OrderItems().CreateBulk(ctx, orderID, []model.OrderItem{{VariantID: 11, Quantity: 2, UnitPriceSnapshot: 2500}}); err != nil {
			return err
		}
		if _, err := r.Payments().Create(ctx, model.Payment{
			OrderID: orderID, CheckoutSessionID: s.ID, Provider: "stripe", ExternalRef: "pi_1",
			Amount: 5000, Currency: "usd", Status: model.PaymentStatusSucceeded,
		}); err != nil {
			return err
		}
		addrID, err := r.Addresses().Create(ctx, model.Address{OrderID: orderID, UserID: 1, Country: "US"})
		if err != nil {
			return err
		}
		_, err = r.Shipments().Create(ctx, model.Shipment{OrderID: orderID, AddressID: addrID, Status: model.ShipmentStatusPending})
		return err
	})
	require.NoError(t, err)

	_, err = NewOrderGormRepository(gdb).Create(ctx, model.Order{
		UserID: 1, CheckoutSessionID: s.ID, Status: model.OrderStatusCreated,
		Subtotal: 5000, TotalPrice: 5000, Currency: "usd",
	})
	assert.ErrorIs(t, err, repo.ErrDuplicate)

	n, err := NewOrderGormRepository(gdb).CountByUserID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

// ===== coupons / audit =====

func TestCouponAndAuditGorm(t *testing.T) {
	gdb := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, gdb.Create(&model.Coupon{Code: "FIVEOFF", DiscountType: model.DiscountFixed, AmountOff: 500, IsActive: true}).Error)
	cp, err := NewCouponGormRepository(gdb).FindByCode(ctx, "FIVEOFF")
	require.NoError(t, err)
	assert.Equal(t, int64(500), cp.AmountOff)
	_, err = NewCouponGormRepository(gdb).FindByCode(ctx, "NOPE")
	assert.ErrorIs(t, err, repo.ErrNotFound)

	logs := NewAuditLogGormRepository(gdb)
	now := time.Now().UTC()
	require.NoError(t, logs.Create(ctx, model.AuditLog{Action: model.AuditActionCheckoutStarted, UserID: 1, CheckoutSessionID: "s-1", CreatedAt: now}))
	require.NoError(t, logs.Create(ctx, model.AuditLog{Action: model.AuditActionOrderCreated, UserID: 1, CheckoutSessionID: "s-1", CreatedAt: now}))
	require.NoError(t, logs.Create(ctx, model.AuditLog{Action: model.AuditActionCheckoutStarted, UserID: 2, CreatedAt: now}))

	action := model.AuditActionCheckoutStarted
	list, err := logs.List(ctx, repo.AuditLogFilter{Action: &action})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	sid := "s-1"
	list, err = logs.List(ctx, repo.AuditLogFilter{CheckoutSessionID: &sid})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, model.AuditActionOrderCreated, list[0].Action)
}
