package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"ec-checkout/internal/domain/model"
	"ec-checkout/internal/provider"
	"ec-checkout/internal/testutil"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

const testUserID int64 = 42

// 登録済みプロバイダかだけ見る
type registryValidator struct {
	providers *provider.Registry
}

func (v registryValidator) ValidateCreate(ctx context.Context, in CreateCheckoutInput) error {
	if _, ok := v.providers.Get(in.Provider); !ok {
		return errors.New("unknown provider")
	}
	return nil
}

type harness struct {
	store   *testutil.Store
	clock   *testutil.Clock
	audit   *testutil.AuditRecorder
	metrics *testutil.MetricsRecorder
	fake    *testutil.FakeAdapter
	reg     *provider.Registry

	checkout *CheckoutUsecase
	webhook  *WebhookUsecase
	expiry   *SessionExpiryUsecase
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		store:   testutil.NewStore(),
		clock:   testutil.NewClock(testNow),
		audit:   &testutil.AuditRecorder{},
		metrics: testutil.NewMetricsRecorder(),
		fake:    testutil.NewFakeAdapter("fake"),
	}
	h.reg = provider.NewRegistry(h.fake)
	log := zaptest.NewLogger(t)

	h.checkout = NewCheckoutUsecase(CheckoutDeps{
		Tx:        h.store,
		Carts:     h.store.Carts(),
		CartItems: h.store.CartItems(),
		Sessions:  h.store.CheckoutSessions(),
		Coupons:   NewCouponResolver(h.store.Coupons(), log),
		Providers: h.reg,
		Validator: registryValidator{providers: h.reg},
		Audit:     h.audit,
		Metrics:   h.metrics,
		IDs:       &testutil.SeqIDs{},
		Clock:     h.clock,
		Log:       log,
	}, CheckoutConfig{
		Currency:   "usd",
		SessionTTL: 30 * time.Minute,
		SuccessURL: "https://shop.example/ok",
		CancelURL:  "https://shop.example/cancel",
	})

	h.webhook = NewWebhookUsecase(WebhookDeps{
		Tx:          h.store,
		Sessions:    h.store.CheckoutSessions(),
		Events:      h.store.PaymentEvents(),
		Providers:   h.reg,
		Fulfillment: NewFulfillmentWriter(h.clock, log),
		Audit:       h.audit,
		Metrics:     h.metrics,
		Clock:       h.clock,
		Log:         log,
	})

	h.expiry = NewSessionExpiryUsecase(h.store, h.store.CheckoutSessions(), h.audit, h.metrics, h.clock, log)
	return h
}

// 2500×2 + 5000×1 = 10000
func (h *harness) seedCart() model.Cart {
	return h.store.SeedCart(testUserID,
		model.CartItem{VariantID: 101, Quantity: 2, UnitPriceSnapshot: 2500},
		model.CartItem{VariantID: 202, Quantity: 1, UnitPriceSnapshot: 5000},
	)
}

func (h *harness) startCheckout(t *testing.T) CheckoutSessionOutput {
	t.Helper()
	out, err := h.checkout.CreateCheckoutSession(context.Background(), testUserID, CreateCheckoutInput{Provider: "fake"})
	require.NoError(t, err)
	return out
}

func (h *harness) deliver(ev testutil.FakeEvent) error {
	payload, sig := h.fake.Sign(ev)
	return h.webhook.HandleProviderEvent(context.Background(), "fake", payload, sig)
}

func requireKind(t *testing.T, err error, kind error, status int) {
	t.Helper()
	require.Error(t, err)
	require.ErrorIs(t, err, kind)
	he, ok := AsHTTPError(err)
	require.True(t, ok)
	require.Equal(t, status, he.Status)
}
