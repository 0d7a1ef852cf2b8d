package usecase_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"ec-checkout/internal/domain/model"
	"ec-checkout/internal/provider"
	"ec-checkout/internal/provider/card"
	"ec-checkout/internal/provider/mobilemoney"
	"ec-checkout/internal/testutil"
	"ec-checkout/internal/usecase"
	"ec-checkout/internal/validator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var scenarioNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type scenario struct {
	store    *testutil.Store
	checkout *usecase.CheckoutUsecase
	webhook  *usecase.WebhookUsecase
}

// 外部プロバイダ（stripe互換 / モバイルマネー）のスタブ
func providerStub(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/checkout/sessions":
			_, _ = w.Write([]byte(`{"id":"cs_test_100","url":"https://checkout.stripe.test/cs_test_100"}`))
		case "/v1/collections":
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"transaction_id":"mm_tx_50","status":"PENDING"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newScenario(t *testing.T, apiBase string) *scenario {
	t.Helper()
	log := zaptest.NewLogger(t)
	clock := testutil.NewClock(scenarioNow)
	store := testutil.NewStore()

	cardAdapter := card.New(card.Config{
		APIBase:       apiBase,
		SecretKey:     "sk_test",
		WebhookSecret: "whsec_test",
		Now:           clock.Now,
	}, provider.NewTransport(provider.TransportConfig{Name: card.Name, RoundTripper: http.DefaultTransport}))
	mmAdapter := mobilemoney.New(mobilemoney.Config{
		APIBase:       apiBase,
		APIKey:        "mm_key",
		WebhookSecret: "mm_secret",
		MNOs:          []string{"mtn", "airtel"},
		StatusURL:     "https://shop.example/checkout/{session_id}",
	}, provider.NewTransport(provider.TransportConfig{Name: mobilemoney.Name, RoundTripper: http.DefaultTransport}))
	reg := provider.NewRegistry(cardAdapter, mmAdapter)

	checkout := usecase.NewCheckoutUsecase(usecase.CheckoutDeps{
		Tx:        store,
		Carts:     store.Carts(),
		CartItems: store.CartItems(),
		Sessions:  store.CheckoutSessions(),
		Coupons:   usecase.NewCouponResolver(store.Coupons(), log),
		Providers: reg,
		Validator: validator.NewCheckoutValidator(reg),
		IDs:       &testutil.SeqIDs{},
		Clock:     clock,
		Log:       log,
	}, usecase.CheckoutConfig{Currency: "usd"})

	webhook := usecase.NewWebhookUsecase(usecase.WebhookDeps{
		Tx:          store,
		Sessions:    store.CheckoutSessions(),
		Events:      store.PaymentEvents(),
		Providers:   reg,
		Fulfillment: usecase.NewFulfillmentWriter(clock, log),
		Clock:       clock,
		Log:         log,
	})

	return &scenario{store: store, checkout: checkout, webhook: webhook}
}

func TestScenario_CardPaymentCompletes(t *testing.T) {
	srv := providerStub(t)
	sc := newScenario(t, srv.URL)
	cart := sc.store.SeedCart(7, model.CartItem{VariantID: 1, Quantity: 1, UnitPriceSnapshot: 10000})

	out, err := sc.checkout.CreateCheckoutSession(context.Background(), 7, usecase.CreateCheckoutInput{Provider: "stripe"})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.test/cs_test_100", out.URL)

	s, _ := sc.store.Session(out.SessionID)
	assert.Equal(t, model.CheckoutSessionPending, s.Status)
	assert.Equal(t, "cs_test_100", s.ExternalRef)

	payload := []byte(`{"id":"evt_100","type":"checkout.session.completed","data":{"object":{` +
		`"id":"cs_test_100","client_reference_id":"` + out.SessionID + `","amount_total":10000,` +
		`"currency":"usd","payment_intent":"pi_100","payment_status":"paid"}}}`)
	ts := strconv.FormatInt(scenarioNow.Unix(), 10)
	sig := fmt.Sprintf("t=%s,v1=%s", ts, provider.SignHMACSHA256([]byte("whsec_test"), []byte(ts+"."+string(payload))))

	require.NoError(t, sc.webhook.HandleProviderEvent(context.Background(), "stripe", payload, sig))

	orders := sc.store.OrderList()
	require.Len(t, orders, 1)
	assert.Equal(t, int64(10000), orders[0].TotalPrice)
	c, _ := sc.store.Cart(cart.ID)
	assert.Equal(t, model.CartStatusConverted, c.Status)
	s, _ = sc.store.Session(out.SessionID)
	assert.Equal(t, model.CheckoutSessionCompleted, s.Status)
	assert.Equal(t, "pi_100", sc.store.PaymentList()[0].ExternalRef)
}

func TestScenario_MobileMoneyFailureReopensCart(t *testing.T) {
	srv := providerStub(t)
	sc := newScenario(t, srv.URL)
	cart := sc.store.SeedCart(8, model.CartItem{VariantID: 2, Quantity: 2, UnitPriceSnapshot: 2500})

	out, err := sc.checkout.CreateCheckoutSession(context.Background(), 8, usecase.CreateCheckoutInput{
		Provider:    "mobile-money",
		PhoneNumber: "+256772123456",
		MNO:         "MTN",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example/checkout/"+out.SessionID, out.URL)

	s, _ := sc.store.Session(out.SessionID)
	assert.Equal(t, model.CheckoutSessionPending, s.Status)
	assert.Equal(t, "mm_tx_50", s.ExternalRef)
	assert.Equal(t, int64(5000), s.Amount)

	payload := []byte(`{"event_id":"mm_evt_9","transaction_id":"mm_tx_50","reference":"` + out.SessionID + `","status":"FAILED","reason":"insufficient funds"}`)
	sig := provider.SignHMACSHA256([]byte("mm_secret"), payload)
	require.NoError(t, sc.webhook.HandleProviderEvent(context.Background(), "mobile-money", payload, sig))

	s, _ = sc.store.Session(out.SessionID)
	assert.Equal(t, model.CheckoutSessionFailed, s.Status)
	c, _ := sc.store.Cart(cart.ID)
	assert.Equal(t, model.CartStatusOpen, c.Status)
	assert.Empty(t, sc.store.OrderList())
}

func TestScenario_MobileMoneyRequiresParams(t *testing.T) {
	srv := providerStub(t)
	sc := newScenario(t, srv.URL)
	sc.store.SeedCart(9, model.CartItem{VariantID: 2, Quantity: 1, UnitPriceSnapshot: 2500})

	_, err := sc.checkout.CreateCheckoutSession(context.Background(), 9, usecase.CreateCheckoutInput{Provider: "mobile-money", MNO: "mtn"})
	require.Error(t, err)
	assert.ErrorIs(t, err, usecase.ErrValidation)

	_, err = sc.checkout.CreateCheckoutSession(context.Background(), 9, usecase.CreateCheckoutInput{Provider: "mobile-money", PhoneNumber: "+256772123456", MNO: "orange"})
	assert.ErrorIs(t, err, usecase.ErrValidation)
}
