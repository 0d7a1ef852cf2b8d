package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"ec-checkout/internal/domain/model"
	"ec-checkout/internal/provider"
	"ec-checkout/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateCheckoutSession_Success(t *testing.T) {
	h := newHarness(t)
	cart := h.seedCart()

	out := h.startCheckout(t)

	assert.Equal(t, "fake", out.Provider)
	assert.Equal(t, "https://pay.example/"+out.SessionID, out.URL)

	s, ok := h.store.Session(out.SessionID)
	require.True(t, ok)
	assert.Equal(t, model.CheckoutSessionPending, s.Status)
	assert.Equal(t, cart.ID, s.CartID)
	assert.Equal(t, int64(10000), s.Subtotal)
	assert.Equal(t, int64(0), s.Discount)
	assert.Equal(t, int64(10000), s.Amount)
	assert.Equal(t, "usd", s.Currency)
	assert.Equal(t, testNow.Add(30*time.Minute), s.ExpiresAt)

	items, err := s.Items()
	require.NoError(t, err)
	assert.Equal(t, []model.SessionItem{
		{VariantID: 101, Quantity: 2, UnitPrice: 2500},
		{VariantID: 202, Quantity: 1, UnitPrice: 5000},
	}, items)

	c, _ := h.store.Cart(cart.ID)
	assert.Equal(t, model.CartStatusCheckoutPending, c.Status)
	require.NotNil(t, c.PendingSince)

	reqs := h.fake.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, out.SessionID, reqs[0].SessionID)
	assert.Equal(t, int64(10000), reqs[0].Amount)
	assert.Equal(t, "usd", reqs[0].Currency)

	assert.Equal(t, []model.AuditAction{model.AuditActionCheckoutStarted}, h.audit.Actions())
	assert.Equal(t, 1, h.metrics.Sessions["fake/ok"])
}

func TestCreateCheckoutSession_WithCoupon(t *testing.T) {
	h := newHarness(t)
	h.seedCart()
	h.store.SeedCoupon(model.Coupon{
		Code:         "SAVE10",
		DiscountType: model.DiscountPercent,
		PercentOff:   decimal.NewFromInt(10),
		IsActive:     true,
	})

	out, err := h.checkout.CreateCheckoutSession(context.Background(), testUserID, CreateCheckoutInput{
		Provider:   "fake",
		CouponCode: " save10 ",
	})
	require.NoError(t, err)

	s, _ := h.store.Session(out.SessionID)
	assert.Equal(t, int64(1000), s.Discount)
	assert.Equal(t, int64(9000), s.Amount)
	require.NotNil(t, s.CouponCode)
	assert.Equal(t, "SAVE10", *s.CouponCode)
}

func TestCreateCheckoutSession_ValidationErrors(t *testing.T) {
	t.Run("no user", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.checkout.CreateCheckoutSession(context.Background(), 0, CreateCheckoutInput{Provider: "fake"})
		requireKind(t, err, ErrValidation, http.StatusBadRequest)
	})

	t.Run("unknown provider", func(t *testing.T) {
		h := newHarness(t)
		h.seedCart()
		_, err := h.checkout.CreateCheckoutSession(context.Background(), testUserID, CreateCheckoutInput{Provider: "paypal"})
		requireKind(t, err, ErrValidation, http.StatusBadRequest)
	})

	t.Run("no cart", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.checkout.CreateCheckoutSession(context.Background(), testUserID, CreateCheckoutInput{Provider: "fake"})
		requireKind(t, err, ErrValidation, http.StatusBadRequest)
	})

	t.Run("empty cart", func(t *testing.T) {
		h := newHarness(t)
		cart := h.store.SeedCart(testUserID)
		_, err := h.checkout.CreateCheckoutSession(context.Background(), testUserID, CreateCheckoutInput{Provider: "fake"})
		requireKind(t, err, ErrValidation, http.StatusBadRequest)

		c, _ := h.store.Cart(cart.ID)
		assert.Equal(t, model.CartStatusOpen, c.Status)
	})

	t.Run("unknown coupon", func(t *testing.T) {
		h := newHarness(t)
		cart := h.seedCart()
		_, err := h.checkout.CreateCheckoutSession(context.Background(), testUserID, CreateCheckoutInput{Provider: "fake", CouponCode: "NOPE"})
		requireKind(t, err, ErrValidation, http.StatusBadRequest)

		c, _ := h.store.Cart(cart.ID)
		assert.Equal(t, model.CartStatusOpen, c.Status)
		assert.Empty(t, h.fake.Requests())
	})
}

func TestCreateCheckoutSession_ConflictWhilePending(t *testing.T) {
	h := newHarness(t)
	h.seedCart()
	first := h.startCheckout(t)

	h.clock.Advance(5 * time.Minute)
	_, err := h.checkout.CreateCheckoutSession(context.Background(), testUserID, CreateCheckoutInput{Provider: "fake"})
	requireKind(t, err, ErrConflict, http.StatusConflict)

	assert.Equal(t, 1, h.store.Counts().Sessions)
	s, _ := h.store.Session(first.SessionID)
	assert.Equal(t, model.CheckoutSessionPending, s.Status)
	assert.Equal(t, 1, h.metrics.Sessions["fake/conflict"])
}

func TestCreateCheckoutSession_ConcurrentRequestsOneWins(t *testing.T) {
	h := newHarness(t)
	h.seedCart()

	const n = 8
	var wg sync.WaitGroup
	start := make(chan struct{})
	results := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, results[i] = h.checkout.CreateCheckoutSession(context.Background(), testUserID, CreateCheckoutInput{Provider: "fake"})
		}(i)
	}
	close(start)
	wg.Wait()

	ok, conflicts := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, conflicts)
	assert.Equal(t, 1, h.store.Counts().Sessions)
	assert.Len(t, h.fake.Requests(), 1)
}

func TestCreateCheckoutSession_StaleClaimIsRetaken(t *testing.T) {
	h := newHarness(t)
	cart := h.seedCart()
	first := h.startCheckout(t)

	h.clock.Advance(31 * time.Minute)
	second := h.startCheckout(t)
	require.NotEqual(t, first.SessionID, second.SessionID)

	old, _ := h.store.Session(first.SessionID)
	assert.Equal(t, model.CheckoutSessionExpired, old.Status)
	cur, _ := h.store.Session(second.SessionID)
	assert.Equal(t, model.CheckoutSessionPending, cur.Status)

	pending := 0
	for _, s := range h.store.SessionList() {
		if s.CartID == cart.ID && !s.Status.IsTerminal() {
			pending++
		}
	}
	assert.Equal(t, 1, pending)
}

func TestCreateCheckoutSession_ProviderUnavailable(t *testing.T) {
	h := newHarness(t)
	cart := h.seedCart()
	h.fake.CreateErr = fmt.Errorf("%w: fake: status 503", provider.ErrUnavailable)

	_, err := h.checkout.CreateCheckoutSession(context.Background(), testUserID, CreateCheckoutInput{Provider: "fake"})
	requireKind(t, err, ErrProviderUnavailable, http.StatusBadGateway)
	assert.ErrorIs(t, err, provider.ErrUnavailable)

	c, _ := h.store.Cart(cart.ID)
	assert.Equal(t, model.CartStatusOpen, c.Status)
	assert.Nil(t, c.PendingSince)
	assert.Equal(t, 0, h.store.Counts().Sessions)
	assert.Equal(t, []model.AuditAction{model.AuditActionCheckoutFailed}, h.audit.Actions())
	assert.Equal(t, 1, h.metrics.Sessions["fake/unavailable"])

	// カートは戻っているので再試行できる
	h.fake.CreateErr = nil
	h.startCheckout(t)
}

func TestCreateCheckoutSession_ProviderRejected(t *testing.T) {
	h := newHarness(t)
	cart := h.seedCart()
	h.fake.CreateErr = fmt.Errorf("%w: fake status 400", provider.ErrRejected)

	_, err := h.checkout.CreateCheckoutSession(context.Background(), testUserID, CreateCheckoutInput{Provider: "fake"})
	requireKind(t, err, ErrValidation, http.StatusBadRequest)

	c, _ := h.store.Cart(cart.ID)
	assert.Equal(t, model.CartStatusOpen, c.Status)
}

func TestCreateCheckoutSession_PersistFailureReleasesCart(t *testing.T) {
	h := newHarness(t)
	cart := h.seedCart()
	h.store.FailOn("CheckoutSessions.Create", errors.New("connection reset"))

	_, err := h.checkout.CreateCheckoutSession(context.Background(), testUserID, CreateCheckoutInput{Provider: "fake"})
	requireKind(t, err, ErrInternal, http.StatusInternalServerError)

	c, _ := h.store.Cart(cart.ID)
	assert.Equal(t, model.CartStatusOpen, c.Status)
	assert.Equal(t, 0, h.store.Counts().Sessions)
	assert.Equal(t, []model.AuditAction{model.AuditActionCheckoutFailed}, h.audit.Actions())
}

// カート確保のあと、プロバイダ呼び出しの前に切断された
type cancelingIDs struct {
	cancel context.CancelFunc
	ids    testutil.SeqIDs
}

func (g *cancelingIDs) NewID() string {
	g.cancel()
	return g.ids.NewID()
}

func TestCreateCheckoutSession_CanceledBeforeProviderCall(t *testing.T) {
	h := newHarness(t)
	cart := h.seedCart()

	ctx, cancel := context.WithCancel(context.Background())
	h.checkout.ids = &cancelingIDs{cancel: cancel}

	_, err := h.checkout.CreateCheckoutSession(ctx, testUserID, CreateCheckoutInput{Provider: "fake"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Empty(t, h.fake.Requests())
	c, _ := h.store.Cart(cart.ID)
	assert.Equal(t, model.CartStatusOpen, c.Status)
	assert.Equal(t, 0, h.store.Counts().Sessions)
}

func TestCreateCheckoutSession_CanceledDuringProviderCall(t *testing.T) {
	h := newHarness(t)
	cart := h.seedCart()

	ctx, cancel := context.WithCancel(context.Background())
	var callErr error
	h.fake.OnCreate = func(callCtx context.Context, _ provider.SessionRequest) {
		cancel()
		callErr = callCtx.Err()
	}

	out, err := h.checkout.CreateCheckoutSession(ctx, testUserID, CreateCheckoutInput{Provider: "fake"})
	require.NoError(t, err)
	assert.NoError(t, callErr)

	// 外部セッションと対になるローカルのセッションが残る
	require.Len(t, h.fake.Requests(), 1)
	s, ok := h.store.Session(out.SessionID)
	require.True(t, ok)
	assert.Equal(t, model.CheckoutSessionPending, s.Status)
	assert.Equal(t, testutil.RefFor(out.SessionID), s.ExternalRef)
	c, _ := h.store.Cart(cart.ID)
	assert.Equal(t, model.CartStatusCheckoutPending, c.Status)
}

func TestCreateCheckoutSession_CanceledBeforeClaim(t *testing.T) {
	h := newHarness(t)
	cart := h.seedCart()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.checkout.CreateCheckoutSession(ctx, testUserID, CreateCheckoutInput{Provider: "fake"})
	require.Error(t, err)

	c, _ := h.store.Cart(cart.ID)
	assert.Equal(t, model.CartStatusOpen, c.Status)
	assert.Empty(t, h.fake.Requests())
}

func TestGetCheckoutSession(t *testing.T) {
	h := newHarness(t)
	h.seedCart()
	out := h.startCheckout(t)

	got, err := h.checkout.GetCheckoutSession(context.Background(), testUserID, out.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "PENDING", got.Status)
	assert.Equal(t, int64(10000), got.Amount)
	assert.Equal(t, "fake", got.Provider)

	_, err = h.checkout.GetCheckoutSession(context.Background(), testUserID+1, out.SessionID)
	requireKind(t, err, ErrNotFound, http.StatusNotFound)

	_, err = h.checkout.GetCheckoutSession(context.Background(), testUserID, "missing")
	requireKind(t, err, ErrNotFound, http.StatusNotFound)

	h.clock.Advance(45 * time.Minute)
	got, err = h.checkout.GetCheckoutSession(context.Background(), testUserID, out.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "EXPIRED", got.Status)
}

func TestGetCheckoutSession_MalformedIDSkipsLookup(t *testing.T) {
	h := newHarness(t)
	h.store.FailOn("CheckoutSessions.FindByID", errors.New("invalid input syntax for type uuid"))

	for _, id := range []string{"abc", "123", "00000000-0000-0000-0000"} {
		_, err := h.checkout.GetCheckoutSession(context.Background(), testUserID, id)
		requireKind(t, err, ErrNotFound, http.StatusNotFound)
	}
}
