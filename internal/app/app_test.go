package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"ec-checkout/internal/audit"
	"ec-checkout/internal/config"
	"ec-checkout/internal/domain/model"
	"ec-checkout/internal/metrics"
	"ec-checkout/internal/provider/card"
	"ec-checkout/internal/provider/mobilemoney"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestMetrics() *metrics.Metrics {
	reg := prometheus.NewRegistry()
	return metrics.New(reg, reg)
}

func TestBuildProviders_RegistersOnlyConfigured(t *testing.T) {
	cfg := config.Config{
		ProviderTimeout: time.Second,
		Stripe: config.StripeConfig{
			APIBase:       "https://api.stripe.test",
			SecretKey:     "sk_test",
			WebhookSecret: "whsec_test",
		},
	}

	reg, err := buildProviders(cfg, newTestMetrics())
	require.NoError(t, err)

	_, ok := reg.Get(card.Name)
	assert.True(t, ok)
	_, ok = reg.Get(mobilemoney.Name)
	assert.False(t, ok)
}

func TestBuildProviders_Both(t *testing.T) {
	cfg := config.Config{
		Stripe: config.StripeConfig{SecretKey: "sk_test", WebhookSecret: "whsec_test"},
		MobileMoney: config.MobileMoneyConfig{
			APIBase:       "https://mm.test",
			APIKey:        "key",
			WebhookSecret: "mm_secret",
			MNOs:          []string{"mtn"},
		},
	}

	reg, err := buildProviders(cfg, newTestMetrics())
	require.NoError(t, err)

	_, ok := reg.Get(card.Name)
	assert.True(t, ok)
	_, ok = reg.Get(mobilemoney.Name)
	assert.True(t, ok)
}

func TestBuildProviders_NoneConfigured(t *testing.T) {
	_, err := buildProviders(config.Config{}, newTestMetrics())
	assert.Error(t, err)
}

type countingSink struct {
	mu sync.Mutex
	n  int
}

func (s *countingSink) Name() string { return "count" }

func (s *countingSink) Write(_ context.Context, _ model.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return nil
}

func (s *countingSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

// シャットダウン中（Close前）のEmitも送り切る
func TestApp_CloseDeliversEventsEmittedBeforeClose(t *testing.T) {
	sink := &countingSink{}
	dropped := 0
	a := &App{Audit: audit.NewDispatcher(8, zaptest.NewLogger(t), func() { dropped++ }, sink)}

	a.Start()
	a.Audit.Emit(model.AuditLog{Action: model.AuditActionOrderCreated, CheckoutSessionID: "s-1"})
	a.Audit.Emit(model.AuditLog{Action: model.AuditActionSessionExpired, CheckoutSessionID: "s-2"})

	require.NoError(t, a.Close())
	assert.Equal(t, 2, sink.Len())
	assert.Equal(t, 0, dropped)

	a.Audit.Emit(model.AuditLog{Action: model.AuditActionOrderCreated, CheckoutSessionID: "s-3"})
	assert.Equal(t, 1, dropped)
}
