package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ec-checkout/internal/audit"
	"ec-checkout/internal/config"
	"ec-checkout/internal/infra/cache"
	"ec-checkout/internal/infra/db"
	"ec-checkout/internal/infra/kafka"
	infraRepo "ec-checkout/internal/infra/repository"
	"ec-checkout/internal/metrics"
	"ec-checkout/internal/provider"
	"ec-checkout/internal/provider/card"
	"ec-checkout/internal/provider/mobilemoney"
	repo "ec-checkout/internal/repository"
	"ec-checkout/internal/usecase"
	"ec-checkout/internal/validator"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type uuidGenerator struct{}

func (g *uuidGenerator) NewID() string {
	return uuid.NewString()
}

type realClock struct{}

func (c *realClock) Now() time.Time {
	return time.Now()
}

// APIサーバーとCLIで共有する組み立て済みの部品
type App struct {
	Config    config.Config
	Log       *zap.Logger
	DB        *gorm.DB
	Metrics   *metrics.Metrics
	Providers *provider.Registry
	Audit     *audit.Dispatcher
	AuditLogs repo.AuditLogRepository

	Checkout *usecase.CheckoutUsecase
	Webhooks *usecase.WebhookUsecase
	Expiry   *usecase.SessionExpiryUsecase
	Carts    *usecase.CartUsecase
	Orders   *usecase.OrderUsecase

	stopAudit context.CancelFunc
	closers   []func() error
}

// DB接続からUsecaseまでを組み立てる（マイグレーションは呼び出し側）
func New(cfg config.Config, log *zap.Logger, reg prometheus.Registerer, gatherer prometheus.Gatherer) (*App, error) {
	gormDB, err := db.Open(db.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return NewWithDB(cfg, log, gormDB, reg, gatherer)
}

func NewWithDB(cfg config.Config, log *zap.Logger, gormDB *gorm.DB, reg prometheus.Registerer, gatherer prometheus.Gatherer) (*App, error) {
	a := &App{Config: cfg, Log: log, DB: gormDB}
	a.closers = append(a.closers, func() error {
		sqlDB, err := gormDB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})

	a.Metrics = metrics.New(reg, gatherer)
	repos := infraRepo.NewRepos(gormDB)
	a.AuditLogs = repos.AuditLogs

	providers, err := buildProviders(cfg, a.Metrics)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Providers = providers

	//クーポン（REDIS_ADDRがあればキャッシュを挟む）
	var coupons repo.CouponRepository = repos.Coupons
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.closers = append(a.closers, rdb.Close)
		coupons = cache.NewCouponCache(rdb, repos.Coupons, cfg.CouponCacheTTL, log)
		log.Info("coupon cache enabled", zap.String("redis_addr", cfg.RedisAddr))
	}

	//監査（DBは常に、Kafkaはブローカー指定時のみ）
	sinks := []audit.Sink{audit.NewDBSink(repos.AuditLogs)}
	if w := kafka.NewAuditWriter(cfg.KafkaBrokers, cfg.AuditTopic); w != nil {
		pub := kafka.NewAuditPublisher(w)
		a.closers = append(a.closers, pub.Close)
		sinks = append(sinks, pub)
		log.Info("kafka audit publisher enabled", zap.String("topic", cfg.AuditTopic))
	}
	a.Audit = audit.NewDispatcher(cfg.AuditBuffer, log, a.Metrics.AuditDropped, sinks...)

	clock := &realClock{}

	a.Checkout = usecase.NewCheckoutUsecase(usecase.CheckoutDeps{
		Tx:        repos.Tx,
		Carts:     repos.Carts,
		CartItems: repos.Carts,
		Sessions:  repos.Sessions,
		Coupons:   usecase.NewCouponResolver(coupons, log),
		Providers: providers,
		Validator: validator.NewCheckoutValidator(providers),
		Audit:     a.Audit,
		Metrics:   a.Metrics,
		IDs:       &uuidGenerator{},
		Clock:     clock,
		Log:       log,
	}, usecase.CheckoutConfig{
		Currency:   cfg.Currency,
		SessionTTL: cfg.SessionTTL,
		SuccessURL: cfg.SuccessURL,
		CancelURL:  cfg.CancelURL,
	})

	a.Webhooks = usecase.NewWebhookUsecase(usecase.WebhookDeps{
		Tx:          repos.Tx,
		Sessions:    repos.Sessions,
		Events:      repos.PaymentEvents,
		Providers:   providers,
		Fulfillment: usecase.NewFulfillmentWriter(clock, log),
		Audit:       a.Audit,
		Metrics:     a.Metrics,
		Clock:       clock,
		Log:         log,
	})

	a.Expiry = usecase.NewSessionExpiryUsecase(repos.Tx, repos.Sessions, a.Audit, a.Metrics, clock, log)
	a.Carts = usecase.NewCartUsecase(repos.Carts, repos.Carts)
	a.Orders = usecase.NewOrderUsecase(repos.Tx)

	return a, nil
}

// 秘密鍵が設定されたプロバイダだけ登録する
func buildProviders(cfg config.Config, m *metrics.Metrics) (*provider.Registry, error) {
	var adapters []provider.Adapter

	if cfg.Stripe.Enabled() {
		t := provider.NewTransport(provider.TransportConfig{
			Name:     card.Name,
			Timeout:  cfg.ProviderTimeout,
			Observer: m.ObserveProviderCall,
		})
		adapters = append(adapters, card.New(card.Config{
			APIBase:       cfg.Stripe.APIBase,
			SecretKey:     cfg.Stripe.SecretKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,

			ShippingCountries: cfg.Stripe.ShippingCountries,
		}, t))
	}

	if cfg.MobileMoney.Enabled() {
		t := provider.NewTransport(provider.TransportConfig{
			Name:     mobilemoney.Name,
			Timeout:  cfg.ProviderTimeout,
			Observer: m.ObserveProviderCall,
		})
		adapters = append(adapters, mobilemoney.New(mobilemoney.Config{
			APIBase:       cfg.MobileMoney.APIBase,
			APIKey:        cfg.MobileMoney.APIKey,
			WebhookSecret: cfg.MobileMoney.WebhookSecret,
			MNOs:          cfg.MobileMoney.MNOs,
			StatusURL:     cfg.MobileMoney.StatusURL,
			CallbackURL:   cfg.MobileMoney.CallbackURL,
		}, t))
	}

	if len(adapters) == 0 {
		return nil, errors.New("no payment provider configured")
	}
	return provider.NewRegistry(adapters...), nil
}

// 監査の配送を始める。シグナルとは切り離し、Closeで止めて残りを送り切る
func (a *App) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.stopAudit = cancel
	go a.Audit.Run(ctx)
}

func (a *App) Migrate(ctx context.Context) error {
	return db.Migrate(ctx, a.DB)
}

// HTTPサーバーとワーカーが止まってから呼ぶ（それまでのEmitは配送される）
func (a *App) Close() error {
	if a.stopAudit != nil {
		a.stopAudit()
		<-a.Audit.Done()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
