package main

import (
	"context"
	"os/signal"
	"syscall"

	"ec-checkout/internal/app"
	"ec-checkout/internal/config"
	"ec-checkout/internal/handler"
	"ec-checkout/internal/server"
	"ec-checkout/internal/worker"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	//.envは無ければ環境変数のみ
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	var log *zap.Logger
	if cfg.IsDev() {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	//DB接続〜Usecase生成
	a, err := app.New(cfg, log, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	if err != nil {
		log.Fatal("build app", zap.Error(err))
	}
	if err := a.Migrate(ctx); err != nil {
		log.Fatal("migrate", zap.Error(err))
	}

	sqlDB, err := a.DB.DB()
	if err != nil {
		log.Fatal("database handle", zap.Error(err))
	}

	//バックグラウンド（監査の配送 / 期限切れセッションの掃除）
	a.Start()
	sweeper := worker.NewSessionSweeper(a.Expiry, cfg.SweepInterval, log)
	sweepDone := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(sweepDone)
	}()

	//Handler生成
	checkoutH := handler.NewCheckoutHandler(a.Checkout)
	webhookH := handler.NewWebhookHandler(a.Webhooks, a.Providers)
	cartH := handler.NewCartHandler(a.Carts)
	orderH := handler.NewOrderHandler(a.Orders)
	healthH := handler.NewHealthHandler(sqlDB, a.Metrics.Handler())

	e := server.New(log, a.Metrics,
		server.RouteRegistrarFunc(func(e *echo.Echo) {
			checkoutH.RegisterRoutes(e, cfg)
			cartH.RegisterRoutes(e, cfg)
			orderH.RegisterRoutes(e, cfg)
		}),
		webhookH,
		healthH,
	)

	log.Info("checkout service starting",
		zap.Strings("providers", a.Providers.Names()),
		zap.String("currency", cfg.Currency),
	)

	//Server起動（シグナルで停止）
	if err := server.Run(ctx, e, cfg.Addr(), log); err != nil {
		log.Error("http server", zap.Error(err))
	}
	stop()

	//サーバーとスイーパーが止まってから監査を送り切る
	<-sweepDone
	if err := a.Close(); err != nil {
		log.Warn("shutdown", zap.Error(err))
	}
	log.Info("checkout service stopped")
}
