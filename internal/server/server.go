package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"ec-checkout/internal/middleware"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// ルート登録（各Handlerが自分で登録する）
type RouteRegistrar interface {
	RegisterRoutes(e *echo.Echo)
}

type RouteRegistrarFunc func(e *echo.Echo)

func (f RouteRegistrarFunc) RegisterRoutes(e *echo.Echo) { f(e) }

// 共通ミドルウェアを載せたechoを作る
func New(log *zap.Logger, obs middleware.HTTPObserver, routes ...RouteRegistrar) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(log))
	if obs != nil {
		e.Use(middleware.Metrics(obs))
	}

	for _, r := range routes {
		r.RegisterRoutes(e)
	}
	return e
}

// ctxが終わるまで待ち受け、終わったら処理中のリクエストを待ってから止める
func Run(ctx context.Context, e *echo.Echo, addr string, log *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", addr))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("http server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
