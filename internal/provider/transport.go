package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxResponseBytes = 1 << 20

// プロバイダ呼び出しの計測フック（result: ok / rejected / error / open）
type CallObserver func(provider string, result string, d time.Duration)

type TransportConfig struct {
	Name        string
	Timeout     time.Duration
	MaxFailures uint32
	OpenTimeout time.Duration
	Observer    CallObserver
	// テスト用（nilならotelhttpでラップしたDefaultTransport）
	RoundTripper http.RoundTripper
}

type Response struct {
	StatusCode int
	Body       []byte
}

// 外向きHTTP（タイムアウト + サーキットブレーカー + トレース）
type Transport struct {
	name    string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[Response]
	observe CallObserver
}

func NewTransport(cfg TransportConfig) *Transport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	rt := cfg.RoundTripper
	if rt == nil {
		rt = otelhttp.NewTransport(http.DefaultTransport)
	}
	observe := cfg.Observer
	if observe == nil {
		observe = func(string, string, time.Duration) {}
	}

	maxFailures := cfg.MaxFailures
	breaker := gobreaker.NewCircuitBreaker[Response](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= maxFailures
		},
		//呼び出し元のキャンセルはプロバイダ障害として数えない
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &Transport{
		name:    cfg.Name,
		client:  &http.Client{Timeout: cfg.Timeout, Transport: rt},
		breaker: breaker,
		observe: observe,
	}
}

// 5xx/429はエラー扱い。それ以外の4xxはResponseのまま返す（判断はAdapter）。
func (t *Transport) Do(req *http.Request) (Response, error) {
	start := time.Now()

	resp, err := t.breaker.Execute(func() (Response, error) {
		r, err := t.client.Do(req)
		if err != nil {
			return Response{}, err
		}
		defer r.Body.Close()

		body, err := io.ReadAll(io.LimitReader(r.Body, maxResponseBytes))
		if err != nil {
			return Response{}, err
		}
		out := Response{StatusCode: r.StatusCode, Body: body}
		if r.StatusCode >= http.StatusInternalServerError || r.StatusCode == http.StatusTooManyRequests {
			return out, fmt.Errorf("status %d", r.StatusCode)
		}
		return out, nil
	})

	elapsed := time.Since(start)
	switch {
	case err == nil && resp.StatusCode >= 400:
		t.observe(t.name, "rejected", elapsed)
	case err == nil:
		t.observe(t.name, "ok", elapsed)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		t.observe(t.name, "open", elapsed)
	default:
		t.observe(t.name, "error", elapsed)
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return resp, err
		}
		return resp, fmt.Errorf("%w: %s: %v", ErrUnavailable, t.name, err)
	}
	return resp, nil
}
