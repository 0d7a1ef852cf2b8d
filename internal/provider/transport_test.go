package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type observed struct {
	mu      sync.Mutex
	results []string
}

func (o *observed) fn(_ string, result string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, result)
}

func newRequest(t *testing.T, ctx context.Context, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader("{}"))
	require.NoError(t, err)
	return req
}

func TestTransport_Do_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"cs_1"}`))
	}))
	defer srv.Close()

	obs := &observed{}
	tr := NewTransport(TransportConfig{Name: "test", Observer: obs.fn, RoundTripper: http.DefaultTransport})

	resp, err := tr.Do(newRequest(t, context.Background(), srv.URL))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"id":"cs_1"}`, string(resp.Body))
	assert.Equal(t, []string{"ok"}, obs.results)
}

func TestTransport_Do_ClientErrorIsNotFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	obs := &observed{}
	tr := NewTransport(TransportConfig{Name: "test", MaxFailures: 1, Observer: obs.fn, RoundTripper: http.DefaultTransport})

	for i := 0; i < 3; i++ {
		resp, err := tr.Do(newRequest(t, context.Background(), srv.URL))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}
	assert.Equal(t, []string{"rejected", "rejected", "rejected"}, obs.results)
}

func TestTransport_Do_ServerErrorOpensBreaker(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	obs := &observed{}
	tr := NewTransport(TransportConfig{
		Name:         "test",
		MaxFailures:  2,
		OpenTimeout:  time.Minute,
		Observer:     obs.fn,
		RoundTripper: http.DefaultTransport,
	})

	for i := 0; i < 2; i++ {
		_, err := tr.Do(newRequest(t, context.Background(), srv.URL))
		assert.ErrorIs(t, err, ErrUnavailable)
	}

	// 開いたら呼ばない
	_, err := tr.Do(newRequest(t, context.Background(), srv.URL))
	assert.ErrorIs(t, err, ErrUnavailable)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, calls)
	assert.Equal(t, []string{"error", "error", "open"}, obs.results)
}

func TestTransport_Do_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	tr := NewTransport(TransportConfig{Name: "test", Timeout: 50 * time.Millisecond, RoundTripper: http.DefaultTransport})

	_, err := tr.Do(newRequest(t, context.Background(), srv.URL))
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestTransport_Do_CanceledIsPassedThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := NewTransport(TransportConfig{Name: "test", MaxFailures: 1, RoundTripper: http.DefaultTransport})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tr.Do(newRequest(t, ctx, srv.URL))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrUnavailable)

	// キャンセルは失敗に数えない
	resp, err := tr.Do(newRequest(t, context.Background(), srv.URL))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
