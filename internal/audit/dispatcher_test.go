package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ec-checkout/internal/domain/model"
	"ec-checkout/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// ===== test sink =====

type recordingSink struct {
	mu      sync.Mutex
	name    string
	err     error
	entries []model.AuditLog
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Write(_ context.Context, entry model.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *recordingSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// ===== tests =====

func TestDispatcher_DeliversToAllSinks(t *testing.T) {
	store := testutil.NewStore()
	mirror := &recordingSink{name: "mirror"}
	d := NewDispatcher(8, zaptest.NewLogger(t), nil, NewDBSink(store.AuditLogs()), mirror)

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)

	d.Emit(model.AuditLog{Action: model.AuditActionCheckoutStarted, CheckoutSessionID: "s-1", CartID: 3})
	d.Emit(model.AuditLog{Action: model.AuditActionOrderCreated, CheckoutSessionID: "s-1", CartID: 3})

	require.Eventually(t, func() bool { return mirror.Len() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-d.Done()

	logs := store.AuditLogList()
	require.Len(t, logs, 2)
	assert.Equal(t, model.AuditActionCheckoutStarted, logs[0].Action)
	assert.Equal(t, model.AuditActionOrderCreated, logs[1].Action)
}

func TestDispatcher_EmitDropsWhenFull(t *testing.T) {
	dropped := 0
	sink := &recordingSink{name: "mirror"}
	d := NewDispatcher(1, zaptest.NewLogger(t), func() { dropped++ }, sink)

	// Run前なのでバッファ1件で溢れる
	d.Emit(model.AuditLog{Action: model.AuditActionCheckoutStarted})
	d.Emit(model.AuditLog{Action: model.AuditActionCheckoutFailed})
	d.Emit(model.AuditLog{Action: model.AuditActionCheckoutFailed})
	assert.Equal(t, 2, dropped)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Run(ctx)

	// 停止時にバッファの残りは送り切る
	require.Equal(t, 1, sink.Len())
	assert.Equal(t, model.AuditActionCheckoutStarted, sink.entries[0].Action)
}

func TestDispatcher_SinkFailureDoesNotBlockOthers(t *testing.T) {
	broken := &recordingSink{name: "kafka", err: errors.New("broker down")}
	ok := &recordingSink{name: "db"}
	d := NewDispatcher(4, zaptest.NewLogger(t), nil, broken, ok)

	d.Emit(model.AuditLog{Action: model.AuditActionPaymentFailed, CheckoutSessionID: "s-9"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Run(ctx)

	assert.Equal(t, 0, broken.Len())
	assert.Equal(t, 1, ok.Len())
}

func TestDBSink_WriteError(t *testing.T) {
	store := testutil.NewStore()
	store.FailOn("AuditLogs.Create", errors.New("db down"))

	err := NewDBSink(store.AuditLogs()).Write(context.Background(), model.AuditLog{Action: model.AuditActionSessionExpired})
	assert.Error(t, err)
	assert.Empty(t, store.AuditLogList())
}

func TestDispatcher_EmitAfterStopIsDropped(t *testing.T) {
	dropped := 0
	sink := &recordingSink{name: "mirror"}
	d := NewDispatcher(8, zaptest.NewLogger(t), func() { dropped++ }, sink)

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	cancel()
	<-d.Done()

	d.Emit(model.AuditLog{Action: model.AuditActionOrderCreated, CheckoutSessionID: "s-late"})

	assert.Equal(t, 1, dropped)
	assert.Equal(t, 0, sink.Len())
}
