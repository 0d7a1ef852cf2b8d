package audit

import (
	"context"
	"sync"
	"time"

	"ec-checkout/internal/domain/model"

	"go.uber.org/zap"
)

const (
	defaultBuffer = 1024
	drainTimeout  = 5 * time.Second
)

// 監査イベントの書き込み先（DB / Kafka）
type Sink interface {
	Name() string
	Write(ctx context.Context, entry model.AuditLog) error
}

// 監査イベントをリクエスト経路から切り離して非同期に配送する。
// Emitはブロックしない。バッファが溢れたら捨てて記録する。
type Dispatcher struct {
	ch     chan model.AuditLog
	sinks  []Sink
	log    *zap.Logger
	onDrop func()
	done   chan struct{}

	// Run終了後のEmitは読み手がいないので捨てる
	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(buffer int, log *zap.Logger, onDrop func(), sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if log == nil {
		log = zap.NewNop()
	}
	if onDrop == nil {
		onDrop = func() {}
	}
	return &Dispatcher{
		ch:     make(chan model.AuditLog, buffer),
		sinks:  sinks,
		log:    log,
		onDrop: onDrop,
		done:   make(chan struct{}),
	}
}

func (d *Dispatcher) Emit(entry model.AuditLog) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(entry, "audit dispatcher stopped, event dropped")
		return
	}
	select {
	case d.ch <- entry:
	default:
		d.drop(entry, "audit buffer full, event dropped")
	}
}

func (d *Dispatcher) drop(entry model.AuditLog, msg string) {
	d.onDrop()
	d.log.Warn(msg,
		zap.String("action", string(entry.Action)),
		zap.String("session_id", entry.CheckoutSessionID),
		zap.Int64("cart_id", entry.CartID),
	)
}

// ctxが終わるまで配送する。終了時はバッファに残った分を送り切ってから戻る。
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case entry := <-d.ch:
			d.deliver(ctx, entry)
		case <-ctx.Done():
			d.mu.Lock()
			d.closed = true
			d.mu.Unlock()
			d.drain(context.WithoutCancel(ctx))
			return
		}
	}
}

// Runが戻るまで待つ
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *Dispatcher) drain(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()
	for {
		select {
		case entry := <-d.ch:
			d.deliver(ctx, entry)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, entry model.AuditLog) {
	for _, s := range d.sinks {
		if err := s.Write(ctx, entry); err != nil {
			d.log.Warn("audit sink write failed",
				zap.String("sink", s.Name()),
				zap.String("action", string(entry.Action)),
				zap.String("session_id", entry.CheckoutSessionID),
				zap.Error(err),
			)
		}
	}
}
