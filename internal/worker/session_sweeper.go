package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const sweepBatch = 100

// usecase.SessionExpiryUsecase が実装
type SessionExpirer interface {
	ExpireStale(ctx context.Context, limit int) (int, error)
}

// 期限切れのPENDINGセッションを定期的にEXPIREDにする
type SessionSweeper struct {
	expirer  SessionExpirer
	interval time.Duration
	log      *zap.Logger
}

func NewSessionSweeper(expirer SessionExpirer, interval time.Duration, log *zap.Logger) *SessionSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionSweeper{expirer: expirer, interval: interval, log: log}
}

func (s *SessionSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// 1バッチ埋まったら続けて次を取る
func (s *SessionSweeper) sweep(ctx context.Context) {
	for ctx.Err() == nil {
		n, err := s.expirer.ExpireStale(ctx, sweepBatch)
		if err != nil {
			s.log.Warn("session sweep failed", zap.Error(err))
			return
		}
		if n > 0 {
			s.log.Info("expired stale checkout sessions", zap.Int("count", n))
		}
		if n < sweepBatch {
			return
		}
	}
}
