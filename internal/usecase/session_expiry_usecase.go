package usecase

import (
	"context"

	"ec-checkout/internal/domain/model"
	repo "ec-checkout/internal/repository"

	"go.uber.org/zap"
)

// 期限切れPENDINGセッションの後始末（EXPIREDにしてカートをOPENへ）
type SessionExpiryUsecase struct {
	tx       repo.TransactionManager
	sessions repo.CheckoutSessionRepository
	audit    AuditEmitter
	metrics  Recorder
	clock    Clock
	log      *zap.Logger
}

func NewSessionExpiryUsecase(tx repo.TransactionManager, sessions repo.CheckoutSessionRepository, audit AuditEmitter, metrics Recorder, clock Clock, log *zap.Logger) *SessionExpiryUsecase {
	if audit == nil {
		audit = nopEmitter{}
	}
	if metrics == nil {
		metrics = nopRecorder{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionExpiryUsecase{tx: tx, sessions: sessions, audit: audit, metrics: metrics, clock: clock, log: log}
}

// 失効させた件数を返す
func (u *SessionExpiryUsecase) ExpireStale(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	now := u.clock.Now()

	stale, err := u.sessions.ListExpiredPending(ctx, now, limit)
	if err != nil {
		return 0, internalError("db error", err)
	}

	expired := 0
	for _, s := range stale {
		if err := ctx.Err(); err != nil {
			return expired, err
		}

		log := u.log.With(zap.String("session_id", s.ID), zap.Int64("cart_id", s.CartID), zap.String("provider", s.Provider))

		moved := false
		err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
			ok, err := r.CheckoutSessions().TransitionStatus(ctx, s.ID, model.CheckoutSessionPending, model.CheckoutSessionExpired, now)
			if err != nil {
				return err
			}
			if !ok {
				// Webhookが先に確定させた
				return nil
			}
			moved = true
			if _, err := r.Carts().TransitionStatus(ctx, s.CartID, model.CartStatusCheckoutPending, model.CartStatusOpen); err != nil {
				return err
			}
			return nil
		})
		if err != nil {
			log.Error("expire session failed", zap.Error(err))
			continue
		}
		if !moved {
			continue
		}

		expired++
		u.audit.Emit(model.AuditLog{
			Action:            model.AuditActionSessionExpired,
			UserID:            s.UserID,
			CartID:            s.CartID,
			CheckoutSessionID: s.ID,
			AttributesJSON:    auditAttrs(map[string]interface{}{"provider": s.Provider, "expires_at": s.ExpiresAt}),
			CreatedAt:         now,
		})
		log.Info("checkout session expired")
	}

	if expired > 0 {
		u.metrics.SessionsExpired(expired)
	}
	return expired, nil
}
