package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"ec-checkout/internal/domain/model"
	repo "ec-checkout/internal/repository"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrCacheMiss = errors.New("cache miss")

const defaultCouponTTL = 5 * time.Minute

// CouponRepositoryの読み取りをRedisでキャッシュする。
// Redisが落ちていてもDBにフォールバックする。
type CouponCache struct {
	client  *redis.Client
	inner   repo.CouponRepository
	baseTTL time.Duration
	log     *zap.Logger
}

func NewCouponCache(client *redis.Client, inner repo.CouponRepository, ttl time.Duration, log *zap.Logger) *CouponCache {
	if ttl <= 0 {
		ttl = defaultCouponTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CouponCache{client: client, inner: inner, baseTTL: ttl, log: log}
}

func (c *CouponCache) FindByCode(ctx context.Context, code string) (model.Coupon, error) {
	cp, err := c.get(ctx, code)
	if err == nil {
		return cp, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		c.log.Warn("coupon cache read failed", zap.String("code", code), zap.Error(err))
	}

	cp, err = c.inner.FindByCode(ctx, code)
	if err != nil {
		return model.Coupon{}, err
	}
	if err := c.set(ctx, cp); err != nil {
		c.log.Warn("coupon cache write failed", zap.String("code", code), zap.Error(err))
	}
	return cp, nil
}

// 管理側でクーポンを変更したときに呼ぶ
func (c *CouponCache) Invalidate(ctx context.Context, code string) error {
	if err := c.client.Del(ctx, couponKey(code)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (c *CouponCache) get(ctx context.Context, code string) (model.Coupon, error) {
	data, err := c.client.Get(ctx, couponKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Coupon{}, ErrCacheMiss
	}
	if err != nil {
		return model.Coupon{}, fmt.Errorf("redis get failed: %w", err)
	}

	var cp model.Coupon
	if err := json.Unmarshal(data, &cp); err != nil {
		return model.Coupon{}, fmt.Errorf("unmarshal coupon failed: %w", err)
	}
	return cp, nil
}

func (c *CouponCache) set(ctx context.Context, cp model.Coupon) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal coupon failed: %w", err)
	}
	// 一斉失効を避ける
	jitter := time.Duration(rand.Int63n(int64(c.baseTTL/5) + 1))
	if err := c.client.Set(ctx, couponKey(cp.Code), data, c.baseTTL+jitter).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func couponKey(code string) string {
	return fmt.Sprintf("coupon:%s", code)
}
