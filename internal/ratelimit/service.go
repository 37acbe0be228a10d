package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sablelabs/sable/internal/config"
	"github.com/sablelabs/sable/internal/logging"
	"github.com/sablelabs/sable/internal/store"
	"go.uber.org/zap"
)

// Limiter is a fixed-window per-phone counter plus the automation halt
// kill switch. Fixed windows allow bursts at window boundaries; sliding
// windows were traded away for single-command arithmetic.
type Limiter struct {
	Client *redis.Client
}

func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{Client: client}
}

// CheckAndBump allows and increments while the window count is below max.
// Once the limit is reached further calls deny without incrementing, so a
// flood cannot extend its own window.
func (limiter *Limiter) CheckAndBump(ctx context.Context, phoneNumber string, max, windowSec int) (bool, error) {
	key := store.KeyRatePrefix + phoneNumber

	current, err := limiter.Client.Get(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, err
	}

	if current != "" {
		n, convErr := strconv.Atoi(current)
		if convErr == nil && n >= max {
			logging.Logger.Debug("rate limit denied",
				zap.String("phone_number", phoneNumber),
				zap.Int("count", n),
				zap.Int("max", max),
			)

			return false, nil
		}
	}

	count, err := limiter.Client.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}

	if count == 1 {
		err = limiter.Client.Expire(ctx, key, time.Duration(windowSec)*time.Second).Err()
		if err != nil {
			return false, err
		}
	}

	return count <= int64(max), nil
}

// SetHalt flips the per-phone kill switch for the configured cooldown.
func (limiter *Limiter) SetHalt(ctx context.Context, phoneNumber string) error {
	ttl := time.Duration(config.Conf.AutomationHaltTTL) * time.Second

	logging.Logger.Warn("automation halted", zap.String("phone_number", phoneNumber))

	return limiter.Client.Set(ctx, store.KeyHaltPrefix+phoneNumber, "1", ttl).Err()
}

func (limiter *Limiter) IsHalted(ctx context.Context, phoneNumber string) (bool, error) {
	n, err := limiter.Client.Exists(ctx, store.KeyHaltPrefix+phoneNumber).Result()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}
