package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sablelabs/sable/internal/circuitbreak"
	"github.com/sablelabs/sable/internal/config"
	"github.com/sablelabs/sable/internal/logging"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// Key namespaces. Every piece of persisted state is a TTL-scoped key
// under one of these prefixes; there are no cross-key transactions.
const (
	KeyQueueIndex    = "sable:queue"
	KeyMessagePrefix = "sable:msg:"
	KeyDedupPrefix   = "sable:dedup:"
	KeyLockPrefix    = "sable:lock:"
	KeyIdemPrefix    = "sable:idem:"
	KeyRatePrefix    = "sable:rate:"
	KeyHaltPrefix    = "sable:halt:"
	KeyFollowupIndex = "sable:followup:index"
	KeyFollowupList  = "sable:followup:items:"
)

func NewClient(ctx context.Context) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Conf.RedisAddr,
		Password: config.Conf.RedisPassword,
		DB:       config.Conf.RedisDB,
	})

	err := client.Ping(ctx).Err()
	if err != nil {
		logging.Logger.Error("Failed to ping redis", zap.String("error", err.Error()))
		return nil, err
	}

	logging.Logger.Info("Successfully connected to redis")

	return client, nil
}

func GetCircuitBreakerSettings() gobreaker.Settings {
	return gobreaker.Settings{
		Name:     "store",
		Interval: time.Duration(config.Conf.RedisIntervalCB) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			willTrip := counts.ConsecutiveFailures >= config.Conf.RedisConsecutiveFailuresCB

			if willTrip {
				logging.Logger.Error("Store circuit breaker about to trip",
					zap.String("service", "store"),
					zap.Uint32("total_requests", counts.Requests),
					zap.Uint32("total_failures", counts.TotalFailures),
					zap.Uint32("consecutive_failures", counts.ConsecutiveFailures),
					zap.Uint32("threshold", config.Conf.RedisConsecutiveFailuresCB),
				)
			}

			return willTrip
		},
		OnStateChange: func(name string, fromState, toState gobreaker.State) {
			logging.Logger.Error("Store circuit breaker state changed",
				zap.String("service", name),
				zap.String("from", fromState.String()),
				zap.String("to", toState.String()),
			)

			if toState == gobreaker.StateOpen {
				circuitbreak.TriggerError(circuitbreak.StoreService)
			}
		},
	}
}
