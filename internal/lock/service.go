package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sablelabs/sable/internal/logging"
	"github.com/sablelabs/sable/internal/store"
	"go.uber.org/zap"
)

// Manager leases a per-phone mutual-exclusion token. The lease has a fixed
// TTL and no heartbeat: a turn whose external calls outlive the TTL loses
// exclusivity, and the idempotency ledger is the remaining guard against
// duplicate side effects.
type Manager struct {
	Client *redis.Client
}

func NewManager(client *redis.Client) *Manager {
	return &Manager{Client: client}
}

// Acquire set-if-absents the lease key. Returns true only when this call
// created the lease; an already-held lease is not an error.
func (lockManager *Manager) Acquire(ctx context.Context, phoneNumber string, ttl time.Duration) (bool, error) {
	token := uuid.NewString()

	acquired, err := lockManager.Client.SetNX(ctx, store.KeyLockPrefix+phoneNumber, token, ttl).Result()
	if err != nil {
		return false, err
	}

	if !acquired {
		logging.Logger.Debug("conversation lock held elsewhere", zap.String("phone_number", phoneNumber))
	}

	return acquired, nil
}

// Release unconditionally clears the lease. If our lease already expired
// this may clear a foreign one; leases are short-lived and the brief loss
// of exclusivity is the documented trade-off.
func (lockManager *Manager) Release(ctx context.Context, phoneNumber string) error {
	return lockManager.Client.Del(ctx, store.KeyLockPrefix+phoneNumber).Err()
}
