package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sablelabs/sable/internal/config"
	"github.com/sablelabs/sable/internal/store"
)

// Ledger tracks which logical action keys have been executed. Callers run
// check -> execute -> mark; a crash between execute and mark can produce
// one duplicate side effect on retry, which the backing store cannot
// prevent without a transactional ledger+send.
type Ledger struct {
	Client *redis.Client
}

func NewLedger(client *redis.Client) *Ledger {
	return &Ledger{Client: client}
}

func (ledger *Ledger) IsUsed(ctx context.Context, key string) (bool, error) {
	n, err := ledger.Client.Exists(ctx, store.KeyIdemPrefix+key).Result()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

func (ledger *Ledger) MarkUsed(ctx context.Context, key string) error {
	ttl := time.Duration(config.Conf.IdempotencyTTL) * time.Second

	return ledger.Client.Set(ctx, store.KeyIdemPrefix+key, "1", ttl).Err()
}

// TurnKey derives the deterministic key for one generated turn from the
// phone number, the reply text and the serialized action plan.
func TurnKey(phoneNumber, reply string, serializedActions []byte) string {
	h := sha256.New()
	h.Write([]byte(phoneNumber))
	h.Write([]byte{0})
	h.Write([]byte(reply))
	h.Write([]byte{0})
	h.Write(serializedActions)

	return hex.EncodeToString(h.Sum(nil))
}

// ActionKey scopes one action inside a turn.
func ActionKey(turnKey string, index int) string {
	return fmt.Sprintf("%s:%d", turnKey, index)
}

// FollowupKey guards the actual delivery of a scheduled follow-up item.
func FollowupKey(itemID string) string {
	return "followup:" + itemID
}
