package queue

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sablelabs/sable/internal/config"
	"github.com/sablelabs/sable/internal/logging"
	"github.com/sablelabs/sable/internal/store"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

var ErrInvalidMessageResult = errors.New("invalid result type, it should be pointer to Message")

// Service is the dedup/intake queue. The queue index is a redis list
// (RPUSH tail, LPOP head, strict FIFO); message bodies and dedup markers
// are separate TTL keys.
type Service struct {
	Client         *redis.Client
	CircuitBreaker *gobreaker.CircuitBreaker[any]
}

func NewService(client *redis.Client) *Service {
	cbSettings := store.GetCircuitBreakerSettings()

	return &Service{
		Client:         client,
		CircuitBreaker: gobreaker.NewCircuitBreaker[any](cbSettings),
	}
}

// Enqueue registers an inbound message. A repeated provider message ID
// inside the dedup window is absorbed: no record is written and duplicate
// is true.
func (queueService *Service) Enqueue(
	ctx context.Context,
	phoneNumber string,
	body string,
	providerMessageID string,
) (string, bool, error) {
	result, err := queueService.CircuitBreaker.Execute(func() (any, error) {
		dedupKey := store.KeyDedupPrefix + providerMessageID
		dedupTTL := time.Duration(config.Conf.QueueDedupTTL) * time.Second

		created, err := queueService.Client.SetNX(ctx, dedupKey, "1", dedupTTL).Result()
		if err != nil {
			return nil, err
		}

		if !created {
			logging.Logger.Debug("duplicate inbound message absorbed",
				zap.String("provider_message_id", providerMessageID),
				zap.String("phone_number", phoneNumber),
			)

			return &Message{ProviderMessageID: providerMessageID}, nil
		}

		msg := &Message{
			ID:                uuid.NewString(),
			PhoneNumber:       phoneNumber,
			Body:              body,
			ProviderMessageID: providerMessageID,
			ReceivedAt:        time.Now().UTC(),
			Status:            StatusPending,
		}

		err = queueService.saveMessage(ctx, msg)
		if err != nil {
			return nil, err
		}

		err = queueService.Client.RPush(ctx, store.KeyQueueIndex, msg.ID).Err()
		if err != nil {
			return nil, err
		}

		return msg, nil
	})
	if err != nil {
		return "", false, err
	}

	msg, ok := result.(*Message)
	if !ok {
		return "", false, ErrInvalidMessageResult
	}

	if msg.ID == "" {
		return "", true, nil
	}

	return msg.ID, false, nil
}

// Dequeue pops the head of the queue and marks it processing. Ids whose
// backing record expired are skipped, bounded by QueueDequeueMaxSkips so a
// poisoned index cannot spin the worker. Returns nil when nothing is ready.
func (queueService *Service) Dequeue(ctx context.Context) (*Message, error) {
	result, err := queueService.CircuitBreaker.Execute(func() (any, error) {
		for range config.Conf.QueueDequeueMaxSkips {
			id, err := queueService.Client.LPop(ctx, store.KeyQueueIndex).Result()
			if errors.Is(err, redis.Nil) {
				return (*Message)(nil), nil
			}

			if err != nil {
				return nil, err
			}

			msg, err := queueService.loadMessage(ctx, id)
			if err != nil {
				return nil, err
			}

			if msg == nil {
				logging.Logger.Warn("skipping queued id with expired record", zap.String("message_id", id))
				continue
			}

			if msg.NotBefore.After(time.Now()) {
				err = queueService.Client.RPush(ctx, store.KeyQueueIndex, msg.ID).Err()
				if err != nil {
					return nil, err
				}

				continue
			}

			msg.Status = StatusProcessing

			err = queueService.saveMessage(ctx, msg)
			if err != nil {
				return nil, err
			}

			return msg, nil
		}

		return (*Message)(nil), nil
	})
	if err != nil {
		return nil, err
	}

	msg, ok := result.(*Message)
	if !ok {
		return nil, ErrInvalidMessageResult
	}

	return msg, nil
}

// Requeue puts a message back on the tail, attempts untouched. Used when
// the conversation lock is held elsewhere; contention is not a failure.
func (queueService *Service) Requeue(ctx context.Context, msg *Message) error {
	_, err := queueService.CircuitBreaker.Execute(func() (any, error) {
		msg.Status = StatusPending

		err := queueService.saveMessage(ctx, msg)
		if err != nil {
			return nil, err
		}

		return nil, queueService.Client.RPush(ctx, store.KeyQueueIndex, msg.ID).Err()
	})

	return err
}

func (queueService *Service) MarkCompleted(ctx context.Context, msg *Message) error {
	_, err := queueService.CircuitBreaker.Execute(func() (any, error) {
		return nil, queueService.Client.Del(ctx, store.KeyMessagePrefix+msg.ID).Err()
	})

	return err
}

// MarkFailed increments the attempt counter. Below the attempt cap the
// message goes back to the tail with a NotBefore backoff of
// attempts x ProcessorRetryBackoff seconds; at the cap the record is
// dropped permanently and terminal is true.
func (queueService *Service) MarkFailed(ctx context.Context, msg *Message, errMsg string) (bool, error) {
	terminal := false

	_, err := queueService.CircuitBreaker.Execute(func() (any, error) {
		msg.Attempts++
		msg.Error = errMsg

		if msg.Attempts >= config.Conf.ProcessorMaxAttempts {
			terminal = true

			return nil, queueService.Client.Del(ctx, store.KeyMessagePrefix+msg.ID).Err()
		}

		backoff := time.Duration(msg.Attempts*config.Conf.ProcessorRetryBackoff) * time.Second
		msg.Status = StatusPending
		msg.NotBefore = time.Now().Add(backoff)

		err := queueService.saveMessage(ctx, msg)
		if err != nil {
			return nil, err
		}

		return nil, queueService.Client.RPush(ctx, store.KeyQueueIndex, msg.ID).Err()
	})
	if err != nil {
		return false, err
	}

	return terminal, nil
}

func (queueService *Service) Depth(ctx context.Context) (int64, error) {
	result, err := queueService.CircuitBreaker.Execute(func() (any, error) {
		return queueService.Client.LLen(ctx, store.KeyQueueIndex).Result()
	})
	if err != nil {
		return 0, err
	}

	depth, _ := result.(int64)

	return depth, nil
}

func (queueService *Service) saveMessage(ctx context.Context, msg *Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	messageTTL := time.Duration(config.Conf.QueueMessageTTL) * time.Second

	return queueService.Client.Set(ctx, store.KeyMessagePrefix+msg.ID, payload, messageTTL).Err()
}

func (queueService *Service) loadMessage(ctx context.Context, id string) (*Message, error) {
	payload, err := queueService.Client.Get(ctx, store.KeyMessagePrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	var msg Message

	err = json.Unmarshal(payload, &msg)
	if err != nil {
		return nil, err
	}

	return &msg, nil
}
