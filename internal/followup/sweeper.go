package followup

import (
	"context"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/sablelabs/sable/internal/config"
	"github.com/sablelabs/sable/internal/idempotency"
	"github.com/sablelabs/sable/internal/logging"
	"github.com/sablelabs/sable/internal/metrics"
	"github.com/sablelabs/sable/internal/sms"
	"github.com/sablelabs/sable/internal/store"
	"go.uber.org/zap"
)

type Transport interface {
	Send(ctx context.Context, msg sms.OutboundMessage) (string, error)
}

// Sweeper periodically drains due follow-ups and routes them through the
// same send + idempotency path as live action dispatch.
type Sweeper struct {
	Scheduler  *Scheduler
	Ledger     *idempotency.Ledger
	Transport  Transport
	WorkerPool *ants.Pool
}

func NewSweeper(scheduler *Scheduler, ledger *idempotency.Ledger, transport Transport) (*Sweeper, error) {
	workerPool, err := ants.NewPool(config.Conf.SweepPoolSize, ants.WithPreAlloc(true))
	if err != nil {
		return nil, err
	}

	return &Sweeper{
		Scheduler:  scheduler,
		Ledger:     ledger,
		Transport:  transport,
		WorkerPool: workerPool,
	}, nil
}

func (sweeper *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(config.Conf.SweepInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sweeper.WorkerPool.Release()
			return
		case <-ticker.C:
			sweeper.sweep(ctx)
		}
	}
}

func (sweeper *Sweeper) sweep(ctx context.Context) {
	phoneNumbers, err := sweeper.Scheduler.Client.SMembers(ctx, store.KeyFollowupIndex).Result()
	if err != nil {
		logging.Logger.Error("failed to read follow-up index", zap.String("error", err.Error()))
		return
	}

	if len(phoneNumbers) == 0 {
		return
	}

	logging.Logger.Debug("sweep pass start", zap.Int("count_phones", len(phoneNumbers)))

	for idx := range phoneNumbers {
		phoneNumber := phoneNumbers[idx]

		err := sweeper.WorkerPool.Submit(func() {
			sweeper.sweepPhone(ctx, phoneNumber)
		})
		if err != nil {
			logging.Logger.Error("failed to submit sweep job to ants pool",
				zap.String("phone_number", phoneNumber),
				zap.String("error", err.Error()),
			)
		}
	}
}

func (sweeper *Sweeper) sweepPhone(ctx context.Context, phoneNumber string) {
	defer func() {
		if r := recover(); r != nil {
			logging.Logger.Error("panic in sweep worker",
				zap.String("phone_number", phoneNumber),
				zap.Any("recover", r),
			)
		}
	}()

	due, err := sweeper.Scheduler.PopDue(ctx, phoneNumber, time.Now())
	if err != nil {
		logging.Logger.Error("failed to pop due follow-ups",
			zap.String("phone_number", phoneNumber),
			zap.String("error", err.Error()),
		)

		return
	}

	for idx := range due {
		sweeper.deliver(ctx, &due[idx])
	}
}

func (sweeper *Sweeper) deliver(ctx context.Context, item *Item) {
	key := idempotency.FollowupKey(item.ID)

	used, err := sweeper.Ledger.IsUsed(ctx, key)
	if err != nil {
		logging.Logger.Error("failed to check follow-up idempotency key",
			zap.String("item_id", item.ID),
			zap.String("error", err.Error()),
		)

		return
	}

	if used {
		logging.Logger.Debug("follow-up already delivered, skipping", zap.String("item_id", item.ID))
		return
	}

	messageType := item.Metadata[MetaMessageType]
	if messageType == "" {
		messageType = "followup"
	}

	_, err = sweeper.Transport.Send(ctx, sms.OutboundMessage{
		PhoneNumber: item.PhoneNumber,
		Message:     item.Text,
		MessageType: messageType,
		UserID:      item.Metadata[MetaUserID],
	})
	if err != nil {
		logging.Logger.Error("failed to deliver follow-up",
			zap.String("item_id", item.ID),
			zap.String("phone_number", item.PhoneNumber),
			zap.String("error", err.Error()),
		)

		return
	}

	err = sweeper.Ledger.MarkUsed(ctx, key)
	if err != nil {
		logging.Logger.Error("failed to mark follow-up delivered",
			zap.String("item_id", item.ID),
			zap.String("error", err.Error()),
		)
	}

	metrics.FollowupsDelivered.Inc()
}
