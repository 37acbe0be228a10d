package processor

import (
	"context"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sablelabs/sable/internal/config"
	"github.com/sablelabs/sable/internal/lock"
	"github.com/sablelabs/sable/internal/logging"
	"github.com/sablelabs/sable/internal/metrics"
	"github.com/sablelabs/sable/internal/queue"
	"github.com/sablelabs/sable/internal/ratelimit"
	"github.com/sablelabs/sable/internal/turn"
	"go.uber.org/zap"
)

// Processor drains the intake queue through a worker pool. Each message is
// processed under a per-phone conversation lock; lock contention puts the
// message back on the queue tail, failures retry with a growing delay until
// the attempt cap drops the message for good.
type Processor struct {
	Queue        *queue.Service
	Locks        *lock.Manager
	Limiter      *ratelimit.Limiter
	Orchestrator *turn.Orchestrator
	WorkerPool   *ants.Pool
}

func NewProcessor(
	queueService *queue.Service,
	lockManager *lock.Manager,
	limiter *ratelimit.Limiter,
	orchestrator *turn.Orchestrator,
) (*Processor, error) {
	pool, err := ants.NewPool(config.Conf.PoolSize, ants.WithPreAlloc(true))
	if err != nil {
		return nil, err
	}

	return &Processor{
		Queue:        queueService,
		Locks:        lockManager,
		Limiter:      limiter,
		Orchestrator: orchestrator,
		WorkerPool:   pool,
	}, nil
}

// Run pulls messages until ctx is cancelled. An empty queue idles briefly
// instead of spinning.
func (processor *Processor) Run(ctx context.Context) {
	logging.Logger.Info("[Processor] Starting",
		zap.Int("pool_size", config.Conf.PoolSize),
	)

	idleDelay := time.Duration(config.Conf.ProcessorIdleDelayMs) * time.Millisecond

	defer processor.WorkerPool.Release()

	for {
		select {
		case <-ctx.Done():
			logging.Logger.Info("[Processor] Stopping")
			return
		default:
		}

		msg, err := processor.Queue.Dequeue(ctx)
		if err != nil {
			logging.Logger.Error("[Processor] Dequeue failed", zap.String("error", err.Error()))
			time.Sleep(idleDelay)

			continue
		}

		if msg == nil {
			time.Sleep(idleDelay)
			continue
		}

		processor.observeDepth(ctx)

		err = processor.WorkerPool.Submit(func() {
			processor.process(ctx, msg)
		})
		if err != nil {
			logging.Logger.Error("[Processor] Failed to submit message",
				zap.String("message_id", msg.ID),
				zap.String("error", err.Error()),
			)

			requeueErr := processor.Queue.Requeue(ctx, msg)
			if requeueErr != nil {
				logging.Logger.Error("[Processor] Failed to requeue message",
					zap.String("message_id", msg.ID),
					zap.String("error", requeueErr.Error()),
				)
			}
		}
	}
}

func (processor *Processor) process(ctx context.Context, msg *queue.Message) {
	defer func() {
		if r := recover(); r != nil {
			logging.Logger.Error("[Processor] Recovered from panic",
				zap.String("message_id", msg.ID),
				zap.Any("panic", r),
			)
		}
	}()

	// Cheap pre-lock skip; the orchestrator re-checks under the lock.
	halted, err := processor.Limiter.IsHalted(ctx, msg.PhoneNumber)
	if err != nil {
		processor.fail(ctx, msg, err.Error())
		return
	}

	if halted {
		logging.Logger.Info("[Processor] Conversation halted, completing without processing",
			zap.String("message_id", msg.ID),
			zap.String("phone_number", msg.PhoneNumber),
		)

		err = processor.Queue.MarkCompleted(ctx, msg)
		if err != nil {
			logging.Logger.Error("[Processor] Failed to mark halted message completed",
				zap.String("message_id", msg.ID),
				zap.String("error", err.Error()),
			)
		}

		return
	}

	lockTTL := time.Duration(config.Conf.ConversationLockTTL) * time.Second

	acquired, err := processor.Locks.Acquire(ctx, msg.PhoneNumber, lockTTL)
	if err != nil {
		processor.fail(ctx, msg, err.Error())
		return
	}

	if !acquired {
		// Another worker holds this conversation; retry from the tail
		// without burning an attempt.
		logging.Logger.Info("[Processor] Conversation locked, requeueing",
			zap.String("message_id", msg.ID),
			zap.String("phone_number", msg.PhoneNumber),
		)

		err = processor.Queue.Requeue(ctx, msg)
		if err != nil {
			logging.Logger.Error("[Processor] Failed to requeue message",
				zap.String("message_id", msg.ID),
				zap.String("error", err.Error()),
			)
		}

		return
	}

	defer func() {
		releaseErr := processor.Locks.Release(ctx, msg.PhoneNumber)
		if releaseErr != nil {
			logging.Logger.Error("[Processor] Failed to release conversation lock",
				zap.String("phone_number", msg.PhoneNumber),
				zap.String("error", releaseErr.Error()),
			)
		}
	}()

	timer := prometheus.NewTimer(metrics.TurnDuration)
	outcome, err := processor.Orchestrator.Run(ctx, msg)
	timer.ObserveDuration()

	if err != nil {
		processor.fail(ctx, msg, err.Error())
		return
	}

	logging.Logger.Info("[Processor] Turn completed",
		zap.String("message_id", msg.ID),
		zap.String("phone_number", msg.PhoneNumber),
		zap.Bool("skipped", outcome.Skipped),
		zap.String("skip_reason", outcome.SkipReason),
		zap.Bool("deferred", outcome.Deferred),
		zap.Int("actions_run", outcome.ActionsRun),
	)

	err = processor.Queue.MarkCompleted(ctx, msg)
	if err != nil {
		logging.Logger.Error("[Processor] Failed to mark message completed",
			zap.String("message_id", msg.ID),
			zap.String("error", err.Error()),
		)
	}
}

func (processor *Processor) fail(ctx context.Context, msg *queue.Message, errMsg string) {
	terminal, err := processor.Queue.MarkFailed(ctx, msg, errMsg)
	if err != nil {
		logging.Logger.Error("[Processor] Failed to mark message failed",
			zap.String("message_id", msg.ID),
			zap.String("error", err.Error()),
		)

		return
	}

	if terminal {
		metrics.TerminalDrops.Inc()
		logging.Logger.Error("[Processor] Dropping message after final attempt",
			zap.String("message_id", msg.ID),
			zap.String("phone_number", msg.PhoneNumber),
			zap.Int("attempts", msg.Attempts),
			zap.String("error", errMsg),
		)

		return
	}

	logging.Logger.Warn("[Processor] Turn failed, scheduled retry",
		zap.String("message_id", msg.ID),
		zap.Int("attempts", msg.Attempts),
		zap.String("error", errMsg),
	)
}

func (processor *Processor) observeDepth(ctx context.Context) {
	depth, err := processor.Queue.Depth(ctx)
	if err != nil {
		return
	}

	metrics.QueueDepth.Set(float64(depth))
}
