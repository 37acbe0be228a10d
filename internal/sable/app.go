package sable

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/sablelabs/sable/internal/circuitbreak"
	"github.com/sablelabs/sable/internal/config"
	"github.com/sablelabs/sable/internal/followup"
	"github.com/sablelabs/sable/internal/healthchecker"
	"github.com/sablelabs/sable/internal/idempotency"
	"github.com/sablelabs/sable/internal/llm"
	"github.com/sablelabs/sable/internal/lock"
	"github.com/sablelabs/sable/internal/logging"
	"github.com/sablelabs/sable/internal/processor"
	"github.com/sablelabs/sable/internal/profile"
	"github.com/sablelabs/sable/internal/queue"
	"github.com/sablelabs/sable/internal/ratelimit"
	"github.com/sablelabs/sable/internal/sms"
	"github.com/sablelabs/sable/internal/store"
	"github.com/sablelabs/sable/internal/turn"
	"github.com/sablelabs/sable/internal/webhook"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Sable struct {
	StoreClient          *redis.Client
	QueueService         *queue.Service
	Processor            *processor.Processor
	Sweeper              *followup.Sweeper
	WebhookServer        *webhook.Server
	HealthCheckerService *healthchecker.Healthchecker
}

func NewApp(ctxCancelFun context.CancelFunc) (*Sable, error) {
	logging.Logger.Info("[NewApp] Initializing Sable application...")

	healthcheckerService := healthchecker.NewService(ctxCancelFun)

	logging.Logger.Info("[NewApp] Health checker service created")

	storeClient, err := store.NewClient(context.Background())
	if err != nil {
		logging.Logger.Error("[NewApp] Failed to connect to store", zap.Error(err))
		return nil, err
	}

	logging.Logger.Info("[NewApp] Store connection established")

	queueService := queue.NewService(storeClient)
	lockManager := lock.NewManager(storeClient)
	ledger := idempotency.NewLedger(storeClient)
	limiter := ratelimit.NewLimiter(storeClient)

	scheduler, err := followup.NewScheduler(storeClient)
	if err != nil {
		logging.Logger.Error("[NewApp] Failed to create follow-up scheduler", zap.Error(err))
		return nil, err
	}

	logging.Logger.Info("[NewApp] Store-backed services created")

	smsService := sms.NewService()
	profileService := profile.NewService()

	generator := llm.NewGenerator(
		llm.NewChatClient(llm.ProviderOpenAI, config.Conf.OpenAIAPIKey, config.Conf.OpenAIBaseURL),
		llm.NewChatClient(llm.ProviderGroq, config.Conf.GroqAPIKey, config.Conf.GroqBaseURL),
		llm.NewChatClient(llm.ProviderDeepSeek, config.Conf.DeepSeekAPIKey, config.Conf.DeepSeekBaseURL),
	)

	logging.Logger.Info("[NewApp] Response generator created",
		zap.String("default_model", config.Conf.LLMDefaultModel),
	)

	orchestrator := turn.NewOrchestrator(ledger, limiter, scheduler, generator, smsService, profileService)

	turnProcessor, err := processor.NewProcessor(queueService, lockManager, limiter, orchestrator)
	if err != nil {
		logging.Logger.Error("[NewApp] Failed to create processor", zap.Error(err))
		return nil, err
	}

	logging.Logger.Info("[NewApp] Processor created",
		zap.Int("pool_size", config.Conf.PoolSize),
	)

	sweeper, err := followup.NewSweeper(scheduler, ledger, smsService)
	if err != nil {
		logging.Logger.Error("[NewApp] Failed to create follow-up sweeper", zap.Error(err))
		return nil, err
	}

	logging.Logger.Info("[NewApp] Follow-up sweeper created")

	webhookServer := webhook.NewServer(queueService)

	logging.Logger.Info("[NewApp] Initializing circuit breakers...")
	circuitbreak.Init()
	logging.Logger.Info("[NewApp] Circuit breakers initialized")

	return &Sable{
		StoreClient:          storeClient,
		QueueService:         queueService,
		Processor:            turnProcessor,
		Sweeper:              sweeper,
		WebhookServer:        webhookServer,
		HealthCheckerService: healthcheckerService,
	}, nil
}

func (app *Sable) Run(ctx context.Context) error {
	logging.Logger.Info("[Run] Starting app goroutines...")

	logging.Logger.Info("[Run] Starting health checker monitor goroutine")

	go app.HealthCheckerService.Monitor()

	group, groupCtx := errgroup.WithContext(ctx)

	logging.Logger.Info("[Run] Starting follow-up sweeper goroutine")

	group.Go(func() error {
		app.Sweeper.Run(groupCtx)
		return nil
	})

	logging.Logger.Info("[Run] Starting webhook server goroutine")

	group.Go(func() error {
		app.WebhookServer.Run(groupCtx)
		return nil
	})

	logging.Logger.Info("[Run] Starting queue processor",
		zap.Int("worker_pool_size", config.Conf.PoolSize),
	)

	group.Go(func() error {
		app.Processor.Run(groupCtx)
		return nil
	})

	err := group.Wait()

	logging.Logger.Warn("[Run] Workers returned (context canceled), beginning shutdown...")

	app.shutdown()

	return err
}

func (app *Sable) shutdown() {
	logging.Logger.Info("[Run] Closing store connection...")

	err := app.StoreClient.Close()
	if err != nil {
		logging.Logger.Error("[Run] Failed to close store connection", zap.String("error", err.Error()))
	} else {
		logging.Logger.Info("[Run] Store connection closed successfully")
	}

	logging.Logger.Info("[Run] ===== App shutdown complete =====")
}
