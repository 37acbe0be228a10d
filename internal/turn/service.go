package turn

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sablelabs/sable/internal/config"
	"github.com/sablelabs/sable/internal/followup"
	"github.com/sablelabs/sable/internal/idempotency"
	"github.com/sablelabs/sable/internal/llm"
	"github.com/sablelabs/sable/internal/logging"
	"github.com/sablelabs/sable/internal/metrics"
	"github.com/sablelabs/sable/internal/profile"
	"github.com/sablelabs/sable/internal/queue"
	"github.com/sablelabs/sable/internal/sms"
	"go.uber.org/zap"
)

type ContextProvider interface {
	GetContext(ctx context.Context, phoneNumber string) (*profile.Context, error)
}

type Transport interface {
	Send(ctx context.Context, msg sms.OutboundMessage) (string, error)
}

type FollowupScheduler interface {
	Schedule(
		ctx context.Context,
		phoneNumber string,
		text string,
		delay time.Duration,
		metadata map[string]string,
	) (*followup.Item, error)
	ScheduleAtOpen(
		ctx context.Context,
		phoneNumber string,
		text string,
		metadata map[string]string,
	) (*followup.Item, error)
	WithinBusinessHours(now time.Time) bool
}

type IdempotencyLedger interface {
	IsUsed(ctx context.Context, key string) (bool, error)
	MarkUsed(ctx context.Context, key string) error
}

type RateLimiter interface {
	CheckAndBump(ctx context.Context, phoneNumber string, max, windowSec int) (bool, error)
	SetHalt(ctx context.Context, phoneNumber string) error
	IsHalted(ctx context.Context, phoneNumber string) (bool, error)
}

type Responder interface {
	Generate(ctx context.Context, req llm.Request) llm.Result
}

const (
	SkipHalted      = "automation_halted"
	SkipRateLimited = "rate_limited"
	SkipDuplicate   = "duplicate_turn"
)

// Outcome summarizes one processed turn for the caller's logging.
type Outcome struct {
	TurnKey    string
	Reply      string
	Deferred   bool
	Skipped    bool
	SkipReason string
	ActionsRun int
}

// Orchestrator runs the turn pipeline for one inbound message: halt check,
// rate check, context fetch, generation, reply dispatch, action dispatch.
type Orchestrator struct {
	Ledger    IdempotencyLedger
	Limiter   RateLimiter
	Scheduler FollowupScheduler
	Generator Responder
	Transport Transport
	Profiles  ContextProvider
}

func NewOrchestrator(
	ledger IdempotencyLedger,
	limiter RateLimiter,
	scheduler FollowupScheduler,
	generator Responder,
	transport Transport,
	profiles ContextProvider,
) *Orchestrator {
	return &Orchestrator{
		Ledger:    ledger,
		Limiter:   limiter,
		Scheduler: scheduler,
		Generator: generator,
		Transport: transport,
		Profiles:  profiles,
	}
}

// Run executes the pipeline for msg. A returned error means the message is
// retryable; skips and degraded generations complete the turn normally.
func (orchestrator *Orchestrator) Run(ctx context.Context, msg *queue.Message) (*Outcome, error) {
	halted, err := orchestrator.Limiter.IsHalted(ctx, msg.PhoneNumber)
	if err != nil {
		return nil, err
	}

	if halted {
		logging.Logger.Info("[Turn] Skipping halted conversation",
			zap.String("phone_number", msg.PhoneNumber),
		)

		return &Outcome{Skipped: true, SkipReason: SkipHalted}, nil
	}

	allowed, err := orchestrator.Limiter.CheckAndBump(
		ctx, msg.PhoneNumber, config.Conf.RateLimitMax, config.Conf.RateLimitWindow,
	)
	if err != nil {
		return nil, err
	}

	if !allowed {
		// Transient skip; the window elapsing re-admits the phone.
		logging.Logger.Info("[Turn] Skipping rate-limited conversation",
			zap.String("phone_number", msg.PhoneNumber),
		)

		return &Outcome{Skipped: true, SkipReason: SkipRateLimited}, nil
	}

	profileContext, err := orchestrator.Profiles.GetContext(ctx, msg.PhoneNumber)
	if err != nil {
		return nil, err
	}

	if profileContext.UserID != "" {
		msg.UserID = profileContext.UserID
		msg.ConversationID = profileContext.ConversationID
	}

	result := orchestrator.Generator.Generate(ctx, llm.Request{
		SystemPrompt: buildSystemPrompt(profileContext),
		UserPrompt:   buildUserPrompt(profileContext, msg.Body),
		Model:        config.Conf.LLMDefaultModel,
		ExpectJSON:   true,
	})

	plan := ParsePlan(result.Content)
	if !result.Success {
		// Degraded generation: deliver the safe reply, run nothing else.
		plan = Plan{Reply: result.Content}
	}

	turnKey := idempotency.TurnKey(msg.PhoneNumber, plan.Reply, []byte(SerializeActions(plan.Actions)))

	outcome := &Outcome{TurnKey: turnKey, Reply: plan.Reply}

	err = orchestrator.dispatchReply(ctx, msg, plan.Reply, turnKey, outcome)
	if err != nil {
		return nil, err
	}

	// A used turn key only suppresses the reply; each action carries its
	// own key, so a partially dispatched turn finishes the rest on retry.
	orchestrator.dispatchActions(ctx, msg, plan.Actions, turnKey, outcome)

	return outcome, nil
}

func (orchestrator *Orchestrator) dispatchReply(
	ctx context.Context,
	msg *queue.Message,
	reply string,
	turnKey string,
	outcome *Outcome,
) error {
	used, err := orchestrator.Ledger.IsUsed(ctx, turnKey)
	if err != nil {
		return err
	}

	if used {
		metrics.DuplicateTurnCandidates.Inc()
		logging.Logger.Warn("[Turn] Duplicate turn candidate, likely lock expiry during a slow turn",
			zap.String("phone_number", msg.PhoneNumber),
			zap.String("turn_key", turnKey),
		)

		outcome.Skipped = true
		outcome.SkipReason = SkipDuplicate

		return nil
	}

	if orchestrator.Scheduler.WithinBusinessHours(time.Now()) {
		_, err := orchestrator.Transport.Send(ctx, sms.OutboundMessage{
			PhoneNumber: msg.PhoneNumber,
			Message:     reply,
			MessageType: "reply",
			UserID:      msg.UserID,
		})
		if err != nil {
			return err
		}
	} else {
		_, err := orchestrator.Scheduler.ScheduleAtOpen(ctx, msg.PhoneNumber, reply, map[string]string{
			followup.MetaMessageType: "reply",
			followup.MetaUserID:      msg.UserID,
		})
		if err != nil {
			return err
		}

		outcome.Deferred = true
	}

	// The key is marked once the reply is sent or durably scheduled; a
	// deferred reply counts as dispatched.
	return orchestrator.Ledger.MarkUsed(ctx, turnKey)
}

// dispatchActions runs each planned action behind its own idempotency key.
// Action failures are logged and skipped so one bad action never blocks the
// rest or fails the already-replied turn.
func (orchestrator *Orchestrator) dispatchActions(
	ctx context.Context,
	msg *queue.Message,
	actions []Action,
	turnKey string,
	outcome *Outcome,
) {
	for index, action := range actions {
		actionKey := idempotency.ActionKey(turnKey, index)

		used, err := orchestrator.Ledger.IsUsed(ctx, actionKey)
		if err != nil {
			logging.Logger.Error("[Turn] Failed to check action key",
				zap.String("action_key", actionKey),
				zap.String("error", err.Error()),
			)

			continue
		}

		if used {
			logging.Logger.Debug("[Turn] Action already executed, skipping",
				zap.String("action_key", actionKey),
			)

			continue
		}

		err = orchestrator.executeAction(ctx, msg, action)
		if err != nil {
			logging.Logger.Error("[Turn] Action failed",
				zap.String("phone_number", msg.PhoneNumber),
				zap.String("action_type", action.Type),
				zap.Int("action_index", index),
				zap.String("error", err.Error()),
			)

			continue
		}

		err = orchestrator.Ledger.MarkUsed(ctx, actionKey)
		if err != nil {
			logging.Logger.Error("[Turn] Failed to mark action",
				zap.String("action_key", actionKey),
				zap.String("error", err.Error()),
			)
		}

		outcome.ActionsRun++
	}
}

func (orchestrator *Orchestrator) executeAction(ctx context.Context, msg *queue.Message, action Action) error {
	switch action.Type {
	case ActionSendSMSSequence:
		spacing := time.Duration(config.Conf.FollowupSequenceSpacing) * time.Second
		for index, text := range action.Messages {
			_, err := orchestrator.Scheduler.Schedule(
				ctx, msg.PhoneNumber, text, time.Duration(index+1)*spacing,
				map[string]string{
					followup.MetaMessageType: "sequence",
					followup.MetaUserID:      msg.UserID,
				},
			)
			if err != nil {
				return err
			}
		}

		return nil
	case ActionSendMagicLink:
		_, err := orchestrator.Transport.Send(ctx, sms.OutboundMessage{
			PhoneNumber: msg.PhoneNumber,
			Message:     action.URL,
			MessageType: "magic_link",
			UserID:      msg.UserID,
		})

		return err
	case ActionSendReviewLink:
		_, err := orchestrator.Transport.Send(ctx, sms.OutboundMessage{
			PhoneNumber: msg.PhoneNumber,
			Message:     action.URL,
			MessageType: "review_link",
			UserID:      msg.UserID,
		})

		return err
	case ActionScheduleCallback:
		_, err := orchestrator.Scheduler.Schedule(
			ctx, msg.PhoneNumber,
			"Just checking in, let us know if you still need a hand.",
			time.Duration(action.DelaySeconds)*time.Second,
			map[string]string{
				followup.MetaMessageType: "callback",
				followup.MetaUserID:      msg.UserID,
			},
		)

		return err
	case ActionHaltAutomation:
		return orchestrator.Limiter.SetHalt(ctx, msg.PhoneNumber)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownActionType, action.Type)
	}
}

func buildSystemPrompt(profileContext *profile.Context) string {
	var b strings.Builder

	b.WriteString("You are an SMS assistant for a local business. ")
	b.WriteString("Reply with a JSON object: {\"reply\": string, \"actions\": []}. ")
	b.WriteString("Keep replies under 320 characters and suitable for SMS.")

	if len(profileContext.Claims) > 0 {
		b.WriteString("\nKnown about this customer: ")
		b.WriteString(strings.Join(profileContext.Claims, "; "))
	}

	if len(profileContext.PendingRequirements) > 0 {
		b.WriteString("\nStill needed from this customer: ")
		b.WriteString(strings.Join(profileContext.PendingRequirements, "; "))
	}

	return b.String()
}

func buildUserPrompt(profileContext *profile.Context, body string) string {
	if len(profileContext.RecentMessages) == 0 {
		return body
	}

	var b strings.Builder

	b.WriteString("Recent conversation:\n")

	for _, message := range profileContext.RecentMessages {
		b.WriteString(message)
		b.WriteString("\n")
	}

	b.WriteString("\nLatest message: ")
	b.WriteString(body)

	return b.String()
}
