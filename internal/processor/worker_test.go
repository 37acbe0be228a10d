package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sablelabs/sable/internal/config"
	"github.com/sablelabs/sable/internal/followup"
	"github.com/sablelabs/sable/internal/llm"
	"github.com/sablelabs/sable/internal/lock"
	"github.com/sablelabs/sable/internal/profile"
	"github.com/sablelabs/sable/internal/queue"
	"github.com/sablelabs/sable/internal/ratelimit"
	"github.com/sablelabs/sable/internal/sms"
	"github.com/sablelabs/sable/internal/store"
	"github.com/sablelabs/sable/internal/turn"
	"github.com/stretchr/testify/require"
)

type stubLedger struct{}

func (stubLedger) IsUsed(_ context.Context, _ string) (bool, error) { return false, nil }
func (stubLedger) MarkUsed(_ context.Context, _ string) error       { return nil }

type stubLimiter struct {
	err error
}

func (limiter stubLimiter) CheckAndBump(_ context.Context, _ string, _, _ int) (bool, error) {
	return true, nil
}

func (limiter stubLimiter) SetHalt(_ context.Context, _ string) error { return nil }

func (limiter stubLimiter) IsHalted(_ context.Context, _ string) (bool, error) {
	return false, limiter.err
}

type stubScheduler struct{}

func (stubScheduler) Schedule(
	_ context.Context, _, text string, _ time.Duration, _ map[string]string,
) (*followup.Item, error) {
	return &followup.Item{ID: "item-1", Text: text}, nil
}

func (stubScheduler) ScheduleAtOpen(
	_ context.Context, _, text string, _ map[string]string,
) (*followup.Item, error) {
	return &followup.Item{ID: "item-1", Text: text}, nil
}

func (stubScheduler) WithinBusinessHours(_ time.Time) bool { return true }

type stubGenerator struct{}

func (stubGenerator) Generate(_ context.Context, _ llm.Request) llm.Result {
	return llm.Result{Content: `{"reply":"done"}`, ModelUsed: "gpt-4o-mini", Success: true}
}

type stubTransport struct{}

func (stubTransport) Send(_ context.Context, _ sms.OutboundMessage) (string, error) {
	return "out-1", nil
}

type stubProfiles struct{}

func (stubProfiles) GetContext(_ context.Context, _ string) (*profile.Context, error) {
	return &profile.Context{Found: true, UserID: "u-1"}, nil
}

func newTestProcessor(t *testing.T, limiter stubLimiter) (*Processor, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	orchestrator := turn.NewOrchestrator(
		stubLedger{}, limiter, stubScheduler{}, stubGenerator{}, stubTransport{}, stubProfiles{},
	)

	proc, err := NewProcessor(
		queue.NewService(client), lock.NewManager(client), ratelimit.NewLimiter(client), orchestrator,
	)
	require.NoError(t, err)
	t.Cleanup(proc.WorkerPool.Release)

	return proc, mr
}

func enqueueAndDequeue(t *testing.T, proc *Processor) *queue.Message {
	t.Helper()

	ctx := context.Background()

	_, _, err := proc.Queue.Enqueue(ctx, "+447700900001", "hello", "SM1")
	require.NoError(t, err)

	msg, err := proc.Queue.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)

	return msg
}

func TestProcessCompletesMessage(t *testing.T) {
	proc, mr := newTestProcessor(t, stubLimiter{})
	ctx := context.Background()

	msg := enqueueAndDequeue(t, proc)

	proc.process(ctx, msg)

	require.False(t, mr.Exists(store.KeyMessagePrefix+msg.ID))

	// The conversation lock was released.
	acquired, err := proc.Locks.Acquire(ctx, msg.PhoneNumber, time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)
}

func TestProcessLockContentionRequeuesWithoutAttempt(t *testing.T) {
	proc, _ := newTestProcessor(t, stubLimiter{})
	ctx := context.Background()

	msg := enqueueAndDequeue(t, proc)

	acquired, err := proc.Locks.Acquire(ctx, msg.PhoneNumber, time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	proc.process(ctx, msg)

	depth, err := proc.Queue.Depth(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), depth)

	requeued, err := proc.Queue.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, requeued)
	require.Equal(t, msg.ID, requeued.ID)
	require.Equal(t, 0, requeued.Attempts)
}

func TestProcessFailureSchedulesRetry(t *testing.T) {
	proc, mr := newTestProcessor(t, stubLimiter{err: errors.New("store briefly down")})
	ctx := context.Background()

	msg := enqueueAndDequeue(t, proc)

	proc.process(ctx, msg)

	require.Equal(t, 1, msg.Attempts)
	require.True(t, mr.Exists(store.KeyMessagePrefix+msg.ID))

	depth, err := proc.Queue.Depth(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), depth)
}

func TestProcessHaltedConversationCompletesWithoutLock(t *testing.T) {
	proc, mr := newTestProcessor(t, stubLimiter{})
	ctx := context.Background()

	msg := enqueueAndDequeue(t, proc)

	require.NoError(t, proc.Limiter.SetHalt(ctx, msg.PhoneNumber))

	proc.process(ctx, msg)

	require.False(t, mr.Exists(store.KeyMessagePrefix+msg.ID))

	depth, err := proc.Queue.Depth(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), depth)
}

func TestProcessTerminalFailureDropsMessage(t *testing.T) {
	proc, mr := newTestProcessor(t, stubLimiter{err: errors.New("permanently broken")})
	ctx := context.Background()

	msg := enqueueAndDequeue(t, proc)
	msg.Attempts = config.Conf.ProcessorMaxAttempts - 1

	proc.process(ctx, msg)

	require.False(t, mr.Exists(store.KeyMessagePrefix+msg.ID))
}
