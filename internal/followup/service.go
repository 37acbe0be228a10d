package followup

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sablelabs/sable/internal/config"
	"github.com/sablelabs/sable/internal/logging"
	"github.com/sablelabs/sable/internal/store"
	"go.uber.org/zap"
)

// Scheduler holds deferred outbound items and the business-hours gate.
// The per-phone item set is a redis sorted set scored by due time, so the
// due partition is a range query instead of a full list rewrite.
type Scheduler struct {
	Client   *redis.Client
	Location *time.Location
}

func NewScheduler(client *redis.Client) (*Scheduler, error) {
	loc, err := time.LoadLocation(config.Conf.BusinessHoursTimezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load business hours timezone: %w", err)
	}

	return &Scheduler{
		Client:   client,
		Location: loc,
	}, nil
}

// Schedule stores an item due delay from now and registers the phone in
// the sweep index. The set's TTL always covers the furthest due time plus
// the configured margin.
func (scheduler *Scheduler) Schedule(
	ctx context.Context,
	phoneNumber string,
	text string,
	delay time.Duration,
	metadata map[string]string,
) (*Item, error) {
	now := time.Now().UTC()

	item := &Item{
		ID:          uuid.NewString(),
		PhoneNumber: phoneNumber,
		Text:        text,
		CreatedAt:   now,
		DueAt:       now.Add(delay),
		Metadata:    metadata,
	}

	payload, err := json.Marshal(item)
	if err != nil {
		return nil, err
	}

	listKey := store.KeyFollowupList + phoneNumber

	err = scheduler.Client.ZAdd(ctx, listKey, redis.Z{
		Score:  float64(item.DueAt.Unix()),
		Member: payload,
	}).Err()
	if err != nil {
		return nil, err
	}

	err = scheduler.refreshTTL(ctx, listKey)
	if err != nil {
		return nil, err
	}

	err = scheduler.Client.SAdd(ctx, store.KeyFollowupIndex, phoneNumber).Err()
	if err != nil {
		return nil, err
	}

	logging.Logger.Info("follow-up scheduled",
		zap.String("phone_number", phoneNumber),
		zap.String("item_id", item.ID),
		zap.Time("due_at", item.DueAt),
	)

	return item, nil
}

// PopDue removes and returns every item with dueAt <= now. Pending items
// stay in place with a refreshed TTL; when nothing remains the phone is
// dropped from the sweep index.
func (scheduler *Scheduler) PopDue(ctx context.Context, phoneNumber string, now time.Time) ([]Item, error) {
	listKey := store.KeyFollowupList + phoneNumber
	maxScore := fmt.Sprintf("%d", now.Unix())

	members, err := scheduler.Client.ZRangeByScore(ctx, listKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: maxScore,
	}).Result()
	if err != nil {
		return nil, err
	}

	if len(members) > 0 {
		err = scheduler.Client.ZRemRangeByScore(ctx, listKey, "-inf", maxScore).Err()
		if err != nil {
			return nil, err
		}
	}

	remaining, err := scheduler.Client.ZCard(ctx, listKey).Result()
	if err != nil {
		return nil, err
	}

	if remaining == 0 {
		err = scheduler.Client.SRem(ctx, store.KeyFollowupIndex, phoneNumber).Err()
		if err != nil {
			return nil, err
		}
	} else {
		err = scheduler.refreshTTL(ctx, listKey)
		if err != nil {
			return nil, err
		}
	}

	due := make([]Item, 0, len(members))

	for _, member := range members {
		var item Item

		err = json.Unmarshal([]byte(member), &item)
		if err != nil {
			logging.Logger.Error("failed to unmarshal follow-up item",
				zap.String("phone_number", phoneNumber),
				zap.String("error", err.Error()),
			)

			continue
		}

		due = append(due, item)
	}

	return due, nil
}

// ScheduleAtOpen defers text to the next business-hours opening boundary.
func (scheduler *Scheduler) ScheduleAtOpen(
	ctx context.Context,
	phoneNumber string,
	text string,
	metadata map[string]string,
) (*Item, error) {
	return scheduler.Schedule(ctx, phoneNumber, text, scheduler.UntilOpen(time.Now()), metadata)
}

func (scheduler *Scheduler) refreshTTL(ctx context.Context, listKey string) error {
	last, err := scheduler.Client.ZRangeWithScores(ctx, listKey, -1, -1).Result()
	if err != nil {
		return err
	}

	if len(last) == 0 {
		return nil
	}

	furthest := time.Unix(int64(last[0].Score), 0)
	margin := time.Duration(config.Conf.FollowupTTLMargin) * time.Second

	ttl := time.Until(furthest) + margin
	if ttl < margin {
		ttl = margin
	}

	return scheduler.Client.Expire(ctx, listKey, ttl).Err()
}
