package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"boxoffice/internal/logger"
	"boxoffice/internal/models"
	"boxoffice/internal/repository"
)

type Config struct {
	Enabled  bool          `envconfig:"ENABLED" default:"false"`
	Addr     string        `envconfig:"ADDR" default:"localhost:6379"`
	Password string        `envconfig:"PASSWORD"`
	DB       int           `envconfig:"DB" default:"0"`
	TTL      time.Duration `envconfig:"TTL" default:"10m"`
}

// Connect opens a Redis client and pings it.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		DialTimeout:  5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return rdb, nil
}

// FeeSchedules is a read-through cache in front of the fee schedule store.
// Fee schedules are immutable once created, so entries only expire by TTL.
// Concurrent misses for the same schedule share one load.
type FeeSchedules struct {
	source repository.FeeScheduleStore
	rdb    *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewFeeSchedules builds the cache. A nil rdb disables the Redis layer and
// leaves only request coalescing.
func NewFeeSchedules(source repository.FeeScheduleStore, rdb *redis.Client, ttl time.Duration) *FeeSchedules {
	return &FeeSchedules{source: source, rdb: rdb, ttl: ttl}
}

func feeScheduleKey(id uuid.UUID) string {
	return "boxoffice:fee_schedule:" + id.String()
}

func (c *FeeSchedules) CreateFeeSchedule(ctx context.Context, schedule *models.FeeSchedule) error {
	return c.source.CreateFeeSchedule(ctx, schedule)
}

func (c *FeeSchedules) GetFeeSchedule(ctx context.Context, id uuid.UUID) (*models.FeeSchedule, error) {
	if cached, ok := c.fromRedis(ctx, id); ok {
		return cached, nil
	}

	// The shared load outlives any single caller; each caller stops waiting
	// when its own context ends.
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(id.String(), func() (any, error) {
		schedule, err := c.source.GetFeeSchedule(loadCtx, id)
		if err != nil || schedule == nil {
			return schedule, err
		}
		c.toRedis(loadCtx, schedule)
		return schedule, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}

	schedule, _ := res.Val.(*models.FeeSchedule)
	if schedule == nil {
		return nil, nil
	}
	// Callers may sort ranges; hand out a private copy.
	out := *schedule
	out.Ranges = append([]models.FeeScheduleRange(nil), schedule.Ranges...)
	return &out, nil
}

func (c *FeeSchedules) fromRedis(ctx context.Context, id uuid.UUID) (*models.FeeSchedule, bool) {
	if c.rdb == nil {
		return nil, false
	}
	data, err := c.rdb.Get(ctx, feeScheduleKey(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.WithContext(ctx).Warn("Fee schedule cache read failed", "fee_schedule_id", id, "error", err)
		}
		return nil, false
	}

	var schedule models.FeeSchedule
	if err := json.Unmarshal(data, &schedule); err != nil {
		logger.WithContext(ctx).Warn("Dropping undecodable fee schedule cache entry", "fee_schedule_id", id, "error", err)
		c.rdb.Del(ctx, feeScheduleKey(id))
		return nil, false
	}
	return &schedule, true
}

func (c *FeeSchedules) toRedis(ctx context.Context, schedule *models.FeeSchedule) {
	if c.rdb == nil {
		return
	}
	data, err := json.Marshal(schedule)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, feeScheduleKey(schedule.ID), data, c.ttl).Err(); err != nil {
		logger.WithContext(ctx).Warn("Fee schedule cache write failed", "fee_schedule_id", schedule.ID, "error", err)
	}
}
