package redisclient

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"deposit-service/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/schedule_job.lua
var scheduleJobScript string

//go:embed scripts/pop_due_jobs.lua
var popDueJobsScript string

//go:embed scripts/release_lock.lua
var releaseLockScript string

const (
	scheduleKey = "deposit:schedule"
	payloadKey  = "deposit:schedule:payload"
)

var ErrCartNotFound = errors.New("cart not found")

type Client struct {
	rdb            *redis.Client
	scheduleScript *redis.Script
	popScript      *redis.Script
	releaseScript  *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return Wrap(rdb), nil
}

// Wrap builds a Client on an existing connection
func Wrap(rdb *redis.Client) *Client {
	return &Client{
		rdb:            rdb,
		scheduleScript: redis.NewScript(scheduleJobScript),
		popScript:      redis.NewScript(popDueJobsScript),
		releaseScript:  redis.NewScript(releaseLockScript),
	}
}

// Ping checks connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Schedule registers job to run at the given time.
// Returns false when a job with the same key is already pending.
func (c *Client) Schedule(ctx context.Context, at time.Time, job models.ScheduledJob) (bool, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("failed to marshal job: %w", err)
	}

	result, err := c.scheduleScript.Run(ctx, c.rdb, []string{scheduleKey, payloadKey},
		job.Key(), at.Unix(), string(payload)).Result()
	if err != nil {
		return false, fmt.Errorf("schedule job script failed: %w", err)
	}

	added, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type")
	}
	return added == 1, nil
}

// IsScheduled reports whether a job with key is pending
func (c *Client) IsScheduled(ctx context.Context, key string) (bool, error) {
	err := c.rdb.ZScore(ctx, scheduleKey, key).Err()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// NextRun returns the planned run time of a pending job
func (c *Client) NextRun(ctx context.Context, key string) (time.Time, bool, error) {
	score, err := c.rdb.ZScore(ctx, scheduleKey, key).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.Unix(int64(score), 0), true, nil
}

// PopDue atomically removes and returns up to limit jobs due at or before now
func (c *Client) PopDue(ctx context.Context, now time.Time, limit int) ([]models.DueJob, error) {
	result, err := c.popScript.Run(ctx, c.rdb, []string{scheduleKey, payloadKey}, now.Unix(), limit).Result()
	if err != nil {
		return nil, fmt.Errorf("pop due jobs script failed: %w", err)
	}

	items, ok := result.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected script result type")
	}

	jobs := make([]models.DueJob, 0, len(items)/2)
	for i := 0; i+1 < len(items); i += 2 {
		payload, _ := items[i].(string)
		score, _ := items[i+1].(string)

		var job models.ScheduledJob
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			return jobs, fmt.Errorf("failed to unmarshal job: %w", err)
		}
		runAt, err := strconv.ParseFloat(score, 64)
		if err != nil {
			return jobs, fmt.Errorf("invalid job score %q: %w", score, err)
		}
		jobs = append(jobs, models.DueJob{Job: job, RunAt: int64(runAt)})
	}
	return jobs, nil
}

// AcquireLock acquires a distributed lock and returns the owner token, "" when held elsewhere
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, error) {
	token := uuid.New().String()
	ok, err := c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), token, ttl).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return token, nil
}

// ReleaseLock releases a distributed lock if token still owns it
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{fmt.Sprintf("lock:%s", lockKey)}, token).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	return nil
}

// GetCart loads a cart snapshot
func (c *Client) GetCart(ctx context.Context, cartID string) (*models.Cart, error) {
	data, err := c.rdb.Get(ctx, cartKey(cartID)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s", ErrCartNotFound, cartID)
	}
	if err != nil {
		return nil, err
	}

	var cart models.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cart: %w", err)
	}
	return &cart, nil
}

// SaveCart stores a cart snapshot with TTL
func (c *Client) SaveCart(ctx context.Context, cart *models.Cart, ttl time.Duration) error {
	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("failed to marshal cart: %w", err)
	}
	return c.rdb.Set(ctx, cartKey(cart.ID), data, ttl).Err()
}

// DeleteCart removes a cart snapshot
func (c *Client) DeleteCart(ctx context.Context, cartID string) error {
	return c.rdb.Del(ctx, cartKey(cartID)).Err()
}

func cartKey(id string) string {
	return fmt.Sprintf("cart:%s", id)
}
