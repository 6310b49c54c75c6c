// Package queue carries processing tasks over a Redis stream consumer group.
// Delivery is at least once: a consumer that dies before acknowledging leaves
// the message pending, and a restarted consumer adopts it via XAUTOCLAIM.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"mediaforge/internal/observability/logging"
)

// Task is one unit of work: process this asset. Attempt counts deliveries
// that already failed.
type Task struct {
	AssetID string
	Attempt int
}

// Config describes the stream a producer or consumer attaches to.
type Config struct {
	Stream       string
	Group        string
	Consumer     string
	MaxLen       int64
	BlockTimeout time.Duration
	Workers      int
}

const (
	defaultStream       = "mediaforge:tasks"
	defaultGroup        = "mediaforge-workers"
	defaultMaxLen       = 10000
	defaultBlockTimeout = 5 * time.Second
	defaultWorkers      = 2
)

func (c Config) withDefaults() Config {
	if c.Stream == "" {
		c.Stream = defaultStream
	}
	if c.Group == "" {
		c.Group = defaultGroup
	}
	if c.Consumer == "" {
		c.Consumer = "consumer-1"
	}
	if c.MaxLen <= 0 {
		c.MaxLen = defaultMaxLen
	}
	if c.BlockTimeout <= 0 {
		c.BlockTimeout = defaultBlockTimeout
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	return c
}

// Producer appends tasks to the stream.
type Producer struct {
	client redis.UniversalClient
	cfg    Config
}

func NewProducer(client redis.UniversalClient, cfg Config) *Producer {
	return &Producer{client: client, cfg: cfg.withDefaults()}
}

func (p *Producer) Enqueue(ctx context.Context, task Task) error {
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.cfg.Stream,
		MaxLen: p.cfg.MaxLen,
		Approx: true,
		Values: map[string]any{
			"asset_id": task.AssetID,
			"attempt":  task.Attempt,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue asset %s: %w", task.AssetID, err)
	}
	return nil
}

// Handler processes one delivered task. The consumer acknowledges the
// message once the handler returns, whatever the outcome; requeueing on
// failure is the handler's job.
type Handler func(ctx context.Context, task Task)

// Consumer reads the stream as part of a consumer group and fans tasks out
// to a fixed number of loops.
type Consumer struct {
	client redis.UniversalClient
	cfg    Config
	logger *slog.Logger
}

func NewConsumer(client redis.UniversalClient, cfg Config, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		client: client,
		cfg:    cfg.withDefaults(),
		logger: logging.WithComponent(logger, "queue"),
	}
}

// Run blocks until ctx is cancelled. The consumer group is created if
// missing and orphaned pending messages are adopted before the read loops
// start.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	if err := c.ensureGroup(ctx); err != nil {
		return err
	}
	c.adoptPending(ctx, handler)

	var wg sync.WaitGroup
	for i := 0; i < c.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.loop(ctx, handler)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// adoptPending claims messages another consumer took delivery of but never
// acknowledged. Servers that do not support XAUTOCLAIM simply skip this
// step; recovery then relies on the datastore scan at startup.
func (c *Consumer) adoptPending(ctx context.Context, handler Handler) {
	minIdle := 30 * time.Second
	if idle := c.cfg.BlockTimeout * 6; idle > minIdle {
		minIdle = idle
	}
	next := "0-0"
	for {
		messages, start, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   c.cfg.Stream,
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
			MinIdle:  minIdle,
			Start:    next,
			Count:    100,
		}).Result()
		if err != nil {
			if ctx.Err() == nil && err != redis.Nil {
				c.logger.Debug("auto-claim unavailable", "error", err)
			}
			return
		}
		if len(messages) == 0 {
			return
		}
		c.logger.Info("adopted pending tasks", "count", len(messages))
		for _, message := range messages {
			c.dispatch(ctx, handler, message)
		}
		next = start
	}
}

func (c *Consumer) loop(ctx context.Context, handler Handler) {
	for {
		if ctx.Err() != nil {
			return
		}
		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
			Streams:  []string{c.cfg.Stream, ">"},
			Count:    1,
			Block:    c.cfg.BlockTimeout,
		}).Result()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if err != redis.Nil {
				c.logger.Warn("read group failed", "error", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
			}
			continue
		}
		for _, stream := range streams {
			for _, message := range stream.Messages {
				c.dispatch(ctx, handler, message)
			}
		}
	}
}

// dispatch hands the message to the handler and acknowledges it. Malformed
// messages are acknowledged and dropped.
func (c *Consumer) dispatch(ctx context.Context, handler Handler, message redis.XMessage) {
	defer func() {
		if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, message.ID).Err(); err != nil && ctx.Err() == nil {
			c.logger.Warn("ack failed", "message_id", message.ID, "error", err)
		}
	}()

	task, ok := parseTask(message)
	if !ok {
		c.logger.Warn("dropping malformed task", "message_id", message.ID)
		return
	}
	handler(ctx, task)
}

func parseTask(message redis.XMessage) (Task, bool) {
	assetID, ok := message.Values["asset_id"].(string)
	if !ok || assetID == "" {
		return Task{}, false
	}
	return Task{AssetID: assetID, Attempt: toInt(message.Values["attempt"])}, true
}

func toInt(value any) int {
	switch v := value.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case string:
		parsed, _ := strconv.Atoi(v)
		return parsed
	default:
		return 0
	}
}
