// Package notify publishes pipeline events to a Redis stream consumed by
// the application layer (websocket fan-out, webhooks). Publishing is best
// effort: a failed publish is logged and processing carries on, because the
// asset record is the source of truth.
package notify

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"

	"mediaforge/internal/models"
	"mediaforge/internal/observability/logging"
)

const defaultEventStream = "mediaforge:events"

const (
	eventProgress = "progress"
	eventPlayable = "playable"
	eventResult   = "result"
)

// RedisNotifier implements pipeline.Notifier over a capped Redis stream.
type RedisNotifier struct {
	client redis.UniversalClient
	stream string
	maxLen int64
	logger *slog.Logger
}

func NewRedisNotifier(client redis.UniversalClient, stream string, maxLen int64, logger *slog.Logger) *RedisNotifier {
	if stream == "" {
		stream = defaultEventStream
	}
	if maxLen <= 0 {
		maxLen = 10000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisNotifier{
		client: client,
		stream: stream,
		maxLen: maxLen,
		logger: logging.WithComponent(logger, "notify"),
	}
}

func (n *RedisNotifier) publish(ctx context.Context, event string, values map[string]any) {
	values["event"] = event
	err := n.client.XAdd(ctx, &redis.XAddArgs{
		Stream: n.stream,
		MaxLen: n.maxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil && ctx.Err() == nil {
		n.logger.Warn("event publish failed", "event", event, "error", err)
	}
}

func (n *RedisNotifier) Progress(ctx context.Context, asset models.Asset, percent float64) {
	n.publish(ctx, eventProgress, map[string]any{
		"asset_id": asset.ID,
		"kind":     string(asset.Kind),
		"percent":  strconv.FormatFloat(percent, 'f', 1, 64),
	})
}

func (n *RedisNotifier) Playable(ctx context.Context, asset models.Asset, masterKey string) {
	n.publish(ctx, eventPlayable, map[string]any{
		"asset_id":   asset.ID,
		"kind":       string(asset.Kind),
		"master_key": masterKey,
	})
}

func (n *RedisNotifier) Result(ctx context.Context, asset models.Asset) {
	n.publish(ctx, eventResult, map[string]any{
		"asset_id":   asset.ID,
		"kind":       string(asset.Kind),
		"status":     string(asset.Status),
		"result_key": asset.ResultKey,
		"error":      asset.Error,
	})
}
