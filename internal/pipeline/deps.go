// Package pipeline turns raw uploaded objects into their processed variants:
// HLS ladders for video, optimized WebP pairs for images, streamable audio
// with waveforms, and previews for documents. Work is checkpointed into the
// asset record after every durable upload so a crashed worker resumes instead
// of redoing finished renditions.
package pipeline

import (
	"context"
	"io"
	"time"

	"mediaforge/internal/models"
	"mediaforge/internal/objectstore"
)

// ObjectStore is the slice of the bucket client the pipeline uses. Satisfied
// by *objectstore.Client; tests supply an in-memory fake.
type ObjectStore interface {
	Bucket() string
	Head(ctx context.Context, key string) (objectstore.ObjectInfo, error)
	GetRange(ctx context.Context, key string, start, end int64) ([]byte, error)
	Download(ctx context.Context, key string) ([]byte, error)
	DownloadFile(ctx context.Context, key, path string) error
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
	Upload(ctx context.Context, key, contentType, cacheControl string, body io.Reader) error
	UploadFile(ctx context.Context, key, contentType, cacheControl, path string) error
	Delete(ctx context.Context, key string) error
}

// Notifier publishes pipeline events for downstream consumers. Delivery is
// best effort; implementations log failures and never block processing.
type Notifier interface {
	Progress(ctx context.Context, asset models.Asset, percent float64)
	Playable(ctx context.Context, asset models.Asset, masterKey string)
	Result(ctx context.Context, asset models.Asset)
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) Progress(context.Context, models.Asset, float64) {}
func (NopNotifier) Playable(context.Context, models.Asset, string)  {}
func (NopNotifier) Result(context.Context, models.Asset)            {}
