// Package storage persists asset records. Two implementations are provided:
// a JSON-file-backed store for development and tests, and a Postgres store
// for production. Both apply updates as read-modify-write merges so that
// at-least-once redelivery of pipeline work never loses checkpoint entries.
package storage

import (
	"context"
	"errors"

	"mediaforge/internal/models"
)

// ErrAssetNotFound is returned when an asset id does not exist.
var ErrAssetNotFound = errors.New("asset not found")

// CreateAssetParams describes a freshly uploaded raw object.
type CreateAssetParams struct {
	Kind        models.AssetKind
	Bucket      string
	ObjectKey   string
	ContentType string
	FileName    string
	FileSize    int64
}

// AssetUpdate mutates an asset record. Pointer fields are applied only when
// non-nil. HLSParts entries are merged into the existing checkpoint map,
// never replacing it wholesale, so two interleaved runs cannot erase each
// other's completed renditions.
type AssetUpdate struct {
	Status          *models.ProcessingStatus
	Progress        *float64
	Error           *string
	ResultKey       *string
	ContentType     *string
	FileSize        *int64
	Width           *int
	Height          *int
	DurationSeconds *float64

	Thumbnail        *string
	HLSParts         map[string]bool
	Master           *string
	OriginalWidth    *int
	OriginalHeight   *int
	Waveform         []int
	MIMEType         *string
	PageCount        *int
	PreviewAvailable *bool
}

// Repository exposes the datastore operations required by the intake worker
// and the processing pipeline.
type Repository interface {
	Ping(ctx context.Context) error

	CreateAsset(params CreateAssetParams) (models.Asset, error)
	GetAsset(id string) (models.Asset, bool)
	UpdateAsset(id string, update AssetUpdate) (models.Asset, error)
	ListAssetsByStatus(statuses ...models.ProcessingStatus) []models.Asset
	DeleteAsset(id string) error

	Close()
}

func cloneAsset(asset models.Asset) models.Asset {
	cloned := asset
	cloned.Variants = asset.Variants.Clone()
	return cloned
}

func clampProgress(progress float64) float64 {
	if progress < 0 {
		return 0
	}
	if progress > 100 {
		return 100
	}
	return progress
}

// applyAssetUpdate merges an update into a copy of the asset and returns it.
func applyAssetUpdate(asset models.Asset, update AssetUpdate) models.Asset {
	updated := cloneAsset(asset)

	if update.Status != nil {
		updated.Status = *update.Status
	}
	if update.Progress != nil {
		updated.Progress = clampProgress(*update.Progress)
	}
	if update.Error != nil {
		updated.Error = *update.Error
	}
	if update.ResultKey != nil {
		updated.ResultKey = *update.ResultKey
	}
	if update.ContentType != nil {
		updated.ContentType = *update.ContentType
	}
	if update.FileSize != nil {
		updated.FileSize = *update.FileSize
	}
	if update.Width != nil {
		updated.Width = *update.Width
	}
	if update.Height != nil {
		updated.Height = *update.Height
	}
	if update.DurationSeconds != nil {
		updated.DurationSeconds = *update.DurationSeconds
	}

	if update.Thumbnail != nil {
		updated.Variants.Thumbnail = *update.Thumbnail
	}
	if len(update.HLSParts) > 0 {
		if updated.Variants.HLSParts == nil {
			updated.Variants.HLSParts = make(map[string]bool, len(update.HLSParts))
		}
		for name, done := range update.HLSParts {
			if done {
				updated.Variants.HLSParts[name] = true
			}
		}
	}
	if update.Master != nil {
		updated.Variants.Master = *update.Master
	}
	if update.OriginalWidth != nil {
		updated.Variants.OriginalWidth = *update.OriginalWidth
	}
	if update.OriginalHeight != nil {
		updated.Variants.OriginalHeight = *update.OriginalHeight
	}
	if update.Waveform != nil {
		updated.Variants.Waveform = append([]int(nil), update.Waveform...)
	}
	if update.MIMEType != nil {
		updated.Variants.MIMEType = *update.MIMEType
	}
	if update.PageCount != nil {
		updated.Variants.PageCount = *update.PageCount
	}
	if update.PreviewAvailable != nil {
		updated.Variants.PreviewAvailable = *update.PreviewAvailable
	}

	return updated
}
