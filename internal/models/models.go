// Package models defines the persistent domain records shared by the
// repository implementations and the processing pipeline.
package models

import (
	"strings"
	"time"
)

// AssetKind identifies which processing pipeline an asset is routed through.
type AssetKind string

const (
	KindImage AssetKind = "image"
	KindVideo AssetKind = "video"
	KindAudio AssetKind = "audio"
	KindFile  AssetKind = "file"
)

// Valid reports whether the kind is one of the supported values.
func (k AssetKind) Valid() bool {
	switch k {
	case KindImage, KindVideo, KindAudio, KindFile:
		return true
	default:
		return false
	}
}

// ParseAssetKind normalizes a raw kind string.
func ParseAssetKind(raw string) (AssetKind, bool) {
	kind := AssetKind(strings.ToLower(strings.TrimSpace(raw)))
	return kind, kind.Valid()
}

// ProcessingStatus tracks the lifecycle of an asset through the pipeline.
// queued → running → {done, partial, failed}; running may be re-entered on
// retry, terminal states are never left.
type ProcessingStatus string

const (
	StatusQueued  ProcessingStatus = "queued"
	StatusRunning ProcessingStatus = "running"
	StatusDone    ProcessingStatus = "done"
	StatusPartial ProcessingStatus = "partial"
	StatusFailed  ProcessingStatus = "failed"
)

// Terminal reports whether the status is a final state.
func (s ProcessingStatus) Terminal() bool {
	switch s {
	case StatusDone, StatusPartial, StatusFailed:
		return true
	default:
		return false
	}
}

// AssetVariants is the durable checkpoint and output record for an asset.
// HLSParts is the sole source of truth for which renditions may be skipped
// on a retried run; an entry is written only after the rendition's segments
// and sub-playlist are stored. Extra is a forward-compatibility escape hatch
// for producers that need keys this struct does not model.
type AssetVariants struct {
	Thumbnail        string            `json:"thumbnail,omitempty"`
	HLSParts         map[string]bool   `json:"hlsParts,omitempty"`
	Master           string            `json:"master,omitempty"`
	OriginalWidth    int               `json:"originalWidth,omitempty"`
	OriginalHeight   int               `json:"originalHeight,omitempty"`
	Waveform         []int             `json:"waveform,omitempty"`
	MIMEType         string            `json:"mimeType,omitempty"`
	PageCount        int               `json:"pageCount,omitempty"`
	PreviewAvailable bool              `json:"previewAvailable,omitempty"`
	Extra            map[string]string `json:"extra,omitempty"`
}

// Clone returns a deep copy so callers can mutate maps safely.
func (v AssetVariants) Clone() AssetVariants {
	cloned := v
	if v.HLSParts != nil {
		parts := make(map[string]bool, len(v.HLSParts))
		for name, done := range v.HLSParts {
			parts[name] = done
		}
		cloned.HLSParts = parts
	}
	if v.Waveform != nil {
		cloned.Waveform = append([]int(nil), v.Waveform...)
	}
	if v.Extra != nil {
		extra := make(map[string]string, len(v.Extra))
		for k, val := range v.Extra {
			extra[k] = val
		}
		cloned.Extra = extra
	}
	return cloned
}

// Asset is the unit of work handed to the pipeline. Bucket and ObjectKey
// locate the raw upload, which the pipeline owns exclusively until it is
// deleted after a terminal success (video, image, and audio only).
type Asset struct {
	ID              string           `json:"id"`
	Kind            AssetKind        `json:"kind"`
	Bucket          string           `json:"bucket"`
	ObjectKey       string           `json:"objectKey"`
	ContentType     string           `json:"contentType,omitempty"`
	FileName        string           `json:"fileName,omitempty"`
	FileSize        int64            `json:"fileSize,omitempty"`
	Width           int              `json:"width,omitempty"`
	Height          int              `json:"height,omitempty"`
	DurationSeconds float64          `json:"durationSeconds,omitempty"`
	Status          ProcessingStatus `json:"processingStatus"`
	Progress        float64          `json:"processingProgress"`
	Error           string           `json:"processingError,omitempty"`
	Variants        AssetVariants    `json:"variants"`
	ResultKey       string           `json:"resultKey,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}
