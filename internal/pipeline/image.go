package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"path"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"mediaforge/internal/models"
	"mediaforge/internal/storage"
)

const (
	maxImageBytes = 50 << 20
	// maxImagePixels guards against decompression bombs: a small compressed
	// file that decodes into gigabytes of raster.
	maxImagePixels = 178956970
	maxImageEdge   = 1920
	imageThumbEdge = 300
	webpQuality    = 80
)

// processImage re-encodes the upload as an optimized WebP plus a thumbnail.
// The raw object is deleted once both variants are durable.
func (o *Orchestrator) processImage(ctx context.Context, asset models.Asset, logger *slog.Logger) error {
	info, err := o.store.Head(ctx, asset.ObjectKey)
	if err != nil {
		return infraError("head source", err)
	}
	if info.Size > maxImageBytes {
		if err := o.store.Delete(ctx, asset.ObjectKey); err != nil {
			return infraError("delete rejected object", err)
		}
		return securityError("validate", fmt.Errorf("image is %d bytes, limit is %d", info.Size, maxImageBytes))
	}

	raw, err := o.store.Download(ctx, asset.ObjectKey)
	if err != nil {
		return infraError("download image", err)
	}
	if err := o.rejectDenied(ctx, asset.ObjectKey, mimetype.Detect(raw)); err != nil {
		return err
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return probeError("decode image header", err)
	}
	if cfg.Width*cfg.Height > maxImagePixels {
		if err := o.store.Delete(ctx, asset.ObjectKey); err != nil {
			return infraError("delete rejected object", err)
		}
		return securityError("validate", fmt.Errorf("image is %dx%d pixels, over the decode ceiling", cfg.Width, cfg.Height))
	}

	decoded, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return probeError("decode image", err)
	}

	optimized := decoded
	bounds := decoded.Bounds()
	if bounds.Dx() > maxImageEdge || bounds.Dy() > maxImageEdge {
		optimized = imaging.Fit(decoded, maxImageEdge, maxImageEdge, imaging.Lanczos)
	}
	thumbnail := imaging.Fit(decoded, imageThumbEdge, imageThumbEdge, imaging.Lanczos)

	dir := path.Dir(asset.ObjectKey)
	token := uuid.NewString()
	optimizedKey := fmt.Sprintf("%s/%s_optimized.webp", dir, token)
	thumbKey := fmt.Sprintf("%s/%s_thumb.webp", dir, token)

	var optimizedBuf bytes.Buffer
	if err := webp.Encode(&optimizedBuf, optimized, &webp.Options{Quality: webpQuality}); err != nil {
		return transcodeError("encode webp", err)
	}
	var thumbBuf bytes.Buffer
	if err := webp.Encode(&thumbBuf, thumbnail, &webp.Options{Quality: webpQuality}); err != nil {
		return transcodeError("encode thumbnail webp", err)
	}

	if err := o.store.Upload(ctx, optimizedKey, "image/webp", cacheLongLived, &optimizedBuf); err != nil {
		return infraError("upload optimized image", err)
	}
	if err := o.store.Upload(ctx, thumbKey, "image/webp", cacheLongLived, &thumbBuf); err != nil {
		return infraError("upload image thumbnail", err)
	}
	if err := o.store.Delete(ctx, asset.ObjectKey); err != nil {
		return infraError("delete raw image", err)
	}

	logger.Info("image optimized", "original", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"optimized", fmt.Sprintf("%dx%d", optimized.Bounds().Dx(), optimized.Bounds().Dy()))

	width := optimized.Bounds().Dx()
	height := optimized.Bounds().Dy()
	mime := "image/webp"
	return o.finalizeSuccess(ctx, asset.ID, storage.AssetUpdate{
		ResultKey:      &optimizedKey,
		Thumbnail:      &thumbKey,
		Width:          &width,
		Height:         &height,
		OriginalWidth:  &cfg.Width,
		OriginalHeight: &cfg.Height,
		MIMEType:       &mime,
	})
}
