package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"mediaforge/internal/models"
	"mediaforge/internal/storage"
)

const (
	hlsSegmentSeconds = 10
	hlsGopSize        = 300
	segmentUploaders  = 4
	thumbnailWidth    = 320
)

func processedKey(assetID string, parts ...string) string {
	return "processed/" + assetID + "/" + strings.Join(parts, "/")
}

// processVideo builds the HLS ladder for the asset. Finished renditions are
// recorded in the asset's checkpoint strictly after their objects are
// uploaded, so a crash between upload and checkpoint redoes at most one
// rendition and a crash after it skips the rendition on resume.
func (o *Orchestrator) processVideo(ctx context.Context, asset models.Asset, logger *slog.Logger) error {
	info, err := o.store.Head(ctx, asset.ObjectKey)
	if err != nil {
		return infraError("head source", err)
	}
	detected, err := o.sniffObject(ctx, asset.ObjectKey, info.Size)
	if err != nil {
		return err
	}
	if err := o.rejectDenied(ctx, asset.ObjectKey, detected); err != nil {
		return err
	}

	sourceURL, err := o.store.PresignGet(ctx, asset.ObjectKey, 2*time.Hour)
	if err != nil {
		return infraError("presign source", err)
	}
	meta, err := o.prober.Probe(ctx, sourceURL)
	if err != nil {
		return err
	}
	if !meta.HasVideo {
		return probeError("probe", fmt.Errorf("no video stream in %s", asset.ObjectKey))
	}

	asset, err = o.repo.UpdateAsset(asset.ID, storage.AssetUpdate{
		Width:           &meta.Width,
		Height:          &meta.Height,
		DurationSeconds: &meta.DurationSeconds,
	})
	if err != nil {
		return infraError("record probe", err)
	}

	scratch, err := o.scratchDir(asset.ID)
	if err != nil {
		return err
	}
	defer os.RemoveAll(scratch)

	if asset.Variants.Thumbnail == "" {
		thumbKey, err := o.publishVideoThumbnail(ctx, asset, sourceURL, meta, scratch)
		if err != nil {
			return err
		}
		asset, err = o.repo.UpdateAsset(asset.ID, storage.AssetUpdate{Thumbnail: &thumbKey})
		if err != nil {
			return infraError("checkpoint thumbnail", err)
		}
	} else {
		logger.Info("thumbnail already published, skipping", "key", asset.Variants.Thumbnail)
	}

	renditions := SelectRenditions(o.ladder, meta.Width, meta.Height)
	masterKey := processedKey(asset.ID, "master.m3u8")

	master := &MasterPlaylist{}
	completed := 0
	for _, rendition := range renditions {
		if asset.Variants.HLSParts[rendition.Name] {
			master.Add(rendition)
			completed++
		}
	}

	playableSent := false
	signalPlayable := func() {
		if playableSent {
			return
		}
		playableSent = true
		o.metrics.PlayableReached()
		o.notifier.Playable(ctx, asset, masterKey)
	}

	// A resumed run republishes the checkpointed tiers and re-fires the
	// playable signal: the previous run may have died between its checkpoint
	// write and the notification.
	if completed > 0 {
		logger.Info("resuming ladder", "done", completed, "total", len(renditions))
		if err := o.publishMaster(ctx, masterKey, master, masterCacheFor(master, renditions)); err != nil {
			return err
		}
		signalPlayable()
	}

	reporter := o.newProgressReporter(asset)

	for _, rendition := range renditions {
		if asset.Variants.HLSParts[rendition.Name] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return deadlineError("ladder", err)
		}

		renditionStart := time.Now()
		renditionDir := filepath.Join(scratch, rendition.Name)
		if err := os.MkdirAll(renditionDir, 0o755); err != nil {
			return infraError("rendition dir", err)
		}

		done := completed
		total := len(renditions)
		err := o.transcodeRendition(ctx, sourceURL, renditionDir, rendition, meta.DurationSeconds, func(percent float64) {
			overall := (float64(done) + percent/100) / float64(total) * 100
			reporter.report(ctx, overall)
		})
		if err != nil {
			return err
		}
		if err := o.uploadRendition(ctx, asset.ID, rendition.Name, renditionDir); err != nil {
			return err
		}

		master.Add(rendition)
		if err := o.publishMaster(ctx, masterKey, master, masterCacheFor(master, renditions)); err != nil {
			return err
		}

		// The checkpoint write comes strictly after the uploads above. If
		// the process dies in between, resume re-renders this rendition.
		asset, err = o.repo.UpdateAsset(asset.ID, storage.AssetUpdate{
			HLSParts: map[string]bool{rendition.Name: true},
			Master:   &masterKey,
		})
		if err != nil {
			return infraError("checkpoint rendition", err)
		}
		completed++
		o.metrics.ObserveRendition(rendition.Name, time.Since(renditionStart))
		logger.Info("rendition published", "rendition", rendition.Name,
			"elapsed", time.Since(renditionStart).Round(time.Millisecond))

		signalPlayable()
	}

	if err := o.store.Delete(ctx, asset.ObjectKey); err != nil {
		return infraError("delete raw video", err)
	}
	return o.finalizeSuccess(ctx, asset.ID, storage.AssetUpdate{ResultKey: &masterKey})
}

// transcodeRendition runs ffmpeg for one ladder rung, streaming progress via
// a loopback socket.
func (o *Orchestrator) transcodeRendition(ctx context.Context, sourceURL, dir string, rendition Rendition, durationSeconds float64, onProgress func(float64)) error {
	progress, err := newProgressListener(durationSeconds, onProgress)
	if err != nil {
		return infraError("progress listener", err)
	}
	defer progress.Stop()

	args := []string{
		"-y",
		"-i", sourceURL,
		"-vf", fmt.Sprintf("scale=-2:%d", rendition.Height),
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-b:v", fmt.Sprintf("%dk", rendition.BitrateKbps),
		"-maxrate", fmt.Sprintf("%dk", rendition.MaxRateKbps),
		"-bufsize", fmt.Sprintf("%dk", rendition.BufSizeKbps),
		"-g", fmt.Sprintf("%d", hlsGopSize),
		"-c:a", "aac",
		"-b:a", "128k",
		"-progress", progress.Addr(),
		"-f", "hls",
		"-hls_time", fmt.Sprintf("%d", hlsSegmentSeconds),
		"-hls_list_size", "0",
		"-hls_segment_filename", filepath.Join(dir, "seg_%03d.ts"),
		filepath.Join(dir, "index.m3u8"),
	}
	if err := o.runner.Run(ctx, o.tools.FFmpeg, args...); err != nil {
		if ctx.Err() != nil {
			return deadlineError("transcode "+rendition.Name, ctx.Err())
		}
		return transcodeError("transcode "+rendition.Name, err)
	}
	return nil
}

// uploadRendition pushes segments first, the rendition playlist last, so a
// fetched playlist never references a missing segment.
func (o *Orchestrator) uploadRendition(ctx context.Context, assetID, name, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return infraError("read rendition dir", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(segmentUploaders)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".ts") {
			continue
		}
		segment := entry.Name()
		group.Go(func() error {
			key := processedKey(assetID, name, segment)
			return o.store.UploadFile(groupCtx, key, segmentContentType, cacheImmutable, filepath.Join(dir, segment))
		})
	}
	if err := group.Wait(); err != nil {
		return infraError("upload segments", err)
	}

	playlistKey := processedKey(assetID, name, "index.m3u8")
	if err := o.store.UploadFile(ctx, playlistKey, playlistContentType, cacheRevalidate, filepath.Join(dir, "index.m3u8")); err != nil {
		return infraError("upload rendition playlist", err)
	}
	return nil
}

// masterCacheFor keeps the master no-cache while the ladder is still growing
// so players re-poll for new tiers; once every rung is in, it flips long-lived.
func masterCacheFor(master *MasterPlaylist, renditions []Rendition) string {
	if master.Len() == len(renditions) {
		return cacheLongLived
	}
	return cacheRevalidate
}

// publishMaster rewrites the master playlist with every rendition finished so
// far. Entries only ever get added, so each published master is a superset of
// the previous one.
func (o *Orchestrator) publishMaster(ctx context.Context, key string, master *MasterPlaylist, cacheControl string) error {
	body := strings.NewReader(master.Render())
	if err := o.store.Upload(ctx, key, playlistContentType, cacheControl, body); err != nil {
		return infraError("publish master", err)
	}
	return nil
}

// publishVideoThumbnail grabs a frame one second in (or the first frame for
// clips shorter than that) and uploads it.
func (o *Orchestrator) publishVideoThumbnail(ctx context.Context, asset models.Asset, sourceURL string, meta Metadata, scratch string) (string, error) {
	offset := "1"
	if meta.DurationSeconds < 1 {
		offset = "0"
	}
	path := filepath.Join(scratch, "thumbnail.jpg")
	args := []string{
		"-y",
		"-ss", offset,
		"-i", sourceURL,
		"-vframes", "1",
		"-vf", fmt.Sprintf("scale=%d:-1", thumbnailWidth),
		path,
	}
	if err := o.runner.Run(ctx, o.tools.FFmpeg, args...); err != nil {
		if ctx.Err() != nil {
			return "", deadlineError("thumbnail", ctx.Err())
		}
		return "", transcodeError("thumbnail", err)
	}
	key := processedKey(asset.ID, "thumbnail.jpg")
	if err := o.store.UploadFile(ctx, key, "image/jpeg", cacheLongLived, path); err != nil {
		return "", infraError("upload thumbnail", err)
	}
	return key, nil
}
